package daemon

import (
	"context"
	"net/http"

	"github.com/openstack/glance-sub003/daemon/config"
	"github.com/openstack/glance-sub003/store"
	"github.com/openstack/glance-sub003/store/filesystem"
	"github.com/openstack/glance-sub003/store/httpstore"
	"github.com/openstack/glance-sub003/store/s3"
)

// NewStoreDispatcher builds the object-store dispatcher from the daemon
// configuration. The filesystem and http backends are always available;
// s3 joins when a bucket is configured.
func NewStoreDispatcher(ctx context.Context, cfg *config.Config) (*store.Dispatcher, error) {
	backends := map[string]store.Backend{}

	fs, err := filesystem.New(cfg.FilesystemDir, cfg.ChunkSize)
	if err != nil {
		return nil, err
	}
	backends["file"] = fs

	hs := httpstore.New(http.DefaultClient)
	backends["http"] = hs
	backends["https"] = hs

	if cfg.S3.Bucket != "" {
		s3b, err := s3.New(ctx, s3.Config{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		backends["s3"] = s3b
	}

	return store.NewDispatcher(store.Config{
		DefaultScheme: cfg.DefaultStore,
		MetadataKey:   cfg.MetadataEncryptionKey,
	}, backends)
}
