package daemon

import (
	"context"
	"io"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/errdefs"
)

// ImageOpen resolves a visible image and opens a read stream for its
// first viable location. The caller owns the returned reader.
func (d *Daemon) ImageOpen(ctx context.Context, rc *auth.Context, id string) (*types.Image, io.ReadCloser, int64, error) {
	img, err := d.registry.GetImage(ctx, rc, id)
	if err != nil {
		return nil, nil, -1, err
	}
	if len(img.Locations) == 0 {
		return nil, nil, -1, errdefs.NotFound(errors.Errorf("image %s has no stored body", id))
	}
	var lastErr error
	for _, loc := range img.Locations {
		if loc.Status != "" && loc.Status != "active" {
			continue
		}
		rd, size, err := d.stores.Get(ctx, loc)
		if err == nil {
			return img, rd, size, nil
		}
		lastErr = err
		log.G(ctx).WithError(err).WithFields(log.Fields{"image": id, "location": loc.URL}).Warn("skipping unreadable image location")
	}
	if lastErr == nil {
		lastErr = errdefs.NotFound(errors.Errorf("image %s has no viable location", id))
	}
	return nil, nil, -1, lastErr
}

// ImageSend streams the image body to w and emits the image.send
// notification with the byte count actually delivered. Short or failed
// sends emit the same event classified as an error. The started callback,
// when non-nil, runs after the stream opened successfully and before the
// first byte is written, so transports can commit response headers only
// once failure can no longer produce a clean error response.
func (d *Daemon) ImageSend(ctx context.Context, rc *auth.Context, id string, w io.Writer, destinationIP string, started func(img *types.Image, size int64)) (*types.Image, int64, error) {
	img, rd, size, err := d.ImageOpen(ctx, rc, id)
	if err != nil {
		return nil, 0, err
	}
	defer rd.Close()
	if started != nil {
		started(img, size)
	}

	buf := make([]byte, d.cfg.ChunkSize)
	sent, err := io.CopyBuffer(w, rd, buf)

	payload := map[string]interface{}{
		"bytes_sent":         sent,
		"image_id":           img.ID,
		"owner_id":           img.Owner,
		"receiver_tenant_id": rc.Tenant,
		"receiver_user_id":   rc.User,
		"destination_ip":     destinationIP,
	}
	eventCtx := context.WithoutCancel(ctx)
	switch {
	case err != nil:
		d.events.PublishError(eventCtx, "image.send", payload, err)
		return img, sent, err
	case size >= 0 && sent != size:
		short := errors.Errorf("sent %d of %d bytes", sent, size)
		d.events.PublishError(eventCtx, "image.send", payload, short)
		return img, sent, short
	default:
		d.events.Publish(eventCtx, "image.send", payload)
		return img, sent, nil
	}
}
