package image

import (
	"context"
	"io"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
)

// Backend is the set of lifecycle operations the image routes need.
type Backend interface {
	ImageCreate(ctx context.Context, rc *auth.Context, img *types.Image) (*types.Image, error)
	ImageUpdate(ctx context.Context, rc *auth.Context, id string, upd types.ImageUpdate, purgeProps bool) (*types.Image, error)
	ImageUpload(ctx context.Context, rc *auth.Context, id string, body io.Reader, declaredSize int64, expectedChecksum string) (*types.Image, error)
	ImageSend(ctx context.Context, rc *auth.Context, id string, w io.Writer, destinationIP string, started func(img *types.Image, size int64)) (*types.Image, int64, error)
	ImageDelete(ctx context.Context, rc *auth.Context, id string) (*types.Image, error)
	ImageGet(ctx context.Context, rc *auth.Context, id string) (*types.Image, error)
	ImageList(ctx context.Context, rc *auth.Context, opts types.ListOptions) ([]*types.Image, error)
}
