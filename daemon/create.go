package daemon

import (
	"context"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/errdefs"
)

// ImageCreate reserves image metadata. Without preset locations the image
// starts queued with size 0, waiting for a body upload. With preset
// locations it goes straight to active: the body already lives somewhere
// this service can stream from.
func (d *Daemon) ImageCreate(ctx context.Context, rc *auth.Context, img *types.Image) (*types.Image, error) {
	values := *img
	if len(values.Locations) > 0 {
		values.Status = types.StatusActive
		encoded := make([]types.Location, len(values.Locations))
		for i, loc := range values.Locations {
			stored, err := d.stores.EncodeLocation(loc.URL)
			if err != nil {
				return nil, err
			}
			encoded[i] = loc
			encoded[i].URL = stored
		}
		values.Locations = encoded
	} else {
		values.Status = types.StatusQueued
		values.Size = 0
	}
	created, err := d.registry.CreateImage(ctx, rc, &values)
	if err != nil {
		return nil, err
	}
	log.G(ctx).WithFields(log.Fields{"image": created.ID, "status": created.Status}).Info("image created")
	return created, nil
}

// ImageUpdate applies a metadata update, guarding the transitions the
// registry itself does not know about: once a body is written, only
// admins may rewrite where it lives.
func (d *Daemon) ImageUpdate(ctx context.Context, rc *auth.Context, id string, upd types.ImageUpdate, purgeProps bool) (*types.Image, error) {
	if upd.Locations != nil && !rc.IsAdmin {
		img, err := d.registry.GetImage(ctx, rc, id)
		if err != nil {
			return nil, err
		}
		if img.Status == types.StatusActive {
			return nil, errdefs.Forbidden(errors.Errorf("image %s is active; only admins may change its locations", id))
		}
	}
	if upd.Locations != nil {
		encoded := make([]types.Location, len(upd.Locations))
		for i, loc := range upd.Locations {
			stored, err := d.stores.EncodeLocation(loc.URL)
			if err != nil {
				return nil, err
			}
			encoded[i] = loc
			encoded[i].URL = stored
		}
		upd.Locations = encoded
	}
	return d.registry.UpdateImage(ctx, rc, id, upd, purgeProps)
}
