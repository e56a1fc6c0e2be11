package daemon

import (
	"context"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/errdefs"
)

// ErrProtectedImageDelete is wrapped into the Forbidden error returned
// for delete attempts on protected images.
var ErrProtectedImageDelete = errors.New("image is protected and cannot be deleted")

// ImageDelete removes an image. With delayed deletion the row moves to
// pending_delete and the scrubber reclaims the body later; otherwise the
// body is deleted from every backend before the row is marked deleted.
func (d *Daemon) ImageDelete(ctx context.Context, rc *auth.Context, id string) (*types.Image, error) {
	img, err := d.registry.GetImage(ctx, rc, id)
	if err != nil {
		return nil, err
	}
	if img.Protected {
		return nil, errdefs.Forbidden(errors.Wrapf(ErrProtectedImageDelete, "image %s", id))
	}
	if img.Status == types.StatusPendingDelete {
		return nil, errdefs.Forbidden(errors.Errorf("image %s is already queued for deletion", id))
	}

	if d.cfg.DelayedDelete && len(img.Locations) > 0 {
		pending := types.StatusPendingDelete
		if _, err := d.registry.UpdateImage(ctx, rc, id, types.ImageUpdate{Status: &pending}, false); err != nil {
			return nil, err
		}
		deleted, err := d.registry.DeleteImage(ctx, rc, id)
		if err != nil {
			return nil, err
		}
		log.G(ctx).WithField("image", id).Info("image queued for delayed deletion")
		d.events.Publish(ctx, "image.delete", map[string]interface{}{
			"image_id": id,
			"owner_id": img.Owner,
			"delayed":  true,
		})
		return deleted, nil
	}

	// Synchronous path: store errors surface to the caller before the
	// row is touched, so a failed backend leaves the image intact.
	for _, loc := range img.Locations {
		if err := d.stores.Delete(ctx, loc); err != nil {
			if errdefs.IsNotFound(err) {
				log.G(ctx).WithField("location", loc.URL).Debug("image body already gone")
				continue
			}
			return nil, err
		}
	}
	deleted, err := d.registry.DeleteImage(ctx, rc, id)
	if err != nil {
		return nil, err
	}
	log.G(ctx).WithField("image", id).Info("image deleted")
	d.events.Publish(ctx, "image.delete", map[string]interface{}{
		"image_id": id,
		"owner_id": img.Owner,
		"delayed":  false,
	})
	return deleted, nil
}
