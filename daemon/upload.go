package daemon

import (
	"context"
	"io"
	"strings"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/errdefs"
)

// errBodyTooLarge aborts a streaming upload that crossed the size cap.
var errBodyTooLarge = errors.New("image body exceeds the configured size cap")

// capReader fails the stream as soon as more than cap bytes arrive, so a
// chunked upload with no declared length cannot fill the backend.
type capReader struct {
	r   io.Reader
	cap int64
	n   int64
}

func (c *capReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.cap > 0 && c.n > c.cap {
		return n, errBodyTooLarge
	}
	return n, err
}

// ImageUpload streams body into the default store and activates the
// image. declaredSize is the client-declared body length (-1 when the
// transfer is chunked); expectedChecksum is the client's hex MD5 claim,
// empty when absent. Any failure after bytes hit the backend kills the
// image and reclaims the partial body.
func (d *Daemon) ImageUpload(ctx context.Context, rc *auth.Context, id string, body io.Reader, declaredSize int64, expectedChecksum string) (*types.Image, error) {
	// One upload per image at a time. The lock is keyed by image id, so
	// uploads to other images stream concurrently.
	d.uploads.Lock(id)
	defer d.uploads.Unlock(id)

	img, err := d.registry.GetImage(ctx, rc, id)
	if err != nil {
		return nil, err
	}
	if img.Status != types.StatusQueued {
		return nil, errdefs.Conflict(errors.Errorf("image %s is %s; a body may only be uploaded to a queued image", id, img.Status))
	}
	if d.cfg.ImageSizeCap > 0 && declaredSize > d.cfg.ImageSizeCap {
		return nil, errdefs.InvalidParameter(errors.Errorf("declared size %d exceeds the image size cap %d", declaredSize, d.cfg.ImageSizeCap))
	}

	saving := types.StatusSaving
	if _, err := d.registry.UpdateImage(ctx, rc, id, types.ImageUpdate{Status: &saving}, false); err != nil {
		return nil, err
	}

	counted := &capReader{r: body, cap: d.cfg.ImageSizeCap}
	loc, written, checksum, err := d.stores.Put(ctx, id, counted, declaredSize)
	if err != nil {
		kerr := err
		if errors.Is(err, errBodyTooLarge) {
			kerr = errdefs.InvalidParameter(err)
		}
		if cerr := ctx.Err(); cerr != nil {
			// Client went away mid-stream; treat as a failed upload.
			kerr = errdefs.FromContext(ctx, errors.Wrap(cerr, "client disconnected during upload"))
		}
		d.killImage(ctx, rc, id, written, loc, kerr)
		return nil, kerr
	}

	if declaredSize > 0 && written != declaredSize {
		err := errdefs.InvalidParameter(errors.Errorf("request declared %d bytes but %d were received", declaredSize, written))
		d.killImage(ctx, rc, id, written, loc, err)
		return nil, err
	}
	if expectedChecksum != "" && !strings.EqualFold(expectedChecksum, checksum) {
		err := errdefs.InvalidParameter(errors.Errorf("checksum mismatch: client declared %s but body hashed to %s", expectedChecksum, checksum))
		d.killImage(ctx, rc, id, written, loc, err)
		return nil, err
	}

	stored, err := d.stores.EncodeLocation(loc)
	if err != nil {
		d.killImage(ctx, rc, id, written, loc, err)
		return nil, err
	}
	active := types.StatusActive
	updated, err := d.registry.UpdateImage(ctx, rc, id, types.ImageUpdate{
		Status:    &active,
		Size:      &written,
		Checksum:  &checksum,
		Locations: []types.Location{{URL: stored}},
	}, false)
	if err != nil {
		d.killImage(ctx, rc, id, written, loc, err)
		return nil, err
	}

	log.G(ctx).WithFields(log.Fields{
		"image":    id,
		"bytes":    written,
		"checksum": checksum,
	}).Info("image body uploaded")
	d.events.Publish(ctx, "image.upload", map[string]interface{}{
		"image_id": id,
		"owner_id": updated.Owner,
		"size":     written,
		"checksum": checksum,
		"status":   updated.Status,
	})
	return updated, nil
}

// killImage records a failed upload: the partial body is reclaimed and
// the row transitions to killed with the actual byte count, keeping the
// failure visible to the owner.
func (d *Daemon) killImage(ctx context.Context, rc *auth.Context, id string, written int64, loc string, cause error) {
	log.G(ctx).WithError(cause).WithField("image", id).Error("image upload failed, killing image")

	// The request context may already be dead; cleanup still has to run.
	cleanupCtx := context.WithoutCancel(ctx)
	if loc != "" {
		if err := d.stores.ScheduleDelete(cleanupCtx, types.Location{URL: loc}); err != nil {
			log.G(cleanupCtx).WithError(err).WithField("image", id).Warn("could not reclaim partial image body")
		}
	}
	killed := types.StatusKilled
	if _, err := d.registry.UpdateImage(cleanupCtx, rc, id, types.ImageUpdate{
		Status: &killed,
		Size:   &written,
	}, false); err != nil {
		log.G(cleanupCtx).WithError(err).WithField("image", id).Error("could not mark image as killed")
	}
	d.events.PublishError(cleanupCtx, "image.upload", map[string]interface{}{"image_id": id, "size": written}, cause)
}
