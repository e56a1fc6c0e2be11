package image

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/server/httputils"
	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/errdefs"
	"github.com/openstack/glance-sub003/pkg/ioutils"
)

// listFilterParams are the query parameters forwarded to the catalog as
// filters. property-<name> parameters are collected separately.
var listFilterParams = []string{
	"name", "status", "container_format", "disk_format",
	"size_min", "size_max", "min_disk", "min_ram",
	"changes-since", "is_public", "protected", "deleted",
}

func parseListOptions(r *http.Request) (types.ListOptions, error) {
	opts := types.ListOptions{
		Filters: map[string]string{},
		Marker:  r.Form.Get("marker"),
	}
	if r.Form.Get("limit") != "" {
		limit, err := strconv.Atoi(r.Form.Get("limit"))
		if err != nil {
			return opts, errdefs.InvalidParameter(errors.Errorf("invalid limit %q", r.Form.Get("limit")))
		}
		if limit <= 0 {
			return opts, errdefs.InvalidParameter(errors.New("limit must be a positive integer"))
		}
		opts.Limit = limit
	}
	opts.SortKeys = r.Form["sort_key"]
	opts.SortDirs = r.Form["sort_dir"]
	for _, key := range listFilterParams {
		if v := r.Form.Get(key); v != "" {
			opts.Filters[key] = v
		}
	}
	for key := range r.Form {
		if strings.HasPrefix(key, "property-") {
			opts.Filters[key] = r.Form.Get(key)
		}
	}
	return opts, nil
}

func (ir *imageRouter) getImagesList(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	if err := httputils.ParseForm(r); err != nil {
		return errdefs.InvalidParameter(err)
	}
	opts, err := parseListOptions(r)
	if err != nil {
		return err
	}
	rc := auth.FromContext(ctx)
	images, err := ir.backend.ImageList(ctx, rc, opts)
	if err != nil {
		return err
	}
	summaries := make([]types.ImageSummary, 0, len(images))
	for _, img := range images {
		summaries = append(summaries, img.Summary())
	}
	return httputils.WriteJSON(w, http.StatusOK, map[string]interface{}{"images": summaries})
}

func (ir *imageRouter) getImagesDetail(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	if err := httputils.ParseForm(r); err != nil {
		return errdefs.InvalidParameter(err)
	}
	opts, err := parseListOptions(r)
	if err != nil {
		return err
	}
	rc := auth.FromContext(ctx)
	images, err := ir.backend.ImageList(ctx, rc, opts)
	if err != nil {
		return err
	}
	out := make([]*types.Image, 0, len(images))
	for _, img := range images {
		out = append(out, redactImage(rc, img))
	}
	return httputils.WriteJSON(w, http.StatusOK, map[string]interface{}{"images": out})
}

// hasBody reports whether the request carries an image body to upload.
func hasBody(r *http.Request) bool {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/octet-stream") {
		return false
	}
	return r.ContentLength > 0 || r.ContentLength == -1
}

// declaredSize resolves the client's size claim: an explicit metadata
// size wins, then Content-Length, then unknown (-1, chunked encoding).
func declaredSize(metaSize, contentLength int64) int64 {
	if metaSize > 0 {
		return metaSize
	}
	if contentLength > 0 {
		return contentLength
	}
	return -1
}

func (ir *imageRouter) postImage(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	img, expectedChecksum, err := imageFromHeaders(r)
	if err != nil {
		return err
	}
	rc := auth.FromContext(ctx)
	created, err := ir.backend.ImageCreate(ctx, rc, img)
	if err != nil {
		return err
	}
	if hasBody(r) {
		defer r.Body.Close()
		created, err = ir.backend.ImageUpload(ctx, rc, created.ID, r.Body, declaredSize(img.Size, r.ContentLength), expectedChecksum)
		if err != nil {
			return err
		}
	}
	writeImageHeaders(w, rc, created)
	return httputils.WriteJSON(w, http.StatusCreated, map[string]interface{}{"image": redactImage(rc, created)})
}

func (ir *imageRouter) putImage(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	if err := httputils.ParseForm(r); err != nil {
		return errdefs.InvalidParameter(err)
	}
	upd, expectedChecksum, err := updateFromHeaders(r)
	if err != nil {
		return err
	}
	rc := auth.FromContext(ctx)
	id := vars["id"]

	var updated *types.Image
	if hasBody(r) {
		if upd.Locations != nil {
			return errdefs.InvalidParameter(errors.New("a request may carry a body or a location, not both"))
		}
		defer r.Body.Close()
		var metaSize int64
		if upd.Size != nil {
			metaSize = *upd.Size
			upd.Size = nil
		}
		if hasUpdates(upd) {
			if _, err := ir.backend.ImageUpdate(ctx, rc, id, upd, false); err != nil {
				return err
			}
		}
		updated, err = ir.backend.ImageUpload(ctx, rc, id, r.Body, declaredSize(metaSize, r.ContentLength), expectedChecksum)
		if err != nil {
			return err
		}
	} else {
		purge := httputils.BoolValue(r, "purge_props")
		updated, err = ir.backend.ImageUpdate(ctx, rc, id, upd, purge)
		if err != nil {
			return err
		}
	}
	writeImageHeaders(w, rc, updated)
	return httputils.WriteJSON(w, http.StatusOK, map[string]interface{}{"image": redactImage(rc, updated)})
}

func hasUpdates(upd types.ImageUpdate) bool {
	return upd.Name != nil || upd.DiskFormat != nil || upd.ContainerFormat != nil ||
		upd.Owner != nil || upd.IsPublic != nil || upd.Protected != nil ||
		upd.MinDisk != nil || upd.MinRAM != nil || upd.Properties != nil ||
		upd.Locations != nil || upd.Tags != nil
}

func (ir *imageRouter) headImage(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	rc := auth.FromContext(ctx)
	img, err := ir.backend.ImageGet(ctx, rc, vars["id"])
	if err != nil {
		return err
	}
	writeImageHeaders(w, rc, img)
	w.WriteHeader(http.StatusOK)
	return nil
}

func (ir *imageRouter) getImage(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	rc := auth.FromContext(ctx)
	destIP, _, _ := net.SplitHostPort(r.RemoteAddr)

	out := ioutils.NewWriteFlusher(w)
	started := false
	_, _, err := ir.backend.ImageSend(ctx, rc, vars["id"], out, destIP, func(img *types.Image, size int64) {
		writeImageHeaders(w, rc, img)
		w.Header().Set("Content-Type", "application/octet-stream")
		if size >= 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		}
		w.WriteHeader(http.StatusOK)
		started = true
	})
	if err != nil && !started {
		return err
	}
	// Errors after the first byte cannot produce a clean error
	// response; the send path already reported them as events.
	return nil
}

func (ir *imageRouter) deleteImage(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	rc := auth.FromContext(ctx)
	if _, err := ir.backend.ImageDelete(ctx, rc, vars["id"]); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
