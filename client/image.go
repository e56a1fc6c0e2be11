package client

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openstack/glance-sub003/api/types"
)

// ImageList returns one page of image summaries matching opts.
func (c *Client) ImageList(ctx context.Context, opts types.ListOptions) ([]types.ImageSummary, error) {
	var out struct {
		Images []types.ImageSummary `json:"images"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/images", listQuery(opts), nil, nil, &out)
	return out.Images, err
}

// ImageListDetail returns one page of full image records matching opts.
func (c *Client) ImageListDetail(ctx context.Context, opts types.ListOptions) ([]*types.Image, error) {
	var out struct {
		Images []*types.Image `json:"images"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/images/detail", listQuery(opts), nil, nil, &out)
	return out.Images, err
}

// ImageInspect fetches the metadata of one image without its body.
func (c *Client) ImageInspect(ctx context.Context, id string) (*types.Image, error) {
	resp, err := c.do(ctx, http.MethodHead, "/images/"+id, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	defer ensureClosed(resp)
	return imageFromResponseHeaders(resp.Header), nil
}

// ImageCreate registers a new image. A non-nil body is uploaded in the
// same request; expectedChecksum, when set, must match the MD5 the
// server computes.
func (c *Client) ImageCreate(ctx context.Context, meta *types.Image, expectedChecksum string, body io.Reader) (*types.Image, error) {
	headers := imageHeaders(meta, expectedChecksum)
	if body != nil {
		headers.Set("Content-Type", "application/octet-stream")
	}
	var out struct {
		Image *types.Image `json:"image"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/images", nil, body, headers, &out)
	return out.Image, err
}

// ImageUpdate applies a partial metadata update. With purgeProps set,
// stored properties missing from the update are deleted instead of
// kept.
func (c *Client) ImageUpdate(ctx context.Context, id string, upd types.ImageUpdate, purgeProps bool) (*types.Image, error) {
	query := url.Values{}
	if purgeProps {
		query.Set("purge_props", "true")
	}
	var out struct {
		Image *types.Image `json:"image"`
	}
	err := c.doJSON(ctx, http.MethodPut, "/images/"+id, query, nil, updateHeaders(upd, ""), &out)
	return out.Image, err
}

// ImageUpload streams the body of a previously reserved image. size is
// the declared byte count, or -1 when unknown.
func (c *Client) ImageUpload(ctx context.Context, id string, body io.Reader, size int64, expectedChecksum string) (*types.Image, error) {
	headers := updateHeaders(types.ImageUpdate{}, expectedChecksum)
	headers.Set("Content-Type", "application/octet-stream")
	if size > 0 {
		headers.Set("X-Image-Meta-Size", strconv.FormatInt(size, 10))
	}
	var out struct {
		Image *types.Image `json:"image"`
	}
	err := c.doJSON(ctx, http.MethodPut, "/images/"+id, nil, body, headers, &out)
	return out.Image, err
}

// ImageDownload opens the body of an image. The caller must close the
// reader; the image metadata comes from the response headers.
func (c *Client) ImageDownload(ctx context.Context, id string) (*types.Image, io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, "/images/"+id, nil, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	return imageFromResponseHeaders(resp.Header), resp.Body, nil
}

// ImageDelete removes an image.
func (c *Client) ImageDelete(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/images/"+id, nil, nil, nil, nil)
}

func listQuery(opts types.ListOptions) url.Values {
	query := url.Values{}
	if opts.Marker != "" {
		query.Set("marker", opts.Marker)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	for _, k := range opts.SortKeys {
		query.Add("sort_key", k)
	}
	for _, d := range opts.SortDirs {
		query.Add("sort_dir", d)
	}
	for k, v := range opts.Filters {
		query.Set(k, v)
	}
	return query
}

// imageHeaders serializes create metadata into x-image-meta-* headers.
func imageHeaders(img *types.Image, expectedChecksum string) http.Header {
	h := http.Header{}
	set := func(key, value string) {
		if value != "" {
			h.Set("X-Image-Meta-"+key, value)
		}
	}
	if img == nil {
		return h
	}
	set("Id", img.ID)
	set("Name", img.Name)
	set("Disk_format", img.DiskFormat)
	set("Container_format", img.ContainerFormat)
	set("Owner", img.Owner)
	set("Checksum", expectedChecksum)
	if img.Size > 0 {
		set("Size", strconv.FormatInt(img.Size, 10))
	}
	if img.MinDisk > 0 {
		set("Min_disk", strconv.Itoa(img.MinDisk))
	}
	if img.MinRAM > 0 {
		set("Min_ram", strconv.Itoa(img.MinRAM))
	}
	if img.IsPublic {
		set("Is_public", "true")
	}
	if img.Protected {
		set("Protected", "true")
	}
	for _, loc := range img.Locations {
		h.Add("X-Image-Meta-Location", loc.URL)
	}
	for name, value := range img.Properties {
		h.Set("X-Image-Meta-Property-"+name, value)
	}
	return h
}

// updateHeaders serializes an update into headers; only set fields are
// emitted so the server leaves the rest alone.
func updateHeaders(upd types.ImageUpdate, expectedChecksum string) http.Header {
	h := http.Header{}
	set := func(key, value string) {
		h.Set("X-Image-Meta-"+key, value)
	}
	if upd.Name != nil {
		set("Name", *upd.Name)
	}
	if upd.DiskFormat != nil {
		set("Disk_format", *upd.DiskFormat)
	}
	if upd.ContainerFormat != nil {
		set("Container_format", *upd.ContainerFormat)
	}
	if upd.Owner != nil {
		set("Owner", *upd.Owner)
	}
	if upd.Size != nil {
		set("Size", strconv.FormatInt(*upd.Size, 10))
	}
	if upd.MinDisk != nil {
		set("Min_disk", strconv.Itoa(*upd.MinDisk))
	}
	if upd.MinRAM != nil {
		set("Min_ram", strconv.Itoa(*upd.MinRAM))
	}
	if upd.IsPublic != nil {
		set("Is_public", strconv.FormatBool(*upd.IsPublic))
	}
	if upd.Protected != nil {
		set("Protected", strconv.FormatBool(*upd.Protected))
	}
	for _, loc := range upd.Locations {
		h.Add("X-Image-Meta-Location", loc.URL)
	}
	for name, value := range upd.Properties {
		h.Set("X-Image-Meta-Property-"+name, value)
	}
	if expectedChecksum != "" {
		set("Checksum", expectedChecksum)
	}
	return h
}

// imageFromResponseHeaders rebuilds image metadata from x-image-meta-*
// response headers. Values the server never sends malformed are parsed
// leniently.
func imageFromResponseHeaders(h http.Header) *types.Image {
	img := &types.Image{Properties: map[string]string{}}
	get := func(key string) string {
		return h.Get("X-Image-Meta-" + key)
	}
	img.ID = get("Id")
	img.Name = get("Name")
	img.Status = get("Status")
	img.DiskFormat = get("Disk_format")
	img.ContainerFormat = get("Container_format")
	img.Owner = get("Owner")
	img.Checksum = get("Checksum")
	img.Size, _ = strconv.ParseInt(get("Size"), 10, 64)
	img.MinDisk, _ = strconv.Atoi(get("Min_disk"))
	img.MinRAM, _ = strconv.Atoi(get("Min_ram"))
	img.IsPublic, _ = strconv.ParseBool(get("Is_public"))
	img.Protected, _ = strconv.ParseBool(get("Protected"))
	img.Deleted, _ = strconv.ParseBool(get("Deleted"))
	img.CreatedAt, _ = time.Parse(time.RFC3339, get("Created_at"))
	img.UpdatedAt, _ = time.Parse(time.RFC3339, get("Updated_at"))
	if v := get("Deleted_at"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			img.DeletedAt = &t
		}
	}
	for name, values := range h {
		lower := strings.ToLower(name)
		if prop, ok := strings.CutPrefix(lower, "x-image-meta-property-"); ok {
			img.Properties[prop] = values[0]
		}
		if lower == "x-image-meta-location" {
			for _, v := range values {
				img.Locations = append(img.Locations, types.Location{URL: v})
			}
		}
	}
	return img
}
