package image

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/errdefs"
)

// Image metadata travels in x-image-meta-* headers; free-form properties
// use the x-image-meta-property-<name> form.
const (
	metaHeaderPrefix     = "x-image-meta-"
	propertyHeaderPrefix = "x-image-meta-property-"
)

// imageFromHeaders builds the create/update payload from request headers.
// Unknown x-image-meta-* headers are rejected rather than dropped.
func imageFromHeaders(r *http.Request) (*types.Image, string, error) {
	img := &types.Image{Properties: map[string]string{}}
	var expectedChecksum string

	for name, values := range r.Header {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, metaHeaderPrefix) {
			continue
		}
		value := values[0]
		if strings.HasPrefix(lower, propertyHeaderPrefix) {
			img.Properties[strings.TrimPrefix(lower, propertyHeaderPrefix)] = value
			continue
		}
		key := strings.TrimPrefix(lower, metaHeaderPrefix)
		switch key {
		case "id":
			img.ID = value
		case "name":
			img.Name = value
		case "disk_format":
			img.DiskFormat = value
		case "container_format":
			img.ContainerFormat = value
		case "owner":
			img.Owner = value
		case "location":
			img.Locations = append(img.Locations, types.Location{URL: value})
		case "checksum":
			expectedChecksum = value
		case "size":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, "", errdefs.InvalidParameter(errors.Errorf("invalid size header %q", value))
			}
			img.Size = n
		case "min_disk":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, "", errdefs.InvalidParameter(errors.Errorf("invalid min_disk header %q", value))
			}
			img.MinDisk = n
		case "min_ram":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, "", errdefs.InvalidParameter(errors.Errorf("invalid min_ram header %q", value))
			}
			img.MinRAM = n
		case "is_public":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, "", errdefs.InvalidParameter(errors.Errorf("invalid is_public header %q", value))
			}
			img.IsPublic = b
		case "protected":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, "", errdefs.InvalidParameter(errors.Errorf("invalid protected header %q", value))
			}
			img.Protected = b
		default:
			return nil, "", errdefs.InvalidParameter(errors.Errorf("unrecognized header %s", name))
		}
	}
	return img, expectedChecksum, nil
}

// updateFromHeaders is the pointer-field variant used for PUT: absent
// headers leave the stored value alone.
func updateFromHeaders(r *http.Request) (types.ImageUpdate, string, error) {
	var (
		upd              types.ImageUpdate
		expectedChecksum string
		props            map[string]string
	)
	for name, values := range r.Header {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, metaHeaderPrefix) {
			continue
		}
		value := values[0]
		if strings.HasPrefix(lower, propertyHeaderPrefix) {
			if props == nil {
				props = map[string]string{}
			}
			props[strings.TrimPrefix(lower, propertyHeaderPrefix)] = value
			continue
		}
		key := strings.TrimPrefix(lower, metaHeaderPrefix)
		switch key {
		case "name":
			v := value
			upd.Name = &v
		case "disk_format":
			v := value
			upd.DiskFormat = &v
		case "container_format":
			v := value
			upd.ContainerFormat = &v
		case "owner":
			v := value
			upd.Owner = &v
		case "location":
			upd.Locations = append(upd.Locations, types.Location{URL: value})
		case "checksum":
			expectedChecksum = value
		case "size":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return upd, "", errdefs.InvalidParameter(errors.Errorf("invalid size header %q", value))
			}
			upd.Size = &n
		case "min_disk":
			n, err := strconv.Atoi(value)
			if err != nil {
				return upd, "", errdefs.InvalidParameter(errors.Errorf("invalid min_disk header %q", value))
			}
			upd.MinDisk = &n
		case "min_ram":
			n, err := strconv.Atoi(value)
			if err != nil {
				return upd, "", errdefs.InvalidParameter(errors.Errorf("invalid min_ram header %q", value))
			}
			upd.MinRAM = &n
		case "is_public":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return upd, "", errdefs.InvalidParameter(errors.Errorf("invalid is_public header %q", value))
			}
			upd.IsPublic = &b
		case "protected":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return upd, "", errdefs.InvalidParameter(errors.Errorf("invalid protected header %q", value))
			}
			upd.Protected = &b
		case "id", "status", "created_at", "updated_at", "deleted_at", "deleted":
			return upd, "", errdefs.InvalidParameter(errors.Errorf("attribute %s is read-only", key))
		default:
			return upd, "", errdefs.InvalidParameter(errors.Errorf("unrecognized header %s", name))
		}
	}
	upd.Properties = props
	return upd, expectedChecksum, nil
}

// writeImageHeaders exposes image metadata as response headers. Location
// URLs are deployment internals and only shown to admins.
func writeImageHeaders(w http.ResponseWriter, rc *auth.Context, img *types.Image) {
	h := w.Header()
	set := func(key, value string) {
		h.Set("X-Image-Meta-"+key, value)
	}
	set("Id", img.ID)
	set("Name", img.Name)
	set("Status", img.Status)
	set("Disk_format", img.DiskFormat)
	set("Container_format", img.ContainerFormat)
	set("Size", strconv.FormatInt(img.Size, 10))
	set("Min_disk", strconv.Itoa(img.MinDisk))
	set("Min_ram", strconv.Itoa(img.MinRAM))
	set("Is_public", strconv.FormatBool(img.IsPublic))
	set("Protected", strconv.FormatBool(img.Protected))
	set("Deleted", strconv.FormatBool(img.Deleted))
	set("Created_at", img.CreatedAt.UTC().Format(time.RFC3339))
	set("Updated_at", img.UpdatedAt.UTC().Format(time.RFC3339))
	if img.DeletedAt != nil {
		set("Deleted_at", img.DeletedAt.UTC().Format(time.RFC3339))
	}
	if img.Owner != "" {
		set("Owner", img.Owner)
	}
	if img.Checksum != "" {
		set("Checksum", img.Checksum)
		h.Set("ETag", img.Checksum)
	}
	if rc.IsAdmin {
		for _, loc := range img.Locations {
			h.Add("X-Image-Meta-Location", loc.URL)
		}
	}
	for name, value := range img.Properties {
		h.Set("X-Image-Meta-Property-"+name, value)
	}
}

// redactImage strips fields untrusted clients must not see from a JSON
// response body.
func redactImage(rc *auth.Context, img *types.Image) *types.Image {
	if rc.IsAdmin {
		return img
	}
	out := *img
	out.Locations = nil
	return &out
}
