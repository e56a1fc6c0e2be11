// Package types holds the entity and wire types shared by the registry,
// the lifecycle controller and the HTTP layer.
package types

import "time"

// Image statuses. An image starts life queued (metadata only) and moves
// through saving while its body streams in. Images that fail mid-upload are
// killed rather than removed so the failure stays visible.
const (
	StatusQueued        = "queued"
	StatusSaving        = "saving"
	StatusActive        = "active"
	StatusKilled        = "killed"
	StatusPendingDelete = "pending_delete"
	StatusDeleted       = "deleted"
)

// ImageStatuses enumerates every valid image status.
var ImageStatuses = []string{
	StatusQueued,
	StatusSaving,
	StatusActive,
	StatusKilled,
	StatusPendingDelete,
	StatusDeleted,
}

// DiskFormats enumerates the recognized disk formats.
var DiskFormats = []string{"ami", "ari", "aki", "vhd", "vmdk", "raw", "qcow2", "vdi", "iso"}

// ContainerFormats enumerates the recognized container formats.
var ContainerFormats = []string{"ami", "ari", "aki", "bare", "ovf"}

// Image is the central catalog record: metadata describing a disk image
// plus the locations its body can be fetched from.
type Image struct {
	// ID is an opaque UUID string, immutable after creation.
	ID string `json:"id"`

	Name            string `json:"name,omitempty"`
	Status          string `json:"status"`
	DiskFormat      string `json:"disk_format,omitempty"`
	ContainerFormat string `json:"container_format,omitempty"`

	// Size is the body size in bytes. Zero until a body is written,
	// unless the client declared one up front.
	Size int64 `json:"size"`

	// Checksum is the hex MD5 of the body, set once the body is written.
	Checksum string `json:"checksum,omitempty"`

	MinDisk int `json:"min_disk"`
	MinRAM  int `json:"min_ram"`

	// Owner is the tenant that owns the image. Empty means ownerless.
	Owner string `json:"owner,omitempty"`

	IsPublic  bool `json:"is_public"`
	Protected bool `json:"protected"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Deleted   bool       `json:"deleted"`

	Properties map[string]string `json:"properties,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Locations  []Location        `json:"locations,omitempty"`
	Members    []Member          `json:"members,omitempty"`
}

// ImageSummary is the brief listing form of an image.
type ImageSummary struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	DiskFormat      string `json:"disk_format,omitempty"`
	ContainerFormat string `json:"container_format,omitempty"`
	Checksum        string `json:"checksum,omitempty"`
	Size            int64  `json:"size"`
}

// Summary trims an image down to its listing form.
func (img *Image) Summary() ImageSummary {
	return ImageSummary{
		ID:              img.ID,
		Name:            img.Name,
		DiskFormat:      img.DiskFormat,
		ContainerFormat: img.ContainerFormat,
		Checksum:        img.Checksum,
		Size:            img.Size,
	}
}

// Location points at one stored copy of an image body. Locations are
// ordered; the first viable one is the default source.
type Location struct {
	// URL identifies the backend and object, for example
	// file:///var/lib/glance/images/<id> or s3://bucket/key. It may be
	// stored encrypted at rest.
	URL string `json:"url"`

	// Metadata carries driver-specific hints, opaque to the catalog.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Status lets failed replicas be skipped without dropping the row.
	Status string `json:"status,omitempty"`
}

// ImageUpdate describes a partial update. Nil fields are left untouched.
type ImageUpdate struct {
	Name            *string
	Status          *string
	DiskFormat      *string
	ContainerFormat *string
	Size            *int64
	Checksum        *string
	MinDisk         *int
	MinRAM          *int
	Owner           *string
	IsPublic        *bool
	Protected       *bool

	// Properties is the incoming name→value set. Nil means untouched;
	// reconciliation semantics depend on the purge flag of the call.
	Properties map[string]string

	// Locations replaces the location list when non-nil.
	Locations []Location

	Tags []string
}

// ListOptions control filtering and keyset pagination of image listings.
type ListOptions struct {
	// Filters maps recognized filter keys to values. Property equality
	// filters use the "property-<name>" key form, mirroring the query
	// parameters of the HTTP API.
	Filters map[string]string

	// Marker is the id of the last row of the previous page.
	Marker string

	// Limit caps the page size. Zero means server default.
	Limit int

	// SortKeys and SortDirs drive ordering. A single direction is
	// broadcast over all keys.
	SortKeys []string
	SortDirs []string
}
