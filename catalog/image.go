package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/containerd/log"
	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/catalog/access"
	"github.com/openstack/glance-sub003/errdefs"
)

// querier is the subset of *sql.DB and *sql.Tx the scan helpers need.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func validStatus(s string) bool {
	for _, v := range types.ImageStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func validFormat(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func isAmazonFormat(s string) bool {
	return s == "ami" || s == "ari" || s == "aki"
}

// validateImage enforces the row invariants shared by create and update.
func validateImage(img *types.Image) error {
	if !validStatus(img.Status) {
		return errdefs.InvalidParameter(errors.Errorf("invalid image status %q", img.Status))
	}
	if len(img.Name) > 255 {
		return errdefs.InvalidParameter(errors.New("image name must be 255 characters or fewer"))
	}
	if img.DiskFormat != "" && !validFormat(img.DiskFormat, types.DiskFormats) {
		return errdefs.InvalidParameter(errors.Errorf("invalid disk format %q", img.DiskFormat))
	}
	if img.ContainerFormat != "" && !validFormat(img.ContainerFormat, types.ContainerFormats) {
		return errdefs.InvalidParameter(errors.Errorf("invalid container format %q", img.ContainerFormat))
	}
	if isAmazonFormat(img.DiskFormat) || isAmazonFormat(img.ContainerFormat) {
		if img.DiskFormat != img.ContainerFormat {
			return errdefs.InvalidParameter(errors.Errorf("invalid mix of formats %q and %q: amazon formats must match", img.DiskFormat, img.ContainerFormat))
		}
	}
	if img.Status == types.StatusActive {
		if img.DiskFormat == "" || img.ContainerFormat == "" {
			return errdefs.InvalidParameter(errors.New("disk and container formats are required for an active image"))
		}
	}
	if img.Size < 0 {
		return errdefs.InvalidParameter(errors.New("image size must be non-negative"))
	}
	if img.MinDisk < 0 || img.MinRAM < 0 {
		return errdefs.InvalidParameter(errors.New("min_disk and min_ram must be non-negative"))
	}
	return nil
}

// ImageCreate inserts a new image row together with its child properties,
// tags and locations. A conflicting id returns a Conflict error.
func (c *Catalog) ImageCreate(ctx context.Context, rc *auth.Context, values *types.Image) (*types.Image, error) {
	img := *values
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if img.Status == "" {
		img.Status = types.StatusQueued
	}
	if img.Owner == "" && !rc.IsAdmin {
		img.Owner = rc.Owner()
	}
	if err := validateImage(&img); err != nil {
		return nil, err
	}

	var created *types.Image
	err := c.withRetry(ctx, "image_create", func() error {
		return c.inTx(ctx, func(tx *sql.Tx) error {
			t := now()
			img.CreatedAt, img.UpdatedAt = t, t
			_, err := tx.ExecContext(ctx, `
				INSERT INTO images (id, name, size, status, is_public, protected,
					disk_format, container_format, checksum, owner,
					min_disk, min_ram, created_at, updated_at, deleted)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
				img.ID, img.Name, img.Size, img.Status, img.IsPublic, img.Protected,
				img.DiskFormat, img.ContainerFormat, img.Checksum, img.Owner,
				img.MinDisk, img.MinRAM, img.CreatedAt, img.UpdatedAt)
			if isUniqueViolation(err) {
				return errdefs.Conflict(errors.Errorf("image %s already exists", img.ID))
			}
			if err != nil {
				return err
			}
			if err := upsertProperties(ctx, tx, img.ID, img.Properties, false, t); err != nil {
				return err
			}
			if err := replaceTags(ctx, tx, img.ID, img.Tags, t); err != nil {
				return err
			}
			if err := replaceLocations(ctx, tx, img.ID, img.Locations, t); err != nil {
				return err
			}
			created, err = getImage(ctx, tx, img.ID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	log.G(ctx).WithField("image", created.ID).Info("catalog: image created")
	return created, nil
}

// ImageGet fetches one image with children eagerly loaded. Rows that are
// soft-deleted are hidden unless the context may see deleted rows or
// forceShowDeleted is set. Rows the context may not see at all return
// NotFound, indistinguishable from absent rows.
func (c *Catalog) ImageGet(ctx context.Context, rc *auth.Context, id string, forceShowDeleted bool) (*types.Image, error) {
	var img *types.Image
	err := c.withRetry(ctx, "image_get", func() error {
		var err error
		img, err = getImage(ctx, c.db, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if img.Deleted && !(forceShowDeleted || rc.CanSeeDeleted()) {
		return nil, errdefs.NotFound(errors.Errorf("no image found with ID %s", id))
	}
	if !access.Visible(rc, img) {
		return nil, errdefs.NotFound(errors.Errorf("no image found with ID %s", id))
	}
	return img, nil
}

// protectedAttributes are attributes the store controls; incoming update
// values for them are dropped rather than rejected.
var protectedAttributes = map[string]struct{}{
	"id":         {},
	"created_at": {},
	"updated_at": {},
	"deleted_at": {},
	"deleted":    {},
}

// ImageUpdate merges upd into the stored row inside one transaction. The
// write takes the image's row lock, so concurrent updates to one image
// serialize. purgeProps controls property reconciliation: when true,
// stored properties missing from upd.Properties are soft-deleted.
func (c *Catalog) ImageUpdate(ctx context.Context, rc *auth.Context, id string, upd types.ImageUpdate, purgeProps bool) (*types.Image, error) {
	var updated *types.Image
	err := c.withRetry(ctx, "image_update", func() error {
		return c.inTx(ctx, func(tx *sql.Tx) error {
			img, err := getImage(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := authorizeMutation(rc, img); err != nil {
				return err
			}

			merged := *img
			applyUpdate(&merged, upd)
			if err := validateImage(&merged); err != nil {
				return err
			}

			t := now()
			if !t.After(merged.CreatedAt) {
				t = merged.CreatedAt.Add(time.Microsecond)
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE images SET name = ?, size = ?, status = ?, is_public = ?,
					protected = ?, disk_format = ?, container_format = ?,
					checksum = ?, owner = ?, min_disk = ?, min_ram = ?, updated_at = ?
				WHERE id = ?`,
				merged.Name, merged.Size, merged.Status, merged.IsPublic,
				merged.Protected, merged.DiskFormat, merged.ContainerFormat,
				merged.Checksum, merged.Owner, merged.MinDisk, merged.MinRAM, t, id)
			if err != nil {
				return err
			}
			if upd.Properties != nil || purgeProps {
				if err := upsertProperties(ctx, tx, id, upd.Properties, purgeProps, t); err != nil {
					return err
				}
			}
			if upd.Locations != nil {
				if err := replaceLocations(ctx, tx, id, upd.Locations, t); err != nil {
					return err
				}
			}
			if upd.Tags != nil {
				if err := replaceTags(ctx, tx, id, upd.Tags, t); err != nil {
					return err
				}
			}
			updated, err = getImage(ctx, tx, id)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ImageDestroy soft-deletes the image and all of its children and returns
// the now-deleted row.
func (c *Catalog) ImageDestroy(ctx context.Context, rc *auth.Context, id string) (*types.Image, error) {
	var destroyed *types.Image
	err := c.withRetry(ctx, "image_destroy", func() error {
		return c.inTx(ctx, func(tx *sql.Tx) error {
			img, err := getImage(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := authorizeMutation(rc, img); err != nil {
				return err
			}
			t := c.nextDeleteTime()
			status := img.Status
			if status != types.StatusPendingDelete {
				status = types.StatusDeleted
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE images SET deleted = 1, deleted_at = ?, updated_at = ?, status = ?
				WHERE id = ?`, t, t, status, id); err != nil {
				return err
			}
			for _, table := range []string{"image_properties", "image_tags", "image_locations", "image_members"} {
				if _, err := tx.ExecContext(ctx, `
					UPDATE `+table+` SET deleted = 1, deleted_at = ?, updated_at = ?
					WHERE image_id = ? AND deleted = 0`, t, t, id); err != nil {
					return err
				}
			}
			destroyed, err = getImage(ctx, tx, id)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	log.G(ctx).WithField("image", id).Info("catalog: image destroyed")
	return destroyed, nil
}

// SetImageStatus updates only the status column, used by the scrubber to
// finish a delayed delete without touching anything else.
func (c *Catalog) SetImageStatus(ctx context.Context, id, status string) error {
	if !validStatus(status) {
		return errdefs.InvalidParameter(errors.Errorf("invalid image status %q", status))
	}
	return c.withRetry(ctx, "image_set_status", func() error {
		res, err := c.db.ExecContext(ctx, `UPDATE images SET status = ?, updated_at = ? WHERE id = ?`, status, now(), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errdefs.NotFound(errors.Errorf("no image found with ID %s", id))
		}
		return nil
	})
}

// authorizeMutation maps a failed mutability check onto the API error
// contract: public images yield Forbidden, private ones NotFound.
func authorizeMutation(rc *auth.Context, img *types.Image) error {
	if access.Mutable(rc, img) {
		return nil
	}
	if img.IsPublic {
		return access.ForbiddenPublicImage()
	}
	return errdefs.NotFound(errors.Errorf("no image found with ID %s", img.ID))
}

func applyUpdate(img *types.Image, upd types.ImageUpdate) {
	if upd.Name != nil {
		img.Name = *upd.Name
	}
	if upd.Status != nil {
		img.Status = *upd.Status
	}
	if upd.DiskFormat != nil {
		img.DiskFormat = *upd.DiskFormat
	}
	if upd.ContainerFormat != nil {
		img.ContainerFormat = *upd.ContainerFormat
	}
	if upd.Size != nil {
		img.Size = *upd.Size
	}
	if upd.Checksum != nil {
		img.Checksum = *upd.Checksum
	}
	if upd.MinDisk != nil {
		img.MinDisk = *upd.MinDisk
	}
	if upd.MinRAM != nil {
		img.MinRAM = *upd.MinRAM
	}
	if upd.Owner != nil {
		img.Owner = *upd.Owner
	}
	if upd.IsPublic != nil {
		img.IsPublic = *upd.IsPublic
	}
	if upd.Protected != nil {
		img.Protected = *upd.Protected
	}
}

const imageColumns = `id, name, size, status, is_public, protected, disk_format,
	container_format, checksum, owner, min_disk, min_ram,
	created_at, updated_at, deleted_at, deleted`

func scanImage(row interface{ Scan(...interface{}) error }) (*types.Image, error) {
	var (
		img       types.Image
		deletedAt sql.NullTime
	)
	err := row.Scan(&img.ID, &img.Name, &img.Size, &img.Status, &img.IsPublic,
		&img.Protected, &img.DiskFormat, &img.ContainerFormat, &img.Checksum,
		&img.Owner, &img.MinDisk, &img.MinRAM, &img.CreatedAt, &img.UpdatedAt,
		&deletedAt, &img.Deleted)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		img.DeletedAt = &t
	}
	return &img, nil
}

// getImage fetches a row and its children with no visibility filtering;
// callers apply access checks on the result.
func getImage(ctx context.Context, q querier, id string) (*types.Image, error) {
	img, err := scanImage(q.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.NotFound(errors.Errorf("no image found with ID %s", id))
	}
	if err != nil {
		return nil, err
	}
	if err := loadChildren(ctx, q, img); err != nil {
		return nil, err
	}
	return img, nil
}

func loadChildren(ctx context.Context, q querier, img *types.Image) error {
	props, err := loadProperties(ctx, q, img.ID)
	if err != nil {
		return err
	}
	img.Properties = props

	tags, err := loadTags(ctx, q, img.ID)
	if err != nil {
		return err
	}
	img.Tags = tags

	locs, err := loadLocations(ctx, q, img.ID)
	if err != nil {
		return err
	}
	img.Locations = locs

	members, err := loadMembers(ctx, q, img.ID)
	if err != nil {
		return err
	}
	img.Members = members
	return nil
}

func loadProperties(ctx context.Context, q querier, imageID string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name, value FROM image_properties
		WHERE image_id = ? AND deleted = 0 ORDER BY name`, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	props := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		props[name] = value
	}
	return props, rows.Err()
}

func loadLocations(ctx context.Context, q querier, imageID string) ([]types.Location, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT url, metadata, status FROM image_locations
		WHERE image_id = ? AND deleted = 0 ORDER BY position, id`, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locs []types.Location
	for rows.Next() {
		var (
			loc  types.Location
			meta string
		)
		if err := rows.Scan(&loc.URL, &meta, &loc.Status); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &loc.Metadata); err != nil {
			return nil, errors.Wrapf(err, "corrupt location metadata for image %s", imageID)
		}
		locs = append(locs, loc)
	}
	return locs, rows.Err()
}

// upsertProperties reconciles the stored property rows of one image with
// the incoming name→value set. Incoming names are inserted or revived;
// with purge set, stored names absent from the incoming set are
// soft-deleted.
func upsertProperties(ctx context.Context, tx *sql.Tx, imageID string, props map[string]string, purge bool, t time.Time) error {
	for name, value := range props {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO image_properties (image_id, name, value, created_at, updated_at, deleted)
			VALUES (?, ?, ?, ?, ?, 0)
			ON CONFLICT (image_id, name)
			DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at,
				deleted = 0, deleted_at = NULL`,
			imageID, name, value, t, t)
		if err != nil {
			return err
		}
	}
	if !purge {
		return nil
	}
	keep := make([]string, 0, len(props))
	for name := range props {
		keep = append(keep, name)
	}
	query := `UPDATE image_properties SET deleted = 1, deleted_at = ?, updated_at = ? WHERE image_id = ? AND deleted = 0`
	args := []interface{}{t, t, imageID}
	if len(keep) > 0 {
		query += ` AND name NOT IN (?` + strings.Repeat(", ?", len(keep)-1) + `)`
		for _, name := range keep {
			args = append(args, name)
		}
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func replaceLocations(ctx context.Context, tx *sql.Tx, imageID string, locs []types.Location, t time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE image_locations SET deleted = 1, deleted_at = ?, updated_at = ?
		WHERE image_id = ? AND deleted = 0`, t, t, imageID); err != nil {
		return err
	}
	for i, loc := range locs {
		meta := loc.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		status := loc.Status
		if status == "" {
			status = "active"
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO image_locations (image_id, url, metadata, status, position, created_at, updated_at, deleted)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
			imageID, loc.URL, string(raw), status, i, t, t); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}
