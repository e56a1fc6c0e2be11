package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/errdefs"
)

func loadTags(ctx context.Context, q querier, imageID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT value FROM image_tags
		WHERE image_id = ? AND deleted = 0 ORDER BY value`, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		tags = append(tags, v)
	}
	return tags, rows.Err()
}

// ImageTagGetAll returns the live tags of an image, sorted.
func (c *Catalog) ImageTagGetAll(ctx context.Context, rc *auth.Context, imageID string) ([]string, error) {
	if _, err := c.ImageGet(ctx, rc, imageID, false); err != nil {
		return nil, err
	}
	var tags []string
	err := c.withRetry(ctx, "image_tag_get_all", func() error {
		var err error
		tags, err = loadTags(ctx, c.db, imageID)
		return err
	})
	return tags, err
}

// ImageTagSetAll reconciles the stored tag set with the given one: missing
// tags are added, extra tags soft-deleted, existing ones left alone.
func (c *Catalog) ImageTagSetAll(ctx context.Context, rc *auth.Context, imageID string, tags []string) error {
	if _, err := c.ImageGet(ctx, rc, imageID, false); err != nil {
		return err
	}
	return c.withRetry(ctx, "image_tag_set_all", func() error {
		return c.inTx(ctx, func(tx *sql.Tx) error {
			return replaceTags(ctx, tx, imageID, tags, now())
		})
	})
}

// ImageTagCreate adds one tag. Adding a tag the image already has is a
// no-op, keeping the (image, value) pair unique.
func (c *Catalog) ImageTagCreate(ctx context.Context, rc *auth.Context, imageID, value string) error {
	if value == "" {
		return errdefs.InvalidParameter(errors.New("tag value must not be empty"))
	}
	if _, err := c.ImageGet(ctx, rc, imageID, false); err != nil {
		return err
	}
	return c.withRetry(ctx, "image_tag_create", func() error {
		return c.inTx(ctx, func(tx *sql.Tx) error {
			return insertTag(ctx, tx, imageID, value, now())
		})
	})
}

// ImageTagDelete soft-deletes one tag.
func (c *Catalog) ImageTagDelete(ctx context.Context, rc *auth.Context, imageID, value string) error {
	if _, err := c.ImageGet(ctx, rc, imageID, false); err != nil {
		return err
	}
	return c.withRetry(ctx, "image_tag_delete", func() error {
		return c.inTx(ctx, func(tx *sql.Tx) error {
			t := now()
			res, err := tx.ExecContext(ctx, `
				UPDATE image_tags SET deleted = 1, deleted_at = ?, updated_at = ?
				WHERE image_id = ? AND value = ? AND deleted = 0`, t, t, imageID, value)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return errdefs.NotFound(errors.Errorf("image %s has no tag %q", imageID, value))
			}
			return nil
		})
	})
}

func insertTag(ctx context.Context, tx *sql.Tx, imageID, value string, t time.Time) error {
	var exists int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM image_tags
		WHERE image_id = ? AND value = ? AND deleted = 0`, imageID, value).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO image_tags (image_id, value, created_at, updated_at, deleted)
		VALUES (?, ?, ?, ?, 0)`, imageID, value, t, t)
	return err
}

// replaceTags applies set-difference reconciliation inside an existing
// transaction.
func replaceTags(ctx context.Context, tx *sql.Tx, imageID string, tags []string, t time.Time) error {
	current, err := loadTags(ctx, tx, imageID)
	if err != nil {
		return err
	}
	want := map[string]struct{}{}
	for _, v := range tags {
		want[v] = struct{}{}
	}
	have := map[string]struct{}{}
	for _, v := range current {
		have[v] = struct{}{}
	}
	for v := range want {
		if _, ok := have[v]; !ok {
			if err := insertTag(ctx, tx, imageID, v, t); err != nil {
				return err
			}
		}
	}
	for v := range have {
		if _, ok := want[v]; !ok {
			if _, err := tx.ExecContext(ctx, `
				UPDATE image_tags SET deleted = 1, deleted_at = ?, updated_at = ?
				WHERE image_id = ? AND value = ? AND deleted = 0`, t, t, imageID, v); err != nil {
				return err
			}
		}
	}
	return nil
}
