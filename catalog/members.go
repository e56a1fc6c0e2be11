package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/errdefs"
)

const memberColumns = `image_id, member, can_share, status, created_at, updated_at, deleted_at, deleted`

func scanMember(row interface{ Scan(...interface{}) error }) (*types.Member, error) {
	var (
		m         types.Member
		deletedAt sql.NullTime
	)
	err := row.Scan(&m.ImageID, &m.Member, &m.CanShare, &m.Status,
		&m.CreatedAt, &m.UpdatedAt, &deletedAt, &m.Deleted)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	return &m, nil
}

func loadMembers(ctx context.Context, q querier, imageID string) ([]types.Member, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+memberColumns+` FROM image_members
		WHERE image_id = ? AND deleted = 0 ORDER BY member`, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []types.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// ImageMemberFind lists non-deleted membership rows. Empty imageID or
// member act as wildcards, so the same call serves "who is this image
// shared with" and "which images are shared with this tenant".
func (c *Catalog) ImageMemberFind(ctx context.Context, rc *auth.Context, imageID, member string) ([]types.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM image_members WHERE deleted = 0`
	var args []interface{}
	if imageID != "" {
		query += ` AND image_id = ?`
		args = append(args, imageID)
	}
	if member != "" {
		query += ` AND member = ?`
		args = append(args, member)
	}
	query += ` ORDER BY image_id, member`

	var members []types.Member
	err := c.withRetry(ctx, "image_member_find", func() error {
		rows, err := c.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		members = members[:0]
		for rows.Next() {
			m, err := scanMember(rows)
			if err != nil {
				return err
			}
			members = append(members, *m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// ImageMemberCreate inserts a membership row. A live row for the same
// (image, member) pair is a conflict; a soft-deleted one is left in place
// because the unique constraint includes deleted_at.
func (c *Catalog) ImageMemberCreate(ctx context.Context, rc *auth.Context, m *types.Member) (*types.Member, error) {
	if m.ImageID == "" || m.Member == "" {
		return nil, errdefs.InvalidParameter(errors.New("membership requires both an image and a member"))
	}
	status := m.Status
	if status == "" {
		status = types.MemberStatusPending
	}
	var created *types.Member
	err := c.withRetry(ctx, "image_member_create", func() error {
		return c.inTx(ctx, func(tx *sql.Tx) error {
			var exists int
			err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM image_members
				WHERE image_id = ? AND member = ? AND deleted = 0`,
				m.ImageID, m.Member).Scan(&exists)
			if err != nil {
				return err
			}
			if exists > 0 {
				return errdefs.Conflict(errors.Errorf("image %s is already shared with %s", m.ImageID, m.Member))
			}
			t := now()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO image_members (image_id, member, can_share, status, created_at, updated_at, deleted)
				VALUES (?, ?, ?, ?, ?, ?, 0)`,
				m.ImageID, m.Member, m.CanShare, status, t, t); err != nil {
				return err
			}
			created, err = getMember(ctx, tx, m.ImageID, m.Member)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ImageMemberUpdate applies a partial update to a live membership row.
func (c *Catalog) ImageMemberUpdate(ctx context.Context, rc *auth.Context, imageID, member string, upd types.MemberUpdate) (*types.Member, error) {
	var updated *types.Member
	err := c.withRetry(ctx, "image_member_update", func() error {
		return c.inTx(ctx, func(tx *sql.Tx) error {
			m, err := getMember(ctx, tx, imageID, member)
			if err != nil {
				return err
			}
			canShare := m.CanShare
			if upd.CanShare != nil {
				canShare = *upd.CanShare
			}
			status := m.Status
			if upd.Status != nil {
				status = *upd.Status
			}
			switch status {
			case types.MemberStatusPending, types.MemberStatusAccepted, types.MemberStatusRejected:
			default:
				return errdefs.InvalidParameter(errors.Errorf("invalid membership status %q", status))
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE image_members SET can_share = ?, status = ?, updated_at = ?
				WHERE image_id = ? AND member = ? AND deleted = 0`,
				canShare, status, now(), imageID, member); err != nil {
				return err
			}
			updated, err = getMember(ctx, tx, imageID, member)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ImageMemberDelete soft-deletes one membership row.
func (c *Catalog) ImageMemberDelete(ctx context.Context, rc *auth.Context, imageID, member string) error {
	return c.withRetry(ctx, "image_member_delete", func() error {
		return c.inTx(ctx, func(tx *sql.Tx) error {
			return softDeleteMember(ctx, tx, imageID, member, c.nextDeleteTime())
		})
	})
}

// ImageMemberGetMemberships lists the images shared with a tenant.
func (c *Catalog) ImageMemberGetMemberships(ctx context.Context, rc *auth.Context, member string) ([]types.Member, error) {
	return c.ImageMemberFind(ctx, rc, "", member)
}

// ImageMemberReplaceAll replaces the whole membership set of one image in
// a single transaction: incoming rows are created or updated, stored rows
// absent from the incoming set are soft-deleted. can_share defaults to the
// stored value for existing rows and false for new ones; the caller
// resolves that before calling (a nil CanShare is false here).
func (c *Catalog) ImageMemberReplaceAll(ctx context.Context, rc *auth.Context, imageID string, members []types.Member) error {
	return c.withRetry(ctx, "image_member_replace_all", func() error {
		return c.inTx(ctx, func(tx *sql.Tx) error {
			existing := map[string]*types.Member{}
			rows, err := tx.QueryContext(ctx, `
				SELECT `+memberColumns+` FROM image_members
				WHERE image_id = ? AND deleted = 0`, imageID)
			if err != nil {
				return err
			}
			for rows.Next() {
				m, err := scanMember(rows)
				if err != nil {
					rows.Close()
					return err
				}
				existing[m.Member] = m
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}

			t := now()
			incoming := map[string]struct{}{}
			for _, m := range members {
				incoming[m.Member] = struct{}{}
				status := m.Status
				if status == "" {
					status = types.MemberStatusPending
				}
				if _, ok := existing[m.Member]; ok {
					if _, err := tx.ExecContext(ctx, `
						UPDATE image_members SET can_share = ?, status = ?, updated_at = ?
						WHERE image_id = ? AND member = ? AND deleted = 0`,
						m.CanShare, status, t, imageID, m.Member); err != nil {
						return err
					}
					continue
				}
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO image_members (image_id, member, can_share, status, created_at, updated_at, deleted)
					VALUES (?, ?, ?, ?, ?, ?, 0)`,
					imageID, m.Member, m.CanShare, status, t, t); err != nil {
					return err
				}
			}
			for member := range existing {
				if _, ok := incoming[member]; ok {
					continue
				}
				if err := softDeleteMember(ctx, tx, imageID, member, c.nextDeleteTime()); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func getMember(ctx context.Context, q querier, imageID, member string) (*types.Member, error) {
	m, err := scanMember(q.QueryRowContext(ctx, `
		SELECT `+memberColumns+` FROM image_members
		WHERE image_id = ? AND member = ? AND deleted = 0`, imageID, member))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdefs.NotFound(errors.Errorf("image %s has no membership for %s", imageID, member))
	}
	return m, err
}

func softDeleteMember(ctx context.Context, tx *sql.Tx, imageID, member string, t time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE image_members SET deleted = 1, deleted_at = ?, updated_at = ?
		WHERE image_id = ? AND member = ? AND deleted = 0`, t, t, imageID, member)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.NotFound(errors.Errorf("image %s has no membership for %s", imageID, member))
	}
	return nil
}
