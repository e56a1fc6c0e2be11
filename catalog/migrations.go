package catalog

import (
	"context"
	"database/sql"

	"github.com/containerd/log"
	"github.com/pkg/errors"
)

// Schema evolution is forward-only: each migration has an integer version
// and is applied exactly once, in order, inside a transaction. The current
// version is the row count of the migrations table.
var migrations = []string{
	// 1: base schema.
	`
	CREATE TABLE images (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL DEFAULT '',
		size             INTEGER NOT NULL DEFAULT 0,
		status           TEXT NOT NULL,
		is_public        INTEGER NOT NULL DEFAULT 0,
		protected        INTEGER NOT NULL DEFAULT 0,
		disk_format      TEXT NOT NULL DEFAULT '',
		container_format TEXT NOT NULL DEFAULT '',
		checksum         TEXT NOT NULL DEFAULT '',
		owner            TEXT NOT NULL DEFAULT '',
		min_disk         INTEGER NOT NULL DEFAULT 0,
		min_ram          INTEGER NOT NULL DEFAULT 0,
		created_at       TIMESTAMP NOT NULL,
		updated_at       TIMESTAMP NOT NULL,
		deleted_at       TIMESTAMP,
		deleted          INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX ix_images_owner ON images (owner);
	CREATE INDEX ix_images_status ON images (status);
	CREATE INDEX ix_images_updated_at ON images (updated_at);

	CREATE TABLE image_properties (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		image_id   TEXT NOT NULL REFERENCES images (id),
		name       TEXT NOT NULL,
		value      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP,
		deleted    INTEGER NOT NULL DEFAULT 0,
		UNIQUE (image_id, name)
	);

	CREATE TABLE image_tags (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		image_id   TEXT NOT NULL REFERENCES images (id),
		value      TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP,
		deleted    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX ix_image_tags_image_id ON image_tags (image_id, value);

	CREATE TABLE image_locations (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		image_id   TEXT NOT NULL REFERENCES images (id),
		url        TEXT NOT NULL,
		metadata   TEXT NOT NULL DEFAULT '{}',
		status     TEXT NOT NULL DEFAULT 'active',
		position   INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP,
		deleted    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX ix_image_locations_image_id ON image_locations (image_id);

	CREATE TABLE image_members (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		image_id   TEXT NOT NULL REFERENCES images (id),
		member     TEXT NOT NULL,
		can_share  INTEGER NOT NULL DEFAULT 0,
		status     TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP,
		deleted    INTEGER NOT NULL DEFAULT 0,
		UNIQUE (image_id, member, deleted_at)
	);
	CREATE INDEX ix_image_members_image_id ON image_members (image_id);
	CREATE INDEX ix_image_members_member ON image_members (member);
	`,
}

func (c *Catalog) migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)`); err != nil {
		return errors.Wrap(err, "creating migrations table")
	}
	var version int
	if err := c.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM migrations`).Scan(&version); err != nil {
		return errors.Wrap(err, "reading schema version")
	}
	if version > len(migrations) {
		return errors.Errorf("catalog schema version %d is newer than this binary supports (%d)", version, len(migrations))
	}
	for i := version; i < len(migrations); i++ {
		err := c.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO migrations (version, applied_at) VALUES (?, ?)`, i+1, now())
			return err
		})
		if err != nil {
			return errors.Wrapf(err, "applying schema migration %d", i+1)
		}
		log.G(ctx).Infof("catalog: applied schema migration %d", i+1)
	}
	return nil
}
