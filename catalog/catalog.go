// Package catalog is the authoritative metadata store for images and their
// child entities. All reads and writes go through a Catalog, which owns the
// SQL handle, runs every mutation in an immediate (write-locking)
// transaction, and retries operations that fail with transient driver
// errors.
package catalog

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net/url"
	"sync"
	"time"

	"github.com/containerd/log"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/errdefs"
)

// Config tunes catalog behaviour. The zero value is usable; see the
// individual fields for defaults.
type Config struct {
	// MaxRetries is how many times an operation hitting a transient
	// driver error is retried before the error surfaces.
	MaxRetries int

	// RetryInterval is the pause between retries.
	RetryInterval time.Duration

	// MaxListLimit caps the page size of listings. Requests asking for
	// more are clamped, not rejected.
	MaxListLimit int

	// DefaultListLimit is used when a listing does not ask for a limit.
	DefaultListLimit int
}

const (
	defaultMaxRetries    = 10
	defaultRetryInterval = time.Second
	defaultMaxListLimit  = 1000
	defaultListLimit     = 25
)

func (cfg Config) withDefaults() Config {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.MaxListLimit == 0 {
		cfg.MaxListLimit = defaultMaxListLimit
	}
	if cfg.DefaultListLimit == 0 {
		cfg.DefaultListLimit = defaultListLimit
	}
	return cfg
}

// Catalog wraps the SQL handle and implements every catalog operation.
type Catalog struct {
	db  *sql.DB
	cfg Config

	// deleteClock guards lastDeleteAt. Soft-deleted memberships are
	// unique by (image, member, deleted_at), so two deletes of the same
	// pair must never share a timestamp.
	deleteClock  sync.Mutex
	lastDeleteAt time.Time
}

// Open opens (creating if necessary) the catalog database at path and
// applies any pending schema migrations. The special path ":memory:" opens
// a private in-memory database, used by tests.
func Open(path string, cfg Config) (*Catalog, error) {
	dsn := path + "?" + url.Values{
		"_busy_timeout": {"5000"},
		"_txlock":       {"immediate"},
		"_fk":           {"true"},
		"_loc":          {"UTC"},
	}.Encode()
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening catalog database")
	}
	// A single writer keeps SQLite's lock contention out of the retry
	// loop; readers multiplex fine over one connection.
	db.SetMaxOpenConns(1)
	c := &Catalog{db: db, cfg: cfg.withDefaults()}
	if err := c.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// now returns the canonical mutation timestamp. Stored times are always
// UTC, truncated to microseconds so they round-trip through the driver.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// nextDeleteTime returns a strictly monotonic deletion timestamp.
func (c *Catalog) nextDeleteTime() time.Time {
	c.deleteClock.Lock()
	defer c.deleteClock.Unlock()
	t := now()
	if !t.After(c.lastDeleteAt) {
		t = c.lastDeleteAt.Add(time.Microsecond)
	}
	c.lastDeleteAt = t
	return t
}

// isRetriable reports whether err looks like a lost or contended
// connection that a fresh attempt may survive.
func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}

// withRetry runs fn, retrying transient driver errors up to MaxRetries
// times with RetryInterval between attempts. Checkout liveness is probed
// with a ping so a dead pooled connection is refreshed instead of failing
// the operation.
func (c *Catalog) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for remaining := c.cfg.MaxRetries; remaining >= 0; remaining-- {
		if err = c.db.PingContext(ctx); err == nil {
			err = fn()
		}
		if !isRetriable(err) {
			return err
		}
		if remaining == 0 {
			break
		}
		log.G(ctx).WithError(err).Warnf("catalog: %s hit transient error, %d attempts remaining", op, remaining)
		select {
		case <-time.After(c.cfg.RetryInterval):
		case <-ctx.Done():
			return errdefs.FromContext(ctx, ctx.Err())
		}
	}
	return errdefs.Unavailable(errors.Wrapf(err, "catalog: %s failed after %d retries", op, c.cfg.MaxRetries))
}

// inTx runs fn inside a transaction, rolling back on error or panic.
func (c *Catalog) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
