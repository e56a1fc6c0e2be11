// Package store dispatches image body operations to a backend driver
// selected by the scheme of the location URL. The scheme→driver map is
// built once at startup; drivers are shared and must be safe for
// concurrent use.
package store

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/errdefs"
)

// ErrDeleteNotSupported is returned by read-only backends. Callers doing
// delayed deletion swallow it; synchronous deletes propagate it.
var ErrDeleteNotSupported = errors.New("store does not support delete")

// ErrUnknownScheme is wrapped into the error returned for location URLs
// whose scheme has no registered driver.
var ErrUnknownScheme = errors.New("unknown store scheme")

// Backend is one object-store driver.
type Backend interface {
	// Get opens a read stream for the body at loc. The returned size is
	// -1 when the backend cannot tell without reading.
	Get(ctx context.Context, loc types.Location) (io.ReadCloser, int64, error)

	// Put streams r to storage under a backend-chosen key derived from
	// imageID and returns the canonical location URL, the number of
	// bytes written and the hex MD5 of those bytes. expectedSize is -1
	// when unknown; backends may use it as a hint but must not trust it.
	Put(ctx context.Context, imageID string, r io.Reader, expectedSize int64) (loc string, written int64, checksum string, err error)

	// Delete removes the body at loc. Read-only backends return an
	// error wrapping ErrDeleteNotSupported.
	Delete(ctx context.Context, loc types.Location) error
}

// Dispatcher routes location URLs to backends and handles location
// encryption at the storage boundary.
type Dispatcher struct {
	backends map[string]Backend
	def      string
	crypt    *locationCrypt
}

// Config configures a Dispatcher.
type Config struct {
	// DefaultScheme names the backend new uploads go to.
	DefaultScheme string

	// MetadataKey, when 16 bytes long, enables AES-128-CBC encryption
	// of location URLs at rest. Empty disables encryption.
	MetadataKey string
}

// NewDispatcher builds a dispatcher over the given scheme→backend map.
func NewDispatcher(cfg Config, backends map[string]Backend) (*Dispatcher, error) {
	if len(backends) == 0 {
		return nil, errors.New("store: no backends configured")
	}
	def := cfg.DefaultScheme
	if def == "" {
		def = "file"
	}
	if _, ok := backends[def]; !ok {
		return nil, errors.Errorf("store: default scheme %q has no configured backend", def)
	}
	var crypt *locationCrypt
	if cfg.MetadataKey != "" {
		var err error
		crypt, err = newLocationCrypt([]byte(cfg.MetadataKey))
		if err != nil {
			return nil, err
		}
	}
	return &Dispatcher{backends: backends, def: def, crypt: crypt}, nil
}

func (d *Dispatcher) backendFor(rawURL string) (Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return nil, errdefs.InvalidParameter(errors.Wrapf(ErrUnknownScheme, "unparseable location %q", rawURL))
	}
	b, ok := d.backends[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, errdefs.InvalidParameter(errors.Wrapf(ErrUnknownScheme, "scheme %q", u.Scheme))
	}
	return b, nil
}

// EncodeLocation prepares a location URL for persisting, encrypting it
// when a metadata key is configured.
func (d *Dispatcher) EncodeLocation(rawURL string) (string, error) {
	if d.crypt == nil {
		return rawURL, nil
	}
	return d.crypt.encrypt(rawURL)
}

// DecodeLocation reverses EncodeLocation. Undecryptable values are
// returned unchanged so rows written before encryption was enabled keep
// working.
func (d *Dispatcher) DecodeLocation(stored string) string {
	if d.crypt == nil {
		return stored
	}
	return d.crypt.decrypt(stored)
}

// Get opens a read stream for the first viable location of an image.
func (d *Dispatcher) Get(ctx context.Context, loc types.Location) (io.ReadCloser, int64, error) {
	resolved := loc
	resolved.URL = d.DecodeLocation(loc.URL)
	b, err := d.backendFor(resolved.URL)
	if err != nil {
		return nil, -1, err
	}
	return b.Get(ctx, resolved)
}

// Put streams r to the default backend.
func (d *Dispatcher) Put(ctx context.Context, imageID string, r io.Reader, expectedSize int64) (string, int64, string, error) {
	return d.backends[d.def].Put(ctx, imageID, r, expectedSize)
}

// Delete removes the body at loc, propagating ErrDeleteNotSupported.
func (d *Dispatcher) Delete(ctx context.Context, loc types.Location) error {
	resolved := loc
	resolved.URL = d.DecodeLocation(loc.URL)
	b, err := d.backendFor(resolved.URL)
	if err != nil {
		return err
	}
	return b.Delete(ctx, resolved)
}

// ScheduleDelete removes the body at loc on behalf of a delayed delete.
// Backends that cannot delete are treated as done: there is nothing the
// scrubber could ever do about them.
func (d *Dispatcher) ScheduleDelete(ctx context.Context, loc types.Location) error {
	err := d.Delete(ctx, loc)
	if errors.Is(err, ErrDeleteNotSupported) {
		log.G(ctx).WithField("location", loc.URL).Debug("store: backend does not support delete, skipping")
		return nil
	}
	return err
}
