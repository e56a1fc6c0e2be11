// Package httpstore reads image bodies from plain HTTP or HTTPS URLs.
// The backend is read-only: bodies can be registered at such locations
// but never written or deleted through this service.
package httpstore

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/errdefs"
	"github.com/openstack/glance-sub003/store"
)

// Backend is the read-only HTTP store driver.
type Backend struct {
	client *http.Client
}

// New returns a Backend. A nil client uses http.DefaultClient.
func New(client *http.Client) *Backend {
	if client == nil {
		client = http.DefaultClient
	}
	return &Backend{client: client}
}

// Get issues a GET for loc and hands back the response body. Size comes
// from Content-Length and is -1 for chunked responses.
func (b *Backend) Get(ctx context.Context, loc types.Location) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL, nil)
	if err != nil {
		return nil, -1, errdefs.InvalidParameter(errors.Wrapf(err, "http store: bad location %q", loc.URL))
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, -1, errdefs.Unavailable(errors.Wrapf(err, "http store: fetching %q", loc.URL))
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, -1, errdefs.NotFound(errors.Errorf("http store: no image body at %q", loc.URL))
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, -1, errdefs.Unavailable(errors.Errorf("http store: %q returned status %d", loc.URL, resp.StatusCode))
	}
	return resp.Body, resp.ContentLength, nil
}

// Put is not supported: HTTP locations are registered, not written.
func (b *Backend) Put(ctx context.Context, imageID string, r io.Reader, expectedSize int64) (string, int64, string, error) {
	return "", 0, "", errdefs.NotImplemented(errors.New("http store: writing is not supported"))
}

// Delete is not supported; delayed-delete callers swallow this.
func (b *Backend) Delete(ctx context.Context, loc types.Location) error {
	return errdefs.NotImplemented(errors.Wrapf(store.ErrDeleteNotSupported, "http store: %q", loc.URL))
}
