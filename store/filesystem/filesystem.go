// Package filesystem stores image bodies as flat files under a data
// directory. Location URLs have the form file:///path/to/datadir/<id>.
package filesystem

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/errdefs"
)

// Backend is the filesystem store driver.
type Backend struct {
	dir       string
	chunkSize int
}

// DefaultChunkSize is the transfer buffer size used when none is
// configured.
const DefaultChunkSize = 16 * 1024

// New returns a Backend writing under dir, creating it if needed.
func New(dir string, chunkSize int) (*Backend, error) {
	if dir == "" {
		return nil, errors.New("filesystem store: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "filesystem store: creating data directory")
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Backend{dir: dir, chunkSize: chunkSize}, nil
}

func (b *Backend) path(loc types.Location) (string, error) {
	u, err := url.Parse(loc.URL)
	if err != nil {
		return "", errdefs.InvalidParameter(errors.Wrapf(err, "filesystem store: bad location %q", loc.URL))
	}
	p := filepath.Clean(u.Path)
	// Refuse paths that escape the data directory.
	rel, err := filepath.Rel(b.dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errdefs.InvalidParameter(errors.Errorf("filesystem store: location %q is outside the data directory", loc.URL))
	}
	return p, nil
}

// Get opens the file backing loc. The size is always known.
func (b *Backend) Get(ctx context.Context, loc types.Location) (io.ReadCloser, int64, error) {
	p, err := b.path(loc)
	if err != nil {
		return nil, -1, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, -1, errdefs.NotFound(errors.Errorf("filesystem store: no image body at %q", loc.URL))
	}
	if err != nil {
		return nil, -1, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, -1, err
	}
	return f, fi.Size(), nil
}

// Put streams r into the data directory, hashing as it writes. The body
// lands under a temporary name and is renamed into place only on success,
// so a partially written file is never visible at its final location.
func (b *Backend) Put(ctx context.Context, imageID string, r io.Reader, expectedSize int64) (string, int64, string, error) {
	final := filepath.Join(b.dir, imageID)
	if _, err := os.Stat(final); err == nil {
		return "", 0, "", errdefs.Conflict(errors.Errorf("filesystem store: image body %s already exists", imageID))
	}
	tmp, err := os.CreateTemp(b.dir, imageID+".tmp-")
	if err != nil {
		return "", 0, "", err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	h := md5.New()
	buf := make([]byte, b.chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return "", written, "", errdefs.FromContext(ctx, err)
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := tmp.Write(buf[:n]); werr != nil {
				return "", written, "", werr
			}
			h.Write(buf[:n])
			written += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", written, "", rerr
		}
	}
	if err := tmp.Sync(); err != nil {
		return "", written, "", err
	}
	if err := tmp.Close(); err != nil {
		return "", written, "", err
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", written, "", err
	}
	checksum := hex.EncodeToString(h.Sum(nil))
	log.G(ctx).WithFields(log.Fields{"image": imageID, "bytes": written}).Debug("filesystem store: body written")
	return "file://" + final, written, checksum, nil
}

// Delete removes the file backing loc.
func (b *Backend) Delete(ctx context.Context, loc types.Location) error {
	p, err := b.path(loc)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if os.IsNotExist(err) {
		return errdefs.NotFound(errors.Errorf("filesystem store: no image body at %q", loc.URL))
	}
	return err
}
