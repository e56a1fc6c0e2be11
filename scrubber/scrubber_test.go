package scrubber

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/catalog"
	"github.com/openstack/glance-sub003/daemon"
	"github.com/openstack/glance-sub003/daemon/events"
	"github.com/openstack/glance-sub003/errdefs"
	"github.com/openstack/glance-sub003/registry"
	"github.com/openstack/glance-sub003/store"
	"github.com/openstack/glance-sub003/store/filesystem"
)

type testEnv struct {
	catalog *catalog.Catalog
	stores  *store.Dispatcher
	daemon  *daemon.Daemon
	dataDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cat, err := catalog.Open(":memory:", catalog.Config{})
	assert.NilError(t, err)
	t.Cleanup(func() { cat.Close() })

	dataDir := t.TempDir()
	fs, err := filesystem.New(dataDir, 0)
	assert.NilError(t, err)
	stores, err := store.NewDispatcher(store.Config{DefaultScheme: "file"}, map[string]store.Backend{"file": fs})
	assert.NilError(t, err)

	ev := events.New()
	t.Cleanup(func() { ev.Close() })
	return &testEnv{
		catalog: cat,
		stores:  stores,
		daemon:  daemon.New(registry.NewService(cat), stores, ev, daemon.Config{DelayedDelete: true}),
		dataDir: dataDir,
	}
}

// pendingImage uploads a body and queues the image for delayed deletion.
func (env *testEnv) pendingImage(t *testing.T, rc *auth.Context, body string) *types.Image {
	t.Helper()
	ctx := context.Background()
	img, err := env.daemon.ImageCreate(ctx, rc, &types.Image{
		DiskFormat:      "qcow2",
		ContainerFormat: "bare",
	})
	assert.NilError(t, err)
	_, err = env.daemon.ImageUpload(ctx, rc, img.ID, bytes.NewReader([]byte(body)), int64(len(body)), "")
	assert.NilError(t, err)
	pending, err := env.daemon.ImageDelete(ctx, rc, img.ID)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(pending.Status, types.StatusPendingDelete))
	return pending
}

func (env *testEnv) bodyCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(env.dataDir)
	assert.NilError(t, err)
	return len(entries)
}

func (env *testEnv) imageStatus(t *testing.T, id string) string {
	t.Helper()
	admin := &auth.Context{IsAdmin: true}
	img, err := env.catalog.ImageGet(context.Background(), admin, id, true)
	assert.NilError(t, err)
	return img.Status
}

func TestRunOnceReclaimsPendingImages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rc := &auth.Context{Token: "tok", User: "u", Tenant: "tenant1"}

	a := env.pendingImage(t, rc, "body of image a")
	b := env.pendingImage(t, rc, "body of image b")
	assert.Check(t, is.Equal(env.bodyCount(t), 2))

	s := New(env.catalog, env.stores, Config{GracePeriod: 0})
	scrubbed, err := s.RunOnce(ctx)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(scrubbed, 2))

	assert.Check(t, is.Equal(env.bodyCount(t), 0))
	assert.Check(t, is.Equal(env.imageStatus(t, a.ID), types.StatusDeleted))
	assert.Check(t, is.Equal(env.imageStatus(t, b.ID), types.StatusDeleted))

	// Nothing left for the next cycle.
	scrubbed, err = s.RunOnce(ctx)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(scrubbed, 0))
}

func TestRunOnceHonorsGracePeriod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rc := &auth.Context{Token: "tok", User: "u", Tenant: "tenant1"}

	img := env.pendingImage(t, rc, "fresh delete")

	s := New(env.catalog, env.stores, Config{GracePeriod: time.Hour})
	scrubbed, err := s.RunOnce(ctx)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(scrubbed, 0))
	assert.Check(t, is.Equal(env.bodyCount(t), 1))
	assert.Check(t, is.Equal(env.imageStatus(t, img.ID), types.StatusPendingDelete))
}

func TestRunOnceToleratesMissingBody(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rc := &auth.Context{Token: "tok", User: "u", Tenant: "tenant1"}

	img := env.pendingImage(t, rc, "body removed behind our back")
	entries, err := os.ReadDir(env.dataDir)
	assert.NilError(t, err)
	for _, e := range entries {
		assert.NilError(t, os.Remove(filepath.Join(env.dataDir, e.Name())))
	}

	s := New(env.catalog, env.stores, Config{GracePeriod: 0})
	scrubbed, err := s.RunOnce(ctx)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(scrubbed, 1))
	assert.Check(t, is.Equal(env.imageStatus(t, img.ID), types.StatusDeleted))
}

// failingBackend refuses deletes a configurable number of times.
type failingBackend struct {
	store.Backend
	failures int
}

func (f *failingBackend) Delete(ctx context.Context, loc types.Location) error {
	if f.failures > 0 {
		f.failures--
		return errdefs.Unavailable(errors.New("backend temporarily unavailable"))
	}
	return f.Backend.Delete(ctx, loc)
}

func TestRunOnceRetriesFailedImages(t *testing.T) {
	cat, err := catalog.Open(":memory:", catalog.Config{})
	assert.NilError(t, err)
	t.Cleanup(func() { cat.Close() })

	dataDir := t.TempDir()
	fs, err := filesystem.New(dataDir, 0)
	assert.NilError(t, err)
	flaky := &failingBackend{Backend: fs, failures: 1}
	stores, err := store.NewDispatcher(store.Config{DefaultScheme: "file"}, map[string]store.Backend{"file": flaky})
	assert.NilError(t, err)

	ev := events.New()
	t.Cleanup(func() { ev.Close() })
	d := daemon.New(registry.NewService(cat), stores, ev, daemon.Config{DelayedDelete: true})

	ctx := context.Background()
	rc := &auth.Context{Token: "tok", User: "u", Tenant: "tenant1"}
	img, err := d.ImageCreate(ctx, rc, &types.Image{DiskFormat: "qcow2", ContainerFormat: "bare"})
	assert.NilError(t, err)
	_, err = d.ImageUpload(ctx, rc, img.ID, bytes.NewReader([]byte("flaky body")), 10, "")
	assert.NilError(t, err)
	_, err = d.ImageDelete(ctx, rc, img.ID)
	assert.NilError(t, err)

	s := New(cat, stores, Config{GracePeriod: 0, MaxAttempts: 3})

	// First cycle hits the transient failure and leaves the image pending.
	scrubbed, err := s.RunOnce(ctx)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(scrubbed, 0))

	// Second cycle succeeds.
	scrubbed, err = s.RunOnce(ctx)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(scrubbed, 1))
}

func TestRunOnceGivesUpAfterMaxAttempts(t *testing.T) {
	cat, err := catalog.Open(":memory:", catalog.Config{})
	assert.NilError(t, err)
	t.Cleanup(func() { cat.Close() })

	fs, err := filesystem.New(t.TempDir(), 0)
	assert.NilError(t, err)
	broken := &failingBackend{Backend: fs, failures: 100}
	stores, err := store.NewDispatcher(store.Config{DefaultScheme: "file"}, map[string]store.Backend{"file": broken})
	assert.NilError(t, err)

	ev := events.New()
	t.Cleanup(func() { ev.Close() })
	d := daemon.New(registry.NewService(cat), stores, ev, daemon.Config{DelayedDelete: true})

	ctx := context.Background()
	rc := &auth.Context{Token: "tok", User: "u", Tenant: "tenant1"}
	img, err := d.ImageCreate(ctx, rc, &types.Image{DiskFormat: "qcow2", ContainerFormat: "bare"})
	assert.NilError(t, err)
	_, err = d.ImageUpload(ctx, rc, img.ID, bytes.NewReader([]byte("stuck body")), 10, "")
	assert.NilError(t, err)
	_, err = d.ImageDelete(ctx, rc, img.ID)
	assert.NilError(t, err)

	s := New(cat, stores, Config{GracePeriod: 0, MaxAttempts: 2})
	for i := 0; i < 4; i++ {
		scrubbed, err := s.RunOnce(ctx)
		assert.NilError(t, err)
		assert.Check(t, is.Equal(scrubbed, 0))
	}
	// Only the first MaxAttempts cycles touched the backend.
	assert.Check(t, is.Equal(broken.failures, 98))

	admin := &auth.Context{IsAdmin: true}
	got, err := cat.ImageGet(ctx, admin, img.ID, true)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(got.Status, types.StatusPendingDelete))
}
