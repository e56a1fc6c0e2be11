package catalog

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/errdefs"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(":memory:", Config{})
	assert.NilError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func tenantContext(tenant string) *auth.Context {
	return &auth.Context{
		Token:  "tok-" + tenant,
		User:   tenant + "-user",
		Tenant: tenant,
	}
}

func adminContext() *auth.Context {
	return &auth.Context{
		Token:   "tok-admin",
		User:    "admin-user",
		Tenant:  "admin-tenant",
		Roles:   []string{"Admin"},
		IsAdmin: true,
	}
}

func mustCreate(t *testing.T, c *Catalog, rc *auth.Context, img *types.Image) *types.Image {
	t.Helper()
	created, err := c.ImageCreate(context.Background(), rc, img)
	assert.NilError(t, err)
	return created
}

func TestImageCreateDefaults(t *testing.T) {
	c := newTestCatalog(t)
	rc := tenantContext("tenant1")

	created := mustCreate(t, c, rc, &types.Image{Name: "cirros"})

	assert.Assert(t, created.ID != "")
	assert.Check(t, is.Equal(created.Status, types.StatusQueued))
	assert.Check(t, is.Equal(created.Owner, "tenant1"))
	assert.Check(t, !created.CreatedAt.IsZero())
	assert.Check(t, is.Equal(created.CreatedAt, created.UpdatedAt))
	assert.Check(t, !created.Deleted)
}

func TestImageCreateDuplicateID(t *testing.T) {
	c := newTestCatalog(t)
	rc := tenantContext("tenant1")

	created := mustCreate(t, c, rc, &types.Image{Name: "one"})
	_, err := c.ImageCreate(context.Background(), rc, &types.Image{ID: created.ID, Name: "two"})
	assert.Check(t, errdefs.IsConflict(err))
}

func TestImageCreateValidation(t *testing.T) {
	c := newTestCatalog(t)
	rc := tenantContext("tenant1")
	ctx := context.Background()

	for _, tc := range []struct {
		doc string
		img types.Image
	}{
		{"bad disk format", types.Image{DiskFormat: "floppy"}},
		{"bad container format", types.Image{ContainerFormat: "zip"}},
		{"amazon format mismatch", types.Image{DiskFormat: "ami", ContainerFormat: "bare"}},
		{"negative size", types.Image{Size: -1}},
		{"negative min_disk", types.Image{MinDisk: -1}},
		{"overlong name", types.Image{Name: string(make([]byte, 256))}},
		{"active without formats", types.Image{Status: types.StatusActive}},
	} {
		img := tc.img
		_, err := c.ImageCreate(ctx, rc, &img)
		assert.Check(t, errdefs.IsInvalidParameter(err), tc.doc)
	}
}

func TestImageCreateWithChildren(t *testing.T) {
	c := newTestCatalog(t)
	rc := tenantContext("tenant1")

	created := mustCreate(t, c, rc, &types.Image{
		Name:       "ubuntu",
		Properties: map[string]string{"arch": "x86_64", "ramdisk_id": "abc"},
		Tags:       []string{"lts", "server"},
		Locations:  []types.Location{{URL: "http://example.com/ubuntu.img"}},
	})

	assert.Check(t, is.DeepEqual(created.Properties, map[string]string{"arch": "x86_64", "ramdisk_id": "abc"}))
	assert.Check(t, is.DeepEqual(created.Tags, []string{"lts", "server"}))
	assert.Assert(t, is.Len(created.Locations, 1))
	assert.Check(t, is.Equal(created.Locations[0].URL, "http://example.com/ubuntu.img"))
	assert.Check(t, is.Equal(created.Locations[0].Status, "active"))
}

func TestImageGetVisibility(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	owner := tenantContext("owner")
	stranger := tenantContext("stranger")
	member := tenantContext("friend")

	private := mustCreate(t, c, owner, &types.Image{Name: "private"})
	public := mustCreate(t, c, owner, &types.Image{Name: "public", IsPublic: true})

	_, err := c.ImageMemberCreate(ctx, owner, &types.Member{ImageID: private.ID, Member: "friend"})
	assert.NilError(t, err)

	// The owner and an admin see the private image.
	_, err = c.ImageGet(ctx, owner, private.ID, false)
	assert.NilError(t, err)
	_, err = c.ImageGet(ctx, adminContext(), private.ID, false)
	assert.NilError(t, err)

	// A member sees it, a stranger gets NotFound.
	_, err = c.ImageGet(ctx, member, private.ID, false)
	assert.NilError(t, err)
	_, err = c.ImageGet(ctx, stranger, private.ID, false)
	assert.Check(t, errdefs.IsNotFound(err))

	// Everyone sees the public image.
	_, err = c.ImageGet(ctx, stranger, public.ID, false)
	assert.NilError(t, err)
}

func TestImageGetDeletedHidden(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	created := mustCreate(t, c, rc, &types.Image{Name: "doomed"})
	_, err := c.ImageDestroy(ctx, rc, created.ID)
	assert.NilError(t, err)

	_, err = c.ImageGet(ctx, rc, created.ID, false)
	assert.Check(t, errdefs.IsNotFound(err))

	// forceShowDeleted and admin contexts still resolve the row.
	img, err := c.ImageGet(ctx, rc, created.ID, true)
	assert.NilError(t, err)
	assert.Check(t, img.Deleted)
	assert.Check(t, is.Equal(img.Status, types.StatusDeleted))

	img, err = c.ImageGet(ctx, adminContext(), created.ID, false)
	assert.NilError(t, err)
	assert.Check(t, img.Deleted)
}

func TestImageUpdateMerge(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	created := mustCreate(t, c, rc, &types.Image{
		Name:       "base",
		Properties: map[string]string{"a": "1", "b": "2"},
	})

	name := "renamed"
	updated, err := c.ImageUpdate(ctx, rc, created.ID, types.ImageUpdate{
		Name:       &name,
		Properties: map[string]string{"b": "20", "c": "3"},
	}, false)
	assert.NilError(t, err)

	assert.Check(t, is.Equal(updated.Name, "renamed"))
	// Without purge, stored properties missing from the update survive.
	assert.Check(t, is.DeepEqual(updated.Properties, map[string]string{"a": "1", "b": "20", "c": "3"}))
	assert.Check(t, updated.UpdatedAt.After(created.CreatedAt))
}

func TestImageUpdatePurgeProperties(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	created := mustCreate(t, c, rc, &types.Image{
		Properties: map[string]string{"a": "1", "b": "2"},
	})

	updated, err := c.ImageUpdate(ctx, rc, created.ID, types.ImageUpdate{
		Properties: map[string]string{"b": "2"},
	}, true)
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(updated.Properties, map[string]string{"b": "2"}))

	// A purged name can be revived later.
	updated, err = c.ImageUpdate(ctx, rc, created.ID, types.ImageUpdate{
		Properties: map[string]string{"a": "10"},
	}, false)
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(updated.Properties, map[string]string{"a": "10", "b": "2"}))
}

func TestImageUpdateByOtherTenant(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	owner := tenantContext("owner")
	stranger := tenantContext("stranger")

	private := mustCreate(t, c, owner, &types.Image{Name: "private"})
	public := mustCreate(t, c, owner, &types.Image{Name: "public", IsPublic: true})

	name := "hijack"
	_, err := c.ImageUpdate(ctx, stranger, private.ID, types.ImageUpdate{Name: &name}, false)
	assert.Check(t, errdefs.IsNotFound(err))

	_, err = c.ImageUpdate(ctx, stranger, public.ID, types.ImageUpdate{Name: &name}, false)
	assert.Check(t, errdefs.IsForbidden(err))
}

func TestImageDestroyChildren(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	created := mustCreate(t, c, rc, &types.Image{
		Properties: map[string]string{"a": "1"},
		Tags:       []string{"x"},
		Locations:  []types.Location{{URL: "http://example.com/x.img"}},
	})
	_, err := c.ImageMemberCreate(ctx, rc, &types.Member{ImageID: created.ID, Member: "friend"})
	assert.NilError(t, err)

	destroyed, err := c.ImageDestroy(ctx, rc, created.ID)
	assert.NilError(t, err)

	assert.Check(t, destroyed.Deleted)
	assert.Assert(t, destroyed.DeletedAt != nil)
	assert.Check(t, is.Len(destroyed.Properties, 0))
	assert.Check(t, is.Len(destroyed.Tags, 0))
	assert.Check(t, is.Len(destroyed.Locations, 0))
	assert.Check(t, is.Len(destroyed.Members, 0))
}

func TestImageDestroyKeepsPendingDelete(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	rc := adminContext()

	created := mustCreate(t, c, rc, &types.Image{
		Status:          types.StatusActive,
		DiskFormat:      "qcow2",
		ContainerFormat: "bare",
	})
	pending := types.StatusPendingDelete
	_, err := c.ImageUpdate(ctx, rc, created.ID, types.ImageUpdate{Status: &pending}, false)
	assert.NilError(t, err)

	destroyed, err := c.ImageDestroy(ctx, rc, created.ID)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(destroyed.Status, types.StatusPendingDelete))
}

func TestSetImageStatus(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	created := mustCreate(t, c, rc, &types.Image{})
	assert.NilError(t, c.SetImageStatus(ctx, created.ID, types.StatusKilled))

	img, err := c.ImageGet(ctx, rc, created.ID, false)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(img.Status, types.StatusKilled))

	err = c.SetImageStatus(ctx, "no-such-image", types.StatusDeleted)
	assert.Check(t, errdefs.IsNotFound(err))

	err = c.SetImageStatus(ctx, created.ID, "melted")
	assert.Check(t, errdefs.IsInvalidParameter(err))
}

func TestImagesPendingScrub(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	rc := adminContext()

	img := mustCreate(t, c, rc, &types.Image{
		Status:          types.StatusActive,
		DiskFormat:      "raw",
		ContainerFormat: "bare",
		Locations:       []types.Location{{URL: "file:///data/one"}, {URL: "file:///data/two"}},
	})
	pending := types.StatusPendingDelete
	_, err := c.ImageUpdate(ctx, rc, img.ID, types.ImageUpdate{Status: &pending}, false)
	assert.NilError(t, err)
	_, err = c.ImageDestroy(ctx, rc, img.ID)
	assert.NilError(t, err)

	// An image deleted synchronously must not show up.
	other := mustCreate(t, c, rc, &types.Image{})
	_, err = c.ImageDestroy(ctx, rc, other.ID)
	assert.NilError(t, err)

	tasks, err := c.ImagesPendingScrub(ctx, time.Now().UTC())
	assert.NilError(t, err)
	assert.Assert(t, is.Len(tasks, 1))
	assert.Check(t, is.Equal(tasks[0].ImageID, img.ID))
	assert.Check(t, is.DeepEqual(tasks[0].LocationURLs, []string{"file:///data/one", "file:///data/two"}))

	// A cutoff before the deletion hides the task.
	tasks, err = c.ImagesPendingScrub(ctx, tasks[0].DeletedAt.Add(-time.Second))
	assert.NilError(t, err)
	assert.Check(t, is.Len(tasks, 0))
}

func TestNextDeleteTimeMonotonic(t *testing.T) {
	c := newTestCatalog(t)
	prev := c.nextDeleteTime()
	for i := 0; i < 100; i++ {
		next := c.nextDeleteTime()
		assert.Assert(t, next.After(prev))
		prev = next
	}
}
