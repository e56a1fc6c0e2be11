package catalog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/errdefs"
)

func TestImageGetAllPaginationEnumeratesEverything(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	want := map[string]bool{}
	for i := 0; i < 7; i++ {
		img := mustCreate(t, c, rc, &types.Image{Name: fmt.Sprintf("image-%d", i)})
		want[img.ID] = false
	}

	marker := ""
	pages := 0
	for {
		page, err := c.ImageGetAll(ctx, rc, types.ListOptions{Limit: 3, Marker: marker})
		assert.NilError(t, err)
		if len(page) == 0 {
			break
		}
		pages++
		for _, img := range page {
			seen, ok := want[img.ID]
			assert.Assert(t, ok, "unexpected image %s", img.ID)
			assert.Assert(t, !seen, "image %s returned twice", img.ID)
			want[img.ID] = true
		}
		marker = page[len(page)-1].ID
	}

	assert.Check(t, is.Equal(pages, 3))
	for id, seen := range want {
		assert.Check(t, seen, "image %s never returned", id)
	}
}

func TestImageGetAllSortByName(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	for _, name := range []string{"pear", "apple", "mango"} {
		mustCreate(t, c, rc, &types.Image{Name: name})
	}

	images, err := c.ImageGetAll(ctx, rc, types.ListOptions{
		SortKeys: []string{"name"},
		SortDirs: []string{"asc"},
	})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(images, 3))
	assert.Check(t, is.Equal(images[0].Name, "apple"))
	assert.Check(t, is.Equal(images[1].Name, "mango"))
	assert.Check(t, is.Equal(images[2].Name, "pear"))
}

func TestImageGetAllInvalidSort(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	_, err := c.ImageGetAll(ctx, rc, types.ListOptions{SortKeys: []string{"rowid"}})
	assert.Check(t, errdefs.IsInvalidParameter(err))

	_, err = c.ImageGetAll(ctx, rc, types.ListOptions{SortDirs: []string{"sideways"}})
	assert.Check(t, errdefs.IsInvalidParameter(err))

	_, err = c.ImageGetAll(ctx, rc, types.ListOptions{
		SortKeys: []string{"name", "size"},
		SortDirs: []string{"asc", "desc", "asc"},
	})
	assert.Check(t, errdefs.IsInvalidParameter(err))
}

func TestImageGetAllInvisibleMarker(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	owner := tenantContext("owner")
	stranger := tenantContext("stranger")

	private := mustCreate(t, c, owner, &types.Image{Name: "private"})

	_, err := c.ImageGetAll(ctx, stranger, types.ListOptions{Marker: private.ID})
	assert.Check(t, errdefs.IsNotFound(err))

	_, err = c.ImageGetAll(ctx, owner, types.ListOptions{Marker: "no-such-id"})
	assert.Check(t, errdefs.IsNotFound(err))
}

func TestImageGetAllVisibility(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	owner := tenantContext("owner")
	stranger := tenantContext("stranger")
	friend := tenantContext("friend")

	private := mustCreate(t, c, owner, &types.Image{Name: "private"})
	public := mustCreate(t, c, owner, &types.Image{Name: "public", IsPublic: true})
	_, err := c.ImageMemberCreate(ctx, owner, &types.Member{ImageID: private.ID, Member: "friend"})
	assert.NilError(t, err)

	ids := func(images []*types.Image) map[string]bool {
		out := map[string]bool{}
		for _, img := range images {
			out[img.ID] = true
		}
		return out
	}

	images, err := c.ImageGetAll(ctx, stranger, types.ListOptions{})
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(ids(images), map[string]bool{public.ID: true}))

	images, err = c.ImageGetAll(ctx, friend, types.ListOptions{})
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(ids(images), map[string]bool{public.ID: true, private.ID: true}))

	images, err = c.ImageGetAll(ctx, adminContext(), types.ListOptions{})
	assert.NilError(t, err)
	assert.Check(t, is.Len(images, 2))
}

func TestImageGetAllFilters(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	small := mustCreate(t, c, rc, &types.Image{Name: "small", Size: 10})
	big := mustCreate(t, c, rc, &types.Image{Name: "big", Size: 1000})
	tagged := mustCreate(t, c, rc, &types.Image{
		Name:       "tagged",
		Properties: map[string]string{"arch": "arm64"},
	})

	images, err := c.ImageGetAll(ctx, rc, types.ListOptions{Filters: map[string]string{"name": "small"}})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(images, 1))
	assert.Check(t, is.Equal(images[0].ID, small.ID))

	images, err = c.ImageGetAll(ctx, rc, types.ListOptions{Filters: map[string]string{"size_min": "100"}})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(images, 1))
	assert.Check(t, is.Equal(images[0].ID, big.ID))

	images, err = c.ImageGetAll(ctx, rc, types.ListOptions{Filters: map[string]string{"size_max": "100"}})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(images, 2))

	images, err = c.ImageGetAll(ctx, rc, types.ListOptions{Filters: map[string]string{"property-arch": "arm64"}})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(images, 1))
	assert.Check(t, is.Equal(images[0].ID, tagged.ID))

	_, err = c.ImageGetAll(ctx, rc, types.ListOptions{Filters: map[string]string{"flavor": "large"}})
	assert.Check(t, errdefs.IsInvalidParameter(err))
}

func TestImageGetAllIsPublicFilterIncludesOwned(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	owner := tenantContext("owner")
	stranger := tenantContext("stranger")

	private := mustCreate(t, c, owner, &types.Image{Name: "mine"})
	public := mustCreate(t, c, owner, &types.Image{Name: "shared", IsPublic: true})

	// The owner asking for public images still sees their own private
	// ones; a stranger only sees truly public rows.
	images, err := c.ImageGetAll(ctx, owner, types.ListOptions{Filters: map[string]string{"is_public": "true"}})
	assert.NilError(t, err)
	assert.Check(t, is.Len(images, 2))

	images, err = c.ImageGetAll(ctx, stranger, types.ListOptions{Filters: map[string]string{"is_public": "true"}})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(images, 1))
	assert.Check(t, is.Equal(images[0].ID, public.ID))

	images, err = c.ImageGetAll(ctx, owner, types.ListOptions{Filters: map[string]string{"is_public": "false"}})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(images, 1))
	assert.Check(t, is.Equal(images[0].ID, private.ID))
}

func TestImageGetAllDeletedFilterHidesKilled(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	rc := adminContext()

	alive := mustCreate(t, c, rc, &types.Image{Name: "alive"})
	killed := mustCreate(t, c, rc, &types.Image{Name: "killed"})
	assert.NilError(t, c.SetImageStatus(ctx, killed.ID, types.StatusKilled))
	gone := mustCreate(t, c, rc, &types.Image{Name: "gone"})
	_, err := c.ImageDestroy(ctx, rc, gone.ID)
	assert.NilError(t, err)

	images, err := c.ImageGetAll(ctx, rc, types.ListOptions{Filters: map[string]string{"deleted": "false"}})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(images, 1))
	assert.Check(t, is.Equal(images[0].ID, alive.ID))

	images, err = c.ImageGetAll(ctx, rc, types.ListOptions{Filters: map[string]string{"deleted": "true"}})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(images, 1))
	assert.Check(t, is.Equal(images[0].ID, gone.ID))
}

func TestImageGetAllChangesSince(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	old := mustCreate(t, c, rc, &types.Image{Name: "old"})
	cutoff := old.UpdatedAt
	time.Sleep(2 * time.Millisecond)

	// Deleted rows still show up in a changes-since listing so pollers
	// learn about deletions.
	gone := mustCreate(t, c, rc, &types.Image{Name: "gone"})
	_, err := c.ImageDestroy(ctx, rc, gone.ID)
	assert.NilError(t, err)

	images, err := c.ImageGetAll(ctx, rc, types.ListOptions{
		Filters: map[string]string{"changes-since": cutoff.Format(time.RFC3339Nano)},
	})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(images, 1))
	assert.Check(t, is.Equal(images[0].ID, gone.ID))
	assert.Check(t, images[0].Deleted)
}

func TestImageGetAllLimitClamp(t *testing.T) {
	c, err := Open(":memory:", Config{MaxListLimit: 2, DefaultListLimit: 1})
	assert.NilError(t, err)
	defer c.Close()
	ctx := context.Background()
	rc := tenantContext("tenant1")

	for i := 0; i < 4; i++ {
		mustCreate(t, c, rc, &types.Image{})
	}

	images, err := c.ImageGetAll(ctx, rc, types.ListOptions{})
	assert.NilError(t, err)
	assert.Check(t, is.Len(images, 1))

	images, err = c.ImageGetAll(ctx, rc, types.ListOptions{Limit: 100})
	assert.NilError(t, err)
	assert.Check(t, is.Len(images, 2))

	_, err = c.ImageGetAll(ctx, rc, types.ListOptions{Limit: -1})
	assert.Check(t, errdefs.IsInvalidParameter(err))
}
