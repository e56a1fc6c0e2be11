package registry

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/catalog"
	"github.com/openstack/glance-sub003/errdefs"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cat, err := catalog.Open(":memory:", catalog.Config{})
	assert.NilError(t, err)
	t.Cleanup(func() { cat.Close() })
	return NewService(cat)
}

func tenantContext(tenant string) *auth.Context {
	return &auth.Context{Token: "tok", User: tenant + "-user", Tenant: tenant}
}

func TestCreateImageRejectsReadOnlyAttributes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	_, err := svc.CreateImage(ctx, rc, &types.Image{Checksum: "abc"})
	assert.Check(t, errdefs.IsInvalidParameter(err))

	_, err = svc.CreateImage(ctx, rc, &types.Image{Status: types.StatusSaving})
	assert.Check(t, errdefs.IsInvalidParameter(err))

	_, err = svc.CreateImage(ctx, rc, &types.Image{CreatedAt: time.Now()})
	assert.Check(t, errdefs.IsInvalidParameter(err))
}

func TestCreateImageRejectsReservedProperties(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	for _, name := range []string{"owner", "is_public", "location", "deleted", ""} {
		_, err := svc.CreateImage(ctx, rc, &types.Image{
			Properties: map[string]string{name: "x"},
		})
		assert.Check(t, errdefs.IsInvalidParameter(err), "property %q", name)
	}

	img, err := svc.CreateImage(ctx, rc, &types.Image{
		Properties: map[string]string{"architecture": "x86_64"},
	})
	assert.NilError(t, err)
	assert.Check(t, is.Equal(img.Properties["architecture"], "x86_64"))

	_, err = svc.UpdateImage(ctx, rc, img.ID, types.ImageUpdate{
		Properties: map[string]string{"direct_url": "nope"},
	}, false)
	assert.Check(t, errdefs.IsInvalidParameter(err))
}

func TestReadOnlyContextCannotWrite(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	ro := &auth.Context{Token: "tok", Tenant: "tenant1", ReadOnly: true}

	_, err := svc.CreateImage(ctx, ro, &types.Image{})
	assert.Check(t, errdefs.IsForbidden(err))
	_, err = svc.UpdateImage(ctx, ro, "any", types.ImageUpdate{}, false)
	assert.Check(t, errdefs.IsForbidden(err))
	_, err = svc.DeleteImage(ctx, ro, "any")
	assert.Check(t, errdefs.IsForbidden(err))
}

func TestUpdateDeletedImageForbidden(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	img, err := svc.CreateImage(ctx, rc, &types.Image{})
	assert.NilError(t, err)
	_, err = svc.DeleteImage(ctx, rc, img.ID)
	assert.NilError(t, err)

	admin := &auth.Context{Token: "tok", IsAdmin: true}
	_, err = svc.UpdateImage(ctx, admin, img.ID, types.ImageUpdate{}, false)
	assert.Check(t, errdefs.IsForbidden(err))
}

func TestReplaceMembersCanShareDefaulting(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	img, err := svc.CreateImage(ctx, rc, &types.Image{})
	assert.NilError(t, err)

	yes := true
	assert.NilError(t, svc.AddMember(ctx, rc, img.ID, types.MemberInput{Member: "tenant2", CanShare: &yes}))

	// A replace that does not mention can_share keeps the stored value for
	// pre-existing rows and defaults new ones to false.
	err = svc.ReplaceMembers(ctx, rc, img.ID, []types.MemberInput{
		{Member: "tenant2"},
		{Member: "tenant3"},
	})
	assert.NilError(t, err)

	members, err := svc.ListMembers(ctx, rc, img.ID)
	assert.NilError(t, err)
	assert.Assert(t, is.Len(members, 2))
	byTenant := map[string]types.Member{}
	for _, m := range members {
		byTenant[m.Member] = m
	}
	assert.Check(t, byTenant["tenant2"].CanShare)
	assert.Check(t, !byTenant["tenant3"].CanShare)

	// An explicit can_share wins over the stored value.
	no := false
	err = svc.ReplaceMembers(ctx, rc, img.ID, []types.MemberInput{
		{Member: "tenant2", CanShare: &no},
	})
	assert.NilError(t, err)
	members, err = svc.ListMembers(ctx, rc, img.ID)
	assert.NilError(t, err)
	assert.Assert(t, is.Len(members, 1))
	assert.Check(t, !members[0].CanShare)
}

func TestReplaceMembersValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	img, err := svc.CreateImage(ctx, rc, &types.Image{})
	assert.NilError(t, err)

	err = svc.ReplaceMembers(ctx, rc, img.ID, []types.MemberInput{{Member: ""}})
	assert.Check(t, errdefs.IsInvalidParameter(err))
}

func TestAddMemberIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	img, err := svc.CreateImage(ctx, rc, &types.Image{})
	assert.NilError(t, err)

	assert.NilError(t, svc.AddMember(ctx, rc, img.ID, types.MemberInput{Member: "tenant2"}))
	// Re-adding without can_share is a no-op, not a conflict.
	assert.NilError(t, svc.AddMember(ctx, rc, img.ID, types.MemberInput{Member: "tenant2"}))

	// Re-adding with can_share updates the stored row.
	yes := true
	assert.NilError(t, svc.AddMember(ctx, rc, img.ID, types.MemberInput{Member: "tenant2", CanShare: &yes}))
	members, err := svc.ListMembers(ctx, rc, img.ID)
	assert.NilError(t, err)
	assert.Assert(t, is.Len(members, 1))
	assert.Check(t, members[0].CanShare)
}

func TestShareAuthorization(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := tenantContext("tenant1")

	img, err := svc.CreateImage(ctx, owner, &types.Image{})
	assert.NilError(t, err)
	yes := true
	assert.NilError(t, svc.AddMember(ctx, owner, img.ID, types.MemberInput{Member: "delegate", CanShare: &yes}))
	assert.NilError(t, svc.AddMember(ctx, owner, img.ID, types.MemberInput{Member: "viewer"}))

	// A member with can_share may extend the membership set.
	delegate := tenantContext("delegate")
	assert.NilError(t, svc.AddMember(ctx, delegate, img.ID, types.MemberInput{Member: "tenant4"}))

	// One without may not.
	viewer := tenantContext("viewer")
	err = svc.AddMember(ctx, viewer, img.ID, types.MemberInput{Member: "tenant5"})
	assert.Check(t, errdefs.IsForbidden(err))

	// Strangers cannot even see the image.
	stranger := tenantContext("stranger")
	err = svc.AddMember(ctx, stranger, img.ID, types.MemberInput{Member: "tenant6"})
	assert.Check(t, errdefs.IsNotFound(err))
}

func TestSharedImagesAuthorization(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := tenantContext("tenant1")

	img, err := svc.CreateImage(ctx, owner, &types.Image{})
	assert.NilError(t, err)
	assert.NilError(t, svc.AddMember(ctx, owner, img.ID, types.MemberInput{Member: "tenant2"}))

	// A tenant may list its own memberships, admins anyone's.
	member := tenantContext("tenant2")
	shared, err := svc.SharedImages(ctx, member, "tenant2")
	assert.NilError(t, err)
	assert.Assert(t, is.Len(shared, 1))
	assert.Check(t, is.Equal(shared[0].ImageID, img.ID))

	admin := &auth.Context{Token: "tok", IsAdmin: true}
	shared, err = svc.SharedImages(ctx, admin, "tenant2")
	assert.NilError(t, err)
	assert.Check(t, is.Len(shared, 1))

	_, err = svc.SharedImages(ctx, owner, "tenant2")
	assert.Check(t, errdefs.IsForbidden(err))
}

func TestRemoveMember(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := tenantContext("tenant1")

	img, err := svc.CreateImage(ctx, owner, &types.Image{})
	assert.NilError(t, err)
	assert.NilError(t, svc.AddMember(ctx, owner, img.ID, types.MemberInput{Member: "tenant2"}))
	assert.NilError(t, svc.RemoveMember(ctx, owner, img.ID, "tenant2"))

	members, err := svc.ListMembers(ctx, owner, img.ID)
	assert.NilError(t, err)
	assert.Check(t, is.Len(members, 0))

	err = svc.RemoveMember(ctx, owner, img.ID, "tenant2")
	assert.Check(t, errdefs.IsNotFound(err))
}

func TestTagRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	rc := tenantContext("tenant1")

	img, err := svc.CreateImage(ctx, rc, &types.Image{})
	assert.NilError(t, err)

	assert.NilError(t, svc.SetTags(ctx, rc, img.ID, []string{"base", "lts"}))
	assert.NilError(t, svc.AddTag(ctx, rc, img.ID, "tested"))
	assert.NilError(t, svc.RemoveTag(ctx, rc, img.ID, "base"))

	tags, err := svc.GetTags(ctx, rc, img.ID)
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(tags, []string{"lts", "tested"}))
}
