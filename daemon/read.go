package daemon

import (
	"context"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
)

// The read and sharing paths need no lifecycle coordination and pass
// straight through to the registry service.

// ImageGet resolves one visible image.
func (d *Daemon) ImageGet(ctx context.Context, rc *auth.Context, id string) (*types.Image, error) {
	return d.registry.GetImage(ctx, rc, id)
}

// ImageList returns a page of visible images.
func (d *Daemon) ImageList(ctx context.Context, rc *auth.Context, opts types.ListOptions) ([]*types.Image, error) {
	return d.registry.ListImages(ctx, rc, opts)
}

// ListMembers returns the membership set of one visible image.
func (d *Daemon) ListMembers(ctx context.Context, rc *auth.Context, imageID string) ([]types.Member, error) {
	return d.registry.ListMembers(ctx, rc, imageID)
}

// ReplaceMembers replaces the whole membership set of an image.
func (d *Daemon) ReplaceMembers(ctx context.Context, rc *auth.Context, imageID string, incoming []types.MemberInput) error {
	return d.registry.ReplaceMembers(ctx, rc, imageID, incoming)
}

// AddMember upserts one membership.
func (d *Daemon) AddMember(ctx context.Context, rc *auth.Context, imageID string, in types.MemberInput) error {
	return d.registry.AddMember(ctx, rc, imageID, in)
}

// RemoveMember soft-deletes one membership.
func (d *Daemon) RemoveMember(ctx context.Context, rc *auth.Context, imageID, member string) error {
	return d.registry.RemoveMember(ctx, rc, imageID, member)
}

// SharedImages lists the memberships granted to a tenant.
func (d *Daemon) SharedImages(ctx context.Context, rc *auth.Context, member string) ([]types.Member, error) {
	return d.registry.SharedImages(ctx, rc, member)
}
