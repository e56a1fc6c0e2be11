// Package registry exposes the catalog CRUD contract consumed by the
// lifecycle controller and the HTTP layer. It owns input validation and
// the reconciliation rules for properties and memberships; everything it
// accepts is handed to the catalog unchanged.
package registry

import (
	"context"

	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/catalog"
	"github.com/openstack/glance-sub003/catalog/access"
	"github.com/openstack/glance-sub003/errdefs"
)

// reservedProperties are names with meaning elsewhere in the API; letting
// them through as free-form properties would shadow real attributes.
var reservedProperties = map[string]struct{}{
	"owner":      {},
	"is_public":  {},
	"location":   {},
	"deleted":    {},
	"deleted_at": {},
	"direct_url": {},
	"self":       {},
	"file":       {},
	"schema":     {},
}

// Service is the registry service.
type Service struct {
	catalog *catalog.Catalog
}

// NewService wraps a catalog.
func NewService(c *catalog.Catalog) *Service {
	return &Service{catalog: c}
}

func validateProperties(props map[string]string) error {
	for name := range props {
		if _, ok := reservedProperties[name]; ok {
			return errdefs.InvalidParameter(errors.Errorf("property name %q is reserved", name))
		}
		if name == "" {
			return errdefs.InvalidParameter(errors.New("property names must not be empty"))
		}
	}
	return nil
}

// CreateImage registers new image metadata. Read-only attributes must not
// be supplied: creation fixes status, checksum and timestamps itself.
func (s *Service) CreateImage(ctx context.Context, rc *auth.Context, img *types.Image) (*types.Image, error) {
	if rc.ReadOnly {
		return nil, errdefs.Forbidden(errors.New("context is read-only"))
	}
	if img.Checksum != "" {
		return nil, errdefs.InvalidParameter(errors.New("checksum is read-only on create"))
	}
	if img.Status != "" && img.Status != types.StatusQueued && img.Status != types.StatusActive {
		return nil, errdefs.InvalidParameter(errors.Errorf("status %q may not be requested on create", img.Status))
	}
	if !img.CreatedAt.IsZero() || !img.UpdatedAt.IsZero() {
		return nil, errdefs.InvalidParameter(errors.New("timestamps are read-only on create"))
	}
	if err := validateProperties(img.Properties); err != nil {
		return nil, err
	}
	if img.IsPublic && !rc.IsAdmin && rc.Owner() == "" {
		return nil, errdefs.Forbidden(errors.New("anonymous contexts cannot publish images"))
	}
	return s.catalog.ImageCreate(ctx, rc, img)
}

// GetImage resolves one visible image.
func (s *Service) GetImage(ctx context.Context, rc *auth.Context, id string) (*types.Image, error) {
	return s.catalog.ImageGet(ctx, rc, id, false)
}

// ListImages returns a page of visible images.
func (s *Service) ListImages(ctx context.Context, rc *auth.Context, opts types.ListOptions) ([]*types.Image, error) {
	return s.catalog.ImageGetAll(ctx, rc, opts)
}

// UpdateImage merges upd into the stored image. Property reconciliation
// runs inside the same transaction as the image row update.
func (s *Service) UpdateImage(ctx context.Context, rc *auth.Context, id string, upd types.ImageUpdate, purgeProps bool) (*types.Image, error) {
	if rc.ReadOnly {
		return nil, errdefs.Forbidden(errors.New("context is read-only"))
	}
	if err := validateProperties(upd.Properties); err != nil {
		return nil, err
	}
	current, err := s.catalog.ImageGet(ctx, rc, id, true)
	if err != nil {
		return nil, err
	}
	if current.Deleted {
		return nil, errdefs.Forbidden(errors.Errorf("image %s is deleted and cannot be updated", id))
	}
	return s.catalog.ImageUpdate(ctx, rc, id, upd, purgeProps)
}

// DeleteImage soft-deletes the image row and its children. Lifecycle
// concerns (protected images, store cleanup, delayed deletion) belong to
// the controller above this service.
func (s *Service) DeleteImage(ctx context.Context, rc *auth.Context, id string) (*types.Image, error) {
	if rc.ReadOnly {
		return nil, errdefs.Forbidden(errors.New("context is read-only"))
	}
	return s.catalog.ImageDestroy(ctx, rc, id)
}

// ListMembers returns the membership set of one visible image.
func (s *Service) ListMembers(ctx context.Context, rc *auth.Context, imageID string) ([]types.Member, error) {
	img, err := s.catalog.ImageGet(ctx, rc, imageID, false)
	if err != nil {
		return nil, err
	}
	return img.Members, nil
}

// SharedImages lists the memberships granted to a tenant.
func (s *Service) SharedImages(ctx context.Context, rc *auth.Context, member string) ([]types.Member, error) {
	if !rc.IsAdmin && rc.Owner() != member {
		return nil, errdefs.Forbidden(errors.New("only admins may list another tenant's shared images"))
	}
	return s.catalog.ImageMemberGetMemberships(ctx, rc, member)
}

func (s *Service) authorizeShare(ctx context.Context, rc *auth.Context, imageID string) (*types.Image, error) {
	img, err := s.catalog.ImageGet(ctx, rc, imageID, false)
	if err != nil {
		return nil, err
	}
	if !access.Sharable(rc, img, nil) {
		if img.IsPublic {
			return nil, access.ForbiddenPublicImage()
		}
		return nil, errdefs.Forbidden(errors.Errorf("not authorized to share image %s", imageID))
	}
	return img, nil
}

// ReplaceMembers replaces the whole membership set of an image in one
// transaction. Pre-existing rows keep their can_share unless the incoming
// entry specifies one; new rows default to false.
func (s *Service) ReplaceMembers(ctx context.Context, rc *auth.Context, imageID string, incoming []types.MemberInput) error {
	if rc.ReadOnly {
		return errdefs.Forbidden(errors.New("context is read-only"))
	}
	img, err := s.authorizeShare(ctx, rc, imageID)
	if err != nil {
		return err
	}
	existing := map[string]types.Member{}
	for _, m := range img.Members {
		existing[m.Member] = m
	}
	resolved := make([]types.Member, 0, len(incoming))
	for _, in := range incoming {
		if in.Member == "" {
			return errdefs.InvalidParameter(errors.New("membership entries require a member tenant"))
		}
		m := types.Member{ImageID: imageID, Member: in.Member}
		if old, ok := existing[in.Member]; ok {
			m.CanShare = old.CanShare
			m.Status = old.Status
		}
		if in.CanShare != nil {
			m.CanShare = *in.CanShare
		}
		resolved = append(resolved, m)
	}
	return s.catalog.ImageMemberReplaceAll(ctx, rc, imageID, resolved)
}

// AddMember upserts one membership.
func (s *Service) AddMember(ctx context.Context, rc *auth.Context, imageID string, in types.MemberInput) error {
	if rc.ReadOnly {
		return errdefs.Forbidden(errors.New("context is read-only"))
	}
	img, err := s.authorizeShare(ctx, rc, imageID)
	if err != nil {
		return err
	}
	for _, m := range img.Members {
		if m.Member == in.Member {
			if in.CanShare == nil {
				return nil
			}
			_, err := s.catalog.ImageMemberUpdate(ctx, rc, imageID, in.Member, types.MemberUpdate{CanShare: in.CanShare})
			return err
		}
	}
	member := &types.Member{ImageID: imageID, Member: in.Member}
	if in.CanShare != nil {
		member.CanShare = *in.CanShare
	}
	_, err = s.catalog.ImageMemberCreate(ctx, rc, member)
	return err
}

// RemoveMember soft-deletes one membership.
func (s *Service) RemoveMember(ctx context.Context, rc *auth.Context, imageID, member string) error {
	if rc.ReadOnly {
		return errdefs.Forbidden(errors.New("context is read-only"))
	}
	if _, err := s.authorizeShare(ctx, rc, imageID); err != nil {
		return err
	}
	return s.catalog.ImageMemberDelete(ctx, rc, imageID, member)
}

// Tags exposes tag reconciliation for the HTTP layer.

func (s *Service) SetTags(ctx context.Context, rc *auth.Context, imageID string, tags []string) error {
	if rc.ReadOnly {
		return errdefs.Forbidden(errors.New("context is read-only"))
	}
	return s.catalog.ImageTagSetAll(ctx, rc, imageID, tags)
}

func (s *Service) GetTags(ctx context.Context, rc *auth.Context, imageID string) ([]string, error) {
	return s.catalog.ImageTagGetAll(ctx, rc, imageID)
}

func (s *Service) AddTag(ctx context.Context, rc *auth.Context, imageID, value string) error {
	if rc.ReadOnly {
		return errdefs.Forbidden(errors.New("context is read-only"))
	}
	return s.catalog.ImageTagCreate(ctx, rc, imageID, value)
}

func (s *Service) RemoveTag(ctx context.Context, rc *auth.Context, imageID, value string) error {
	if rc.ReadOnly {
		return errdefs.Forbidden(errors.New("context is read-only"))
	}
	return s.catalog.ImageTagDelete(ctx, rc, imageID, value)
}
