// Package access decides what a request context may do with an image.
// The predicates are pure: membership state is read from the image record
// the caller already fetched, never from the database.
package access

import (
	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/errdefs"
)

// ErrPublicImage distinguishes "not yours, and public" from "not yours,
// and private": mutations rejected on a public image surface as Forbidden
// with this cause, while private images stay indistinguishable from
// nonexistent ones.
var ErrPublicImage = errors.New("image is public and may only be modified by its owner or an admin")

// ForbiddenPublicImage wraps ErrPublicImage as a Forbidden error.
func ForbiddenPublicImage() error {
	return errdefs.Forbidden(ErrPublicImage)
}

// Visible reports whether ctx may see img at all.
func Visible(ctx *auth.Context, img *types.Image) bool {
	if ctx.IsAdmin {
		return true
	}
	if img.Owner == "" {
		return true
	}
	if img.IsPublic {
		return true
	}
	if ctx.Owner() != "" && ctx.Owner() == img.Owner {
		return true
	}
	for _, m := range img.Members {
		if !m.Deleted && m.Member == ctx.Owner() {
			return true
		}
	}
	return false
}

// Mutable reports whether ctx may modify img.
func Mutable(ctx *auth.Context, img *types.Image) bool {
	if ctx.IsAdmin {
		return true
	}
	if img.Owner == "" || ctx.Owner() == "" {
		return false
	}
	return ctx.Owner() == img.Owner
}

// Sharable reports whether ctx may share img onward. When the caller
// already holds a membership row for the deciding tenant it is passed in;
// otherwise the image's loaded membership set is consulted.
func Sharable(ctx *auth.Context, img *types.Image, membership *types.Member) bool {
	if ctx.IsAdmin {
		return true
	}
	if ctx.Owner() == "" {
		return false
	}
	if ctx.Owner() == img.Owner {
		return true
	}
	if membership != nil {
		return membership.CanShare
	}
	for _, m := range img.Members {
		if !m.Deleted && m.Member == ctx.Owner() {
			return m.CanShare
		}
	}
	return false
}
