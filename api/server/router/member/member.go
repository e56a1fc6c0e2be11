// Package member implements the image membership API routes.
package member

import (
	"context"

	"github.com/openstack/glance-sub003/api/server/router"
	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
)

// Backend is the set of sharing operations the member routes need.
type Backend interface {
	ListMembers(ctx context.Context, rc *auth.Context, imageID string) ([]types.Member, error)
	ReplaceMembers(ctx context.Context, rc *auth.Context, imageID string, incoming []types.MemberInput) error
	AddMember(ctx context.Context, rc *auth.Context, imageID string, in types.MemberInput) error
	RemoveMember(ctx context.Context, rc *auth.Context, imageID, member string) error
	SharedImages(ctx context.Context, rc *auth.Context, member string) ([]types.Member, error)
}

type memberRouter struct {
	backend Backend
	routes  []router.Route
}

// NewRouter returns a router for the membership endpoints.
func NewRouter(backend Backend) router.Router {
	r := &memberRouter{backend: backend}
	r.initRoutes()
	return r
}

func (mr *memberRouter) Routes() []router.Route {
	return mr.routes
}

func (mr *memberRouter) initRoutes() {
	mr.routes = []router.Route{
		router.NewGetRoute("/images/{id}/members", mr.getMembers),
		router.NewPutRoute("/images/{id}/members", mr.putMembers),
		router.NewPutRoute("/images/{id}/members/{member}", mr.putMember),
		router.NewDeleteRoute("/images/{id}/members/{member}", mr.deleteMember),
		router.NewGetRoute("/shared-images/{member}", mr.getSharedImages),
	}
}
