// Package middleware holds the handler wrappers applied to every API
// route before dispatch.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/server/httputils"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/errdefs"
)

// IdentityMiddleware turns the trusted identity headers installed by an
// upstream auth filter into a request context. Deployments without such
// a filter present no token at all and run with the anonymous admin
// context.
type IdentityMiddleware struct {
	// AdminRole is the role name that elevates a context to admin.
	AdminRole string
}

// NewIdentityMiddleware returns the middleware with the conventional
// Admin role name.
func NewIdentityMiddleware() IdentityMiddleware {
	return IdentityMiddleware{AdminRole: "Admin"}
}

// WrapHandler builds the request principal before calling the handler.
func (m IdentityMiddleware) WrapHandler(handler httputils.APIFunc) httputils.APIFunc {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
		rc, err := m.contextFromRequest(r)
		if err != nil {
			return err
		}
		return handler(auth.WithContext(ctx, rc), w, r, vars)
	}
}

func (m IdentityMiddleware) contextFromRequest(r *http.Request) (*auth.Context, error) {
	token := r.Header.Get("X-Auth-Token")
	if token == "" {
		token = r.Header.Get("X-Storage-Token")
	}
	if token == "" {
		return auth.Anonymous(), nil
	}
	if r.Header.Get("X-Identity-Status") != "Confirmed" {
		return nil, errdefs.Unauthorized(errors.New("identity could not be confirmed"))
	}
	rc := &auth.Context{
		Token:  token,
		User:   r.Header.Get("X-User"),
		Tenant: r.Header.Get("X-Tenant"),
	}
	for _, role := range strings.Split(r.Header.Get("X-Role"), ",") {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		rc.Roles = append(rc.Roles, role)
		if role == m.AdminRole {
			rc.IsAdmin = true
		}
	}
	return rc, nil
}
