package middleware

import (
	"context"
	"net/http"

	"github.com/containerd/log"

	"github.com/openstack/glance-sub003/api/server/httputils"
	"github.com/openstack/glance-sub003/pkg/stringid"
)

// RequestIDMiddleware tags every request with a short identifier and a
// request-scoped logger carrying it.
type RequestIDMiddleware struct{}

// NewRequestIDMiddleware returns the middleware.
func NewRequestIDMiddleware() RequestIDMiddleware {
	return RequestIDMiddleware{}
}

// WrapHandler installs the request id before calling the handler.
func (RequestIDMiddleware) WrapHandler(handler httputils.APIFunc) httputils.APIFunc {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
		id := stringid.TruncateID(stringid.GenerateRandomID())
		ctx = log.WithLogger(ctx, log.G(ctx).WithField("request-id", id))
		log.G(ctx).WithFields(log.Fields{
			"method": r.Method,
			"uri":    r.RequestURI,
		}).Debug("handling request")
		return handler(ctx, w, r, vars)
	}
}
