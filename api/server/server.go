// Package server hosts the HTTP API: it adapts route handlers to the
// request muxer, applies the registered middlewares and maps handler
// errors to status codes.
package server

import (
	"net/http"

	"github.com/containerd/log"
	"github.com/gorilla/mux"

	"github.com/openstack/glance-sub003/api/server/httputils"
	"github.com/openstack/glance-sub003/api/server/middleware"
	"github.com/openstack/glance-sub003/api/server/router"
)

// versionPrefix is the optional API version segment clients may put in
// front of any route.
const versionPrefix = "/v1"

// Server contains instance details for the server.
type Server struct {
	middlewares []middleware.Middleware
}

// New returns a new instance of the server based on the specified
// configuration.
func New() *Server {
	return &Server{}
}

// UseMiddleware appends a new middleware to the request chain. This
// needs to be called before the API routes are configured.
func (s *Server) UseMiddleware(m middleware.Middleware) {
	s.middlewares = append(s.middlewares, m)
}

func (s *Server) makeHTTPHandler(handler httputils.APIFunc, operation string) http.HandlerFunc {
	return metricsHandler(operation, func(w http.ResponseWriter, r *http.Request) {
		// Define the context that we'll pass around to share info like
		// the request principal installed by the identity middleware.
		ctx := r.Context()

		handlerFunc := handler
		for _, m := range s.middlewares {
			handlerFunc = m.WrapHandler(handlerFunc)
		}

		vars := mux.Vars(r)
		if vars == nil {
			vars = make(map[string]string)
		}

		if err := handlerFunc(ctx, w, r, vars); err != nil {
			log.G(ctx).WithFields(log.Fields{
				"error":  err,
				"method": r.Method,
				"uri":    r.RequestURI,
			}).Debug("handler returned an error")
			httputils.WriteError(w, err)
		}
	})
}

// CreateMux returns a new mux with all the routers registered. Every
// route is reachable both bare and under the version prefix.
func (s *Server) CreateMux(routers ...router.Router) *mux.Router {
	m := mux.NewRouter()
	m.UseEncodedPath()

	for _, apiRouter := range routers {
		for _, r := range apiRouter.Routes() {
			f := s.makeHTTPHandler(r.Handler(), r.Method()+" "+r.Path())
			m.Path(versionPrefix + r.Path()).Methods(r.Method()).Handler(f)
			m.Path(r.Path()).Methods(r.Method()).Handler(f)
		}
	}

	m.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.G(r.Context()).WithFields(log.Fields{
			"method": r.Method,
			"uri":    r.RequestURI,
		}).Debug("page not found")
		_ = httputils.WriteJSON(w, http.StatusNotFound, map[string]string{
			"message": "page not found",
		})
	})

	return m
}
