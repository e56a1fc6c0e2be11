// Package router defines the interface API routers implement to register
// their routes with the server.
package router

import "github.com/openstack/glance-sub003/api/server/httputils"

// Router defines an interface to specify a group of routes to add to the
// server.
type Router interface {
	// Routes returns the list of routes to add to the server.
	Routes() []Route
}

// Route defines an individual API route in the server.
type Route interface {
	// Handler returns the raw function to create the HTTP handler.
	Handler() httputils.APIFunc
	// Method returns the HTTP method that the route responds to.
	Method() string
	// Path returns the subpath where the route responds to.
	Path() string
}

type route struct {
	method  string
	path    string
	handler httputils.APIFunc
}

func (r route) Handler() httputils.APIFunc { return r.handler }
func (r route) Method() string             { return r.method }
func (r route) Path() string               { return r.path }

// NewRoute initializes a new route for the router.
func NewRoute(method, path string, handler httputils.APIFunc) Route {
	return route{method: method, path: path, handler: handler}
}

// NewGetRoute initializes a new GET route.
func NewGetRoute(path string, handler httputils.APIFunc) Route {
	return NewRoute("GET", path, handler)
}

// NewHeadRoute initializes a new HEAD route.
func NewHeadRoute(path string, handler httputils.APIFunc) Route {
	return NewRoute("HEAD", path, handler)
}

// NewPostRoute initializes a new POST route.
func NewPostRoute(path string, handler httputils.APIFunc) Route {
	return NewRoute("POST", path, handler)
}

// NewPutRoute initializes a new PUT route.
func NewPutRoute(path string, handler httputils.APIFunc) Route {
	return NewRoute("PUT", path, handler)
}

// NewDeleteRoute initializes a new DELETE route.
func NewDeleteRoute(path string, handler httputils.APIFunc) Route {
	return NewRoute("DELETE", path, handler)
}
