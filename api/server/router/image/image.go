// Package image implements the /images API routes.
package image

import "github.com/openstack/glance-sub003/api/server/router"

// imageRouter serves the image endpoints.
type imageRouter struct {
	backend Backend
	routes  []router.Route
}

// NewRouter returns a router for the image endpoints.
func NewRouter(backend Backend) router.Router {
	r := &imageRouter{backend: backend}
	r.initRoutes()
	return r
}

// Routes returns the available routes.
func (ir *imageRouter) Routes() []router.Route {
	return ir.routes
}

func (ir *imageRouter) initRoutes() {
	ir.routes = []router.Route{
		router.NewGetRoute("/images", ir.getImagesList),
		router.NewGetRoute("/images/detail", ir.getImagesDetail),
		router.NewGetRoute("/images/{id}", ir.getImage),
		router.NewHeadRoute("/images/{id}", ir.headImage),
		router.NewPostRoute("/images", ir.postImage),
		router.NewPutRoute("/images/{id}", ir.putImage),
		router.NewDeleteRoute("/images/{id}", ir.deleteImage),
	}
}
