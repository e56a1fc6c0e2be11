package httputils

import (
	"net/http"

	"github.com/containerd/log"

	"github.com/openstack/glance-sub003/errdefs"
)

// StatusCodeFromError maps a classified error to its HTTP status code.
// Unclassified errors are treated as internal.
func StatusCodeFromError(err error) int {
	switch {
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsInvalidParameter(err):
		return http.StatusBadRequest
	case errdefs.IsConflict(err):
		return http.StatusConflict
	case errdefs.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errdefs.IsForbidden(err):
		return http.StatusForbidden
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errdefs.IsNotImplemented(err):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

// WriteError sends the error response for err, logging server-side
// failures. If the handler already started streaming a body there is
// nothing useful left to send and the connection is simply abandoned.
func WriteError(w http.ResponseWriter, err error) {
	code := StatusCodeFromError(err)
	if code >= http.StatusInternalServerError {
		log.L.WithError(err).Error("api: internal server error")
	}
	_ = WriteJSON(w, code, errorResponse{Message: err.Error()})
}
