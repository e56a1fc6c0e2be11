package errdefs

import "net/http"

// FromStatusCode creates an errdef error, based on the provided HTTP
// status-code.
func FromStatusCode(err error, statusCode int) error {
	if err == nil {
		return nil
	}
	switch statusCode {
	case http.StatusNotFound:
		return NotFound(err)
	case http.StatusBadRequest:
		return InvalidParameter(err)
	case http.StatusConflict:
		return Conflict(err)
	case http.StatusUnauthorized:
		return Unauthorized(err)
	case http.StatusForbidden:
		return Forbidden(err)
	case http.StatusServiceUnavailable:
		return Unavailable(err)
	case http.StatusNotImplemented:
		return NotImplemented(err)
	default:
		if statusCode >= 400 && statusCode < 500 {
			return InvalidParameter(err)
		}
		return System(err)
	}
}
