// Package errdefs defines the error interfaces used to classify errors
// crossing package boundaries. Packages should wrap their errors with the
// helpers in this package instead of inspecting error strings; the HTTP
// layer maps each class to a status code.
package errdefs

// ErrNotFound signals that the requested object is not found, or that the
// caller is not allowed to know whether it exists.
type ErrNotFound interface {
	NotFound()
}

// ErrInvalidParameter signals that the user input is invalid.
type ErrInvalidParameter interface {
	InvalidParameter()
}

// ErrConflict signals that some internal state conflicts with the requested
// action, such as a duplicate identifier.
type ErrConflict interface {
	Conflict()
}

// ErrUnauthorized is used for errors returned when no identity could be
// established for the request.
type ErrUnauthorized interface {
	Unauthorized()
}

// ErrForbidden signals that the requested action cannot be performed under
// any circumstances by the caller, even though it is visible to them.
type ErrForbidden interface {
	Forbidden()
}

// ErrUnavailable signals that the requested action is temporarily
// unavailable, for example because a backing store cannot be reached.
type ErrUnavailable interface {
	Unavailable()
}

// ErrNotImplemented signals that the requested action is not supported by
// the backend it was dispatched to.
type ErrNotImplemented interface {
	NotImplemented()
}

// ErrSystem signals an internal error in the daemon itself.
type ErrSystem interface {
	System()
}
