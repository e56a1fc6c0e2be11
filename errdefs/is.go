package errdefs

type causer interface {
	Cause() error
}

type wrapped interface {
	Unwrap() error
}

func getImplementer(err error) error {
	switch err.(type) {
	case ErrNotFound,
		ErrInvalidParameter,
		ErrConflict,
		ErrUnauthorized,
		ErrForbidden,
		ErrUnavailable,
		ErrNotImplemented,
		ErrSystem:
		return err
	}
	switch e := err.(type) {
	case causer:
		return getImplementer(e.Cause())
	case wrapped:
		if u := e.Unwrap(); u != nil {
			return getImplementer(u)
		}
	}
	return err
}

// IsNotFound returns if the passed in error is an ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := getImplementer(err).(ErrNotFound)
	return ok
}

// IsInvalidParameter returns if the passed in error is an ErrInvalidParameter.
func IsInvalidParameter(err error) bool {
	_, ok := getImplementer(err).(ErrInvalidParameter)
	return ok
}

// IsConflict returns if the passed in error is an ErrConflict.
func IsConflict(err error) bool {
	_, ok := getImplementer(err).(ErrConflict)
	return ok
}

// IsUnauthorized returns if the passed in error is an ErrUnauthorized.
func IsUnauthorized(err error) bool {
	_, ok := getImplementer(err).(ErrUnauthorized)
	return ok
}

// IsForbidden returns if the passed in error is an ErrForbidden.
func IsForbidden(err error) bool {
	_, ok := getImplementer(err).(ErrForbidden)
	return ok
}

// IsUnavailable returns if the passed in error is an ErrUnavailable.
func IsUnavailable(err error) bool {
	_, ok := getImplementer(err).(ErrUnavailable)
	return ok
}

// IsNotImplemented returns if the passed in error is an ErrNotImplemented.
func IsNotImplemented(err error) bool {
	_, ok := getImplementer(err).(ErrNotImplemented)
	return ok
}

// IsSystem returns if the passed in error is an ErrSystem.
func IsSystem(err error) bool {
	_, ok := getImplementer(err).(ErrSystem)
	return ok
}
