package httputils

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/errdefs"
)

// BoolValue transforms a form value in different formats into a boolean
// type.
func BoolValue(r *http.Request, k string) bool {
	s := strings.ToLower(strings.TrimSpace(r.FormValue(k)))
	return !(s == "" || s == "0" || s == "no" || s == "false" || s == "none")
}

// BoolValueOrDefault returns the default bool passed if the query param is
// missing, otherwise it's just a proxy to BoolValue above.
func BoolValueOrDefault(r *http.Request, k string, d bool) bool {
	if _, ok := r.Form[k]; !ok {
		return d
	}
	return BoolValue(r, k)
}

// Int64ValueOrZero parses a form value into an int64 type. It returns 0
// if the parsing fails.
func Int64ValueOrZero(r *http.Request, k string) int64 {
	val, err := Int64ValueOrDefault(r, k, 0)
	if err != nil {
		return 0
	}
	return val
}

// Int64ValueOrDefault parses a form value into an int64 type. If there is
// an error, returns the error. If there is no value returns the default
// value.
func Int64ValueOrDefault(r *http.Request, field string, def int64) (int64, error) {
	if r.Form.Get(field) != "" {
		value, err := strconv.ParseInt(r.Form.Get(field), 10, 64)
		return value, err
	}
	return def, nil
}

// IntValueOrDefault parses a form value into an int, rejecting
// unparseable input as an invalid parameter.
func IntValueOrDefault(r *http.Request, field string, def int) (int, error) {
	if r.Form.Get(field) == "" {
		return def, nil
	}
	value, err := strconv.Atoi(r.Form.Get(field))
	if err != nil {
		return 0, errdefs.InvalidParameter(errors.Errorf("invalid integer value for %s: %q", field, r.Form.Get(field)))
	}
	return value, nil
}
