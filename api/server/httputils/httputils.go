// Package httputils provides helpers shared by the API route handlers:
// form parsing, JSON responses and the errdefs→status-code mapping.
package httputils

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// APIFunc is the signature all route handlers share. Returned errors are
// mapped to HTTP status codes by the server wrapper.
type APIFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error

// ParseForm ensures the request form is parsed even with no Content-Type.
func ParseForm(r *http.Request) error {
	if r == nil {
		return nil
	}
	if err := r.ParseForm(); err != nil && !strings.HasPrefix(err.Error(), "mime:") {
		return errors.Wrap(err, "could not parse form")
	}
	return nil
}

// WriteJSON writes v as the JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, code int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// ReadJSON decodes the request body into v, rejecting trailing garbage.
func ReadJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(v)
	defer r.Body.Close()
	if err != nil {
		return errors.Wrap(err, "invalid JSON")
	}
	if dec.More() {
		return errors.New("unexpected content after JSON")
	}
	return nil
}
