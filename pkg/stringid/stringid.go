// Package stringid provides helper functions for dealing with string
// identifiers.
package stringid

import (
	"strings"

	"github.com/google/uuid"
)

const shortLen = 12

// TruncateID returns a shorthand version of a string identifier for
// convenience. A collision with other shorthands is very unlikely, but
// possible.
func TruncateID(id string) string {
	if i := strings.IndexRune(id, ':'); i >= 0 {
		id = id[i+1:]
	}
	if len(id) > shortLen {
		id = id[:shortLen]
	}
	return id
}

// GenerateRandomID returns a unique 32-character hex identifier.
func GenerateRandomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
