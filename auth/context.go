// Package auth carries the security principal attached to every request.
package auth

// Context is the identity and request flags established by the transport
// for one request. A Context is never mutated after construction; it is
// passed by pointer purely to avoid copies.
type Context struct {
	// Token is the raw authentication token, if any was presented.
	Token string

	// User and Tenant identify the caller. Both may be empty for
	// anonymous deployments.
	User   string
	Tenant string

	// Roles as reported by the identity service.
	Roles []string

	IsAdmin  bool
	ReadOnly bool

	// ShowDeleted is set when the caller explicitly asked to see
	// soft-deleted rows.
	ShowDeleted bool
}

// Anonymous returns the context used when no token accompanies the request.
// Deployments without an auth filter in front of the API run un-gated, so
// the anonymous context is an administrative one.
func Anonymous() *Context {
	return &Context{IsAdmin: true}
}

// Owner returns the tenant the context acts on behalf of.
func (c *Context) Owner() string {
	return c.Tenant
}

// CanSeeDeleted reports whether queries made under this context should
// include soft-deleted rows.
func (c *Context) CanSeeDeleted() bool {
	return c.IsAdmin || c.ShowDeleted
}

// HasRole reports whether the identity service granted the named role.
func (c *Context) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
