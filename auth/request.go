package auth

import "context"

type contextKey struct{}

// WithContext attaches rc to ctx.
func WithContext(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext returns the request principal attached to ctx, or the
// anonymous context when the transport did not attach one.
func FromContext(ctx context.Context) *Context {
	if rc, ok := ctx.Value(contextKey{}).(*Context); ok {
		return rc
	}
	return Anonymous()
}
