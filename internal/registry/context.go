// ABOUTME: Carries the Registry through a context.Context
// ABOUTME: Lets command handlers reach the components built at startup

package registry

import "context"

type registryKey struct{}

// WithRegistry returns a context carrying r.
func WithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, registryKey{}, r)
}

// FromContext returns the Registry in ctx, or nil.
func FromContext(ctx context.Context) *Registry {
	r, _ := ctx.Value(registryKey{}).(*Registry)
	return r
}
