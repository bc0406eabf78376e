package shared

import "context"

type scopeContextKey struct{}

// ContextWithScope stores the caller-supplied company scope in context.
// The ledger core never interprets the value; it is merged into store
// queries as an opaque filter key.
func ContextWithScope(ctx context.Context, scope string) context.Context {
	if scope == "" {
		return ctx
	}
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the company scope, empty when unscoped.
func ScopeFromContext(ctx context.Context) string {
	scope, _ := ctx.Value(scopeContextKey{}).(string)
	return scope
}
