package shared

import "context"

// Scope carries the caller identity that the reconciliation entry points need.
// It is passed explicitly to services; handlers only use the context to hand it
// over from middleware.
type Scope struct {
	ActorID int64
	// FCID restricts visibility to one fulfilment center; zero means unscoped.
	FCID int64
}

// CanSee reports whether an order of fcID is visible in this scope.
func (s Scope) CanSee(fcID int64) bool {
	return s.FCID == 0 || s.FCID == fcID
}

type scopeContextKey struct{}

// ContextWithScope stores the scope in context.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the scope from context.
func ScopeFromContext(ctx context.Context) Scope {
	scope, _ := ctx.Value(scopeContextKey{}).(Scope)
	return scope
}
