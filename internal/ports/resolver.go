package ports

import "context"

// Resolver returns the current DataProxy addresses for the given groups.
// It is invoked on a timer by the endpoint pool, never from Send.
type Resolver interface {
	Resolve(ctx context.Context, groupIDs []string) ([]string, error)
}

// ResolverFunc adapts an ordinary function to Resolver.
type ResolverFunc func(ctx context.Context, groupIDs []string) ([]string, error)

// Resolve calls f(ctx, groupIDs).
func (f ResolverFunc) Resolve(ctx context.Context, groupIDs []string) ([]string, error) {
	return f(ctx, groupIDs)
}
