// Package static provides a resolver over a fixed address list.
package static

import (
	"context"
	"strings"

	"github.com/songhahaha66/inlong/internal/ports"
)

// Resolver always returns the same addresses.
type Resolver struct {
	addrs []string
}

var _ ports.Resolver = (*Resolver)(nil)

// NewResolver trims and keeps the non-empty addresses.
func NewResolver(addrs ...string) *Resolver {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return &Resolver{addrs: out}
}

// Resolve returns a copy of the configured list.
func (r *Resolver) Resolve(ctx context.Context, groupIDs []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]string(nil), r.addrs...), nil
}
