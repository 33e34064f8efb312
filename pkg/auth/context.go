// Package auth authenticates callers of the privileged routes and carries
// the caller identity through request contexts.
package auth

import (
	"context"
	"errors"
)

// Principal is the authenticated caller.
type Principal struct {
	ID    string
	Roles []string
	// Local marks the unauthenticated principal of a setup without a JWT
	// secret.
	Local bool
}

func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(principalKey).(*Principal)
	if !ok || p == nil {
		return nil, errors.New("no principal in context")
	}
	return p, nil
}

// ActorID is the principal id, or "anonymous".
func ActorID(ctx context.Context) string {
	if p, err := GetPrincipal(ctx); err == nil {
		return p.ID
	}
	return "anonymous"
}
