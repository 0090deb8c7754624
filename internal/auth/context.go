package auth

import (
	"context"
	"strings"

	"blindbid.org/internal/chain"
)

type identityContextKey struct{}
type rolesContextKey struct{}

// ContextWithIdentity stores the authenticated caller in the context.
func ContextWithIdentity(ctx context.Context, id chain.Identity, roles []string) context.Context {
	ctx = context.WithValue(ctx, identityContextKey{}, id)
	if len(roles) > 0 {
		ctx = context.WithValue(ctx, rolesContextKey{}, normalizeRoles(roles))
	}
	return ctx
}

// IdentityFromContext extracts the authenticated caller.
func IdentityFromContext(ctx context.Context) (chain.Identity, bool) {
	if ctx == nil {
		return chain.NoIdentity, false
	}
	v, ok := ctx.Value(identityContextKey{}).(chain.Identity)
	if !ok || chain.IsZero(v) {
		return chain.NoIdentity, false
	}
	return v, true
}

// RolesFromContext returns the roles stored in context (deduplicated and lower-cased).
func RolesFromContext(ctx context.Context) []string {
	v, ok := ctx.Value(rolesContextKey{}).([]string)
	if !ok || len(v) == 0 {
		return nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return out
}

// HasRole checks whether the context contains the specified role.
func HasRole(ctx context.Context, role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range RolesFromContext(ctx) {
		if r == role {
			return true
		}
	}
	return false
}
