package auth

import (
	"context"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
)

// Role constants used throughout the API when checking authorisation boundaries.
const (
	RoleBuyer     = "buyer"
	RoleSeller    = "seller"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// Identity captures the authenticated principal details extracted from an access token.
type Identity struct {
	UID    string
	Email  string
	Roles  []string
	Locale string

	token  *jwt.Token
	claims jwt.MapClaims
}

// Token exposes the parsed access token associated with this identity.
func (i *Identity) Token() *jwt.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// Claims returns the raw claim set the identity was built from.
func (i *Identity) Claims() map[string]any {
	if i == nil || i.claims == nil {
		return nil
	}
	return copyClaims(i.claims)
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

type contextKey string

const identityContextKey contextKey = "github.com/yarmarok-dev/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
