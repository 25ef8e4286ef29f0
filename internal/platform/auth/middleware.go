package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const (
	defaultRoleClaim     = "roles"
	defaultLocaleClaim   = "locale"
	defaultEmailClaim    = "email"
	defaultFallbackRole  = RoleBuyer
	defaultVerifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired signals that the provided access token has expired.
	ErrTokenExpired = errors.New("auth: access token expired")
	// ErrTokenInvalid signals that the provided access token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: access token invalid")
)

// TokenVerifier parses and validates an access token, returning its claims.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*jwt.Token, jwt.MapClaims, error)
}

// JWTVerifier validates buyer and seller bearer tokens. Keys come either from
// a JWKS endpoint (RS256) or a shared secret (HS256).
type JWTVerifier struct {
	keyfunc  jwt.Keyfunc
	methods  []string
	issuer   string
	audience string
}

// JWTVerifierOption customises verification behaviour.
type JWTVerifierOption func(*JWTVerifier)

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) JWTVerifierOption {
	return func(v *JWTVerifier) {
		v.issuer = strings.TrimSpace(issuer)
	}
}

// WithAudience requires the aud claim to contain the given audience.
func WithAudience(audience string) JWTVerifierOption {
	return func(v *JWTVerifier) {
		v.audience = strings.TrimSpace(audience)
	}
}

// NewJWKSVerifier builds a verifier backed by a JWKS cache (RS256 keys).
func NewJWKSVerifier(cache *JWKSCache, opts ...JWTVerifierOption) (*JWTVerifier, error) {
	if cache == nil {
		return nil, errors.New("auth: jwks cache is required")
	}
	v := &JWTVerifier{
		keyfunc: cache.Keyfunc(context.Background()),
		methods: []string{jwt.SigningMethodRS256.Alg()},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// NewHMACVerifier builds a verifier over a shared HS256 signing secret.
func NewHMACVerifier(secret []byte, opts ...JWTVerifierOption) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	v := &JWTVerifier{
		keyfunc: func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrTokenInvalid
			}
			return secret, nil
		},
		methods: []string{jwt.SigningMethodHS256.Alg()},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// VerifyAccessToken implements TokenVerifier.
func (v *JWTVerifier) VerifyAccessToken(ctx context.Context, token string) (*jwt.Token, jwt.MapClaims, error) {
	if v == nil || v.keyfunc == nil {
		return nil, nil, ErrTokenInvalid
	}

	parser := jwt.NewParser(jwt.WithValidMethods(v.methods))
	claims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, v.keyfunc)
	if err != nil {
		var vErr *jwt.ValidationError
		if errors.As(err, &vErr) && vErr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, nil, ErrTokenExpired
		}
		return nil, nil, ErrTokenInvalid
	}

	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, nil, ErrTokenInvalid
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, nil, ErrTokenInvalid
	}

	return parsed, claims, nil
}

// Authenticator turns token verification into HTTP middleware. The order
// endpoints use it to distinguish buyers, sellers, and arbiters.
type Authenticator struct {
	verifier TokenVerifier

	roleClaim   string
	localeClaim string
	emailClaim  string

	fallbackRole string
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithLocaleClaim overrides the claim used to populate Identity.Locale.
func WithLocaleClaim(claim string) Option {
	return func(a *Authenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.localeClaim = claim
		}
	}
}

// WithEmailClaim overrides the claim used to populate Identity.Email.
func WithEmailClaim(claim string) Option {
	return func(a *Authenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.emailClaim = claim
		}
	}
}

// WithFallbackRole sets the role assumed when the token carries none. Tokens
// without an explicit role belong to buyers.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		role = canonicalRole(role)
		if role != "" {
			a.fallbackRole = role
		}
	}
}

// WithVerificationTimeout sets the timeout used when verifying tokens.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		roleClaim:    defaultRoleClaim,
		localeClaim:  defaultLocaleClaim,
		emailClaim:   defaultEmailClaim,
		fallbackRole: defaultFallbackRole,
		timeout:      defaultVerifyTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a
}

// RequireAuth verifies the Authorization bearer token and, when allowedRoles
// is non-empty, rejects identities holding none of them.
func (a *Authenticator) RequireAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		role = canonicalRole(role)
		if role == "" {
			continue
		}
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			ctx, cancel := a.verifyContext(r.Context())
			if cancel != nil {
				defer cancel()
			}

			token, claims, err := a.verifier.VerifyAccessToken(ctx, tokenStr)
			if err != nil {
				writeVerifyError(w, err)
				return
			}

			identity := a.identityFromClaims(token, claims)
			if identity.UID == "" {
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "token has no subject")
				return
			}
			if len(identity.Roles) == 0 {
				respondAuthError(w, http.StatusUnauthorized, "missing_role", "no roles associated with identity")
				return
			}
			if len(allowed) > 0 && !roleAllowed(identity.Roles, allowed) {
				respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) identityFromClaims(token *jwt.Token, claims jwt.MapClaims) *Identity {
	subject, _ := claims["sub"].(string)
	identity := &Identity{
		UID:    strings.TrimSpace(subject),
		Email:  stringClaim(claims, a.emailClaim),
		Locale: stringClaim(claims, a.localeClaim),
		Roles:  rolesClaim(claims, a.roleClaim),
		token:  token,
		claims: claims,
	}

	if identity.Email == "" {
		identity.Email = stringClaim(claims, defaultEmailClaim)
	}
	if identity.Locale == "" {
		identity.Locale = stringClaim(claims, defaultLocaleClaim)
	}
	if len(identity.Roles) == 0 && a.fallbackRole != "" {
		identity.Roles = []string{a.fallbackRole}
	}
	return identity
}

func (a *Authenticator) verifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a == nil || a.timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, a.timeout)
}

func roleAllowed(identityRoles []string, allowed map[string]struct{}) bool {
	for _, role := range identityRoles {
		if _, ok := allowed[canonicalRole(role)]; ok {
			return true
		}
	}
	return false
}

// rolesClaim accepts the shapes identity providers emit for role claims: a
// single string, a string list, or a role-to-bool map.
func rolesClaim(claims map[string]interface{}, key string) []string {
	raw, ok := claims[key]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case string:
		role := canonicalRole(v)
		if role == "" {
			return nil
		}
		return []string{role}
	case []interface{}:
		out := make([]string, 0, len(v))
		seen := make(map[string]struct{}, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				continue
			}
			out = appendRole(out, seen, str)
		}
		return out
	case []string:
		out := make([]string, 0, len(v))
		seen := make(map[string]struct{}, len(v))
		for _, item := range v {
			out = appendRole(out, seen, item)
		}
		return out
	case map[string]interface{}:
		out := make([]string, 0, len(v))
		for key, value := range v {
			granted, ok := value.(bool)
			if !ok || !granted {
				continue
			}
			role := canonicalRole(key)
			if role == "" {
				continue
			}
			out = append(out, role)
		}
		return out
	default:
		return nil
	}
}

func appendRole(out []string, seen map[string]struct{}, raw string) []string {
	role := canonicalRole(raw)
	if role == "" {
		return out
	}
	if _, exists := seen[role]; exists {
		return out
	}
	seen[role] = struct{}{}
	return append(out, role)
}

func stringClaim(claims map[string]interface{}, key string) string {
	if str, ok := claims[key].(string); ok {
		return strings.TrimSpace(str)
	}
	return ""
}

func canonicalRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func writeVerifyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		respondAuthError(w, http.StatusUnauthorized, "token_expired", "access token expired")
	default:
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "access token invalid")
	}
}
