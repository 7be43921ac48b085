package auth

import (
	"context"
	"net/http"
	"strings"
)

// Role represents the resolved caller role for a request.
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleFrontend:
		return "frontend"
	case RoleBackend:
		return "backend"
	case RoleAdmin:
		return "admin"
	default:
		return "unauth"
	}
}

// SecConfig mirrors the security-related configuration used to drive
// authentication, CORS and rate limiting behavior. Put here so limiter.go
// and gateway.go can reference the shared type.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AdminKeys      map[string]struct{}
}

type ctxRoleKey struct{}
type ctxActorKey struct{}

// WithRole stores the resolved role on the request context.
func WithRole(ctx context.Context, role Role) context.Context {
	return context.WithValue(ctx, ctxRoleKey{}, role)
}

// RoleFromContext returns the role resolved by the gateway middleware.
func RoleFromContext(ctx context.Context) Role {
	if v, ok := ctx.Value(ctxRoleKey{}).(Role); ok {
		return v
	}
	return RoleUnauth
}

// WithActor stores the acting user's login on the request context.
func WithActor(ctx context.Context, login string) context.Context {
	return context.WithValue(ctx, ctxActorKey{}, login)
}

// ActorFromContext returns the login of the user the request acts as,
// or empty when the caller never identified one.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxActorKey{}).(string); ok {
		return v
	}
	return ""
}

// ResolveActor extracts the acting user's login from the X-Actor-Login
// header. Frontend callers must identify an actor for mutating calls;
// backend and admin callers may act as the service itself.
func ResolveActor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Actor-Login"))
}

func authenticate(r *http.Request, cfg SecConfig) (Role, string, bool) {
	// prefer authorization: bearer <key>, fallback to x-api-key
	auth := r.Header.Get("Authorization")
	var key string
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		key = strings.TrimSpace(auth[7:])
	}
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	if key == "" {
		// no api key: return unauth role with client ip, hasapikey=false
		return RoleUnauth, clientIP(r), false
	}
	if cfg.AdminKeys != nil {
		if _, ok := cfg.AdminKeys[key]; ok {
			return RoleAdmin, key, true
		}
	}
	if _, ok := cfg.BackendKeys[key]; ok {
		return RoleBackend, key, true
	}
	if _, ok := cfg.FrontendKeys[key]; ok {
		return RoleFrontend, key, true
	}
	return RoleUnauth, key, true
}
