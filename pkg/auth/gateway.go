package auth

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"pagestore/pkg/logger"
	"pagestore/pkg/utils"
)

// role and secconfig types are defined in identity.go

func AuthenticateRequestMiddleware(cfg SecConfig) func(http.Handler) http.Handler {
	// rate limiters keyed by api key or remote ip
	limiters := newKeyLimiters(cfg.RPS, cfg.Burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// log request (redacts sensitive headers)
			logger.LogRequest(r)

			// cors preflight
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,PATCH,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key,X-Actor-Login")
				w.Header().Set("Access-Control-Expose-Headers", "X-Role-Name,Retry-After")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			// ip whitelist
			if len(cfg.IPWhitelist) > 0 {
				ip := clientIP(r)
				logger.Debug("ip_check", "ip", ip)
				if !ipWhitelisted(ip, cfg.IPWhitelist) {
					utils.JSONError(w, http.StatusForbidden, "forbidden")
					logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", r.URL.Path)
					return
				}
			}

			role, key, hasAPIKey := authenticate(r, cfg)
			logger.Debug("auth_check", "role", role.String(), "has_api_key", hasAPIKey)

			// allow unauthenticated health checks for probes
			if (r.URL.Path == "/healthz" || r.URL.Path == "/readyz") && r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			// block unauthenticated roles
			if role == RoleUnauth || !hasAPIKey {
				utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
				logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
				return
			}
			w.Header().Set("X-Role-Name", role.String())

			// scope enforcement for frontend keys
			if role == RoleFrontend && !frontendAllowed(r) {
				utils.JSONError(w, http.StatusForbidden, "forbidden")
				logger.Warn("request_forbidden", "reason", "frontend_not_allowed", "path", r.URL.Path)
				return
			}

			// edge rate limiting, per api key
			if !limiters.Allow(key) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				logger.Warn("rate_limited", "has_api_key", hasAPIKey, "path", r.URL.Path)
				return
			}

			ctx := WithRole(r.Context(), role)
			if actor := ResolveActor(r); actor != "" {
				ctx = WithActor(ctx, actor)
			}
			logger.Info("request_allowed", "method", r.Method, "path", r.URL.Path, "role", role.String())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	// check if origin is allowed
	if len(allowed) == 0 {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	// get client ip from remoteaddr
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipWhitelisted(ip string, list []string) bool {
	// check if ip is in whitelist
	for _, w := range list {
		if ip == w {
			return true
		}
	}
	return false
}

// keyLimiters hands out one token bucket per api key, created lazily on
// first sight of the key. Unkeyed callers never get this far; they are
// rejected as unauthenticated before the limiter runs.
type keyLimiters struct {
	mu    sync.Mutex
	per   map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

func newKeyLimiters(rps float64, burst int) *keyLimiters {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &keyLimiters{per: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

func (k *keyLimiters) Allow(key string) bool {
	k.mu.Lock()
	l, ok := k.per[key]
	if !ok {
		l = rate.NewLimiter(k.rps, k.burst)
		k.per[key] = l
	}
	k.mu.Unlock()
	return l.Allow()
}

func frontendAllowed(r *http.Request) bool {
	// frontend keys may read records and read/write threads and reactions
	if strings.HasPrefix(r.URL.Path, "/v1/records") && r.Method == http.MethodGet {
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/v1/threads") {
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/v1/comments") {
		return true
	}
	return false
}
