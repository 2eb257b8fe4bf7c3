package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/jojopeligroso/MyCastle/internal/httputil"
)

// MiddlewareConfig controls bearer token authentication.
type MiddlewareConfig struct {
	Tokens *TokenService
	// DevMode grants a synthetic super_admin context when no token is
	// presented. Never enable outside local development.
	DevMode bool
}

// Middleware authenticates requests via Authorization: Bearer tokens and
// attaches the caller context.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				if cfg.DevMode {
					next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), devContext())))
					return
				}
				httputil.RespondProblem(w, r, http.StatusUnauthorized, "missing bearer token")
				return
			}

			if cfg.Tokens == nil {
				httputil.RespondProblem(w, r, http.StatusInternalServerError, "token verification is not configured")
				return
			}

			ac, err := cfg.Tokens.Verify(raw)
			if err != nil {
				httputil.RespondProblem(w, r, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), ac)))
		})
	}
}

// RequireAnyScope rejects requests whose caller holds none of the scopes.
func RequireAnyScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := FromContext(r.Context())
			if !ok {
				httputil.RespondProblem(w, r, http.StatusForbidden, "no auth context")
				return
			}
			if !ac.HasAnyScope(scopes...) {
				httputil.RespondProblemf(w, r, http.StatusForbidden, "missing required scope: %s", scopes[0])
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func devContext() *Context {
	return &Context{
		UserID:    "dev-user",
		TenantID:  "dev-tenant",
		Role:      RoleSuperAdmin,
		Scopes:    ScopesForRole(RoleSuperAdmin),
		SessionID: "dev-session",
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
}
