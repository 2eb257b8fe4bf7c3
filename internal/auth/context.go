// Package auth provides JWT authentication and scope-based authorization.
package auth

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Context carries the authenticated caller's identity and grants.
type Context struct {
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role"`
	Scopes    []string  `json:"scopes"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HasScope reports whether the caller holds the scope, either exactly or via
// the domain wildcard (e.g. "finance:*" satisfies "finance:read").
func (c *Context) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	if slices.Contains(c.Scopes, scope) {
		return true
	}
	base, _, found := strings.Cut(scope, ":")
	if !found {
		return false
	}
	return slices.Contains(c.Scopes, base+":*")
}

// HasAnyScope reports whether the caller holds at least one of the scopes.
func (c *Context) HasAnyScope(scopes ...string) bool {
	for _, scope := range scopes {
		if c.HasScope(scope) {
			return true
		}
	}
	return false
}

type ctxKey struct{}

// WithContext attaches the auth context to a request context.
func WithContext(ctx context.Context, ac *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// FromContext returns the auth context attached to ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	ac, ok := ctx.Value(ctxKey{}).(*Context)
	return ac, ok && ac != nil
}
