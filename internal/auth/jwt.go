package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claim names carried by service tokens.
const (
	claimTenantID  = "tenant_id"
	claimRoleScope = "role_scope"
	claimScopes    = "scopes"
	claimSessionID = "session_id"
)

// TokenService mints and verifies HS256 service tokens.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService builds a token service from a shared secret.
func NewTokenService(secret string, expiry time.Duration) (*TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("JWT secret must not be empty")
	}
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &TokenService{secret: []byte(secret), expiry: expiry}, nil
}

// Mint issues a signed token for the given identity. When sessionID is empty
// a fresh one is generated.
func (s *TokenService) Mint(userID, tenantID, role string, scopes []string, sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}
	if len(scopes) == 0 {
		scopes = ScopesForRole(role)
	}

	now := time.Now().UTC()
	token, err := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(s.expiry)).
		Claim(claimTenantID, tenantID).
		Claim(claimRoleScope, role).
		Claim(claimScopes, scopes).
		Claim(claimSessionID, sessionID).
		Build()
	if err != nil {
		return "", fmt.Errorf("building token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return string(signed), nil
}

// Verify parses and validates a signed token and returns the caller context.
// When the token carries no scopes claim, default scopes derive from the role.
func (s *TokenService) Verify(raw string) (*Context, error) {
	token, err := jwt.Parse(
		[]byte(raw),
		jwt.WithKey(jwa.HS256, s.secret),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	ac := &Context{
		UserID:    token.Subject(),
		ExpiresAt: token.Expiration(),
	}
	if v, ok := token.Get(claimTenantID); ok {
		ac.TenantID, _ = v.(string)
	}
	if v, ok := token.Get(claimRoleScope); ok {
		ac.Role, _ = v.(string)
	}
	if v, ok := token.Get(claimSessionID); ok {
		ac.SessionID, _ = v.(string)
	}
	if v, ok := token.Get(claimScopes); ok {
		ac.Scopes = toStringSlice(v)
	}
	if len(ac.Scopes) == 0 {
		ac.Scopes = ScopesForRole(ac.Role)
	}
	if strings.TrimSpace(ac.UserID) == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	return ac, nil
}

func toStringSlice(raw any) []string {
	switch typed := raw.(type) {
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(typed) == "" {
			return nil
		}
		return strings.Fields(typed)
	default:
		return nil
	}
}
