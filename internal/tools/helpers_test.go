package tools

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jojopeligroso/MyCastle/internal/auth"
	"github.com/jojopeligroso/MyCastle/internal/mcp"
)

// testTime matches the fakeStore clock so handlers and seeded rows agree on
// "now".
var testTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testClock() time.Time { return testTime }

func testLogger() zerolog.Logger { return zerolog.Nop() }

func adminCaller() *auth.Context {
	return &auth.Context{
		UserID:    "admin-1",
		TenantID:  "tenant-1",
		Role:      auth.RoleSuperAdmin,
		Scopes:    auth.AllScopes,
		SessionID: "session-admin",
	}
}

func roleCaller(userID, role string) *auth.Context {
	return &auth.Context{
		UserID:    userID,
		TenantID:  "tenant-1",
		Role:      role,
		Scopes:    auth.ScopesForRole(role),
		SessionID: "session-" + userID,
	}
}

// call invokes a tool expecting a transport-level success and returns the
// structured result.
func call(t *testing.T, srv *mcp.Server, caller *auth.Context, name string, args map[string]any) map[string]any {
	t.Helper()
	resp, err := srv.CallTool(context.Background(), caller, name, args)
	require.NoError(t, err)
	require.False(t, resp.IsError, "unexpected in-band error: %+v", resp.Content)
	return resp.StructuredContent
}

// callFailure invokes a tool expecting a business failure and returns its
// error message.
func callFailure(t *testing.T, srv *mcp.Server, caller *auth.Context, name string, args map[string]any) string {
	t.Helper()
	out := call(t, srv, caller, name, args)
	require.Equal(t, false, out["success"], "expected a failed result, got: %v", out)
	msg, _ := out["error"].(string)
	return msg
}

// callInBandError invokes a tool expecting a handler error (IsError response)
// and returns the error text.
func callInBandError(t *testing.T, srv *mcp.Server, caller *auth.Context, name string, args map[string]any) string {
	t.Helper()
	resp, err := srv.CallTool(context.Background(), caller, name, args)
	require.NoError(t, err)
	require.True(t, resp.IsError, "expected an in-band error, got: %v", resp.StructuredContent)
	require.NotEmpty(t, resp.Content)
	return resp.Content[0].Text
}
