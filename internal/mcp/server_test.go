package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jojopeligroso/MyCastle/internal/auth"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer("finance-mcp", "1.0.0", "finance:*", zerolog.Nop())
}

func financeCaller() *auth.Context {
	return &auth.Context{UserID: "u1", TenantID: "t1", Scopes: []string{"finance:*"}}
}

func okHandler(result map[string]any) ToolHandler {
	return func(context.Context, *auth.Context, map[string]any) (map[string]any, error) {
		return result, nil
	}
}

func TestRegisterTool_PrefixesBareName(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.RegisterTool(Tool{Name: "create_booking"}, okHandler(nil)))

	tool, ok := s.LookupTool("finance:create_booking")
	require.True(t, ok)
	assert.Equal(t, "finance:create_booking", tool.Name)
	assert.Equal(t, "finance:*", tool.Scope)
	assert.Equal(t, "read", tool.Capability)
}

func TestRegisterTool_RejectsDuplicates(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.RegisterTool(Tool{Name: "create_booking"}, okHandler(nil)))
	require.Error(t, s.RegisterTool(Tool{Name: "create_booking"}, okHandler(nil)))
}

func TestCallTool_Success(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.RegisterTool(
		Tool{Name: "create_booking", Capability: "write"},
		okHandler(map[string]any{"success": true, "booking_id": "b1"}),
	))

	resp, err := s.CallTool(context.Background(), financeCaller(), "finance:create_booking", nil)
	require.NoError(t, err)
	assert.False(t, resp.IsError)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "text", resp.Content[0].Type)
	assert.JSONEq(t, `{"success":true,"booking_id":"b1"}`, resp.Content[0].Text)
	assert.Equal(t, true, resp.StructuredContent["success"])
}

func TestCallTool_UnknownTool(t *testing.T) {
	s := newTestServer(t)
	_, err := s.CallTool(context.Background(), financeCaller(), "finance:missing", nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCallTool_MissingScope(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.RegisterTool(Tool{Name: "create_booking"}, okHandler(nil)))

	caller := &auth.Context{UserID: "u2", Scopes: []string{"student:*"}}
	_, err := s.CallTool(context.Background(), caller, "finance:create_booking", nil)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestCallTool_HandlerErrorIsInBand(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.RegisterTool(Tool{Name: "create_booking"},
		func(context.Context, *auth.Context, map[string]any) (map[string]any, error) {
			return nil, errors.New("booking table unavailable")
		}))

	resp, err := s.CallTool(context.Background(), financeCaller(), "finance:create_booking", nil)
	require.NoError(t, err)
	assert.True(t, resp.IsError)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "Error: booking table unavailable", resp.Content[0].Text)
}

func TestFetchResource(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.RegisterResource(
		Resource{URI: "mycastle://finance/invoices", Name: "Invoices"},
		func(context.Context, *auth.Context) (any, error) {
			return map[string]any{"invoices": []any{}}, nil
		}))

	resp, err := s.FetchResource(context.Background(), financeCaller(), "mycastle://finance/invoices")
	require.NoError(t, err)
	require.Len(t, resp.Contents, 1)
	assert.Equal(t, "mycastle://finance/invoices", resp.Contents[0].URI)
	assert.Equal(t, "application/json", resp.Contents[0].MimeType)
	assert.JSONEq(t, `{"invoices":[]}`, resp.Contents[0].Text)

	_, err = s.FetchResource(context.Background(), financeCaller(), "mycastle://finance/unknown")
	require.ErrorIs(t, err, ErrNotFound)

	student := &auth.Context{UserID: "u3", Scopes: []string{"student:*"}}
	_, err = s.FetchResource(context.Background(), student, "mycastle://finance/invoices")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestGetPrompt(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.RegisterPrompt(
		Prompt{Name: "invoice_review", Description: "Review outstanding invoices"},
		func(_ context.Context, _ *auth.Context, args map[string]any) ([]PromptMessage, error) {
			return []PromptMessage{{Role: "user", Content: ContentBlock{Type: "text", Text: "review"}}}, nil
		}))

	resp, err := s.GetPrompt(context.Background(), financeCaller(), "finance:invoice_review", nil)
	require.NoError(t, err)
	assert.Equal(t, "Review outstanding invoices", resp.Description)
	require.Len(t, resp.Messages, 1)
}

func TestTools_FiltersByScope(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.RegisterTool(Tool{Name: "create_booking"}, okHandler(nil)))
	require.NoError(t, s.RegisterTool(Tool{Name: "aging_report"}, okHandler(nil)))

	assert.Len(t, s.Tools(nil), 2)
	assert.Len(t, s.Tools(financeCaller()), 2)
	assert.Empty(t, s.Tools(&auth.Context{Scopes: []string{"student:*"}}))
}
