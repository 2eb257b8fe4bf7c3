package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/jojopeligroso/MyCastle/internal/audit"
	"github.com/jojopeligroso/MyCastle/internal/auth"
	"github.com/jojopeligroso/MyCastle/internal/httputil"
	"github.com/jojopeligroso/MyCastle/internal/mcp"
	"github.com/jojopeligroso/MyCastle/internal/policy"
)

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	httputil.RespondJSON(w, http.StatusOK, s.host.Capabilities(caller))
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"host":    s.host.Name(),
		"version": s.host.Version(),
		"servers": s.host.Servers(),
	})
}

// toolContract is the YAML document served at /api/mcp/v1/tools.yaml.
type toolContract struct {
	Host    string           `yaml:"host"`
	Version string           `yaml:"version"`
	Mode    string           `yaml:"mode"`
	Servers []mcp.ServerInfo `yaml:"servers"`
	Tools   []mcp.Tool       `yaml:"tools"`
}

func (s *Server) handleToolContract(w http.ResponseWriter, r *http.Request) {
	caps := s.host.Capabilities(nil)
	contract := toolContract{
		Host:    s.host.Name(),
		Version: s.host.Version(),
		Mode:    s.guard.Mode(),
		Servers: s.host.Servers(),
		Tools:   caps.Tools,
	}

	encoded, err := yaml.Marshal(contract)
	if err != nil {
		httputil.RespondProblem(w, r, http.StatusInternalServerError, "encoding tool contract")
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)
}

type toolCallRequest struct {
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	toolName := chi.URLParam(r, "tool")

	var req toolCallRequest
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.RespondProblemf(w, r, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}

	start := time.Now()
	response, status := s.executeTool(w, r, caller, toolName, req.Arguments)

	result := "success"
	errorDetail := ""
	if status != http.StatusOK {
		result = "error"
	} else if response.IsError {
		result = "error"
		if len(response.Content) > 0 {
			errorDetail = response.Content[0].Text
		}
	}
	s.audit.Complete(audit.ToolCallCompletion{
		RequestID:    httputil.RequestIDFromContext(r.Context()),
		SessionID:    sessionID(caller),
		ToolName:     toolName,
		Mode:         s.guard.Mode(),
		CallerSub:    callerSubject(caller),
		TenantID:     tenantID(caller),
		Arguments:    req.Arguments,
		Result:       result,
		ErrorDetail:  errorDetail,
		Duration:     time.Since(start),
		ResponseCode: status,
	})

	if status == http.StatusOK {
		httputil.RespondJSON(w, http.StatusOK, response)
	}
}

// executeTool runs guard, confirmation, and host dispatch for one tool call.
// Non-OK statuses have already written a problem response.
func (s *Server) executeTool(w http.ResponseWriter, r *http.Request, caller *auth.Context, toolName string, args map[string]any) (mcp.ToolCallResponse, int) {
	tool, known := s.host.LookupTool(toolName)
	if !known {
		// Route through the host for precise invalid-name vs not-found
		// classification.
		_, err := s.host.CallTool(r.Context(), caller, toolName, args)
		status := statusForMCPError(err)
		httputil.RespondProblemf(w, r, status, "tool %s: %v", toolName, err)
		return mcp.ToolCallResponse{}, status
	}

	if err := s.guard.AuthorizeTool(tool.Name, tool.Capability); err != nil {
		httputil.RespondProblem(w, r, http.StatusForbidden, err.Error())
		return mcp.ToolCallResponse{}, http.StatusForbidden
	}

	// Denied confirmations come back in-band so agent callers can retry with
	// confirm=true.
	if err := policy.RequireConfirmation(tool.Name, tool.ConfirmationRequired, args); err != nil {
		return mcp.ToolCallResponse{
			Content: []mcp.ContentBlock{{Type: "text", Text: "Error: " + err.Error()}},
			IsError: true,
		}, http.StatusOK
	}

	response, err := s.host.CallTool(r.Context(), caller, toolName, args)
	if err != nil {
		status := statusForMCPError(err)
		httputil.RespondProblemf(w, r, status, "tool %s: %v", toolName, err)
		return mcp.ToolCallResponse{}, status
	}
	return response, http.StatusOK
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	uri := strings.TrimSpace(r.URL.Query().Get("uri"))
	if uri == "" {
		httputil.RespondProblem(w, r, http.StatusBadRequest, "uri query parameter is required")
		return
	}

	response, err := s.host.FetchResource(r.Context(), caller, uri)
	if err != nil {
		httputil.RespondProblemf(w, r, statusForMCPError(err), "resource %s: %v", uri, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, response)
}

type promptRequest struct {
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	promptName := chi.URLParam(r, "prompt")

	var req promptRequest
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.RespondProblemf(w, r, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}

	response, err := s.host.GetPrompt(r.Context(), caller, promptName, req.Arguments)
	if err != nil {
		httputil.RespondProblemf(w, r, statusForMCPError(err), "prompt %s: %v", promptName, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, response)
}

func statusForMCPError(err error) int {
	switch {
	case errors.Is(err, mcp.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mcp.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, mcp.ErrInvalidName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func sessionID(caller *auth.Context) string {
	if caller == nil {
		return ""
	}
	return caller.SessionID
}

func callerSubject(caller *auth.Context) string {
	if caller == nil {
		return ""
	}
	return caller.UserID
}

func tenantID(caller *auth.Context) string {
	if caller == nil {
		return ""
	}
	return caller.TenantID
}
