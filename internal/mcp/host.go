package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jojopeligroso/MyCastle/internal/auth"
)

// URIScheme prefixes every resource URI served by the host.
const URIScheme = "mycastle://"

// Host multiplexes domain servers behind scope-prefix routing.
type Host struct {
	name    string
	version string
	logger  zerolog.Logger

	servers map[string]*Server
	order   []string
}

// NewHost creates an empty host.
func NewHost(name, version string, logger zerolog.Logger) *Host {
	return &Host{
		name:    name,
		version: version,
		logger:  logger.With().Str("component", "mcp.host").Logger(),
		servers: map[string]*Server{},
	}
}

// RegisterServer adds a domain server. Each scope prefix may only be
// registered once.
func (h *Host) RegisterServer(s *Server) error {
	prefix := s.ScopePrefix()
	if prefix == "" {
		return fmt.Errorf("server %s has no scope prefix", s.Name())
	}
	if existing, ok := h.servers[prefix]; ok {
		return fmt.Errorf("scope %q already registered by server %q", prefix, existing.Name())
	}

	h.servers[prefix] = s
	h.order = append(h.order, prefix)
	h.logger.Info().
		Str("server", s.Name()).
		Str("scope", s.Scope()).
		Int("tools", s.ToolCount()).
		Msg("registered server")
	return nil
}

// LookupTool resolves a full tool name across all servers.
func (h *Host) LookupTool(name string) (Tool, bool) {
	server, err := h.serverForName(name)
	if err != nil {
		return Tool{}, false
	}
	return server.LookupTool(name)
}

// CallTool routes a tool call by its scope prefix.
func (h *Host) CallTool(ctx context.Context, caller *auth.Context, name string, args map[string]any) (ToolCallResponse, error) {
	server, err := h.serverForName(name)
	if err != nil {
		return ToolCallResponse{}, err
	}

	h.logger.Debug().
		Str("tool", name).
		Str("server", server.Name()).
		Str("user", callerID(caller)).
		Msg("routing tool call")
	return server.CallTool(ctx, caller, name, args)
}

// FetchResource routes a resource fetch by URI.
func (h *Host) FetchResource(ctx context.Context, caller *auth.Context, uri string) (ResourceResponse, error) {
	rest, ok := strings.CutPrefix(uri, URIScheme)
	if !ok || rest == "" {
		return ResourceResponse{}, fmt.Errorf("resource URI %q: %w", uri, ErrInvalidName)
	}

	prefix, _, _ := strings.Cut(rest, "/")
	server, ok := h.servers[prefix]
	if !ok {
		return ResourceResponse{}, fmt.Errorf("no server registered for scope %q: %w", prefix, ErrNotFound)
	}

	return server.FetchResource(ctx, caller, uri)
}

// GetPrompt routes a prompt render by its scope prefix.
func (h *Host) GetPrompt(ctx context.Context, caller *auth.Context, name string, args map[string]any) (PromptResponse, error) {
	server, err := h.serverForName(name)
	if err != nil {
		return PromptResponse{}, err
	}
	return server.GetPrompt(ctx, caller, name, args)
}

// Capabilities aggregates tools, resources, and prompts across all servers,
// filtered by caller scopes. A nil caller sees everything.
func (h *Host) Capabilities(caller *auth.Context) Capabilities {
	caps := Capabilities{
		Tools:     []Tool{},
		Resources: []Resource{},
		Prompts:   []Prompt{},
	}

	serverNames := make([]string, 0, len(h.order))
	for _, prefix := range h.order {
		server := h.servers[prefix]
		caps.Tools = append(caps.Tools, server.Tools(caller)...)
		caps.Resources = append(caps.Resources, server.Resources(caller)...)
		caps.Prompts = append(caps.Prompts, server.Prompts(caller)...)
		serverNames = append(serverNames, fmt.Sprintf("%s (%s)", server.Name(), server.Scope()))
	}

	caps.ServerInfo = map[string]any{
		"name":    h.name,
		"version": h.version,
		"servers": serverNames,
	}
	return caps
}

// ServerInfo summarizes one registered server.
type ServerInfo struct {
	Name      string `json:"name"`
	Scope     string `json:"scope"`
	Tools     int    `json:"tools"`
	Resources int    `json:"resources"`
	Prompts   int    `json:"prompts"`
}

// Servers lists per-server summaries in registration order.
func (h *Host) Servers() []ServerInfo {
	out := make([]ServerInfo, 0, len(h.order))
	for _, prefix := range h.order {
		server := h.servers[prefix]
		out = append(out, ServerInfo{
			Name:      server.Name(),
			Scope:     server.Scope(),
			Tools:     len(server.tools),
			Resources: len(server.resources),
			Prompts:   len(server.prompts),
		})
	}
	return out
}

// Name returns the host name.
func (h *Host) Name() string { return h.name }

// Version returns the host version.
func (h *Host) Version() string { return h.version }

// ServerCount returns the number of registered servers.
func (h *Host) ServerCount() int { return len(h.servers) }

// TotalToolCount sums tool counts across all servers.
func (h *Host) TotalToolCount() int {
	total := 0
	for _, server := range h.servers {
		total += server.ToolCount()
	}
	return total
}

func (h *Host) serverForName(name string) (*Server, error) {
	prefix, _, found := strings.Cut(name, ":")
	if !found || prefix == "" {
		return nil, fmt.Errorf("name %q is not scope-prefixed: %w", name, ErrInvalidName)
	}
	server, ok := h.servers[prefix]
	if !ok {
		return nil, fmt.Errorf("no server registered for scope %q: %w", prefix, ErrNotFound)
	}
	return server, nil
}

func callerID(caller *auth.Context) string {
	if caller == nil {
		return "anonymous"
	}
	return caller.UserID
}
