package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jojopeligroso/MyCastle/internal/auth"
)

// Server is one domain tool server: a catalog of tools, resources, and
// prompts bound to a base scope (e.g. "finance:*").
type Server struct {
	name    string
	version string
	scope   string
	prefix  string
	logger  zerolog.Logger

	tools        map[string]Tool
	toolHandlers map[string]ToolHandler
	toolOrder    []string

	resources        map[string]Resource
	resourceHandlers map[string]ResourceHandler
	resourceOrder    []string

	prompts        map[string]Prompt
	promptHandlers map[string]PromptHandler
	promptOrder    []string
}

// NewServer creates a domain server for the given base scope.
func NewServer(name, version, scope string, logger zerolog.Logger) *Server {
	prefix, _, _ := strings.Cut(scope, ":")
	return &Server{
		name:             name,
		version:          version,
		scope:            scope,
		prefix:           prefix,
		logger:           logger.With().Str("component", "mcp").Str("server", name).Logger(),
		tools:            map[string]Tool{},
		toolHandlers:     map[string]ToolHandler{},
		resources:        map[string]Resource{},
		resourceHandlers: map[string]ResourceHandler{},
		prompts:          map[string]Prompt{},
		promptHandlers:   map[string]PromptHandler{},
	}
}

// Name returns the server name.
func (s *Server) Name() string { return s.name }

// Scope returns the server's base scope.
func (s *Server) Scope() string { return s.scope }

// ScopePrefix returns the routing prefix (the part before the colon).
func (s *Server) ScopePrefix() string { return s.prefix }

// ToolCount returns the number of registered tools.
func (s *Server) ToolCount() int { return len(s.tools) }

// RegisterTool adds a tool to the catalog. Bare names are prefixed with the
// server's scope prefix; scope defaults to the server scope.
func (s *Server) RegisterTool(tool Tool, handler ToolHandler) error {
	name := strings.TrimSpace(tool.Name)
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if !strings.Contains(name, ":") {
		name = s.prefix + ":" + name
	}
	if _, exists := s.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	if handler == nil {
		return fmt.Errorf("tool %s has no handler", name)
	}

	tool.Name = name
	if strings.TrimSpace(tool.Scope) == "" {
		tool.Scope = s.scope
	}
	if strings.TrimSpace(tool.Capability) == "" {
		tool.Capability = "read"
	}

	s.tools[name] = tool
	s.toolHandlers[name] = handler
	s.toolOrder = append(s.toolOrder, name)
	s.logger.Debug().Str("tool", name).Msg("registered tool")
	return nil
}

// RegisterResource adds a resource to the catalog.
func (s *Server) RegisterResource(resource Resource, handler ResourceHandler) error {
	uri := strings.TrimSpace(resource.URI)
	if uri == "" {
		return fmt.Errorf("resource URI must not be empty")
	}
	if _, exists := s.resources[uri]; exists {
		return fmt.Errorf("resource %s already registered", uri)
	}
	if handler == nil {
		return fmt.Errorf("resource %s has no handler", uri)
	}

	resource.URI = uri
	if strings.TrimSpace(resource.MimeType) == "" {
		resource.MimeType = "application/json"
	}
	if strings.TrimSpace(resource.Scope) == "" {
		resource.Scope = s.scope
	}

	s.resources[uri] = resource
	s.resourceHandlers[uri] = handler
	s.resourceOrder = append(s.resourceOrder, uri)
	return nil
}

// RegisterPrompt adds a prompt template to the catalog.
func (s *Server) RegisterPrompt(prompt Prompt, handler PromptHandler) error {
	name := strings.TrimSpace(prompt.Name)
	if name == "" {
		return fmt.Errorf("prompt name must not be empty")
	}
	if !strings.Contains(name, ":") {
		name = s.prefix + ":" + name
	}
	if _, exists := s.prompts[name]; exists {
		return fmt.Errorf("prompt %s already registered", name)
	}
	if handler == nil {
		return fmt.Errorf("prompt %s has no handler", name)
	}

	prompt.Name = name
	if strings.TrimSpace(prompt.Scope) == "" {
		prompt.Scope = s.scope
	}

	s.prompts[name] = prompt
	s.promptHandlers[name] = handler
	s.promptOrder = append(s.promptOrder, name)
	return nil
}

// LookupTool returns the tool definition by full name.
func (s *Server) LookupTool(name string) (Tool, bool) {
	tool, ok := s.tools[name]
	return tool, ok
}

// CallTool authorizes and executes a tool. Unknown tools and missing scopes
// return errors; handler failures come back as an in-band error response.
func (s *Server) CallTool(ctx context.Context, caller *auth.Context, name string, args map[string]any) (ToolCallResponse, error) {
	tool, ok := s.tools[name]
	if !ok {
		return ToolCallResponse{}, fmt.Errorf("tool %s: %w", name, ErrNotFound)
	}
	if !caller.HasScope(tool.Scope) {
		return ToolCallResponse{}, fmt.Errorf("missing required scope %q for tool %s: %w", tool.Scope, name, ErrForbidden)
	}

	result, err := s.toolHandlers[name](ctx, caller, args)
	if err != nil {
		s.logger.Error().Err(err).Str("tool", name).Msg("tool execution failed")
		return ToolCallResponse{
			Content: []ContentBlock{{Type: "text", Text: "Error: " + err.Error()}},
			IsError: true,
		}, nil
	}

	text, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return ToolCallResponse{}, fmt.Errorf("encoding result of tool %s: %w", name, marshalErr)
	}

	return ToolCallResponse{
		Content:           []ContentBlock{{Type: "text", Text: string(text)}},
		StructuredContent: result,
	}, nil
}

// FetchResource authorizes and reads a resource by URI.
func (s *Server) FetchResource(ctx context.Context, caller *auth.Context, uri string) (ResourceResponse, error) {
	resource, ok := s.resources[uri]
	if !ok {
		return ResourceResponse{}, fmt.Errorf("resource %s: %w", uri, ErrNotFound)
	}
	if !caller.HasScope(resource.Scope) {
		return ResourceResponse{}, fmt.Errorf("missing required scope %q for resource %s: %w", resource.Scope, uri, ErrForbidden)
	}

	contents, err := s.resourceHandlers[uri](ctx, caller)
	if err != nil {
		return ResourceResponse{}, fmt.Errorf("fetching resource %s: %w", uri, err)
	}

	text, ok := contents.(string)
	if !ok {
		encoded, marshalErr := json.Marshal(contents)
		if marshalErr != nil {
			return ResourceResponse{}, fmt.Errorf("encoding resource %s: %w", uri, marshalErr)
		}
		text = string(encoded)
	}

	return ResourceResponse{
		Contents: []ResourceContent{{URI: uri, MimeType: resource.MimeType, Text: text}},
	}, nil
}

// GetPrompt authorizes and renders a prompt template.
func (s *Server) GetPrompt(ctx context.Context, caller *auth.Context, name string, args map[string]any) (PromptResponse, error) {
	prompt, ok := s.prompts[name]
	if !ok {
		return PromptResponse{}, fmt.Errorf("prompt %s: %w", name, ErrNotFound)
	}
	if !caller.HasScope(prompt.Scope) {
		return PromptResponse{}, fmt.Errorf("missing required scope %q for prompt %s: %w", prompt.Scope, name, ErrForbidden)
	}

	messages, err := s.promptHandlers[name](ctx, caller, args)
	if err != nil {
		return PromptResponse{}, fmt.Errorf("rendering prompt %s: %w", name, err)
	}

	return PromptResponse{Description: prompt.Description, Messages: messages}, nil
}

// Tools lists tools visible to the caller. A nil caller lists everything.
func (s *Server) Tools(caller *auth.Context) []Tool {
	out := make([]Tool, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		tool := s.tools[name]
		if caller == nil || caller.HasScope(tool.Scope) {
			out = append(out, tool)
		}
	}
	return out
}

// Resources lists resources visible to the caller.
func (s *Server) Resources(caller *auth.Context) []Resource {
	out := make([]Resource, 0, len(s.resourceOrder))
	for _, uri := range s.resourceOrder {
		resource := s.resources[uri]
		if caller == nil || caller.HasScope(resource.Scope) {
			out = append(out, resource)
		}
	}
	return out
}

// Prompts lists prompts visible to the caller.
func (s *Server) Prompts(caller *auth.Context) []Prompt {
	out := make([]Prompt, 0, len(s.promptOrder))
	for _, name := range s.promptOrder {
		prompt := s.prompts[name]
		if caller == nil || caller.HasScope(prompt.Scope) {
			out = append(out, prompt)
		}
	}
	return out
}
