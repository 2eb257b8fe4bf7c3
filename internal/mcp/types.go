// Package mcp implements the capability host: per-domain tool servers with
// scope-based authorization, multiplexed behind a single routing layer.
package mcp

import (
	"context"
	"errors"

	"github.com/jojopeligroso/MyCastle/internal/auth"
)

// Sentinel errors surfaced to the transport layer for status mapping.
var (
	// ErrNotFound marks an unknown tool, resource, or prompt.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks a caller without the required scope.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidName marks a malformed tool or resource name.
	ErrInvalidName = errors.New("invalid name")
)

// Tool describes one invokable capability.
type Tool struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	InputSchema map[string]any `json:"inputSchema" yaml:"inputSchema"`
	Scope       string         `json:"scope" yaml:"scope"`
	// Capability is "read" or "write" and feeds the execution guard.
	Capability           string `json:"capability" yaml:"capability"`
	ConfirmationRequired bool   `json:"confirmationRequired,omitempty" yaml:"confirmationRequired,omitempty"`
}

// Resource describes one readable data surface.
type Resource struct {
	URI         string `json:"uri" yaml:"uri"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	MimeType    string `json:"mimeType" yaml:"mimeType"`
	Scope       string `json:"scope" yaml:"scope"`
}

// PromptArgument describes one prompt template parameter.
type PromptArgument struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Required    bool   `json:"required" yaml:"required"`
}

// Prompt describes one reusable prompt template.
type Prompt struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description" yaml:"description"`
	Arguments   []PromptArgument `json:"arguments" yaml:"arguments"`
	Scope       string           `json:"scope" yaml:"scope"`
}

// ContentBlock is one piece of tool or prompt output.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResponse is the result of one tool execution. Handler failures are
// reported in-band with IsError set, not as transport errors.
type ToolCallResponse struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError"`
}

// ResourceContent is one piece of resource output.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ResourceResponse is the result of one resource fetch.
type ResourceResponse struct {
	Contents []ResourceContent `json:"contents"`
}

// PromptMessage is one rendered prompt message.
type PromptMessage struct {
	Role    string       `json:"role"`
	Content ContentBlock `json:"content"`
}

// PromptResponse is a rendered prompt template.
type PromptResponse struct {
	Description string          `json:"description"`
	Messages    []PromptMessage `json:"messages"`
}

// Capabilities aggregates everything the caller may use.
type Capabilities struct {
	Tools      []Tool         `json:"tools"`
	Resources  []Resource     `json:"resources"`
	Prompts    []Prompt       `json:"prompts"`
	ServerInfo map[string]any `json:"serverInfo"`
}

// ToolHandler executes one tool call.
type ToolHandler func(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error)

// ResourceHandler fetches one resource.
type ResourceHandler func(ctx context.Context, caller *auth.Context) (any, error)

// PromptHandler renders one prompt template.
type PromptHandler func(ctx context.Context, caller *auth.Context, args map[string]any) ([]PromptMessage, error)
