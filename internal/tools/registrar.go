package tools

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/jojopeligroso/MyCastle/internal/mcp"
	"github.com/jojopeligroso/MyCastle/internal/store"
)

const serverVersion = "1.0.0"

// registrar collects the first registration error so server constructors can
// register their full catalog without per-call error plumbing.
type registrar struct {
	srv      *mcp.Server
	firstErr error
}

func newRegistrar(srv *mcp.Server) *registrar {
	return &registrar{srv: srv}
}

func (r *registrar) tool(tool mcp.Tool, handler mcp.ToolHandler) {
	if r.firstErr == nil {
		r.firstErr = r.srv.RegisterTool(tool, handler)
	}
}

func (r *registrar) resource(resource mcp.Resource, handler mcp.ResourceHandler) {
	if r.firstErr == nil {
		r.firstErr = r.srv.RegisterResource(resource, handler)
	}
}

func (r *registrar) prompt(prompt mcp.Prompt, handler mcp.PromptHandler) {
	if r.firstErr == nil {
		r.firstErr = r.srv.RegisterPrompt(prompt, handler)
	}
}

func (r *registrar) err() error { return r.firstErr }

// Row accessors. Scanned rows carry strings for NUMERIC columns and
// time.Time for date and timestamp columns, so handlers normalize here.

func rowString(row store.Row, key string) string {
	s, _ := row[key].(string)
	return s
}

func rowFloat(row store.Row, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func rowInt(row store.Row, key string) int {
	switch v := row[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func rowBool(row store.Row, key string) bool {
	b, _ := row[key].(bool)
	return b
}

func rowTime(row store.Row, key string) (time.Time, bool) {
	switch v := row[key].(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
		if t, err := time.Parse(dateLayout, v); err == nil {
			return t, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// Prompt message helpers.

func systemMessage(text string) mcp.PromptMessage {
	return mcp.PromptMessage{Role: "system", Content: mcp.ContentBlock{Type: "text", Text: text}}
}

func userMessage(text string) mcp.PromptMessage {
	return mcp.PromptMessage{Role: "user", Content: mcp.ContentBlock{Type: "text", Text: text}}
}

func indentJSON(v any) string {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
