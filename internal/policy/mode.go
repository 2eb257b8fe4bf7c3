// Package policy defines execution guardrails for tool calls.
package policy

import (
	"fmt"
	"strings"
)

// Execution modes. The mode decides which tool capabilities the host will
// dispatch at all, independent of caller scopes.
const (
	// ModeReadOnly admits read capability tools only.
	ModeReadOnly = "read-only"
	// ModeReadWrite additionally admits write capability tools.
	ModeReadWrite = "read-write"
)

// Mode is a resolved execution mode.
type Mode string

// Allows reports whether the mode admits a tool capability.
func (m Mode) Allows(capability string) bool {
	if capability == "read" {
		return true
	}
	return capability == "write" && m == ModeReadWrite
}

// ParseMode normalizes a configured mode string. Empty input falls back to
// read-only so a blank deployment stays safe.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeReadOnly, nil
	case ModeReadOnly, ModeReadWrite:
		return m, nil
	default:
		return "", fmt.Errorf("invalid mode %q (allowed: %s|%s)", m, ModeReadOnly, ModeReadWrite)
	}
}

// Guard enforces mode-based tool execution policy.
type Guard struct {
	mode Mode
}

// NewGuard resolves the configured mode. Write access is dual-controlled:
// read-write mode additionally requires the explicit enableWrite flag.
func NewGuard(mode string, enableWrite bool) (*Guard, error) {
	resolved, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	if resolved == ModeReadWrite && !enableWrite {
		return nil, fmt.Errorf("read-write mode requires MYCASTLE_ENABLE_WRITE=true")
	}
	return &Guard{mode: resolved}, nil
}

// Mode returns the resolved mode. A nil guard is read-only.
func (g *Guard) Mode() string {
	return string(g.resolved())
}

func (g *Guard) resolved() Mode {
	if g == nil {
		return ModeReadOnly
	}
	return g.mode
}

// AuthorizeTool allows or denies tool execution based on tool capability.
func (g *Guard) AuthorizeTool(name, capability string) error {
	toolName := strings.TrimSpace(name)
	if toolName == "" {
		toolName = "unknown"
	}

	kind := strings.ToLower(strings.TrimSpace(capability))
	switch kind {
	case "read", "write":
	default:
		return fmt.Errorf("tool %s has unknown capability %q", toolName, strings.TrimSpace(capability))
	}

	if !g.resolved().Allows(kind) {
		return fmt.Errorf("tool %s requires %s mode", toolName, ModeReadWrite)
	}
	return nil
}
