package policy

import (
	"fmt"
	"strings"
)

// Tools that mutate or destroy data at a scale requiring explicit operator
// acknowledgement.
var destructiveTools = map[string]string{
	"ops:restore_snapshot":         "when restoring a database snapshot",
	"attendance:anonymise_dataset": "when anonymising student data",
}

// RequireConfirmation enforces explicit confirm=true for destructive tools.
func RequireConfirmation(toolName string, confirmationRequired bool, args map[string]any) error {
	name := strings.TrimSpace(toolName)
	if name == "" {
		return nil
	}

	required, reason := confirmationRequirement(name, confirmationRequired, args)
	if !required {
		return nil
	}
	if hasConfirmTrue(args) {
		return nil
	}
	return fmt.Errorf("tool %s requires confirm=true %s", name, reason)
}

func confirmationRequirement(toolName string, confirmationRequired bool, args map[string]any) (bool, string) {
	if reason, exists := destructiveTools[toolName]; exists {
		// anonymise_dataset dry runs are safe to execute unconfirmed.
		if toolName == "attendance:anonymise_dataset" && isDryRun(args) {
			return false, ""
		}
		return true, reason
	}
	if confirmationRequired {
		return true, "for destructive operations"
	}
	return false, ""
}

func isDryRun(args map[string]any) bool {
	if args == nil {
		return true
	}
	value, ok := args["dry_run"]
	if !ok {
		return true
	}
	dryRun, ok := value.(bool)
	return !ok || dryRun
}

func hasConfirmTrue(args map[string]any) bool {
	if args == nil {
		return false
	}
	value, ok := args["confirm"]
	if !ok {
		return false
	}
	confirm, ok := value.(bool)
	return ok && confirm
}
