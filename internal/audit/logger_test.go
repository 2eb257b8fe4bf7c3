package audit

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLoggerComplete_EmitsOneStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	auditLogger := NewLogger(logger)

	auditLogger.Complete(ToolCallCompletion{
		RequestID: "req-1",
		SessionID: "sess-1",
		ToolName:  "attendance:record_attendance",
		Mode:      "read-write",
		CallerSub: "teacher-1",
		TenantID:  "tenant-1",
		Arguments: map[string]any{
			"register_id": "reg-1",
			"student_ids": []any{"stu-1", "stu-2"},
			"token":       "super-secret",
		},
		Result:       "success",
		Duration:     250 * time.Millisecond,
		ResponseCode: 200,
	})

	lines := splitJSONLines(t, buf.String())
	require.Len(t, lines, 1)

	entry := lines[0]
	require.Equal(t, "mcp.tool_call.completed", entry["event"])
	require.Equal(t, "req-1", entry["request_id"])
	require.Equal(t, "sess-1", entry["session_id"])
	require.Equal(t, "attendance:record_attendance", entry["tool"])
	require.Equal(t, "read-write", entry["mode"])
	require.Equal(t, "teacher-1", entry["caller_subject"])
	require.Equal(t, "tenant-1", entry["tenant_id"])
	require.Equal(t, "success", entry["result"])
	require.EqualValues(t, 250, entry["duration_ms"])

	target, ok := entry["target"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, []any{"stu-1", "stu-2"}, target["student_ids"])
	require.Equal(t, []any{"reg-1"}, target["class_ids"])
	_, hasToken := target["token"]
	require.False(t, hasToken)
}

func TestRedactSensitiveText_RedactsTokenLikeSegments(t *testing.T) {
	raw := "request failed: Authorization: Bearer abc.def.ghi token=xyz123 password=hunter2"
	redacted := RedactSensitiveText(raw)

	require.NotContains(t, redacted, "abc.def.ghi")
	require.NotContains(t, redacted, "xyz123")
	require.NotContains(t, redacted, "hunter2")
	require.Contains(t, redacted, "Authorization: [REDACTED]")
	require.Contains(t, redacted, "token=[REDACTED]")
	require.Contains(t, redacted, "password=[REDACTED]")
}

func TestSummarizeTargets_CollectsKnownIdentifiers(t *testing.T) {
	summary := SummarizeTargets(map[string]any{
		"student_id": "stu-1",
		"class_id":   "class-1",
		"booking_id": "book-1",
		"invoice_id": "inv-1",
	})

	require.Equal(t, []string{"stu-1"}, summary.StudentIDs)
	require.Equal(t, []string{"class-1"}, summary.ClassIDs)
	require.Equal(t, []string{"book-1", "inv-1"}, summary.ResourceIDs)
}

func TestSummarizeTargets_DropsOverlap(t *testing.T) {
	summary := SummarizeTargets(map[string]any{
		"student_ids": []any{"stu-1"},
		"id":          "stu-1",
	})

	require.Equal(t, []string{"stu-1"}, summary.StudentIDs)
	require.Nil(t, summary.ResourceIDs)
}

func splitJSONLines(t *testing.T, payload string) []map[string]any {
	t.Helper()

	rawLines := bytes.Split(bytes.TrimSpace([]byte(payload)), []byte("\n"))
	lines := make([]map[string]any, 0, len(rawLines))
	for _, raw := range rawLines {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var item map[string]any
		require.NoError(t, json.Unmarshal(raw, &item))
		lines = append(lines, item)
	}
	return lines
}
