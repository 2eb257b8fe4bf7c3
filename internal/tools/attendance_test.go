package tools

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jojopeligroso/MyCastle/internal/auth"
	"github.com/jojopeligroso/MyCastle/internal/mcp"
	"github.com/jojopeligroso/MyCastle/internal/store"
)

func newAttendanceTestServer(t *testing.T) (*mcp.Server, *fakeStore) {
	t.Helper()
	db := newFakeStore()
	srv, err := newAttendanceServer(db, testLogger(), testClock)
	require.NoError(t, err)
	return srv, db
}

func TestPrepareRegister(t *testing.T) {
	srv, db := newAttendanceTestServer(t)
	sessionIDs := db.seed("session", store.Row{"class_id": "class-1", "session_date": "2026-03-02"})
	db.seed("enrollment",
		store.Row{"class_id": "class-1", "student_id": "stu-1", "status": "active"},
		store.Row{"class_id": "class-1", "student_id": "stu-2", "status": "active"},
		store.Row{"class_id": "class-1", "student_id": "stu-3", "status": "withdrawn"},
	)

	out := call(t, srv, adminCaller(), "attendance:prepare_register", map[string]any{
		"session_id": sessionIDs[0],
	})

	assert.Equal(t, 2, out["student_count"])
	register := out["register"].(store.Row)
	assert.Equal(t, "open", register["status"])

	entries, err := db.Select(context.Background(), "attendance", store.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, "pending", entry["status"])
	}
}

func TestPrepareRegisterDateMismatch(t *testing.T) {
	srv, db := newAttendanceTestServer(t)
	sessionIDs := db.seed("session", store.Row{"class_id": "class-1", "session_date": "2026-03-02"})

	msg := callFailure(t, srv, adminCaller(), "attendance:prepare_register", map[string]any{
		"session_id": sessionIDs[0],
		"date":       "2026-03-03",
	})
	assert.Equal(t, "date does not match the session date", msg)
}

func TestRecordAttendance(t *testing.T) {
	srv, db := newAttendanceTestServer(t)
	registerIDs := db.seed("register", store.Row{"class_id": "class-1", "status": "open"})
	entryIDs := db.seed("attendance", store.Row{
		"register_id": registerIDs[0],
		"student_id":  "stu-1",
		"status":      "pending",
	})

	out := call(t, srv, adminCaller(), "attendance:record_attendance", map[string]any{
		"register_id": registerIDs[0],
		"student_id":  "stu-1",
		"status":      "present",
	})

	expectedHash := sha256Hex(fmt.Sprintf("%s:present:%s", entryIDs[0], testTime.Format(time.RFC3339)))
	assert.Equal(t, expectedHash, out["hash"])

	entry := out["attendance"].(store.Row)
	assert.Equal(t, "present", entry["status"])
	assert.Equal(t, expectedHash, entry["hash"])
	assert.Equal(t, "admin-1", entry["recorded_by"])
}

func TestRecordAttendanceKeepsNotes(t *testing.T) {
	srv, db := newAttendanceTestServer(t)
	registerIDs := db.seed("register", store.Row{"class_id": "class-1", "status": "open"})
	db.seed("attendance", store.Row{
		"register_id": registerIDs[0],
		"student_id":  "stu-1",
		"status":      "pending",
	})

	out := call(t, srv, adminCaller(), "attendance:record_attendance", map[string]any{
		"register_id": registerIDs[0],
		"student_id":  "stu-1",
		"status":      "late",
		"notes":       "arrived 20 minutes late, bus strike",
	})

	entry := out["attendance"].(store.Row)
	assert.Equal(t, "arrived 20 minutes late, bus strike", entry["notes"])
}

func TestRecordAttendanceUnknownEntry(t *testing.T) {
	srv, _ := newAttendanceTestServer(t)

	msg := callFailure(t, srv, adminCaller(), "attendance:record_attendance", map[string]any{
		"register_id": "missing",
		"student_id":  "stu-1",
		"status":      "present",
	})
	assert.Equal(t, "attendance entry not found", msg)
}

func TestRecordAttendanceRejectsUnknownStatus(t *testing.T) {
	srv, _ := newAttendanceTestServer(t)

	msg := callFailure(t, srv, adminCaller(), "attendance:record_attendance", map[string]any{
		"register_id": "reg-1",
		"student_id":  "stu-1",
		"status":      "sleeping",
	})
	assert.Equal(t, `unknown attendance status "sleeping"`, msg)
}

func TestCorrectAttendanceWithinWindow(t *testing.T) {
	srv, db := newAttendanceTestServer(t)
	entryIDs := db.seed("attendance", store.Row{
		"register_id": "reg-1",
		"student_id":  "stu-1",
		"status":      "absent",
		"recorded_at": testTime.Add(-2 * time.Hour),
	})
	reception := roleCaller("recep-1", auth.RoleAdminReception)

	out := call(t, srv, reception, "attendance:correct_attendance", map[string]any{
		"attendance_id":     entryIDs[0],
		"new_status":        "excused",
		"correction_reason": "medical note received",
	})

	assert.Equal(t, "absent", out["old_status"])
	assert.Equal(t, "excused", out["new_status"])
	assert.Equal(t, true, out["audit_created"])

	corrections, err := db.Select(context.Background(), "attendance_correction", store.Query{})
	require.NoError(t, err)
	require.Len(t, corrections, 1)
	assert.Equal(t, "recep-1", corrections[0]["corrected_by"])

	entry, err := db.SelectOne(context.Background(), "attendance", store.Query{
		Filters: []store.Filter{store.Eq("id", entryIDs[0])},
	})
	require.NoError(t, err)
	assert.Equal(t, "excused", entry["status"])
	assert.Equal(t, 1, entry["correction_count"])
}

func TestCorrectAttendanceOutsideWindow(t *testing.T) {
	srv, db := newAttendanceTestServer(t)
	entryIDs := db.seed("attendance", store.Row{
		"register_id": "reg-1",
		"student_id":  "stu-1",
		"status":      "absent",
		"recorded_at": testTime.Add(-72 * time.Hour),
	})

	reception := roleCaller("recep-1", auth.RoleAdminReception)
	msg := callFailure(t, srv, reception, "attendance:correct_attendance", map[string]any{
		"attendance_id":     entryIDs[0],
		"new_status":        "excused",
		"correction_reason": "late medical note",
	})
	assert.Equal(t, "attendance can only be corrected within 48 hours, or by an admin", msg)

	// Admins bypass the window.
	admin := roleCaller("admin-2", auth.RoleAdmin)
	out := call(t, srv, admin, "attendance:correct_attendance", map[string]any{
		"attendance_id":     entryIDs[0],
		"new_status":        "excused",
		"correction_reason": "late medical note",
	})
	assert.Equal(t, true, out["success"])
}

func TestVisaComplianceReport(t *testing.T) {
	srv, db := newAttendanceTestServer(t)
	recent := testTime.Add(-24 * time.Hour)
	for i := 0; i < 8; i++ {
		db.seed("attendance", store.Row{"student_id": "stu-1", "status": "present", "recorded_at": recent})
	}
	db.seed("attendance",
		store.Row{"student_id": "stu-1", "status": "late", "recorded_at": recent},
		store.Row{"student_id": "stu-1", "status": "absent", "recorded_at": recent},
	)

	out := call(t, srv, adminCaller(), "attendance:visa_compliance_report", map[string]any{
		"student_id": "stu-1",
	})

	assert.Equal(t, 10, out["total_sessions"])
	assert.Equal(t, 9, out["present_count"])
	assert.Equal(t, 90.0, out["attendance_percentage"])
	assert.Equal(t, true, out["compliant"])
	assert.Equal(t, "compliant", out["status"])
	assert.NotContains(t, out, "warning")
}

func TestVisaComplianceReportAtRiskAndNonCompliant(t *testing.T) {
	srv, db := newAttendanceTestServer(t)
	recent := testTime.Add(-24 * time.Hour)
	// stu-1: 3 of 4 present (75%, at risk).
	db.seed("attendance",
		store.Row{"student_id": "stu-1", "status": "present", "recorded_at": recent},
		store.Row{"student_id": "stu-1", "status": "present", "recorded_at": recent},
		store.Row{"student_id": "stu-1", "status": "present", "recorded_at": recent},
		store.Row{"student_id": "stu-1", "status": "absent", "recorded_at": recent},
	)
	// stu-2: 3 of 5 present (60%, non-compliant).
	db.seed("attendance",
		store.Row{"student_id": "stu-2", "status": "present", "recorded_at": recent},
		store.Row{"student_id": "stu-2", "status": "present", "recorded_at": recent},
		store.Row{"student_id": "stu-2", "status": "present", "recorded_at": recent},
		store.Row{"student_id": "stu-2", "status": "absent", "recorded_at": recent},
		store.Row{"student_id": "stu-2", "status": "absent", "recorded_at": recent},
	)

	atRisk := call(t, srv, adminCaller(), "attendance:visa_compliance_report", map[string]any{"student_id": "stu-1"})
	assert.Equal(t, "at_risk", atRisk["status"])
	assert.Equal(t, "Student below 80% visa compliance threshold", atRisk["warning"])

	nonCompliant := call(t, srv, adminCaller(), "attendance:visa_compliance_report", map[string]any{"student_id": "stu-2"})
	assert.Equal(t, "non_compliant", nonCompliant["status"])
}

func TestExportAttendance(t *testing.T) {
	srv, db := newAttendanceTestServer(t)
	registerIDs := db.seed("register", store.Row{"class_id": "class-1"})
	db.seed("attendance",
		store.Row{"register_id": registerIDs[0], "student_id": "stu-1", "status": "present"},
		store.Row{"register_id": registerIDs[0], "student_id": "stu-2", "status": "absent"},
	)

	out := call(t, srv, adminCaller(), "attendance:export_attendance", map[string]any{
		"class_id":  "class-1",
		"date_from": "2026-03-01",
		"date_to":   "2026-03-02",
	})

	assert.Equal(t, 2, out["record_count"])
	hash, _ := out["export_hash"].(string)
	assert.Len(t, hash, 64)
}

func TestAnonymiseDatasetDryRun(t *testing.T) {
	srv, db := newAttendanceTestServer(t)
	db.seed("attendance", store.Row{
		"student_id":  "stu-1",
		"status":      "present",
		"recorded_at": time.Date(2023, 1, 10, 9, 0, 0, 0, time.UTC),
		"anonymized":  false,
	})

	out := call(t, srv, adminCaller(), "attendance:anonymise_dataset", map[string]any{
		"before_date": "2024-01-01",
	})

	assert.Equal(t, true, out["dry_run"])
	assert.Equal(t, 1, out["records_count"])

	entry, err := db.SelectOne(context.Background(), "attendance", store.Query{})
	require.NoError(t, err)
	assert.Equal(t, "stu-1", entry["student_id"])
}

func TestAnonymiseDataset(t *testing.T) {
	srv, db := newAttendanceTestServer(t)
	db.seed("attendance", store.Row{
		"student_id":  "stu-1",
		"status":      "present",
		"recorded_at": time.Date(2023, 1, 10, 9, 0, 0, 0, time.UTC),
		"anonymized":  false,
	})

	out := call(t, srv, adminCaller(), "attendance:anonymise_dataset", map[string]any{
		"before_date": "2024-01-01",
		"dry_run":     false,
		"confirm":     true,
	})

	assert.Equal(t, 1, out["records_anonymized"])

	entry, err := db.SelectOne(context.Background(), "attendance", store.Query{})
	require.NoError(t, err)
	assert.NotEqual(t, "stu-1", entry["student_id"])
	assert.Len(t, entry["student_id"], 16)
	assert.Equal(t, true, entry["anonymized"])
}

func TestPolicyCheckRetention(t *testing.T) {
	srv, db := newAttendanceTestServer(t)
	db.seed("attendance", store.Row{
		"student_id":  "stu-1",
		"status":      "present",
		"recorded_at": testTime.AddDate(-8, 0, 0),
		"anonymized":  false,
	})

	out := call(t, srv, adminCaller(), "attendance:policy_check", map[string]any{
		"policy_type": "retention",
	})

	assert.Equal(t, false, out["compliant"])
	assert.Equal(t, 1, out["issue_count"])
}

func TestPolicyCheckUnknownType(t *testing.T) {
	srv, _ := newAttendanceTestServer(t)

	msg := callFailure(t, srv, adminCaller(), "attendance:policy_check", map[string]any{
		"policy_type": "iso9001",
	})
	assert.Equal(t, `unknown policy type "iso9001"`, msg)
}

func TestCompileCompliancePackVisa(t *testing.T) {
	srv, db := newAttendanceTestServer(t)
	db.seed("visa_status", store.Row{"student_id": "stu-1", "status": "approved"})
	db.seed("attendance", store.Row{
		"student_id":  "stu-1",
		"status":      "present",
		"recorded_at": testTime.Add(-24 * time.Hour),
	})

	out := call(t, srv, adminCaller(), "attendance:compile_compliance_pack", map[string]any{
		"audit_type": "visa",
		"date_from":  "2026-03-01",
		"date_to":    "2026-03-02",
	})

	assert.Equal(t, 3, out["document_count"])
	hash, _ := out["pack_hash"].(string)
	assert.Len(t, hash, 64)
}
