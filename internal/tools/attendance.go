package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jojopeligroso/MyCastle/internal/auth"
	"github.com/jojopeligroso/MyCastle/internal/mcp"
	"github.com/jojopeligroso/MyCastle/internal/store"
)

// Visa sponsorship requires 80% attendance; below 70% the student is reported
// as non-compliant rather than merely at risk.
const (
	visaComplianceThreshold    = 80.0
	visaNonCompliantThreshold  = 70.0
	correctionWindow           = 48 * time.Hour
	retentionPeriodDays        = 7 * 365
	gdprAnonymizationAfterDays = 2 * 365
)

var attendanceStatuses = []string{"present", "absent", "late", "excused"}

type attendanceServer struct {
	db  store.Store
	now func() time.Time
}

// NewAttendanceServer builds the attendance and compliance domain server:
// registers, tamper-evident records, visa compliance, and GDPR retention.
func NewAttendanceServer(db store.Store, logger zerolog.Logger) (*mcp.Server, error) {
	return newAttendanceServer(db, logger, time.Now)
}

func newAttendanceServer(db store.Store, logger zerolog.Logger, now func() time.Time) (*mcp.Server, error) {
	a := &attendanceServer{db: db, now: now}
	srv := mcp.NewServer("attendance-mcp", serverVersion, auth.ScopeAttendance, logger)
	reg := newRegistrar(srv)

	reg.tool(mcp.Tool{
		Name:        "prepare_register",
		Description: "Initialize attendance register for a class session",
		Scope:       "attendance:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"session_id": prop("string", map[string]any{"format": "uuid"}),
			"date":       prop("string", map[string]any{"format": "date"}),
		}, "session_id"),
	}, a.prepareRegister)

	reg.tool(mcp.Tool{
		Name:        "record_attendance",
		Description: "Mark attendance status for a student (Present/Absent/Late/Excused)",
		Scope:       "attendance:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"register_id": prop("string", map[string]any{"format": "uuid"}),
			"student_id":  prop("string", map[string]any{"format": "uuid"}),
			"status":      prop("string", map[string]any{"enum": attendanceStatuses}),
			"notes":       prop("string"),
		}, "register_id", "student_id", "status"),
	}, a.recordAttendance)

	reg.tool(mcp.Tool{
		Name:        "correct_attendance",
		Description: "Admin correction of attendance with audit trail",
		Scope:       "attendance:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"attendance_id":     prop("string", map[string]any{"format": "uuid"}),
			"new_status":        prop("string", map[string]any{"enum": attendanceStatuses}),
			"correction_reason": prop("string"),
		}, "attendance_id", "new_status", "correction_reason"),
	}, a.correctAttendance)

	reg.tool(mcp.Tool{
		Name:        "export_attendance",
		Description: "Export attendance data with cryptographic hash for tamper evidence",
		Scope:       "attendance:read",
		Capability:  "read",
		InputSchema: schema(map[string]any{
			"class_id":  prop("string", map[string]any{"format": "uuid"}),
			"date_from": prop("string", map[string]any{"format": "date"}),
			"date_to":   prop("string", map[string]any{"format": "date"}),
			"format":    prop("string", map[string]any{"enum": []string{"csv", "excel", "pdf"}}),
		}, "class_id", "date_from", "date_to"),
	}, a.exportAttendance)

	reg.tool(mcp.Tool{
		Name:        "visa_compliance_report",
		Description: "Track visa student attendance compliance (80% requirement)",
		Scope:       "attendance:read",
		Capability:  "read",
		InputSchema: schema(map[string]any{
			"student_id":   prop("string", map[string]any{"format": "uuid"}),
			"period_weeks": prop("integer", map[string]any{"minimum": 1, "default": 4}),
		}, "student_id"),
	}, a.visaComplianceReport)

	reg.tool(mcp.Tool{
		Name:        "compile_compliance_pack",
		Description: "Bundle attendance documents for regulatory audit",
		Scope:       "attendance:read",
		Capability:  "read",
		InputSchema: schema(map[string]any{
			"audit_type": prop("string", map[string]any{"enum": []string{"visa", "accreditation", "internal"}}),
			"date_from":  prop("string", map[string]any{"format": "date"}),
			"date_to":    prop("string", map[string]any{"format": "date"}),
		}, "audit_type", "date_from", "date_to"),
	}, a.compileCompliancePack)

	reg.tool(mcp.Tool{
		Name:                 "anonymise_dataset",
		Description:          "GDPR anonymization of attendance data after retention period",
		Scope:                "attendance:write",
		Capability:           "write",
		ConfirmationRequired: true,
		InputSchema: schema(map[string]any{
			"before_date": prop("string", map[string]any{"format": "date"}),
			"dry_run":     prop("boolean", map[string]any{"default": true}),
			"confirm":     prop("boolean"),
		}, "before_date"),
	}, a.anonymiseDataset)

	reg.tool(mcp.Tool{
		Name:        "policy_check",
		Description: "Validate attendance data against retention and compliance policies",
		Scope:       "attendance:read",
		Capability:  "read",
		InputSchema: schema(map[string]any{
			"policy_type": prop("string", map[string]any{"enum": []string{"retention", "visa", "gdpr"}}),
		}, "policy_type"),
	}, a.policyCheck)

	reg.resource(mcp.Resource{
		URI:         "mycastle://attendance/registers",
		Name:        "Attendance Registers",
		Description: "List of all attendance registers",
	}, a.registersResource)

	reg.resource(mcp.Resource{
		URI:         "mycastle://attendance/compliance-status",
		Name:        "Compliance Status",
		Description: "Visa compliance status for all students",
	}, a.complianceStatusResource)

	reg.prompt(mcp.Prompt{
		Name:        "absence_followup",
		Description: "Prompt for following up on student absences",
		Arguments: []mcp.PromptArgument{
			{Name: "student_id", Description: "Student ID", Required: true},
		},
	}, a.absenceFollowupPrompt)

	return srv, reg.err()
}

func validAttendanceStatus(status string) bool {
	for _, known := range attendanceStatuses {
		if status == known {
			return true
		}
	}
	return false
}

func sha256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func (a *attendanceServer) prepareRegister(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	sessionID, err := requireString(args, "session_id")
	if err != nil {
		return nil, err
	}

	session, err := a.db.SelectOne(ctx, "session", store.Query{Filters: []store.Filter{store.Eq("id", sessionID)}})
	if errors.Is(err, store.ErrNotFound) {
		return failure("session not found"), nil
	}
	if err != nil {
		return nil, err
	}

	if _, ok := argString(args, "date"); ok {
		requested, err := requireDate(args, "date")
		if err != nil {
			return nil, err
		}
		sessionDate, _ := rowTime(session, "session_date")
		if !requested.Equal(sessionDate.Truncate(24 * time.Hour)) {
			return failure("date does not match the session date"), nil
		}
	}

	classID := rowString(session, "class_id")
	enrollments, err := a.db.Select(ctx, "enrollment", store.Query{
		Filters: []store.Filter{store.Eq("class_id", classID), store.Eq("status", "active")},
	})
	if err != nil {
		return nil, err
	}

	register, err := a.db.Insert(ctx, "register", store.Row{
		"session_id":  sessionID,
		"class_id":    classID,
		"status":      "open",
		"prepared_by": caller.UserID,
	})
	if err != nil {
		return nil, err
	}

	if len(enrollments) > 0 {
		entries := make([]store.Row, 0, len(enrollments))
		for _, enrollment := range enrollments {
			entries = append(entries, store.Row{
				"register_id": rowString(register, "id"),
				"student_id":  rowString(enrollment, "student_id"),
				"status":      "pending",
			})
		}
		if _, err := a.db.InsertMany(ctx, "attendance", entries); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"success":       true,
		"register_id":   register["id"],
		"student_count": len(enrollments),
		"message":       fmt.Sprintf("Register prepared for %d students", len(enrollments)),
		"register":      register,
	}, nil
}

func (a *attendanceServer) recordAttendance(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	registerID, err := requireString(args, "register_id")
	if err != nil {
		return nil, err
	}
	studentID, err := requireString(args, "student_id")
	if err != nil {
		return nil, err
	}
	status, err := requireString(args, "status")
	if err != nil {
		return nil, err
	}
	if !validAttendanceStatus(status) {
		return failure("unknown attendance status %q", status), nil
	}

	recordedAt := a.now().UTC()
	set := store.Row{
		"status":      status,
		"recorded_at": recordedAt,
		"recorded_by": caller.UserID,
	}
	if notes, ok := argString(args, "notes"); ok {
		set["notes"] = notes
	}
	updated, err := a.db.Update(ctx, "attendance", set,
		store.Eq("register_id", registerID), store.Eq("student_id", studentID))
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return failure("attendance entry not found"), nil
	}

	// Hash over id:status:recorded_at gives per-record tamper evidence.
	entry := updated[0]
	hash := sha256Hex(fmt.Sprintf("%s:%s:%s",
		rowString(entry, "id"), status, recordedAt.Format(time.RFC3339)))

	hashed, err := a.db.Update(ctx, "attendance",
		store.Row{"hash": hash}, store.Eq("id", rowString(entry, "id")))
	if err != nil {
		return nil, err
	}
	if len(hashed) > 0 {
		entry = hashed[0]
	}

	return map[string]any{
		"success":    true,
		"message":    fmt.Sprintf("Attendance marked as %s", status),
		"attendance": entry,
		"hash":       hash,
	}, nil
}

func (a *attendanceServer) correctAttendance(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	attendanceID, err := requireString(args, "attendance_id")
	if err != nil {
		return nil, err
	}
	newStatus, err := requireString(args, "new_status")
	if err != nil {
		return nil, err
	}
	if !validAttendanceStatus(newStatus) {
		return failure("unknown attendance status %q", newStatus), nil
	}
	reason, err := requireString(args, "correction_reason")
	if err != nil {
		return nil, err
	}

	current, err := a.db.SelectOne(ctx, "attendance", store.Query{Filters: []store.Filter{store.Eq("id", attendanceID)}})
	if errors.Is(err, store.ErrNotFound) {
		return failure("attendance record not found"), nil
	}
	if err != nil {
		return nil, err
	}

	if recordedAt, ok := rowTime(current, "recorded_at"); ok {
		elapsed := a.now().UTC().Sub(recordedAt)
		isAdmin := caller.Role == auth.RoleSuperAdmin || caller.Role == auth.RoleAdmin
		if elapsed > correctionWindow && !isAdmin {
			return failure("attendance can only be corrected within 48 hours, or by an admin"), nil
		}
	}

	previousStatus := rowString(current, "status")
	if _, err := a.db.Insert(ctx, "attendance_correction", store.Row{
		"attendance_id":   attendanceID,
		"previous_status": previousStatus,
		"new_status":      newStatus,
		"reason":          reason,
		"corrected_by":    caller.UserID,
	}); err != nil {
		return nil, err
	}

	if _, err := a.db.Update(ctx, "attendance", store.Row{
		"status":           newStatus,
		"correction_count": rowInt(current, "correction_count") + 1,
	}, store.Eq("id", attendanceID)); err != nil {
		return nil, err
	}

	return map[string]any{
		"success":       true,
		"message":       "Attendance corrected with audit trail",
		"old_status":    previousStatus,
		"new_status":    newStatus,
		"audit_created": true,
	}, nil
}

func (a *attendanceServer) exportAttendance(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	classID, err := requireString(args, "class_id")
	if err != nil {
		return nil, err
	}
	from, err := requireDate(args, "date_from")
	if err != nil {
		return nil, err
	}
	to, err := requireDate(args, "date_to")
	if err != nil {
		return nil, err
	}
	format := "csv"
	if f, ok := argString(args, "format"); ok {
		format = f
	}

	registers, err := a.db.Select(ctx, "register", store.Query{
		Filters: []store.Filter{
			store.Eq("class_id", classID),
			store.Gte("created_at", from),
			store.Lt("created_at", to.AddDate(0, 0, 1)),
		},
	})
	if err != nil {
		return nil, err
	}

	records := []store.Row{}
	if len(registers) > 0 {
		registerIDs := make([]string, 0, len(registers))
		for _, register := range registers {
			registerIDs = append(registerIDs, rowString(register, "id"))
		}
		records, err = a.db.Select(ctx, "attendance", store.Query{
			Filters: []store.Filter{store.In("register_id", registerIDs)},
			OrderBy: []string{"created_at"},
		})
		if err != nil {
			return nil, err
		}
	}

	// json.Marshal emits map keys in sorted order, so the hash is stable.
	canonical, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":      true,
		"format":       format,
		"record_count": len(records),
		"data":         records,
		"export_hash":  sha256Hex(string(canonical)),
		"message":      fmt.Sprintf("Exported %d records with hash verification", len(records)),
	}, nil
}

// complianceSummary computes one student's attendance compliance over the
// trailing period.
func (a *attendanceServer) complianceSummary(ctx context.Context, studentID string, periodWeeks int) (map[string]any, error) {
	from := a.now().UTC().AddDate(0, 0, -periodWeeks*7)
	records, err := a.db.Select(ctx, "attendance", store.Query{
		Filters: []store.Filter{
			store.Eq("student_id", studentID),
			store.Gte("recorded_at", from),
		},
	})
	if err != nil {
		return nil, err
	}

	total := len(records)
	present := 0
	for _, record := range records {
		switch rowString(record, "status") {
		case "present", "late":
			present++
		}
	}

	percentage := 0.0
	if total > 0 {
		percentage = float64(present) / float64(total) * 100
	}

	compliant := percentage >= visaComplianceThreshold
	status := "compliant"
	if !compliant {
		status = "at_risk"
		if percentage < visaNonCompliantThreshold {
			status = "non_compliant"
		}
	}

	summary := map[string]any{
		"success":               true,
		"student_id":            studentID,
		"period_weeks":          periodWeeks,
		"total_sessions":        total,
		"present_count":         present,
		"attendance_percentage": percentage,
		"compliant":             compliant,
		"status":                status,
	}
	if !compliant {
		summary["warning"] = "Student below 80% visa compliance threshold"
	}
	return summary, nil
}

func (a *attendanceServer) visaComplianceReport(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	studentID, err := requireString(args, "student_id")
	if err != nil {
		return nil, err
	}
	periodWeeks := 4
	if n, ok := argInt(args, "period_weeks"); ok && n > 0 {
		periodWeeks = n
	}
	return a.complianceSummary(ctx, studentID, periodWeeks)
}

func (a *attendanceServer) compileCompliancePack(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	auditType, err := requireString(args, "audit_type")
	if err != nil {
		return nil, err
	}
	from, err := requireDate(args, "date_from")
	if err != nil {
		return nil, err
	}
	to, err := requireDate(args, "date_to")
	if err != nil {
		return nil, err
	}

	registers, err := a.db.Select(ctx, "register", store.Query{
		Filters: []store.Filter{
			store.Gte("created_at", from),
			store.Lt("created_at", to.AddDate(0, 0, 1)),
		},
	})
	if err != nil {
		return nil, err
	}

	corrections, err := a.db.Select(ctx, "attendance_correction", store.Query{
		Filters: []store.Filter{
			store.Gte("created_at", from),
			store.Lt("created_at", to.AddDate(0, 0, 1)),
		},
	})
	if err != nil {
		return nil, err
	}

	documents := []map[string]any{
		{"type": "attendance_registers", "count": len(registers), "data": registers},
		{"type": "corrections_audit", "count": len(corrections), "data": corrections},
	}

	if auditType == "visa" {
		visaStudents, err := a.db.Select(ctx, "visa_status", store.Query{})
		if err != nil {
			return nil, err
		}
		compliance := make([]map[string]any, 0, len(visaStudents))
		for _, visa := range visaStudents {
			summary, err := a.complianceSummary(ctx, rowString(visa, "student_id"), 4)
			if err != nil {
				return nil, err
			}
			compliance = append(compliance, summary)
		}
		documents = append(documents, map[string]any{
			"type": "visa_compliance", "count": len(compliance), "data": compliance,
		})
	}

	canonical, err := json.Marshal(documents)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":        true,
		"audit_type":     auditType,
		"period":         fmt.Sprintf("%s to %s", from.Format(dateLayout), to.Format(dateLayout)),
		"document_count": len(documents),
		"documents":      documents,
		"pack_hash":      sha256Hex(string(canonical)),
		"message":        fmt.Sprintf("Compiled %d document types for %s audit", len(documents), auditType),
	}, nil
}

func (a *attendanceServer) anonymiseDataset(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	before, err := requireDate(args, "before_date")
	if err != nil {
		return nil, err
	}
	dryRun := argBool(args, "dry_run", true)

	records, err := a.db.Select(ctx, "attendance", store.Query{
		Filters: []store.Filter{
			store.Lt("recorded_at", before),
			store.Eq("anonymized", false),
		},
	})
	if err != nil {
		return nil, err
	}

	if dryRun {
		return map[string]any{
			"success":       true,
			"dry_run":       true,
			"records_count": len(records),
			"message":       fmt.Sprintf("Would anonymize %d records (dry run)", len(records)),
		}, nil
	}

	anonymized := 0
	for _, record := range records {
		anonymousID := sha256Hex("anon_" + rowString(record, "student_id"))[:16]
		if _, err := a.db.Update(ctx, "attendance", store.Row{
			"student_id": anonymousID,
			"anonymized": true,
		}, store.Eq("id", rowString(record, "id"))); err != nil {
			return nil, err
		}
		anonymized++
	}

	return map[string]any{
		"success":            true,
		"dry_run":            false,
		"records_anonymized": anonymized,
		"message":            fmt.Sprintf("Anonymized %d records for GDPR compliance", anonymized),
	}, nil
}

func (a *attendanceServer) policyCheck(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	policyType, err := requireString(args, "policy_type")
	if err != nil {
		return nil, err
	}

	issues := []map[string]any{}
	switch policyType {
	case "retention":
		cutoff := a.now().UTC().AddDate(0, 0, -retentionPeriodDays)
		count, err := a.db.Count(ctx, "attendance",
			store.Lt("recorded_at", cutoff), store.Eq("anonymized", false))
		if err != nil {
			return nil, err
		}
		if count > 0 {
			issues = append(issues, map[string]any{
				"type":    "retention_violation",
				"count":   count,
				"message": fmt.Sprintf("%d records exceed 7-year retention policy", count),
			})
		}

	case "visa":
		visaStudents, err := a.db.Select(ctx, "visa_status", store.Query{})
		if err != nil {
			return nil, err
		}
		for _, visa := range visaStudents {
			studentID := rowString(visa, "student_id")
			summary, err := a.complianceSummary(ctx, studentID, 4)
			if err != nil {
				return nil, err
			}
			if compliant, _ := summary["compliant"].(bool); !compliant {
				issues = append(issues, map[string]any{
					"type":                  "visa_compliance",
					"student_id":            studentID,
					"attendance_percentage": summary["attendance_percentage"],
					"message":               "Student below 80% visa compliance",
				})
			}
		}

	case "gdpr":
		cutoff := a.now().UTC().AddDate(0, 0, -gdprAnonymizationAfterDays)
		count, err := a.db.Count(ctx, "attendance",
			store.Lt("recorded_at", cutoff), store.Eq("anonymized", false))
		if err != nil {
			return nil, err
		}
		if count > 0 {
			issues = append(issues, map[string]any{
				"type":    "gdpr_anonymization",
				"count":   count,
				"message": fmt.Sprintf("%d records should be anonymized", count),
			})
		}

	default:
		return failure("unknown policy type %q", policyType), nil
	}

	compliant := len(issues) == 0
	message := "Policy check complete"
	if !compliant {
		message = fmt.Sprintf("Found %d policy violations", len(issues))
	}

	return map[string]any{
		"success":     true,
		"policy_type": policyType,
		"compliant":   compliant,
		"issue_count": len(issues),
		"issues":      issues,
		"message":     message,
	}, nil
}

func (a *attendanceServer) registersResource(ctx context.Context, caller *auth.Context) (any, error) {
	return a.db.Select(ctx, "register", store.Query{
		OrderBy: []string{"created_at DESC"},
		Limit:   100,
	})
}

func (a *attendanceServer) complianceStatusResource(ctx context.Context, caller *auth.Context) (any, error) {
	visaStudents, err := a.db.Select(ctx, "visa_status", store.Query{})
	if err != nil {
		return nil, err
	}

	statuses := make([]map[string]any, 0, len(visaStudents))
	for _, visa := range visaStudents {
		summary, err := a.complianceSummary(ctx, rowString(visa, "student_id"), 4)
		if err != nil {
			return nil, err
		}
		summary["visa_status"] = visa["status"]
		statuses = append(statuses, summary)
	}
	return statuses, nil
}

func (a *attendanceServer) absenceFollowupPrompt(ctx context.Context, caller *auth.Context, args map[string]any) ([]mcp.PromptMessage, error) {
	studentID, err := requireString(args, "student_id")
	if err != nil {
		return nil, err
	}

	absences, err := a.db.Select(ctx, "attendance", store.Query{
		Filters: []store.Filter{
			store.Eq("student_id", studentID),
			store.Eq("status", "absent"),
		},
		OrderBy: []string{"recorded_at DESC"},
		Limit:   10,
	})
	if err != nil {
		return nil, err
	}

	return []mcp.PromptMessage{
		systemMessage("You are a pastoral care coordinator following up on student absences."),
		userMessage(fmt.Sprintf(
			"Draft a follow-up message for a student with %d recent absences:\n%s",
			len(absences), indentJSON(absences))),
	}, nil
}
