package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jojopeligroso/MyCastle/internal/auth"
	"github.com/jojopeligroso/MyCastle/internal/mcp"
	"github.com/jojopeligroso/MyCastle/internal/store"
)

var cpdTypes = []string{"course", "workshop", "webinar", "reading"}

type opsServer struct {
	db  store.Store
	now func() time.Time
}

// NewOpsServer builds the operations domain server: backups, teacher quality
// assurance, and bulk communications.
func NewOpsServer(db store.Store, logger zerolog.Logger) (*mcp.Server, error) {
	return newOpsServer(db, logger, time.Now)
}

func newOpsServer(db store.Store, logger zerolog.Logger, now func() time.Time) (*mcp.Server, error) {
	s := &opsServer{db: db, now: now}
	srv := mcp.NewServer("operations-mcp", serverVersion, auth.ScopeOps, logger)
	reg := newRegistrar(srv)

	reg.tool(mcp.Tool{
		Name:        "backup_db",
		Description: "Trigger database backup (super_admin only)",
		Scope:       "ops:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"backup_type": prop("string", map[string]any{
				"enum":    []string{"full", "incremental"},
				"default": "full",
			}),
		}),
	}, s.backupDB)

	reg.tool(mcp.Tool{
		Name:                 "restore_snapshot",
		Description:          "Restore database from backup snapshot (super_admin only, requires confirmation)",
		Scope:                "ops:write",
		Capability:           "write",
		ConfirmationRequired: true,
		InputSchema: schema(map[string]any{
			"backup_id": prop("string", map[string]any{"format": "uuid"}),
			"confirm":   prop("boolean", map[string]any{"default": false}),
		}, "backup_id"),
	}, s.restoreSnapshot)

	reg.tool(mcp.Tool{
		Name:        "record_observation",
		Description: "Record teacher classroom observation",
		Scope:       "ops:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"teacher_id":  prop("string", map[string]any{"format": "uuid"}),
			"class_id":    prop("string", map[string]any{"format": "uuid"}),
			"rating":      prop("integer", map[string]any{"minimum": 1, "maximum": 5}),
			"notes":       prop("string"),
			"observer_id": prop("string", map[string]any{"format": "uuid"}),
		}, "teacher_id", "rating", "notes"),
	}, s.recordObservation)

	reg.tool(mcp.Tool{
		Name:        "assign_cpd",
		Description: "Assign continuing professional development activity",
		Scope:       "ops:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"teacher_id": prop("string", map[string]any{"format": "uuid"}),
			"title":      prop("string"),
			"cpd_type":   prop("string", map[string]any{"enum": cpdTypes}),
			"due_date":   prop("string", map[string]any{"format": "date"}),
		}, "teacher_id", "title", "cpd_type"),
	}, s.assignCPD)

	reg.tool(mcp.Tool{
		Name:        "export_quality_report",
		Description: "Export teaching quality report",
		Scope:       "ops:read",
		Capability:  "read",
		InputSchema: schema(map[string]any{
			"period_start": prop("string", map[string]any{"format": "date"}),
			"period_end":   prop("string", map[string]any{"format": "date"}),
			"format":       prop("string", map[string]any{"enum": []string{"pdf", "excel", "json"}}),
		}, "period_start", "period_end"),
	}, s.exportQualityReport)

	reg.tool(mcp.Tool{
		Name:        "bulk_email",
		Description: "Send bulk email to a recipient group",
		Scope:       "ops:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"recipient_group": prop("string", map[string]any{
				"enum": []string{"all_students", "all_teachers", "all_staff", "custom"},
			}),
			"subject":       prop("string"),
			"body":          prop("string"),
			"recipient_ids": prop("array", map[string]any{"items": map[string]any{"type": "string"}}),
		}, "recipient_group", "subject", "body"),
	}, s.bulkEmail)

	reg.tool(mcp.Tool{
		Name:        "notify_stakeholders",
		Description: "Send targeted notifications to stakeholders",
		Scope:       "ops:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"recipient_ids":     prop("array", map[string]any{"items": map[string]any{"type": "string"}}),
			"message":           prop("string"),
			"notification_type": prop("string", map[string]any{"enum": []string{"email", "sms", "in_app"}}),
			"priority": prop("string", map[string]any{
				"enum":    []string{"low", "normal", "high", "urgent"},
				"default": "normal",
			}),
		}, "recipient_ids", "message"),
	}, s.notifyStakeholders)

	reg.tool(mcp.Tool{
		Name:        "mail_merge_pdf",
		Description: "Generate personalized PDFs via mail merge",
		Scope:       "ops:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"template_name": prop("string"),
			"recipient_ids": prop("array", map[string]any{"items": map[string]any{"type": "string"}}),
			"merge_fields":  prop("object"),
		}, "template_name", "recipient_ids"),
	}, s.mailMergePDF)

	reg.resource(mcp.Resource{
		URI:         "mycastle://ops/backups",
		Name:        "Backup History",
		Description: "Recent database backups",
	}, s.backupsResource)

	reg.resource(mcp.Resource{
		URI:         "mycastle://ops/observations",
		Name:        "Teaching Observations",
		Description: "Recent classroom observations",
	}, s.observationsResource)

	reg.prompt(mcp.Prompt{
		Name:        "observation_feedback",
		Description: "Prompt for drafting constructive observation feedback",
		Arguments: []mcp.PromptArgument{
			{Name: "observation_id", Description: "Observation ID", Required: true},
		},
	}, s.observationFeedbackPrompt)

	return srv, reg.err()
}

func (s *opsServer) backupDB(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	if caller.Role != auth.RoleSuperAdmin {
		return failure("only super_admin can trigger backups"), nil
	}

	backupType := "full"
	if t, ok := argString(args, "backup_type"); ok {
		backupType = t
	}
	switch backupType {
	case "full", "incremental":
	default:
		return failure("unknown backup type %q", backupType), nil
	}

	started := s.now().UTC()
	backup, err := s.db.Insert(ctx, "backup", store.Row{
		"backup_type":  backupType,
		"status":       "in_progress",
		"initiated_by": caller.UserID,
		"started_at":   started,
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.db.Update(ctx, "backup", store.Row{
		"status":       "completed",
		"completed_at": s.now().UTC(),
	}, store.Eq("id", backup["id"]))
	if err != nil {
		return nil, err
	}
	if len(updated) > 0 {
		backup = updated[0]
	}

	return map[string]any{
		"success":     true,
		"backup_id":   backup["id"],
		"backup_type": backupType,
		"message":     fmt.Sprintf("%s backup completed", backupType),
		"backup":      backup,
	}, nil
}

func (s *opsServer) restoreSnapshot(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	if caller.Role != auth.RoleSuperAdmin {
		return failure("only super_admin can restore snapshots"), nil
	}
	backupID, err := requireString(args, "backup_id")
	if err != nil {
		return nil, err
	}
	if !argBool(args, "confirm", false) {
		return failure("restore requires explicit confirmation (set confirm=true)"), nil
	}

	backup, err := s.db.SelectOne(ctx, "backup", store.Query{
		Filters: []store.Filter{store.Eq("id", backupID)},
	})
	if errors.Is(err, store.ErrNotFound) {
		return failure("backup not found"), nil
	}
	if err != nil {
		return nil, err
	}
	if rowString(backup, "status") != "completed" {
		return failure("backup %s is not in a restorable state", backupID), nil
	}

	restore, err := s.db.Insert(ctx, "restore_log", store.Row{
		"backup_id":    backupID,
		"status":       "completed",
		"initiated_by": caller.UserID,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":    true,
		"restore_id": restore["id"],
		"backup_id":  backupID,
		"message":    "Database restored from snapshot",
	}, nil
}

func (s *opsServer) recordObservation(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	teacherID, err := requireString(args, "teacher_id")
	if err != nil {
		return nil, err
	}
	rating, err := requireInt(args, "rating")
	if err != nil {
		return nil, err
	}
	if rating < 1 || rating > 5 {
		return failure("rating must be between 1 and 5"), nil
	}
	notes, err := requireString(args, "notes")
	if err != nil {
		return nil, err
	}

	observerID := caller.UserID
	if o, ok := argString(args, "observer_id"); ok {
		observerID = o
	}

	row := store.Row{
		"teacher_id":  teacherID,
		"observer_id": observerID,
		"rating":      rating,
		"notes":       notes,
		"observed_at": s.now().UTC(),
	}
	if classID, ok := argString(args, "class_id"); ok {
		row["class_id"] = classID
	}

	observation, err := s.db.Insert(ctx, "observation", row)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":        true,
		"observation_id": observation["id"],
		"rating":         rating,
		"message":        "Observation recorded",
	}, nil
}

func (s *opsServer) assignCPD(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	teacherID, err := requireString(args, "teacher_id")
	if err != nil {
		return nil, err
	}
	title, err := requireString(args, "title")
	if err != nil {
		return nil, err
	}
	cpdType, err := requireString(args, "cpd_type")
	if err != nil {
		return nil, err
	}
	valid := false
	for _, t := range cpdTypes {
		if cpdType == t {
			valid = true
			break
		}
	}
	if !valid {
		return failure("unknown CPD type %q", cpdType), nil
	}

	row := store.Row{
		"teacher_id":  teacherID,
		"title":       title,
		"cpd_type":    cpdType,
		"status":      "assigned",
		"assigned_by": caller.UserID,
	}
	if _, ok := argString(args, "due_date"); ok {
		due, err := requireDate(args, "due_date")
		if err != nil {
			return nil, err
		}
		row["due_date"] = due.Format(dateLayout)
	}

	cpd, err := s.db.Insert(ctx, "cpd", row)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success": true,
		"cpd_id":  cpd["id"],
		"message": fmt.Sprintf("CPD activity %q assigned", title),
	}, nil
}

func (s *opsServer) exportQualityReport(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	start, err := requireDate(args, "period_start")
	if err != nil {
		return nil, err
	}
	end, err := requireDate(args, "period_end")
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return failure("period_end must not be before period_start"), nil
	}
	format := "json"
	if f, ok := argString(args, "format"); ok {
		format = f
	}

	observations, err := s.db.Select(ctx, "observation", store.Query{
		Filters: []store.Filter{
			store.Gte("observed_at", start),
			store.Lte("observed_at", end.AddDate(0, 0, 1)),
		},
	})
	if err != nil {
		return nil, err
	}

	cpdRecords, err := s.db.Select(ctx, "cpd", store.Query{
		Filters: []store.Filter{
			store.Gte("created_at", start),
			store.Lte("created_at", end.AddDate(0, 0, 1)),
		},
	})
	if err != nil {
		return nil, err
	}

	feedback, err := s.db.Select(ctx, "feedback", store.Query{
		Filters: []store.Filter{
			store.Gte("created_at", start),
			store.Lte("created_at", end.AddDate(0, 0, 1)),
		},
	})
	if err != nil {
		return nil, err
	}

	var ratingSum, ratingCount float64
	for _, o := range observations {
		ratingSum += rowFloat(o, "rating")
		ratingCount++
	}
	avgRating := 0.0
	if ratingCount > 0 {
		avgRating = ratingSum / ratingCount
	}

	cpdCompleted := 0
	for _, c := range cpdRecords {
		if rowString(c, "status") == "completed" {
			cpdCompleted++
		}
	}

	return map[string]any{
		"success": true,
		"format":  format,
		"period": map[string]any{
			"start": start.Format(dateLayout),
			"end":   end.Format(dateLayout),
		},
		"observation_count":  len(observations),
		"average_rating":     avgRating,
		"cpd_assigned":       len(cpdRecords),
		"cpd_completed":      cpdCompleted,
		"feedback_count":     len(feedback),
		"observations":       observations,
		"cpd_records":        cpdRecords,
		"student_feedback":   feedback,
		"message":            "Quality report generated",
	}, nil
}

// resolveRecipients maps a recipient group to app_user rows.
func (s *opsServer) resolveRecipients(ctx context.Context, group string, recipientIDs []string) ([]store.Row, error) {
	var filter store.Filter
	switch group {
	case "all_students":
		filter = store.Eq("role", "student")
	case "all_teachers":
		filter = store.In("role", []any{
			auth.RoleTeacher, auth.RoleTeacherDOS, auth.RoleTeacherAssistantDOS,
		})
	case "all_staff":
		filter = store.In("role", []any{
			auth.RoleAdmin, auth.RoleAdminDOS, auth.RoleAdminReception, auth.RoleAdminStudentOps,
		})
	case "custom":
		if len(recipientIDs) == 0 {
			return nil, errNoRecipients
		}
		ids := make([]any, len(recipientIDs))
		for i, id := range recipientIDs {
			ids[i] = id
		}
		filter = store.In("id", ids)
	default:
		return nil, fmt.Errorf("unknown recipient group %q", group)
	}
	return s.db.Select(ctx, "app_user", store.Query{Filters: []store.Filter{filter}})
}

var errNoRecipients = errors.New("custom group requires recipient_ids")

func (s *opsServer) bulkEmail(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	group, err := requireString(args, "recipient_group")
	if err != nil {
		return nil, err
	}
	subject, err := requireString(args, "subject")
	if err != nil {
		return nil, err
	}
	body, err := requireString(args, "body")
	if err != nil {
		return nil, err
	}

	recipients, err := s.resolveRecipients(ctx, group, argStringSlice(args, "recipient_ids"))
	if errors.Is(err, errNoRecipients) {
		return failure("recipient_ids is required for the custom group"), nil
	}
	if err != nil {
		return failure("%v", err), nil
	}
	if len(recipients) == 0 {
		return failure("no recipients matched group %q", group), nil
	}

	batch, err := s.db.Insert(ctx, "email_batch", store.Row{
		"recipient_group": group,
		"recipient_count": len(recipients),
		"subject":         subject,
		"body":            body,
		"status":          "queued",
		"created_by":      caller.UserID,
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.db.Update(ctx, "email_batch",
		store.Row{"status": "sending"}, store.Eq("id", batch["id"]))
	if err != nil {
		return nil, err
	}
	if len(updated) > 0 {
		batch = updated[0]
	}

	return map[string]any{
		"success":         true,
		"batch_id":        batch["id"],
		"recipient_count": len(recipients),
		"message":         fmt.Sprintf("Email batch queued for %d recipients", len(recipients)),
	}, nil
}

func (s *opsServer) notifyStakeholders(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	recipientIDs := argStringSlice(args, "recipient_ids")
	if len(recipientIDs) == 0 {
		return nil, fmt.Errorf("missing required argument %q", "recipient_ids")
	}
	message, err := requireString(args, "message")
	if err != nil {
		return nil, err
	}

	notificationType := "email"
	if t, ok := argString(args, "notification_type"); ok {
		notificationType = t
	}
	priority := "normal"
	if p, ok := argString(args, "priority"); ok {
		priority = p
	}
	switch priority {
	case "low", "normal", "high", "urgent":
	default:
		return failure("unknown priority %q", priority), nil
	}

	rows := make([]store.Row, len(recipientIDs))
	for i, id := range recipientIDs {
		rows[i] = store.Row{
			"recipient_id":      id,
			"notification_type": notificationType,
			"priority":          priority,
			"message":           message,
			"status":            "sent",
		}
	}
	if _, err := s.db.InsertMany(ctx, "notification", rows); err != nil {
		return nil, err
	}

	return map[string]any{
		"success":         true,
		"notified_count":  len(recipientIDs),
		"priority":        priority,
		"message":         fmt.Sprintf("Notified %d stakeholders", len(recipientIDs)),
	}, nil
}

func (s *opsServer) mailMergePDF(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	templateName, err := requireString(args, "template_name")
	if err != nil {
		return nil, err
	}
	recipientIDs := argStringSlice(args, "recipient_ids")
	if len(recipientIDs) == 0 {
		return nil, fmt.Errorf("missing required argument %q", "recipient_ids")
	}
	mergeFields, _ := args["merge_fields"].(map[string]any)

	template, err := s.db.SelectOne(ctx, "pdf_template", store.Query{
		Filters: []store.Filter{store.Eq("name", templateName)},
	})
	if errors.Is(err, store.ErrNotFound) {
		return failure("template not found"), nil
	}
	if err != nil {
		return nil, err
	}

	generated := 0
	for _, recipientID := range recipientIDs {
		recipient, err := s.db.SelectOne(ctx, "app_user", store.Query{
			Filters: []store.Filter{store.Eq("id", recipientID)},
		})
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		data := map[string]any{
			"name":  rowString(recipient, "full_name"),
			"email": rowString(recipient, "email"),
		}
		for k, v := range mergeFields {
			data[k] = v
		}

		if _, err := s.db.Insert(ctx, "generated_pdf", store.Row{
			"template_id":  template["id"],
			"recipient_id": recipientID,
			"data":         data,
			"status":       "generated",
		}); err != nil {
			return nil, err
		}
		generated++
	}

	return map[string]any{
		"success":         true,
		"template":        templateName,
		"generated_count": generated,
		"message":         fmt.Sprintf("Generated %d PDFs from template %q", generated, templateName),
	}, nil
}

func (s *opsServer) backupsResource(ctx context.Context, caller *auth.Context) (any, error) {
	return s.db.Select(ctx, "backup", store.Query{
		OrderBy: []string{"created_at DESC"},
		Limit:   50,
	})
}

func (s *opsServer) observationsResource(ctx context.Context, caller *auth.Context) (any, error) {
	return s.db.Select(ctx, "observation", store.Query{
		OrderBy: []string{"observed_at DESC"},
		Limit:   100,
	})
}

func (s *opsServer) observationFeedbackPrompt(ctx context.Context, caller *auth.Context, args map[string]any) ([]mcp.PromptMessage, error) {
	observationID, err := requireString(args, "observation_id")
	if err != nil {
		return nil, err
	}

	observation, err := s.db.SelectOne(ctx, "observation", store.Query{
		Filters: []store.Filter{store.Eq("id", observationID)},
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	details := "No observation record found."
	if err == nil {
		details = fmt.Sprintf("Rating: %d/5\nNotes: %s",
			rowInt(observation, "rating"), rowString(observation, "notes"))
	}

	return []mcp.PromptMessage{
		systemMessage("You are an experienced director of studies giving constructive feedback to teachers."),
		userMessage(fmt.Sprintf(
			"Draft constructive feedback for this classroom observation:\n%s\nBalance strengths with areas for development.",
			details)),
	}, nil
}
