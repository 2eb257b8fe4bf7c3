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

type studentServer struct {
	db  store.Store
	now func() time.Time
}

// NewStudentServer builds the student self-service server. Every tool is
// keyed on the caller's own user ID, never on a student_id argument.
func NewStudentServer(db store.Store, logger zerolog.Logger) (*mcp.Server, error) {
	return newStudentServer(db, logger, time.Now)
}

func newStudentServer(db store.Store, logger zerolog.Logger, now func() time.Time) (*mcp.Server, error) {
	s := &studentServer{db: db, now: now}
	srv := mcp.NewServer("student-mcp", serverVersion, auth.ScopeStudent, logger)
	reg := newRegistrar(srv)

	reg.tool(mcp.Tool{
		Name:        "view_timetable",
		Description: "View personal class timetable for a week",
		Scope:       "student:read",
		Capability:  "read",
		InputSchema: schema(map[string]any{
			"week_offset": prop("integer", map[string]any{"default": 0}),
		}),
	}, s.viewTimetable)

	reg.tool(mcp.Tool{
		Name:        "download_materials",
		Description: "List published class materials available for download",
		Scope:       "student:read",
		Capability:  "read",
		InputSchema: schema(map[string]any{
			"class_id": prop("string", map[string]any{"format": "uuid"}),
		}, "class_id"),
	}, s.downloadMaterials)

	reg.tool(mcp.Tool{
		Name:        "submit_homework",
		Description: "Submit homework for an assignment",
		Scope:       "student:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"assignment_id": prop("string", map[string]any{"format": "uuid"}),
			"content":       prop("string"),
		}, "assignment_id", "content"),
	}, s.submitHomework)

	reg.tool(mcp.Tool{
		Name:        "view_grades",
		Description: "View grades for submitted homework",
		Scope:       "student:read",
		Capability:  "read",
		InputSchema: schema(map[string]any{}),
	}, s.viewGrades)

	reg.tool(mcp.Tool{
		Name:        "ask_tutor",
		Description: "Ask the study tutor a question",
		Scope:       "student:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"question": prop("string"),
		}, "question"),
	}, s.askTutor)

	reg.tool(mcp.Tool{
		Name:        "track_progress",
		Description: "View overall study progress metrics",
		Scope:       "student:read",
		Capability:  "read",
		InputSchema: schema(map[string]any{}),
	}, s.trackProgress)

	reg.tool(mcp.Tool{
		Name:        "attendance_summary",
		Description: "View personal attendance summary",
		Scope:       "student:read",
		Capability:  "read",
		InputSchema: schema(map[string]any{
			"weeks": prop("integer", map[string]any{"default": 4, "minimum": 1}),
		}),
	}, s.attendanceSummary)

	reg.tool(mcp.Tool{
		Name:        "request_letter",
		Description: "Request an official letter",
		Scope:       "student:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"letter_type": prop("string", map[string]any{
				"enum": []string{"attendance", "enrollment", "reference"},
			}),
		}, "letter_type"),
	}, s.requestLetter)

	reg.tool(mcp.Tool{
		Name:        "raise_support_request",
		Description: "Raise a support ticket",
		Scope:       "student:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"category": prop("string", map[string]any{
				"enum": []string{"academic", "accommodation", "finance", "welfare", "technical", "other"},
			}),
			"subject":     prop("string"),
			"description": prop("string"),
			"priority": prop("string", map[string]any{
				"enum":    []string{"low", "medium", "high"},
				"default": "medium",
			}),
		}, "category", "subject", "description"),
	}, s.raiseSupportRequest)

	reg.tool(mcp.Tool{
		Name:        "view_invoice",
		Description: "View personal invoices and outstanding balance",
		Scope:       "student:read",
		Capability:  "read",
		InputSchema: schema(map[string]any{
			"invoice_id": prop("string", map[string]any{"format": "uuid"}),
		}),
	}, s.viewInvoice)

	reg.resource(mcp.Resource{
		URI:         "mycastle://student/timetable",
		Name:        "My Timetable",
		Description: "Current week timetable",
	}, s.timetableResource)

	reg.resource(mcp.Resource{
		URI:         "mycastle://student/materials",
		Name:        "My Materials",
		Description: "Published materials for enrolled classes",
	}, s.materialsResource)

	reg.resource(mcp.Resource{
		URI:         "mycastle://student/progress",
		Name:        "My Progress",
		Description: "Study progress summary",
	}, s.progressResource)

	reg.prompt(mcp.Prompt{
		Name:        "study_plan",
		Description: "Prompt for generating a personalized study plan",
		Arguments: []mcp.PromptArgument{
			{Name: "cefr_level", Description: "Current CEFR level", Required: true},
			{Name: "goals", Description: "Learning goals", Required: false},
		},
	}, s.studyPlanPrompt)

	return srv, reg.err()
}

// enrolledClassIDs returns the class IDs of the caller's active enrollments.
func (s *studentServer) enrolledClassIDs(ctx context.Context, studentID string) ([]any, error) {
	enrollments, err := s.db.Select(ctx, "enrollment", store.Query{
		Filters: []store.Filter{
			store.Eq("student_id", studentID),
			store.Eq("status", "active"),
		},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]any, len(enrollments))
	for i, e := range enrollments {
		ids[i] = rowString(e, "class_id")
	}
	return ids, nil
}

func (s *studentServer) weekTimetable(ctx context.Context, studentID string, weekOffset int) (map[string]any, error) {
	classIDs, err := s.enrolledClassIDs(ctx, studentID)
	if err != nil {
		return nil, err
	}

	today := s.now().UTC()
	// Monday of the requested week.
	weekday := int(today.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	weekStart := today.AddDate(0, 0, -(weekday-1)+weekOffset*7)
	weekEnd := weekStart.AddDate(0, 0, 6)

	result := map[string]any{
		"week_start": weekStart.Format(dateLayout),
		"week_end":   weekEnd.Format(dateLayout),
		"sessions":   []map[string]any{},
	}
	if len(classIDs) == 0 {
		return result, nil
	}

	sessions, err := s.db.Select(ctx, "session", store.Query{
		Filters: []store.Filter{
			store.In("class_id", classIDs),
			store.Gte("session_date", weekStart.Format(dateLayout)),
			store.Lte("session_date", weekEnd.Format(dateLayout)),
		},
		OrderBy: []string{"session_date", "start_time"},
	})
	if err != nil {
		return nil, err
	}

	classes, err := s.db.Select(ctx, "class", store.Query{
		Filters: []store.Filter{store.In("id", classIDs)},
	})
	if err != nil {
		return nil, err
	}
	classNames := make(map[string]string, len(classes))
	for _, c := range classes {
		classNames[rowString(c, "id")] = rowString(c, "name")
	}

	entries := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		date := rowString(sess, "session_date")
		if t, ok := rowTime(sess, "session_date"); ok {
			date = t.Format(dateLayout)
		}
		entries = append(entries, map[string]any{
			"session_id": sess["id"],
			"class_name": classNames[rowString(sess, "class_id")],
			"date":       date,
			"start_time": rowString(sess, "start_time"),
			"end_time":   rowString(sess, "end_time"),
			"room":       rowString(sess, "room"),
		})
	}
	result["sessions"] = entries
	return result, nil
}

func (s *studentServer) viewTimetable(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	weekOffset := 0
	if v, ok := argInt(args, "week_offset"); ok {
		weekOffset = v
	}

	timetable, err := s.weekTimetable(ctx, caller.UserID, weekOffset)
	if err != nil {
		return nil, err
	}
	timetable["success"] = true
	return timetable, nil
}

func (s *studentServer) downloadMaterials(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	classID, err := requireString(args, "class_id")
	if err != nil {
		return nil, err
	}

	enrolled, err := s.db.Count(ctx, "enrollment",
		store.Eq("student_id", caller.UserID),
		store.Eq("class_id", classID),
		store.Eq("status", "active"))
	if err != nil {
		return nil, err
	}
	if enrolled == 0 {
		return failure("not enrolled in this class"), nil
	}

	materials, err := s.db.Select(ctx, "class_material", store.Query{
		Filters: []store.Filter{
			store.Eq("class_id", classID),
			store.Lte("publish_date", s.now().UTC().Format(dateLayout)),
		},
		OrderBy: []string{"publish_date DESC"},
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":   true,
		"class_id":  classID,
		"materials": materials,
		"count":     len(materials),
	}, nil
}

func (s *studentServer) submitHomework(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	assignmentID, err := requireString(args, "assignment_id")
	if err != nil {
		return nil, err
	}
	content, err := requireString(args, "content")
	if err != nil {
		return nil, err
	}

	assignment, err := s.db.SelectOne(ctx, "assignment", store.Query{
		Filters: []store.Filter{store.Eq("id", assignmentID)},
	})
	if errors.Is(err, store.ErrNotFound) {
		return failure("assignment not found"), nil
	}
	if err != nil {
		return nil, err
	}

	submittedAt := s.now().UTC()
	if deadline, ok := rowTime(assignment, "deadline"); ok && submittedAt.After(deadline) {
		return map[string]any{
			"success": false,
			"error":   "assignment deadline has passed",
			"late":    true,
		}, nil
	}

	submission, err := s.db.Insert(ctx, "submission", store.Row{
		"assignment_id": assignmentID,
		"student_id":    caller.UserID,
		"content":       content,
		"submitted_at":  submittedAt,
		"graded":        false,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":       true,
		"submission_id": submission["id"],
		"message":       "Homework submitted successfully",
	}, nil
}

func (s *studentServer) viewGrades(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	submissions, err := s.db.Select(ctx, "submission", store.Query{
		Filters: []store.Filter{
			store.Eq("student_id", caller.UserID),
			store.NotNull("grade"),
		},
		OrderBy: []string{"submitted_at DESC"},
	})
	if err != nil {
		return nil, err
	}

	grades := make([]map[string]any, 0, len(submissions))
	var sum float64
	for _, sub := range submissions {
		grade := rowFloat(sub, "grade")
		sum += grade
		grades = append(grades, map[string]any{
			"assignment_id": sub["assignment_id"],
			"grade":         grade,
			"feedback":      rowString(sub, "feedback"),
			"submitted_at":  sub["submitted_at"],
		})
	}
	average := 0.0
	if len(grades) > 0 {
		average = sum / float64(len(grades))
	}

	return map[string]any{
		"success":       true,
		"grades":        grades,
		"graded_count":  len(grades),
		"average_grade": average,
	}, nil
}

func (s *studentServer) askTutor(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	question, err := requireString(args, "question")
	if err != nil {
		return nil, err
	}

	response := "Thanks for your question. A tutor will review it and respond shortly. " +
		"In the meantime, check the published materials for your enrolled classes."
	suggestions := []string{
		"Review this week's class materials",
		"Practice with past assignments",
		"Book a one-to-one session with your teacher",
	}

	interaction, err := s.db.Insert(ctx, "tutor_interaction", store.Row{
		"student_id": caller.UserID,
		"question":   question,
		"response":   response,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":        true,
		"interaction_id": interaction["id"],
		"response":       response,
		"suggestions":    suggestions,
	}, nil
}

func (s *studentServer) progressMetrics(ctx context.Context, studentID string) (map[string]any, error) {
	submissions, err := s.db.Select(ctx, "submission", store.Query{
		Filters: []store.Filter{store.Eq("student_id", studentID)},
	})
	if err != nil {
		return nil, err
	}

	graded := 0
	var gradeSum float64
	for _, sub := range submissions {
		if rowBool(sub, "graded") {
			graded++
			gradeSum += rowFloat(sub, "grade")
		}
	}
	avgGrade := 0.0
	if graded > 0 {
		avgGrade = gradeSum / float64(graded)
	}

	attendance, err := s.db.Select(ctx, "attendance", store.Query{
		Filters: []store.Filter{store.Eq("student_id", studentID)},
	})
	if err != nil {
		return nil, err
	}
	present := 0
	recorded := 0
	for _, a := range attendance {
		switch rowString(a, "status") {
		case "present", "late":
			present++
			recorded++
		case "absent", "excused":
			recorded++
		}
	}
	attendanceRate := 0.0
	if recorded > 0 {
		attendanceRate = float64(present) / float64(recorded) * 100
	}

	return map[string]any{
		"submissions_total":  len(submissions),
		"submissions_graded": graded,
		"average_grade":      avgGrade,
		"attendance_rate":    attendanceRate,
	}, nil
}

func (s *studentServer) trackProgress(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	metrics, err := s.progressMetrics(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	metrics["success"] = true
	return metrics, nil
}

func (s *studentServer) attendanceSummary(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	weeks := 4
	if v, ok := argInt(args, "weeks"); ok {
		weeks = v
	}
	if weeks < 1 {
		return failure("weeks must be at least 1"), nil
	}

	since := s.now().UTC().AddDate(0, 0, -weeks*7)
	records, err := s.db.Select(ctx, "attendance", store.Query{
		Filters: []store.Filter{
			store.Eq("student_id", caller.UserID),
			store.Gte("recorded_at", since),
		},
	})
	if err != nil {
		return nil, err
	}

	counts := map[string]int{"present": 0, "late": 0, "absent": 0, "excused": 0}
	for _, r := range records {
		status := rowString(r, "status")
		if _, ok := counts[status]; ok {
			counts[status]++
		}
	}
	total := counts["present"] + counts["late"] + counts["absent"] + counts["excused"]
	percentage := 0.0
	if total > 0 {
		percentage = float64(counts["present"]+counts["late"]) / float64(total) * 100
	}

	return map[string]any{
		"success":               true,
		"period_weeks":          weeks,
		"present":               counts["present"],
		"late":                  counts["late"],
		"absent":                counts["absent"],
		"excused":               counts["excused"],
		"total_sessions":        total,
		"attendance_percentage": percentage,
	}, nil
}

func (s *studentServer) requestLetter(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	letterType, err := requireString(args, "letter_type")
	if err != nil {
		return nil, err
	}
	switch letterType {
	case "attendance", "enrollment", "reference":
	default:
		return failure("unknown letter type %q", letterType), nil
	}

	request, err := s.db.Insert(ctx, "letter_request", store.Row{
		"student_id":  caller.UserID,
		"letter_type": letterType,
		"status":      "pending",
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":    true,
		"request_id": request["id"],
		"message":    fmt.Sprintf("%s letter requested, it will be processed by student services", letterType),
	}, nil
}

func (s *studentServer) raiseSupportRequest(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	category, err := requireString(args, "category")
	if err != nil {
		return nil, err
	}
	switch category {
	case "academic", "accommodation", "finance", "welfare", "technical", "other":
	default:
		return failure("unknown category %q", category), nil
	}
	subject, err := requireString(args, "subject")
	if err != nil {
		return nil, err
	}
	description, err := requireString(args, "description")
	if err != nil {
		return nil, err
	}
	priority := "medium"
	if p, ok := argString(args, "priority"); ok {
		priority = p
	}
	switch priority {
	case "low", "medium", "high":
	default:
		return failure("unknown priority %q", priority), nil
	}

	ticket, err := s.db.Insert(ctx, "support_ticket", store.Row{
		"student_id":  caller.UserID,
		"category":    category,
		"priority":    priority,
		"subject":     subject,
		"description": description,
		"status":      "open",
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":   true,
		"ticket_id": ticket["id"],
		"message":   "Support request raised",
	}, nil
}

func (s *studentServer) viewInvoice(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	if invoiceID, ok := argString(args, "invoice_id"); ok {
		invoice, err := s.db.SelectOne(ctx, "invoice", store.Query{
			Filters: []store.Filter{
				store.Eq("id", invoiceID),
				store.Eq("student_id", caller.UserID),
			},
		})
		if errors.Is(err, store.ErrNotFound) {
			return failure("invoice not found"), nil
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "invoice": invoice}, nil
	}

	invoices, err := s.db.Select(ctx, "invoice", store.Query{
		Filters: []store.Filter{store.Eq("student_id", caller.UserID)},
		OrderBy: []string{"issue_date DESC"},
	})
	if err != nil {
		return nil, err
	}

	var total, outstanding float64
	for _, inv := range invoices {
		amount := rowFloat(inv, "amount")
		total += amount
		if rowString(inv, "status") != "paid" {
			outstanding += amount
		}
	}

	return map[string]any{
		"success":     true,
		"invoices":    invoices,
		"count":       len(invoices),
		"total":       total,
		"outstanding": outstanding,
	}, nil
}

func (s *studentServer) timetableResource(ctx context.Context, caller *auth.Context) (any, error) {
	return s.weekTimetable(ctx, caller.UserID, 0)
}

func (s *studentServer) materialsResource(ctx context.Context, caller *auth.Context) (any, error) {
	classIDs, err := s.enrolledClassIDs(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if len(classIDs) == 0 {
		return []store.Row{}, nil
	}
	return s.db.Select(ctx, "class_material", store.Query{
		Filters: []store.Filter{
			store.In("class_id", classIDs),
			store.Lte("publish_date", s.now().UTC().Format(dateLayout)),
		},
		OrderBy: []string{"publish_date DESC"},
	})
}

func (s *studentServer) progressResource(ctx context.Context, caller *auth.Context) (any, error) {
	return s.progressMetrics(ctx, caller.UserID)
}

func (s *studentServer) studyPlanPrompt(ctx context.Context, caller *auth.Context, args map[string]any) ([]mcp.PromptMessage, error) {
	cefrLevel, err := requireString(args, "cefr_level")
	if err != nil {
		return nil, err
	}
	goals, _ := argString(args, "goals")
	if goals == "" {
		goals = "general English improvement"
	}

	metrics, err := s.progressMetrics(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	return []mcp.PromptMessage{
		systemMessage("You are an experienced language learning advisor creating personalized study plans."),
		userMessage(fmt.Sprintf(
			"Create a weekly study plan for a student at CEFR level %s.\nGoals: %s\nCurrent progress:\n%s",
			cefrLevel, goals, indentJSON(metrics))),
	}, nil
}
