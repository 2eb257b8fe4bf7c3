package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jojopeligroso/MyCastle/internal/auth"
	"github.com/jojopeligroso/MyCastle/internal/mcp"
	"github.com/jojopeligroso/MyCastle/internal/store"
)

var letterTypes = []string{"enrollment", "completion", "attendance", "reference", "visa_support"}

type studentServicesServer struct {
	db  store.Store
	now func() time.Time
}

// NewStudentServicesServer builds the student services domain server:
// accommodation, letters, deferrals, certificates, visa tracking, and
// pastoral care.
func NewStudentServicesServer(db store.Store, logger zerolog.Logger) (*mcp.Server, error) {
	return newStudentServicesServer(db, logger, time.Now)
}

func newStudentServicesServer(db store.Store, logger zerolog.Logger, now func() time.Time) (*mcp.Server, error) {
	s := &studentServicesServer{db: db, now: now}
	srv := mcp.NewServer("student-services-mcp", serverVersion, auth.ScopeStudentServices, logger)
	reg := newRegistrar(srv)

	reg.tool(mcp.Tool{
		Name:        "register_host",
		Description: "Register a host family for student accommodation",
		Scope:       "student_services:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"name":          prop("string"),
			"address":       prop("string"),
			"capacity":      prop("integer", map[string]any{"minimum": 1}),
			"contact_email": prop("string", map[string]any{"format": "email"}),
		}, "name", "address", "capacity", "contact_email"),
	}, s.registerHost)

	reg.tool(mcp.Tool{
		Name:        "allocate_accommodation",
		Description: "Assign student to accommodation",
		Scope:       "student_services:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"student_id": prop("string", map[string]any{"format": "uuid"}),
			"host_id":    prop("string", map[string]any{"format": "uuid"}),
			"start_date": prop("string", map[string]any{"format": "date"}),
			"end_date":   prop("string", map[string]any{"format": "date"}),
		}, "student_id", "host_id", "start_date", "end_date"),
	}, s.allocateAccommodation)

	reg.tool(mcp.Tool{
		Name:        "swap_accommodation",
		Description: "Process accommodation change request",
		Scope:       "student_services:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"allocation_id":  prop("string", map[string]any{"format": "uuid"}),
			"new_host_id":    prop("string", map[string]any{"format": "uuid"}),
			"reason":         prop("string"),
			"effective_date": prop("string", map[string]any{"format": "date"}),
		}, "allocation_id", "new_host_id", "reason"),
	}, s.swapAccommodation)

	reg.tool(mcp.Tool{
		Name:        "export_placements",
		Description: "Export accommodation placement list",
		Scope:       "student_services:read",
		Capability:  "read",
		InputSchema: schema(map[string]any{
			"date":   prop("string", map[string]any{"format": "date"}),
			"format": prop("string", map[string]any{"enum": []string{"csv", "excel", "pdf"}}),
		}, "date"),
	}, s.exportPlacements)

	reg.tool(mcp.Tool{
		Name:        "issue_letter",
		Description: "Generate official letters (enrollment, completion, etc.)",
		Scope:       "student_services:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"student_id":  prop("string", map[string]any{"format": "uuid"}),
			"letter_type": prop("string", map[string]any{"enum": letterTypes}),
			"custom_text": prop("string"),
		}, "student_id", "letter_type"),
	}, s.issueLetter)

	reg.tool(mcp.Tool{
		Name:        "approve_deferral",
		Description: "Approve or reject course deferral request",
		Scope:       "student_services:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"deferral_request_id": prop("string", map[string]any{"format": "uuid"}),
			"approved":            prop("boolean"),
			"new_start_date":      prop("string", map[string]any{"format": "date"}),
		}, "deferral_request_id", "approved"),
	}, s.approveDeferral)

	reg.tool(mcp.Tool{
		Name:        "award_certificate",
		Description: "Issue completion certificate",
		Scope:       "student_services:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"student_id":      prop("string", map[string]any{"format": "uuid"}),
			"course_id":       prop("string", map[string]any{"format": "uuid"}),
			"completion_date": prop("string", map[string]any{"format": "date"}),
		}, "student_id", "course_id", "completion_date"),
	}, s.awardCertificate)

	reg.tool(mcp.Tool{
		Name:        "track_visa_status",
		Description: "Track and update visa application status",
		Scope:       "student_services:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"student_id": prop("string", map[string]any{"format": "uuid"}),
			"visa_status": prop("string", map[string]any{
				"enum": []string{"pending", "submitted", "approved", "rejected", "expired"},
			}),
			"visa_type":   prop("string"),
			"visa_expiry": prop("string", map[string]any{"format": "date"}),
			"notes":       prop("string"),
		}, "student_id", "visa_status"),
	}, s.trackVisaStatus)

	reg.tool(mcp.Tool{
		Name:        "record_pastoral_note",
		Description: "Record confidential pastoral care note",
		Scope:       "student_services:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"student_id": prop("string", map[string]any{"format": "uuid"}),
			"category": prop("string", map[string]any{
				"enum": []string{"wellbeing", "academic", "accommodation", "social", "other"},
			}),
			"content":      prop("string"),
			"confidential": prop("boolean", map[string]any{"default": true}),
		}, "student_id", "category", "content"),
	}, s.recordPastoralNote)

	reg.resource(mcp.Resource{
		URI:         "mycastle://student_services/hosts",
		Name:        "Host Families",
		Description: "List of registered host families",
	}, s.hostsResource)

	reg.resource(mcp.Resource{
		URI:         "mycastle://student_services/placements",
		Name:        "Accommodation Placements",
		Description: "Current accommodation placements",
	}, s.placementsResource)

	reg.prompt(mcp.Prompt{
		Name:        "letter_template",
		Description: "Prompt for generating official letter templates",
		Arguments: []mcp.PromptArgument{
			{Name: "letter_type", Description: "Type of letter", Required: true},
			{Name: "student_id", Description: "Student ID", Required: true},
		},
	}, s.letterTemplatePrompt)

	return srv, reg.err()
}

func (s *studentServicesServer) registerHost(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}
	address, err := requireString(args, "address")
	if err != nil {
		return nil, err
	}
	capacity, err := requireInt(args, "capacity")
	if err != nil {
		return nil, err
	}
	if capacity < 1 {
		return failure("capacity must be at least 1"), nil
	}
	email, err := requireString(args, "contact_email")
	if err != nil {
		return nil, err
	}

	host, err := s.db.Insert(ctx, "host", store.Row{
		"name":              name,
		"address":           address,
		"capacity":          capacity,
		"current_occupancy": 0,
		"contact_email":     email,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success": true,
		"host_id": host["id"],
		"message": fmt.Sprintf("Host family %q registered successfully", name),
		"host":    host,
	}, nil
}

// allocate creates an allocation after a capacity check and bumps the host
// occupancy. Shared by allocate_accommodation and swap_accommodation.
func (s *studentServicesServer) allocate(ctx context.Context, studentID, hostID, startDate, endDate string) (store.Row, error) {
	host, err := s.db.SelectOne(ctx, "host", store.Query{Filters: []store.Filter{store.Eq("id", hostID)}})
	if err != nil {
		return nil, err
	}

	occupancy := rowInt(host, "current_occupancy")
	if occupancy >= rowInt(host, "capacity") {
		return nil, errHostFull
	}

	allocation, err := s.db.Insert(ctx, "accommodation_allocation", store.Row{
		"student_id": studentID,
		"host_id":    hostID,
		"start_date": startDate,
		"end_date":   endDate,
		"status":     "active",
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Update(ctx, "host",
		store.Row{"current_occupancy": occupancy + 1}, store.Eq("id", hostID)); err != nil {
		return nil, err
	}
	return allocation, nil
}

var errHostFull = errors.New("host is at full capacity")

func (s *studentServicesServer) allocateAccommodation(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	studentID, err := requireString(args, "student_id")
	if err != nil {
		return nil, err
	}
	hostID, err := requireString(args, "host_id")
	if err != nil {
		return nil, err
	}
	start, err := requireDate(args, "start_date")
	if err != nil {
		return nil, err
	}
	end, err := requireDate(args, "end_date")
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return failure("end_date must not be before start_date"), nil
	}

	allocation, err := s.allocate(ctx, studentID, hostID, start.Format(dateLayout), end.Format(dateLayout))
	if errors.Is(err, store.ErrNotFound) {
		return failure("host not found"), nil
	}
	if errors.Is(err, errHostFull) {
		return failure("host is at full capacity"), nil
	}
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":       true,
		"allocation_id": allocation["id"],
		"message":       "Accommodation allocated successfully",
		"allocation":    allocation,
	}, nil
}

func (s *studentServicesServer) swapAccommodation(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	allocationID, err := requireString(args, "allocation_id")
	if err != nil {
		return nil, err
	}
	newHostID, err := requireString(args, "new_host_id")
	if err != nil {
		return nil, err
	}
	reason, err := requireString(args, "reason")
	if err != nil {
		return nil, err
	}

	current, err := s.db.SelectOne(ctx, "accommodation_allocation", store.Query{
		Filters: []store.Filter{store.Eq("id", allocationID)},
	})
	if errors.Is(err, store.ErrNotFound) {
		return failure("allocation not found"), nil
	}
	if err != nil {
		return nil, err
	}

	effectiveDate := s.now().UTC().Format(dateLayout)
	if _, ok := argString(args, "effective_date"); ok {
		parsed, err := requireDate(args, "effective_date")
		if err != nil {
			return nil, err
		}
		effectiveDate = parsed.Format(dateLayout)
	}

	endDate := effectiveDate
	if end, ok := rowTime(current, "end_date"); ok {
		endDate = end.Format(dateLayout)
	}

	newAllocation, err := s.allocate(ctx, rowString(current, "student_id"), newHostID, effectiveDate, endDate)
	if errors.Is(err, store.ErrNotFound) {
		return failure("new host not found"), nil
	}
	if errors.Is(err, errHostFull) {
		return failure("new host is at full capacity"), nil
	}
	if err != nil {
		return nil, err
	}

	ended, err := s.db.Update(ctx, "accommodation_allocation", store.Row{
		"status":      "ended",
		"end_date":    effectiveDate,
		"swap_reason": reason,
	}, store.Eq("id", allocationID))
	if err != nil {
		return nil, err
	}
	if len(ended) > 0 {
		current = ended[0]
	}

	// Release the old host's slot.
	oldHostID := rowString(current, "host_id")
	oldHost, err := s.db.SelectOne(ctx, "host", store.Query{Filters: []store.Filter{store.Eq("id", oldHostID)}})
	if err == nil {
		occupancy := rowInt(oldHost, "current_occupancy")
		if occupancy > 0 {
			if _, err := s.db.Update(ctx, "host",
				store.Row{"current_occupancy": occupancy - 1}, store.Eq("id", oldHostID)); err != nil {
				return nil, err
			}
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	return map[string]any{
		"success":        true,
		"message":        "Accommodation swap completed",
		"old_allocation": current,
		"new_allocation": newAllocation,
	}, nil
}

func (s *studentServicesServer) exportPlacements(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	date, err := requireDate(args, "date")
	if err != nil {
		return nil, err
	}
	format := "csv"
	if f, ok := argString(args, "format"); ok {
		format = f
	}

	placements, err := s.db.Select(ctx, "accommodation_allocation", store.Query{
		Filters: []store.Filter{
			store.Eq("status", "active"),
			store.Lte("start_date", date.Format(dateLayout)),
			store.Gte("end_date", date.Format(dateLayout)),
		},
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":         true,
		"format":          format,
		"date":            date.Format(dateLayout),
		"placement_count": len(placements),
		"data":            placements,
		"message":         fmt.Sprintf("Exported %d placements", len(placements)),
	}, nil
}

func letterBody(letterType, studentName string) string {
	switch letterType {
	case "enrollment":
		return fmt.Sprintf("This is to certify that %s is enrolled in our programme.", studentName)
	case "completion":
		return fmt.Sprintf("This certifies that %s has successfully completed the programme.", studentName)
	case "attendance":
		return fmt.Sprintf("This confirms %s's attendance record.", studentName)
	case "reference":
		return fmt.Sprintf("This is a reference letter for %s.", studentName)
	case "visa_support":
		return fmt.Sprintf("This letter supports %s's visa application.", studentName)
	default:
		return ""
	}
}

func (s *studentServicesServer) issueLetter(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	studentID, err := requireString(args, "student_id")
	if err != nil {
		return nil, err
	}
	letterType, err := requireString(args, "letter_type")
	if err != nil {
		return nil, err
	}
	valid := false
	for _, known := range letterTypes {
		if letterType == known {
			valid = true
			break
		}
	}
	if !valid {
		return failure("unknown letter type %q", letterType), nil
	}

	student, err := s.db.SelectOne(ctx, "app_user", store.Query{Filters: []store.Filter{store.Eq("id", studentID)}})
	if errors.Is(err, store.ErrNotFound) {
		return failure("student not found"), nil
	}
	if err != nil {
		return nil, err
	}

	content := letterBody(letterType, rowString(student, "full_name"))
	if custom, ok := argString(args, "custom_text"); ok {
		content = custom
	}

	letter, err := s.db.Insert(ctx, "letter", store.Row{
		"student_id":  studentID,
		"letter_type": letterType,
		"content":     content,
		"issued_by":   caller.UserID,
	})
	if err != nil {
		return nil, err
	}

	label := strings.ReplaceAll(letterType, "_", " ")
	return map[string]any{
		"success":     true,
		"letter_id":   letter["id"],
		"letter_type": letterType,
		"message":     fmt.Sprintf("%s letter issued", label),
		"letter":      letter,
	}, nil
}

func (s *studentServicesServer) approveDeferral(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	requestID, err := requireString(args, "deferral_request_id")
	if err != nil {
		return nil, err
	}
	approved, ok := args["approved"].(bool)
	if !ok {
		return nil, fmt.Errorf("missing required argument %q", "approved")
	}

	request, err := s.db.SelectOne(ctx, "deferral_request", store.Query{
		Filters: []store.Filter{store.Eq("id", requestID)},
	})
	if errors.Is(err, store.ErrNotFound) {
		return failure("deferral request not found"), nil
	}
	if err != nil {
		return nil, err
	}

	status := "rejected"
	if approved {
		status = "approved"
	}
	set := store.Row{"status": status, "decided_by": caller.UserID}

	newStart, haveNewStart := argString(args, "new_start_date")
	if approved && haveNewStart {
		parsed, err := requireDate(args, "new_start_date")
		if err != nil {
			return nil, err
		}
		newStart = parsed.Format(dateLayout)
		set["new_start_date"] = newStart
	}

	updated, err := s.db.Update(ctx, "deferral_request", set, store.Eq("id", requestID))
	if err != nil {
		return nil, err
	}

	if approved && haveNewStart {
		if _, err := s.db.Update(ctx, "booking", store.Row{
			"start_date": newStart,
			"deferred":   true,
			"updated_at": s.now().UTC(),
		}, store.Eq("id", rowString(request, "booking_id"))); err != nil {
			return nil, err
		}
	}

	result := map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("Deferral request %s", status),
		"approved": approved,
	}
	if len(updated) > 0 {
		result["deferral_request"] = updated[0]
	}
	return result, nil
}

func (s *studentServicesServer) awardCertificate(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	studentID, err := requireString(args, "student_id")
	if err != nil {
		return nil, err
	}
	courseID, err := requireString(args, "course_id")
	if err != nil {
		return nil, err
	}
	if _, err := requireDate(args, "completion_date"); err != nil {
		return nil, err
	}

	prefix := studentID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	number := fmt.Sprintf("CERT-%s-%s", s.now().UTC().Format("20060102"), prefix)

	certificate, err := s.db.Insert(ctx, "certificate", store.Row{
		"student_id":         studentID,
		"course_id":          courseID,
		"certificate_number": number,
	})
	if errors.Is(err, store.ErrConflict) {
		return failure("certificate %s already issued", number), nil
	}
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":            true,
		"certificate_id":     certificate["id"],
		"certificate_number": number,
		"message":            "Certificate awarded successfully",
		"certificate":        certificate,
	}, nil
}

func (s *studentServicesServer) trackVisaStatus(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	studentID, err := requireString(args, "student_id")
	if err != nil {
		return nil, err
	}
	visaStatus, err := requireString(args, "visa_status")
	if err != nil {
		return nil, err
	}
	switch visaStatus {
	case "pending", "submitted", "approved", "rejected", "expired":
	default:
		return failure("unknown visa status %q", visaStatus), nil
	}

	row := store.Row{"status": visaStatus, "updated_at": s.now().UTC()}
	if visaType, ok := argString(args, "visa_type"); ok {
		row["visa_type"] = visaType
	}
	if _, ok := argString(args, "visa_expiry"); ok {
		expiry, err := requireDate(args, "visa_expiry")
		if err != nil {
			return nil, err
		}
		row["expiry_date"] = expiry.Format(dateLayout)
	}
	if notes, ok := argString(args, "notes"); ok {
		row["notes"] = notes
	}

	var record store.Row
	_, err = s.db.SelectOne(ctx, "visa_status", store.Query{
		Filters: []store.Filter{store.Eq("student_id", studentID)},
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		row["student_id"] = studentID
		record, err = s.db.Insert(ctx, "visa_status", row)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		updated, err := s.db.Update(ctx, "visa_status", row, store.Eq("student_id", studentID))
		if err != nil {
			return nil, err
		}
		if len(updated) == 0 {
			return failure("visa record not found"), nil
		}
		record = updated[0]
	}

	return map[string]any{
		"success":     true,
		"visa_status": visaStatus,
		"message":     fmt.Sprintf("Visa status updated to %s", visaStatus),
		"visa_record": record,
	}, nil
}

func (s *studentServicesServer) recordPastoralNote(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	studentID, err := requireString(args, "student_id")
	if err != nil {
		return nil, err
	}
	category, err := requireString(args, "category")
	if err != nil {
		return nil, err
	}
	switch category {
	case "wellbeing", "academic", "accommodation", "social", "other":
	default:
		return failure("unknown note category %q", category), nil
	}
	content, err := requireString(args, "content")
	if err != nil {
		return nil, err
	}

	note, err := s.db.Insert(ctx, "pastoral_note", store.Row{
		"student_id":   studentID,
		"note":         fmt.Sprintf("[%s] %s", category, content),
		"confidential": argBool(args, "confidential", true),
		"author_id":    caller.UserID,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":  true,
		"note_id":  note["id"],
		"category": category,
		"message":  "Pastoral note recorded",
	}, nil
}

func (s *studentServicesServer) hostsResource(ctx context.Context, caller *auth.Context) (any, error) {
	return s.db.Select(ctx, "host", store.Query{OrderBy: []string{"name"}})
}

func (s *studentServicesServer) placementsResource(ctx context.Context, caller *auth.Context) (any, error) {
	return s.db.Select(ctx, "accommodation_allocation", store.Query{
		Filters: []store.Filter{store.Eq("status", "active")},
	})
}

func (s *studentServicesServer) letterTemplatePrompt(ctx context.Context, caller *auth.Context, args map[string]any) ([]mcp.PromptMessage, error) {
	letterType, err := requireString(args, "letter_type")
	if err != nil {
		return nil, err
	}
	studentID, err := requireString(args, "student_id")
	if err != nil {
		return nil, err
	}

	name, email := "N/A", "N/A"
	student, err := s.db.SelectOne(ctx, "app_user", store.Query{Filters: []store.Filter{store.Eq("id", studentID)}})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err == nil {
		if n := rowString(student, "full_name"); n != "" {
			name = n
		}
		if e := rowString(student, "email"); e != "" {
			email = e
		}
	}

	return []mcp.PromptMessage{
		systemMessage("You are a professional administrative assistant drafting official letters."),
		userMessage(fmt.Sprintf(
			"Draft a %s letter for:\nStudent: %s\nEmail: %s\nUse formal, professional language.",
			strings.ReplaceAll(letterType, "_", " "), name, email)),
	}, nil
}
