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

var cefrLevels = []string{"A1", "A2", "B1", "B2", "C1", "C2"}

type academicServer struct {
	db  store.Store
	now func() time.Time
}

// NewAcademicServer builds the academic domain server: programmes, courses,
// CEFR mapping, class scheduling, and lesson planning.
func NewAcademicServer(db store.Store, logger zerolog.Logger) (*mcp.Server, error) {
	return newAcademicServer(db, logger, time.Now)
}

func newAcademicServer(db store.Store, logger zerolog.Logger, now func() time.Time) (*mcp.Server, error) {
	a := &academicServer{db: db, now: now}
	srv := mcp.NewServer("academic-mcp", serverVersion, auth.ScopeAcademic, logger)
	reg := newRegistrar(srv)

	reg.tool(mcp.Tool{
		Name:        "create_programme",
		Description: "Define a new academic programme (e.g., General English, IELTS Prep)",
		Scope:       "academic:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"name":           prop("string"),
			"description":    prop("string"),
			"cefr_level_min": prop("string", map[string]any{"enum": cefrLevels}),
			"cefr_level_max": prop("string", map[string]any{"enum": cefrLevels}),
		}, "name", "description"),
	}, a.createProgramme)

	reg.tool(mcp.Tool{
		Name:        "create_course",
		Description: "Define a course within a programme",
		Scope:       "academic:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"programme_id":   prop("string", map[string]any{"format": "uuid"}),
			"name":           prop("string"),
			"cefr_level":     prop("string", map[string]any{"enum": cefrLevels}),
			"price_per_week": prop("number", map[string]any{"minimum": 0}),
			"duration_weeks": prop("integer", map[string]any{"minimum": 1}),
		}, "programme_id", "name", "cefr_level"),
	}, a.createCourse)

	reg.tool(mcp.Tool{
		Name:        "map_cefr_level",
		Description: "Map a course to a CEFR level with descriptors",
		Scope:       "academic:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"course_id":   prop("string", map[string]any{"format": "uuid"}),
			"cefr_level":  prop("string", map[string]any{"enum": cefrLevels}),
			"descriptors": map[string]any{"type": "array", "items": prop("string")},
		}, "course_id", "cefr_level"),
	}, a.mapCEFRLevel)

	reg.tool(mcp.Tool{
		Name:        "schedule_class",
		Description: "Create a class schedule for a course",
		Scope:       "academic:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"course_id": prop("string", map[string]any{"format": "uuid"}),
			"name":      prop("string"),
			"capacity":  prop("integer", map[string]any{"minimum": 1}),
			"schedule":  prop("object"),
		}, "course_id", "name", "capacity"),
	}, a.scheduleClass)

	reg.tool(mcp.Tool{
		Name:        "assign_teacher",
		Description: "Assign a teacher to a class",
		Scope:       "academic:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"class_id":   prop("string", map[string]any{"format": "uuid"}),
			"teacher_id": prop("string", map[string]any{"format": "uuid"}),
			"role":       prop("string", map[string]any{"enum": []string{"lead", "assistant"}}),
		}, "class_id", "teacher_id"),
	}, a.assignTeacher)

	reg.tool(mcp.Tool{
		Name:        "allocate_room",
		Description: "Assign a classroom to a session",
		Scope:       "academic:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"session_id": prop("string", map[string]any{"format": "uuid"}),
			"room":       prop("string"),
		}, "session_id", "room"),
	}, a.allocateRoom)

	reg.tool(mcp.Tool{
		Name:        "register_lesson_template",
		Description: "Save a reusable lesson template",
		Scope:       "academic:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"name":             prop("string"),
			"objectives":       map[string]any{"type": "array", "items": prop("string")},
			"duration_minutes": prop("integer", map[string]any{"default": 60}),
		}, "name", "objectives"),
	}, a.registerLessonTemplate)

	reg.tool(mcp.Tool{
		Name:        "approve_lesson_plan",
		Description: "Admin approval workflow for lesson plans",
		Scope:       "academic:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"lesson_plan_id": prop("string", map[string]any{"format": "uuid"}),
			"approved":       prop("boolean"),
			"feedback":       prop("string"),
		}, "lesson_plan_id", "approved"),
	}, a.approveLessonPlan)

	reg.tool(mcp.Tool{
		Name:        "link_cefr_descriptor",
		Description: "Link official CEFR descriptor to a course objective",
		Scope:       "academic:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"course_id":  prop("string", map[string]any{"format": "uuid"}),
			"descriptor": prop("string"),
			"category":   prop("string", map[string]any{"enum": []string{"listening", "reading", "writing", "speaking"}}),
		}, "course_id", "descriptor", "category"),
	}, a.linkCEFRDescriptor)

	reg.tool(mcp.Tool{
		Name:        "publish_materials",
		Description: "Publish course materials to students",
		Scope:       "academic:write",
		Capability:  "write",
		InputSchema: schema(map[string]any{
			"class_id":     prop("string", map[string]any{"format": "uuid"}),
			"material_ids": map[string]any{"type": "array", "items": prop("string", map[string]any{"format": "uuid"})},
			"publish_date": prop("string", map[string]any{"format": "date"}),
		}, "class_id", "material_ids"),
	}, a.publishMaterials)

	reg.resource(mcp.Resource{
		URI:         "mycastle://academic/programmes",
		Name:        "Programmes",
		Description: "List of all academic programmes",
	}, a.programmesResource)

	reg.resource(mcp.Resource{
		URI:         "mycastle://academic/courses",
		Name:        "Courses",
		Description: "List of all courses",
	}, a.coursesResource)

	reg.resource(mcp.Resource{
		URI:         "mycastle://academic/cefr-descriptors",
		Name:        "CEFR Descriptors",
		Description: "Official CEFR descriptors database",
	}, a.cefrDescriptorsResource)

	reg.prompt(mcp.Prompt{
		Name:        "curriculum_design",
		Description: "Prompt for designing curriculum",
		Arguments: []mcp.PromptArgument{
			{Name: "cefr_level", Description: "CEFR level", Required: true},
		},
	}, a.curriculumDesignPrompt)

	return srv, reg.err()
}

func validCEFRLevel(level string) bool {
	for _, known := range cefrLevels {
		if level == known {
			return true
		}
	}
	return false
}

func (a *academicServer) createProgramme(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}
	description, err := requireString(args, "description")
	if err != nil {
		return nil, err
	}

	row := store.Row{"name": name, "description": description}
	if level, ok := argString(args, "cefr_level_min"); ok {
		if !validCEFRLevel(level) {
			return failure("unknown CEFR level %q", level), nil
		}
		row["cefr_level_min"] = level
	}
	if level, ok := argString(args, "cefr_level_max"); ok {
		if !validCEFRLevel(level) {
			return failure("unknown CEFR level %q", level), nil
		}
		row["cefr_level_max"] = level
	}

	programme, err := a.db.Insert(ctx, "programme", row)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":      true,
		"programme_id": programme["id"],
		"message":      fmt.Sprintf("Programme %q created successfully", name),
		"programme":    programme,
	}, nil
}

func (a *academicServer) createCourse(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	programmeID, err := requireString(args, "programme_id")
	if err != nil {
		return nil, err
	}
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}
	level, err := requireString(args, "cefr_level")
	if err != nil {
		return nil, err
	}
	if !validCEFRLevel(level) {
		return failure("unknown CEFR level %q", level), nil
	}

	_, err = a.db.SelectOne(ctx, "programme", store.Query{Filters: []store.Filter{store.Eq("id", programmeID)}})
	if errors.Is(err, store.ErrNotFound) {
		return failure("programme not found"), nil
	}
	if err != nil {
		return nil, err
	}

	row := store.Row{
		"programme_id": programmeID,
		"name":         name,
		"cefr_level":   level,
	}
	if price, ok := argFloat(args, "price_per_week"); ok {
		row["price_per_week"] = price
	}
	if weeks, ok := argInt(args, "duration_weeks"); ok {
		row["duration_weeks"] = weeks
	}

	course, err := a.db.Insert(ctx, "course", row)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":   true,
		"course_id": course["id"],
		"message":   fmt.Sprintf("Course %q created successfully", name),
		"course":    course,
	}, nil
}

func (a *academicServer) mapCEFRLevel(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	courseID, err := requireString(args, "course_id")
	if err != nil {
		return nil, err
	}
	level, err := requireString(args, "cefr_level")
	if err != nil {
		return nil, err
	}
	if !validCEFRLevel(level) {
		return failure("unknown CEFR level %q", level), nil
	}

	updated, err := a.db.Update(ctx, "course", store.Row{"cefr_level": level}, store.Eq("id", courseID))
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return failure("course not found"), nil
	}

	descriptors := argStringSlice(args, "descriptors")
	if len(descriptors) > 0 {
		rows := make([]store.Row, 0, len(descriptors))
		for _, descriptor := range descriptors {
			rows = append(rows, store.Row{
				"course_id":  courseID,
				"cefr_level": level,
				"category":   "general",
				"descriptor": descriptor,
			})
		}
		if _, err := a.db.InsertMany(ctx, "course_cefr_descriptor", rows); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"success":          true,
		"message":          fmt.Sprintf("Course mapped to CEFR level %s", level),
		"course":           updated[0],
		"descriptor_count": len(descriptors),
	}, nil
}

func (a *academicServer) scheduleClass(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	courseID, err := requireString(args, "course_id")
	if err != nil {
		return nil, err
	}
	name, err := requireString(args, "name")
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

	_, err = a.db.SelectOne(ctx, "course", store.Query{Filters: []store.Filter{store.Eq("id", courseID)}})
	if errors.Is(err, store.ErrNotFound) {
		return failure("course not found"), nil
	}
	if err != nil {
		return nil, err
	}

	row := store.Row{
		"course_id": courseID,
		"name":      name,
		"capacity":  capacity,
		"status":    "scheduled",
	}
	if scheduleSpec, ok := args["schedule"].(map[string]any); ok {
		row["schedule"] = scheduleSpec
	}

	class, err := a.db.Insert(ctx, "class", row)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":  true,
		"class_id": class["id"],
		"message":  fmt.Sprintf("Class %q scheduled successfully", name),
		"class":    class,
	}, nil
}

func (a *academicServer) assignTeacher(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	classID, err := requireString(args, "class_id")
	if err != nil {
		return nil, err
	}
	teacherID, err := requireString(args, "teacher_id")
	if err != nil {
		return nil, err
	}
	role := "lead"
	if r, ok := argString(args, "role"); ok {
		if r != "lead" && r != "assistant" {
			return failure("role must be lead or assistant"), nil
		}
		role = r
	}

	assignment, err := a.db.Insert(ctx, "class_teacher", store.Row{
		"class_id":   classID,
		"teacher_id": teacherID,
		"role":       role,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":    true,
		"message":    "Teacher assigned successfully",
		"assignment": assignment,
	}, nil
}

func (a *academicServer) allocateRoom(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	sessionID, err := requireString(args, "session_id")
	if err != nil {
		return nil, err
	}
	room, err := requireString(args, "room")
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

	sessionDate, _ := rowTime(session, "session_date")
	conflicts, err := a.db.Count(ctx, "session",
		store.Eq("room", room),
		store.Eq("session_date", sessionDate.Format(dateLayout)),
		store.Neq("id", sessionID))
	if err != nil {
		return nil, err
	}
	if conflicts > 0 {
		return failure("room is already allocated for this time slot"), nil
	}

	updated, err := a.db.Update(ctx, "session", store.Row{"room": room}, store.Eq("id", sessionID))
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return failure("session not found"), nil
	}

	return map[string]any{
		"success": true,
		"message": "Room allocated successfully",
		"session": updated[0],
	}, nil
}

func (a *academicServer) registerLessonTemplate(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}
	objectives := argStringSlice(args, "objectives")
	if len(objectives) == 0 {
		return failure("objectives must not be empty"), nil
	}
	duration := 60
	if n, ok := argInt(args, "duration_minutes"); ok && n > 0 {
		duration = n
	}

	template, err := a.db.Insert(ctx, "lesson_template", store.Row{
		"name":             name,
		"duration_minutes": duration,
		"objectives":       objectives,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":     true,
		"template_id": template["id"],
		"message":     fmt.Sprintf("Lesson template %q registered successfully", name),
		"template":    template,
	}, nil
}

func (a *academicServer) approveLessonPlan(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	planID, err := requireString(args, "lesson_plan_id")
	if err != nil {
		return nil, err
	}
	approved, ok := args["approved"].(bool)
	if !ok {
		return nil, fmt.Errorf("missing required argument %q", "approved")
	}

	status := "rejected"
	if approved {
		status = "approved"
	}

	updated, err := a.db.Update(ctx, "lesson_plan", store.Row{
		"status":      status,
		"approved_by": caller.UserID,
		"approved_at": a.now().UTC(),
	}, store.Eq("id", planID))
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return failure("lesson plan not found"), nil
	}

	result := map[string]any{
		"success":     true,
		"message":     fmt.Sprintf("Lesson plan %s", status),
		"lesson_plan": updated[0],
	}
	if feedback, ok := argString(args, "feedback"); ok {
		result["feedback"] = feedback
	}
	return result, nil
}

func (a *academicServer) linkCEFRDescriptor(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	courseID, err := requireString(args, "course_id")
	if err != nil {
		return nil, err
	}
	descriptor, err := requireString(args, "descriptor")
	if err != nil {
		return nil, err
	}
	category, err := requireString(args, "category")
	if err != nil {
		return nil, err
	}
	switch category {
	case "listening", "reading", "writing", "speaking":
	default:
		return failure("unknown descriptor category %q", category), nil
	}

	course, err := a.db.SelectOne(ctx, "course", store.Query{Filters: []store.Filter{store.Eq("id", courseID)}})
	if errors.Is(err, store.ErrNotFound) {
		return failure("course not found"), nil
	}
	if err != nil {
		return nil, err
	}

	link, err := a.db.Insert(ctx, "course_cefr_descriptor", store.Row{
		"course_id":  courseID,
		"cefr_level": rowString(course, "cefr_level"),
		"category":   category,
		"descriptor": descriptor,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("CEFR descriptor linked to course (%s)", category),
		"link":    link,
	}, nil
}

func (a *academicServer) publishMaterials(ctx context.Context, caller *auth.Context, args map[string]any) (map[string]any, error) {
	classID, err := requireString(args, "class_id")
	if err != nil {
		return nil, err
	}
	materialIDs := argStringSlice(args, "material_ids")
	if len(materialIDs) == 0 {
		return failure("material_ids must not be empty"), nil
	}

	publishDate := a.now().UTC().Format(dateLayout)
	if _, ok := argString(args, "publish_date"); ok {
		parsed, err := requireDate(args, "publish_date")
		if err != nil {
			return nil, err
		}
		publishDate = parsed.Format(dateLayout)
	}

	rows := make([]store.Row, 0, len(materialIDs))
	for _, materialID := range materialIDs {
		rows = append(rows, store.Row{
			"class_id":     classID,
			"material_id":  materialID,
			"publish_date": publishDate,
			"published_by": caller.UserID,
		})
	}

	published, err := a.db.InsertMany(ctx, "class_material", rows)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":         true,
		"published_count": published,
		"total_materials": len(materialIDs),
		"message":         fmt.Sprintf("Published %d materials to class", published),
	}, nil
}

func (a *academicServer) programmesResource(ctx context.Context, caller *auth.Context) (any, error) {
	return a.db.Select(ctx, "programme", store.Query{OrderBy: []string{"name"}})
}

func (a *academicServer) coursesResource(ctx context.Context, caller *auth.Context) (any, error) {
	return a.db.Select(ctx, "course", store.Query{OrderBy: []string{"name"}})
}

// cefrDescriptorsResource serves the static descriptor reference set.
func (a *academicServer) cefrDescriptorsResource(ctx context.Context, caller *auth.Context) (any, error) {
	return map[string]map[string][]string{
		"A1": {
			"listening": {"Can understand familiar words and very basic phrases"},
			"speaking":  {"Can use simple phrases and sentences"},
		},
		"A2": {
			"listening": {"Can understand phrases and frequent vocabulary"},
			"speaking":  {"Can communicate in simple and routine tasks"},
		},
		"B1": {
			"listening": {"Can understand the main points of clear standard input"},
			"speaking":  {"Can describe experiences and events"},
		},
		"B2": {
			"listening": {"Can understand extended speech and lectures"},
			"speaking":  {"Can interact with a degree of fluency"},
		},
		"C1": {
			"listening": {"Can understand extended speech with ease"},
			"speaking":  {"Can express ideas fluently and spontaneously"},
		},
		"C2": {
			"listening": {"Can understand virtually everything heard"},
			"speaking":  {"Can express themselves spontaneously, fluently and precisely"},
		},
	}, nil
}

func (a *academicServer) curriculumDesignPrompt(ctx context.Context, caller *auth.Context, args map[string]any) ([]mcp.PromptMessage, error) {
	level, err := requireString(args, "cefr_level")
	if err != nil {
		return nil, err
	}

	return []mcp.PromptMessage{
		systemMessage("You are an expert ESL curriculum designer."),
		userMessage(fmt.Sprintf(
			"Design a curriculum for CEFR level %s. Include learning objectives, activities, and assessment methods.",
			level)),
	}, nil
}
