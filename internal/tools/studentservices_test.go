package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jojopeligroso/MyCastle/internal/mcp"
	"github.com/jojopeligroso/MyCastle/internal/store"
)

func newStudentServicesTestServer(t *testing.T) (*mcp.Server, *fakeStore) {
	t.Helper()
	db := newFakeStore()
	srv, err := newStudentServicesServer(db, testLogger(), testClock)
	require.NoError(t, err)
	return srv, db
}

func TestRegisterHost(t *testing.T) {
	srv, _ := newStudentServicesTestServer(t)

	out := call(t, srv, adminCaller(), "student_services:register_host", map[string]any{
		"name":          "The Murphys",
		"address":       "12 Seaview Road",
		"capacity":      float64(3),
		"contact_email": "murphys@example.com",
	})

	host := out["host"].(store.Row)
	assert.Equal(t, 3, host["capacity"])
	assert.Equal(t, 0, host["current_occupancy"])
}

func TestRegisterHostRejectsZeroCapacity(t *testing.T) {
	srv, _ := newStudentServicesTestServer(t)

	msg := callFailure(t, srv, adminCaller(), "student_services:register_host", map[string]any{
		"name":          "The Murphys",
		"address":       "12 Seaview Road",
		"capacity":      float64(0),
		"contact_email": "murphys@example.com",
	})
	assert.Equal(t, "capacity must be at least 1", msg)
}

func TestAllocateAccommodation(t *testing.T) {
	srv, db := newStudentServicesTestServer(t)
	hostIDs := db.seed("host", store.Row{"name": "The Murphys", "capacity": 2, "current_occupancy": 0})

	out := call(t, srv, adminCaller(), "student_services:allocate_accommodation", map[string]any{
		"student_id": "stu-1",
		"host_id":    hostIDs[0],
		"start_date": "2026-03-09",
		"end_date":   "2026-04-06",
	})

	allocation := out["allocation"].(store.Row)
	assert.Equal(t, "active", allocation["status"])

	host, err := db.SelectOne(context.Background(), "host", store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, host["current_occupancy"])
}

func TestAllocateAccommodationFullHost(t *testing.T) {
	srv, db := newStudentServicesTestServer(t)
	hostIDs := db.seed("host", store.Row{"name": "The Murphys", "capacity": 1, "current_occupancy": 1})

	msg := callFailure(t, srv, adminCaller(), "student_services:allocate_accommodation", map[string]any{
		"student_id": "stu-1",
		"host_id":    hostIDs[0],
		"start_date": "2026-03-09",
		"end_date":   "2026-04-06",
	})
	assert.Equal(t, "host is at full capacity", msg)
}

func TestAllocateAccommodationRejectsInvertedDates(t *testing.T) {
	srv, _ := newStudentServicesTestServer(t)

	msg := callFailure(t, srv, adminCaller(), "student_services:allocate_accommodation", map[string]any{
		"student_id": "stu-1",
		"host_id":    "host-1",
		"start_date": "2026-04-06",
		"end_date":   "2026-03-09",
	})
	assert.Equal(t, "end_date must not be before start_date", msg)
}

func TestSwapAccommodation(t *testing.T) {
	srv, db := newStudentServicesTestServer(t)
	oldHostIDs := db.seed("host", store.Row{"name": "Old Host", "capacity": 2, "current_occupancy": 1})
	newHostIDs := db.seed("host", store.Row{"name": "New Host", "capacity": 2, "current_occupancy": 0})
	allocationIDs := db.seed("accommodation_allocation", store.Row{
		"student_id": "stu-1",
		"host_id":    oldHostIDs[0],
		"start_date": "2026-02-01",
		"end_date":   "2026-05-01",
		"status":     "active",
	})

	out := call(t, srv, adminCaller(), "student_services:swap_accommodation", map[string]any{
		"allocation_id": allocationIDs[0],
		"new_host_id":   newHostIDs[0],
		"reason":        "allergy to pets",
	})

	oldAllocation := out["old_allocation"].(store.Row)
	assert.Equal(t, "ended", oldAllocation["status"])
	assert.Equal(t, "2026-03-02", oldAllocation["end_date"])
	assert.Equal(t, "allergy to pets", oldAllocation["swap_reason"])

	newAllocation := out["new_allocation"].(store.Row)
	assert.Equal(t, "active", newAllocation["status"])
	assert.Equal(t, "2026-03-02", newAllocation["start_date"])
	assert.Equal(t, "2026-05-01", newAllocation["end_date"])

	oldHost, err := db.SelectOne(context.Background(), "host", store.Query{
		Filters: []store.Filter{store.Eq("id", oldHostIDs[0])},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, oldHost["current_occupancy"])

	newHost, err := db.SelectOne(context.Background(), "host", store.Query{
		Filters: []store.Filter{store.Eq("id", newHostIDs[0])},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, newHost["current_occupancy"])
}

func TestSwapAccommodationFullNewHost(t *testing.T) {
	srv, db := newStudentServicesTestServer(t)
	oldHostIDs := db.seed("host", store.Row{"name": "Old Host", "capacity": 2, "current_occupancy": 1})
	newHostIDs := db.seed("host", store.Row{"name": "New Host", "capacity": 1, "current_occupancy": 1})
	allocationIDs := db.seed("accommodation_allocation", store.Row{
		"student_id": "stu-1",
		"host_id":    oldHostIDs[0],
		"status":     "active",
	})

	msg := callFailure(t, srv, adminCaller(), "student_services:swap_accommodation", map[string]any{
		"allocation_id": allocationIDs[0],
		"new_host_id":   newHostIDs[0],
		"reason":        "too far from school",
	})
	assert.Equal(t, "new host is at full capacity", msg)
}

func TestExportPlacements(t *testing.T) {
	srv, db := newStudentServicesTestServer(t)
	db.seed("accommodation_allocation",
		store.Row{"student_id": "stu-1", "status": "active", "start_date": "2026-02-01", "end_date": "2026-04-01"},
		store.Row{"student_id": "stu-2", "status": "active", "start_date": "2026-03-10", "end_date": "2026-04-01"},
		store.Row{"student_id": "stu-3", "status": "ended", "start_date": "2026-02-01", "end_date": "2026-04-01"},
	)

	out := call(t, srv, adminCaller(), "student_services:export_placements", map[string]any{
		"date": "2026-03-02",
	})

	assert.Equal(t, 1, out["placement_count"])
	assert.Equal(t, "csv", out["format"])
}

func TestIssueLetter(t *testing.T) {
	srv, db := newStudentServicesTestServer(t)
	db.seed("app_user", store.Row{"id": "stu-1", "full_name": "Ana Silva", "role": "student"})

	out := call(t, srv, adminCaller(), "student_services:issue_letter", map[string]any{
		"student_id":  "stu-1",
		"letter_type": "visa_support",
	})

	assert.Equal(t, "visa support letter issued", out["message"])
	letter := out["letter"].(store.Row)
	assert.Equal(t, "This letter supports Ana Silva's visa application.", letter["content"])
	assert.Equal(t, "admin-1", letter["issued_by"])
}

func TestIssueLetterUnknownType(t *testing.T) {
	srv, _ := newStudentServicesTestServer(t)

	msg := callFailure(t, srv, adminCaller(), "student_services:issue_letter", map[string]any{
		"student_id":  "stu-1",
		"letter_type": "expulsion",
	})
	assert.Equal(t, `unknown letter type "expulsion"`, msg)
}

func TestApproveDeferralUpdatesBooking(t *testing.T) {
	srv, db := newStudentServicesTestServer(t)
	bookingIDs := db.seed("booking", store.Row{"student_id": "stu-1", "start_date": "2026-03-09"})
	requestIDs := db.seed("deferral_request", store.Row{
		"student_id": "stu-1",
		"booking_id": bookingIDs[0],
		"status":     "pending",
	})

	out := call(t, srv, adminCaller(), "student_services:approve_deferral", map[string]any{
		"deferral_request_id": requestIDs[0],
		"approved":            true,
		"new_start_date":      "2026-06-01",
	})

	assert.Equal(t, true, out["approved"])
	request := out["deferral_request"].(store.Row)
	assert.Equal(t, "approved", request["status"])

	booking, err := db.SelectOne(context.Background(), "booking", store.Query{})
	require.NoError(t, err)
	assert.Equal(t, "2026-06-01", booking["start_date"])
	assert.Equal(t, true, booking["deferred"])
}

func TestRejectDeferralLeavesBooking(t *testing.T) {
	srv, db := newStudentServicesTestServer(t)
	bookingIDs := db.seed("booking", store.Row{"student_id": "stu-1", "start_date": "2026-03-09"})
	requestIDs := db.seed("deferral_request", store.Row{
		"student_id": "stu-1",
		"booking_id": bookingIDs[0],
		"status":     "pending",
	})

	out := call(t, srv, adminCaller(), "student_services:approve_deferral", map[string]any{
		"deferral_request_id": requestIDs[0],
		"approved":            false,
	})

	request := out["deferral_request"].(store.Row)
	assert.Equal(t, "rejected", request["status"])

	booking, err := db.SelectOne(context.Background(), "booking", store.Query{})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-09", booking["start_date"])
}

func TestAwardCertificate(t *testing.T) {
	srv, _ := newStudentServicesTestServer(t)

	out := call(t, srv, adminCaller(), "student_services:award_certificate", map[string]any{
		"student_id":      "0f8fad5b-d9cb-469f-a165-70867728950e",
		"course_id":       "course-1",
		"completion_date": "2026-02-27",
	})

	assert.Equal(t, "CERT-20260302-0f8fad5b", out["certificate_number"])
}

func TestAwardCertificateDuplicate(t *testing.T) {
	srv, _ := newStudentServicesTestServer(t)
	args := map[string]any{
		"student_id":      "0f8fad5b-d9cb-469f-a165-70867728950e",
		"course_id":       "course-1",
		"completion_date": "2026-02-27",
	}

	call(t, srv, adminCaller(), "student_services:award_certificate", args)
	msg := callFailure(t, srv, adminCaller(), "student_services:award_certificate", args)
	assert.Equal(t, "certificate CERT-20260302-0f8fad5b already issued", msg)
}

func TestTrackVisaStatusUpsert(t *testing.T) {
	srv, db := newStudentServicesTestServer(t)

	out := call(t, srv, adminCaller(), "student_services:track_visa_status", map[string]any{
		"student_id":  "stu-1",
		"visa_status": "submitted",
		"visa_type":   "study",
	})
	record := out["visa_record"].(store.Row)
	assert.Equal(t, "submitted", record["status"])

	out = call(t, srv, adminCaller(), "student_services:track_visa_status", map[string]any{
		"student_id":  "stu-1",
		"visa_status": "approved",
		"visa_expiry": "2027-03-01",
	})
	record = out["visa_record"].(store.Row)
	assert.Equal(t, "approved", record["status"])
	assert.Equal(t, "2027-03-01", record["expiry_date"])

	count, err := db.Count(context.Background(), "visa_status", store.Eq("student_id", "stu-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTrackVisaStatusRejectsUnknownStatus(t *testing.T) {
	srv, _ := newStudentServicesTestServer(t)

	msg := callFailure(t, srv, adminCaller(), "student_services:track_visa_status", map[string]any{
		"student_id":  "stu-1",
		"visa_status": "lost",
	})
	assert.Equal(t, `unknown visa status "lost"`, msg)
}

func TestRecordPastoralNote(t *testing.T) {
	srv, db := newStudentServicesTestServer(t)

	out := call(t, srv, adminCaller(), "student_services:record_pastoral_note", map[string]any{
		"student_id": "stu-1",
		"category":   "wellbeing",
		"content":    "seemed withdrawn this week",
	})

	assert.Equal(t, "wellbeing", out["category"])

	note, err := db.SelectOne(context.Background(), "pastoral_note", store.Query{})
	require.NoError(t, err)
	assert.Equal(t, "[wellbeing] seemed withdrawn this week", note["note"])
	assert.Equal(t, true, note["confidential"])
	assert.Equal(t, "admin-1", note["author_id"])
}
