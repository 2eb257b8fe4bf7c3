package transform

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jojopeligroso/MyCastle/internal/store"
)

// memStore records InsertMany batches and can fail a single table.
type memStore struct {
	batches   map[string][][]store.Row
	failTable string
}

func newMemStore() *memStore {
	return &memStore{batches: map[string][][]store.Row{}}
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

func (m *memStore) Insert(ctx context.Context, table string, row store.Row) (store.Row, error) {
	return row, nil
}

func (m *memStore) InsertMany(ctx context.Context, table string, rows []store.Row) (int, error) {
	if table == m.failTable {
		return 0, errors.New("relation does not exist")
	}
	m.batches[table] = append(m.batches[table], rows)
	return len(rows), nil
}

func (m *memStore) Update(ctx context.Context, table string, set store.Row, filters ...store.Filter) ([]store.Row, error) {
	return nil, nil
}

func (m *memStore) Select(ctx context.Context, table string, q store.Query) ([]store.Row, error) {
	return nil, nil
}

func (m *memStore) SelectOne(ctx context.Context, table string, q store.Query) (store.Row, error) {
	return nil, errors.New("not supported")
}

func (m *memStore) Count(ctx context.Context, table string, filters ...store.Filter) (int, error) {
	return 0, nil
}

func (m *memStore) Delete(ctx context.Context, table string, filters ...store.Filter) (int64, error) {
	return 0, nil
}

var serviceTestTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memStore, string) {
	t.Helper()
	dir := t.TempDir()
	db := newMemStore()
	svc, err := NewService(dir, db, zerolog.Nop())
	require.NoError(t, err)
	svc.now = func() time.Time { return serviceTestTime }
	return svc, db, dir
}

func TestSaveUpload(t *testing.T) {
	svc, _, _ := newTestService(t)
	content := buildWorkbook(t, []testSheet{
		{name: "2026-02-01", rows: [][]string{{"Name"}, {"Ana"}}},
		{name: "2026-03-01", rows: [][]string{{"Name"}, {"Bob"}}},
	})

	result, err := svc.SaveUpload(content, "data")
	require.NoError(t, err)

	_, err = uuid.Parse(result.UploadID)
	assert.NoError(t, err)
	assert.Equal(t, "data.xlsx", result.Filename)
	assert.Equal(t, 2, result.SheetCount)
	assert.Equal(t, "2026-03-01", result.MostRecentSheet)
	assert.Equal(t, "2026-03-02T10:00:00Z", result.CreatedAt)
}

func TestSaveUploadRemovesUnparsableFile(t *testing.T) {
	svc, _, dir := newTestService(t)

	_, err := svc.SaveUpload([]byte("not a workbook"), "bad.xlsx")
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPreviewSheet(t *testing.T) {
	svc, _, _ := newTestService(t)
	rows := [][]string{{"Name", "Score"}}
	for i := 0; i < 120; i++ {
		rows = append(rows, []string{"student", "80"})
	}
	upload, err := svc.SaveUpload(buildWorkbook(t, []testSheet{{name: "Grades", rows: rows}}), "grades.xlsx")
	require.NoError(t, err)

	preview, err := svc.PreviewSheet(upload.UploadID, "Grades")
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "Score"}, preview.Columns)
	assert.Equal(t, "number", preview.ColumnTypes["Score"])
	assert.Equal(t, 120, preview.TotalRows)
	assert.Len(t, preview.Rows, 100)
	assert.True(t, preview.HasMore)
}

func TestPreviewSheetUnknownUpload(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.PreviewSheet(uuid.NewString(), "Grades")
	assert.ErrorIs(t, err, ErrUploadNotFound)

	// Non-UUID IDs never touch the filesystem.
	_, err = svc.PreviewSheet("../escape", "Grades")
	assert.ErrorIs(t, err, ErrUploadNotFound)
}

func TestAnalyzeSheet(t *testing.T) {
	svc, _, _ := newTestService(t)
	upload, err := svc.SaveUpload(buildWorkbook(t, []testSheet{{
		name: "Emp Records",
		rows: [][]string{
			{"Emp Name", "Amt"},
			{"Ana", "10.5"},
			{"Bob", "20"},
		},
	}}), "staff.xlsx")
	require.NoError(t, err)

	result, err := svc.AnalyzeSheet(upload.UploadID, "Emp Records")
	require.NoError(t, err)

	assert.Equal(t, "employee_records", result.Analysis.SuggestedTableName)
	assert.Equal(t, map[string]string{
		"Emp Name": "employee_name",
		"Amt":      "amount",
	}, result.SuggestedMapping)
	assert.Equal(t, 2, result.ColumnCount)
	assert.Equal(t, 2, result.RowCount)
}

func TestExecute(t *testing.T) {
	svc, db, _ := newTestService(t)
	upload, err := svc.SaveUpload(buildWorkbook(t, []testSheet{{
		name: "People",
		rows: [][]string{
			{"Name", "Age", "Notes"},
			{"Ana", "30", "x"},
			{"Bob", "", "y"},
		},
	}}), "people.xlsx")
	require.NoError(t, err)

	result, err := svc.Execute(context.Background(), upload.UploadID, "People", "people", map[string]string{
		"Name": "full_name",
		"Age":  "age",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TotalRows)
	assert.Equal(t, 2, result.InsertedCount)
	assert.Zero(t, result.FailedCount)
	assert.Empty(t, result.Errors)

	require.Len(t, db.batches["people"], 1)
	batch := db.batches["people"][0]
	require.Len(t, batch, 2)

	first := batch[0]
	assert.Equal(t, "Ana", first["full_name"])
	assert.Equal(t, "30", first["age"])
	assert.Equal(t, serviceTestTime, first["created_at"])
	assert.Equal(t, "people.xlsx", first["source_file"])
	assert.Equal(t, "People", first["source_sheet"])
	assert.Equal(t, 2, first["source_row"])

	second := batch[1]
	assert.Equal(t, "Bob", second["full_name"])
	assert.Nil(t, second["age"])
	assert.Equal(t, 3, second["source_row"])

	// The unmapped Notes column never reaches the gateway.
	assert.NotContains(t, first, "Notes")
}

func TestExecuteRejectsNonIdentifierNames(t *testing.T) {
	svc, db, _ := newTestService(t)

	// Identifiers reach the statement builder verbatim, so hostile names must
	// never make it to the gateway.
	_, err := svc.Execute(context.Background(), uuid.NewString(),
		"Data", "app_user; DROP TABLE attendance; --", map[string]string{"Value": "value"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid identifier")

	_, err = svc.Execute(context.Background(), uuid.NewString(),
		"Data", "imports", map[string]string{"Value": `x) VALUES ('1'); DROP TABLE app_user; --`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid identifier")

	_, err = svc.Execute(context.Background(), uuid.NewString(),
		"Data", `"quoted"`, map[string]string{"Value": "value"})
	require.Error(t, err)

	assert.Empty(t, db.batches)
}

func TestExecuteRequiresMapping(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Execute(context.Background(), uuid.NewString(), "People", "people", nil)
	require.Error(t, err)
	assert.Equal(t, "column mapping is required", err.Error())
}

func TestExecuteBatchFailure(t *testing.T) {
	svc, db, _ := newTestService(t)
	db.failTable = "broken"
	upload, err := svc.SaveUpload(buildWorkbook(t, []testSheet{{
		name: "Data",
		rows: [][]string{
			{"Value"},
			{"a"},
			{"b"},
			{"c"},
		},
	}}), "data.xlsx")
	require.NoError(t, err)

	result, err := svc.Execute(context.Background(), upload.UploadID, "Data", "broken", map[string]string{
		"Value": "value",
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Zero(t, result.InsertedCount)
	assert.Equal(t, 3, result.FailedCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 2, result.Errors[0].Row)
	assert.False(t, result.HasMoreErrors)
}

func TestCleanup(t *testing.T) {
	svc, _, _ := newTestService(t)
	upload, err := svc.SaveUpload(buildWorkbook(t, []testSheet{{
		name: "Data",
		rows: [][]string{{"Value"}, {"a"}},
	}}), "data.xlsx")
	require.NoError(t, err)

	removed, err := svc.Cleanup(upload.UploadID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = svc.Cleanup(upload.UploadID)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = svc.Cleanup("not-a-uuid")
	require.NoError(t, err)
	assert.False(t, removed)
}
