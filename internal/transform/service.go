package transform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jojopeligroso/MyCastle/internal/store"
)

// insertBatchSize is the number of rows per gateway insert.
const insertBatchSize = 100

// ErrUploadNotFound indicates an unknown or already cleaned-up upload ID.
var ErrUploadNotFound = errors.New("upload not found")

// identifierPattern constrains table and column names to plain SQL
// identifiers. The gateway splices identifiers into statements verbatim, so
// anything else in a request-supplied name must be rejected here.
var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Service stores uploaded workbooks under a per-upload directory and drives
// preview, analysis, and execution.
type Service struct {
	uploadDir string
	db        store.Store
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a transform service rooted at uploadDir.
func NewService(uploadDir string, db store.Store, logger zerolog.Logger) (*Service, error) {
	if strings.TrimSpace(uploadDir) == "" {
		uploadDir = filepath.Join(os.TempDir(), "mycastle-uploads")
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &Service{
		uploadDir: uploadDir,
		db:        db,
		logger:    logger.With().Str("component", "transform").Logger(),
		now:       time.Now,
	}, nil
}

// UploadResult describes a stored workbook.
type UploadResult struct {
	UploadID        string      `json:"upload_id"`
	Filename        string      `json:"filename"`
	FileSize        int64       `json:"file_size"`
	SheetCount      int         `json:"sheet_count"`
	Sheets          []SheetInfo `json:"sheets"`
	MostRecentSheet string      `json:"most_recent_sheet,omitempty"`
	CreatedAt       string      `json:"created_at"`
}

// SaveUpload stores the workbook bytes under a fresh upload ID and parses
// sheet metadata. The stored file is removed again when parsing fails.
func (s *Service) SaveUpload(content []byte, filename string) (UploadResult, error) {
	uploadID := uuid.NewString()

	filename = filepath.Base(filename)
	if !strings.HasSuffix(strings.ToLower(filename), ".xlsx") {
		filename += ".xlsx"
	}

	dir := filepath.Join(s.uploadDir, uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return UploadResult{}, fmt.Errorf("creating upload directory: %w", err)
	}

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return UploadResult{}, fmt.Errorf("writing upload: %w", err)
	}

	info, err := ParseWorkbook(path)
	if err != nil {
		_ = os.RemoveAll(dir)
		return UploadResult{}, err
	}

	s.logger.Info().
		Str("upload_id", uploadID).
		Str("filename", filename).
		Int("sheets", info.SheetCount).
		Msg("stored uploaded workbook")

	return UploadResult{
		UploadID:        uploadID,
		Filename:        filename,
		FileSize:        info.FileSize,
		SheetCount:      info.SheetCount,
		Sheets:          info.Sheets,
		MostRecentSheet: info.MostRecentSheet,
		CreatedAt:       s.now().UTC().Format(time.RFC3339),
	}, nil
}

// Preview extracts a sheet and returns its header, detected column types, and
// the first rows.
type Preview struct {
	SheetName   string            `json:"sheet_name"`
	Columns     []string          `json:"columns"`
	ColumnTypes map[string]string `json:"column_types"`
	RowCount    int               `json:"row_count"`
	Rows        [][]string        `json:"rows"`
	TotalRows   int               `json:"total_rows"`
	HasMore     bool              `json:"has_more"`
}

// PreviewSheet returns a capped preview of one sheet in an upload.
func (s *Service) PreviewSheet(uploadID, sheetName string) (Preview, error) {
	sheet, err := s.extract(uploadID, sheetName, maxExtractRows)
	if err != nil {
		return Preview{}, err
	}

	rows := sheet.Rows
	hasMore := len(rows) > previewRows
	if hasMore {
		rows = rows[:previewRows]
	}

	return Preview{
		SheetName:   sheet.SheetName,
		Columns:     sheet.Columns,
		ColumnTypes: sheet.ColumnTypes,
		RowCount:    sheet.TotalRows,
		Rows:        rows,
		TotalRows:   sheet.TotalRows,
		HasMore:     hasMore,
	}, nil
}

// AnalysisResult pairs the schema analysis with the column mapping callers
// feed back into Execute.
type AnalysisResult struct {
	SuggestedMapping map[string]string `json:"suggested_mapping"`
	Analysis         SchemaAnalysis    `json:"analysis"`
	ColumnCount      int               `json:"column_count"`
	RowCount         int               `json:"row_count"`
}

// AnalyzeSheet runs the deterministic schema analyzer over one sheet.
func (s *Service) AnalyzeSheet(uploadID, sheetName string) (AnalysisResult, error) {
	sheet, err := s.extract(uploadID, sheetName, maxExtractRows)
	if err != nil {
		return AnalysisResult{}, err
	}

	analysis := AnalyzeSchema(sheet, "")
	mapping := make(map[string]string, len(analysis.Columns))
	for _, col := range analysis.Columns {
		mapping[col.SourceColumn] = col.SuggestedName
	}

	return AnalysisResult{
		SuggestedMapping: mapping,
		Analysis:         analysis,
		ColumnCount:      len(analysis.Columns),
		RowCount:         sheet.TotalRows,
	}, nil
}

// RowError reports one failed source row.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ExecuteResult summarizes a transformation run.
type ExecuteResult struct {
	Success       bool       `json:"success"`
	TableName     string     `json:"table_name"`
	TotalRows     int        `json:"total_rows"`
	InsertedCount int        `json:"inserted_count"`
	FailedCount   int        `json:"failed_count"`
	Errors        []RowError `json:"errors"`
	HasMoreErrors bool       `json:"has_more_errors"`
}

// Execute maps sheet columns onto table columns and batch-inserts the rows
// through the gateway. Source provenance columns are stamped on every row;
// source_row is 1-based counting the header as row 1.
func (s *Service) Execute(ctx context.Context, uploadID, sheetName, tableName string, columnMapping map[string]string) (ExecuteResult, error) {
	if len(columnMapping) == 0 {
		return ExecuteResult{}, fmt.Errorf("column mapping is required")
	}
	if !identifierPattern.MatchString(tableName) {
		return ExecuteResult{}, fmt.Errorf("table name %q is not a valid identifier", tableName)
	}
	for source, target := range columnMapping {
		if !identifierPattern.MatchString(target) {
			return ExecuteResult{}, fmt.Errorf("column %q maps to invalid identifier %q", source, target)
		}
	}

	sheet, err := s.extract(uploadID, sheetName, maxExecuteRows)
	if err != nil {
		return ExecuteResult{}, err
	}

	colIndex := make(map[string]int, len(sheet.Columns))
	for idx, name := range sheet.Columns {
		colIndex[name] = idx
	}

	sourceFile, _ := s.workbookPath(uploadID)
	createdAt := s.now().UTC()

	records := make([]store.Row, 0, len(sheet.Rows))
	for rowIdx, row := range sheet.Rows {
		record := store.Row{}
		for source, target := range columnMapping {
			idx, known := colIndex[source]
			if !known || idx >= len(row) || row[idx] == "" {
				record[target] = nil
				continue
			}
			record[target] = row[idx]
		}
		record["created_at"] = createdAt
		record["source_file"] = filepath.Base(sourceFile)
		record["source_sheet"] = sheetName
		record["source_row"] = rowIdx + 2
		records = append(records, record)
	}

	result := ExecuteResult{
		TableName: tableName,
		TotalRows: len(sheet.Rows),
		Errors:    []RowError{},
	}

	var allErrors []RowError
	for start := 0; start < len(records); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		if _, err := s.db.InsertMany(ctx, tableName, batch); err != nil {
			result.FailedCount += len(batch)
			allErrors = append(allErrors, RowError{
				Row:   start + 2,
				Error: err.Error(),
			})
			continue
		}
		result.InsertedCount += len(batch)
	}

	if len(allErrors) > 10 {
		result.Errors = allErrors[:10]
		result.HasMoreErrors = true
	} else {
		result.Errors = allErrors
	}
	result.Success = result.FailedCount == 0

	s.logger.Info().
		Str("upload_id", uploadID).
		Str("table", tableName).
		Int("inserted", result.InsertedCount).
		Int("failed", result.FailedCount).
		Msg("transformation executed")
	return result, nil
}

// Cleanup removes an upload directory. Returns false when the upload does not
// exist.
func (s *Service) Cleanup(uploadID string) (bool, error) {
	dir, ok := s.uploadPath(uploadID)
	if !ok {
		return false, nil
	}
	if _, err := os.Stat(dir); err != nil {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("removing upload %s: %w", uploadID, err)
	}
	s.logger.Info().Str("upload_id", uploadID).Msg("cleaned up upload")
	return true, nil
}

func (s *Service) extract(uploadID, sheetName string, maxRows int) (SheetData, error) {
	path, err := s.workbookPath(uploadID)
	if err != nil {
		return SheetData{}, err
	}
	return ExtractSheet(path, sheetName, maxRows)
}

func (s *Service) workbookPath(uploadID string) (string, error) {
	dir, ok := s.uploadPath(uploadID)
	if !ok {
		return "", fmt.Errorf("upload %s: %w", uploadID, ErrUploadNotFound)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.xlsx"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("upload %s: %w", uploadID, ErrUploadNotFound)
	}
	return matches[0], nil
}

// uploadPath validates the ID shape before joining it into a path.
func (s *Service) uploadPath(uploadID string) (string, bool) {
	if _, err := uuid.Parse(uploadID); err != nil {
		return "", false
	}
	return filepath.Join(s.uploadDir, uploadID), true
}
