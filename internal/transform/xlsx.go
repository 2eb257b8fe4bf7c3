// Package transform implements the XLSX schema-inference pipeline: workbook
// parsing, deterministic schema analysis, and batch import through the table
// gateway.
package transform

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	// maxExtractRows caps rows read from a sheet, header included.
	maxExtractRows = 1000
	// maxExecuteRows caps rows read for a transformation run.
	maxExecuteRows = 10000
	// previewRows caps rows returned to preview callers.
	previewRows = 100
)

var sheetDatePattern = regexp.MustCompile(`(\d{4}[-/]\d{2}[-/]\d{2})`)

// SheetInfo summarizes one worksheet.
type SheetInfo struct {
	Name         string `json:"name"`
	RowCount     int    `json:"row_count"`
	ColumnCount  int    `json:"column_count"`
	HasData      bool   `json:"has_data"`
	DateFromName string `json:"date_from_name,omitempty"`
}

// WorkbookInfo summarizes a parsed workbook.
type WorkbookInfo struct {
	FileName        string      `json:"file_name"`
	FileSize        int64       `json:"file_size"`
	SheetCount      int         `json:"sheet_count"`
	Sheets          []SheetInfo `json:"sheets"`
	MostRecentSheet string      `json:"most_recent_sheet,omitempty"`
}

// SheetData holds extracted sheet contents: header row, data rows, and
// per-column detected types.
type SheetData struct {
	SheetName   string            `json:"sheet_name"`
	Columns     []string          `json:"columns"`
	ColumnTypes map[string]string `json:"column_types"`
	Rows        [][]string        `json:"rows"`
	TotalRows   int               `json:"total_rows"`
}

// ParseWorkbook opens an XLSX file and returns sheet metadata. Sheets whose
// names carry a YYYY-MM-DD date sort most recent first.
func ParseWorkbook(path string) (WorkbookInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return WorkbookInfo{}, fmt.Errorf("stat workbook: %w", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return WorkbookInfo{}, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	var dated, undated []SheetInfo
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return WorkbookInfo{}, fmt.Errorf("reading sheet %q: %w", name, err)
		}

		columnCount := 0
		for _, row := range rows {
			if len(row) > columnCount {
				columnCount = len(row)
			}
		}
		info := SheetInfo{
			Name:        name,
			RowCount:    len(rows),
			ColumnCount: columnCount,
			HasData:     len(rows) > 0,
		}
		if match := sheetDatePattern.FindString(name); match != "" {
			normalized := strings.ReplaceAll(match, "/", "-")
			if parsed, err := time.Parse("2006-01-02", normalized); err == nil {
				info.DateFromName = parsed.Format(time.RFC3339)
			}
		}
		if info.DateFromName != "" {
			dated = append(dated, info)
		} else {
			undated = append(undated, info)
		}
	}

	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].DateFromName > dated[j].DateFromName
	})
	sheets := append(dated, undated...)

	wb := WorkbookInfo{
		FileName:   fileBase(path),
		FileSize:   stat.Size(),
		SheetCount: len(sheets),
		Sheets:     sheets,
	}
	if len(sheets) > 0 {
		wb.MostRecentSheet = sheets[0].Name
	}
	return wb, nil
}

// ExtractSheet reads up to maxRows rows (header included) from one sheet. The
// first row is the header; trailing empty header columns are trimmed.
func ExtractSheet(path, sheetName string, maxRows int) (SheetData, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return SheetData{}, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	raw, err := f.GetRows(sheetName)
	if err != nil {
		return SheetData{}, fmt.Errorf("sheet %q not found: %w", sheetName, err)
	}
	if len(raw) == 0 {
		return SheetData{}, fmt.Errorf("sheet %q is empty", sheetName)
	}
	if maxRows > 0 && len(raw) > maxRows {
		raw = raw[:maxRows]
	}

	headers := raw[0]
	rows := raw[1:]

	// Trim trailing empty header columns.
	for len(headers) > 0 && strings.TrimSpace(headers[len(headers)-1]) == "" {
		headers = headers[:len(headers)-1]
	}
	trimmed := make([][]string, len(rows))
	for i, row := range rows {
		if len(row) > len(headers) {
			row = row[:len(headers)]
		}
		// Pad short rows so downstream indexing stays in range.
		for len(row) < len(headers) {
			row = append(row, "")
		}
		trimmed[i] = row
	}

	return SheetData{
		SheetName:   sheetName,
		Columns:     headers,
		ColumnTypes: detectColumnTypes(headers, trimmed),
		Rows:        trimmed,
		TotalRows:   len(trimmed),
	}, nil
}

// detectColumnTypes samples up to 10 non-empty values over the first 20 rows
// of each column and classifies it as number, date, boolean, or text.
func detectColumnTypes(headers []string, rows [][]string) map[string]string {
	types := make(map[string]string, len(headers))

	sampleRows := rows
	if len(sampleRows) > 20 {
		sampleRows = sampleRows[:20]
	}

	for idx, header := range headers {
		if strings.TrimSpace(header) == "" {
			continue
		}

		var samples []string
		for _, row := range sampleRows {
			if len(samples) >= 10 {
				break
			}
			if idx < len(row) && row[idx] != "" {
				samples = append(samples, row[idx])
			}
		}
		types[header] = classify(samples)
	}
	return types
}

func classify(samples []string) string {
	if len(samples) == 0 {
		return "text"
	}

	allNumbers, allDates, allBools := true, true, true
	for _, v := range samples {
		if _, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err != nil {
			allNumbers = false
		}
		if !looksLikeDate(v) {
			allDates = false
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "false":
		default:
			allBools = false
		}
	}

	switch {
	case allNumbers:
		return "number"
	case allDates:
		return "date"
	case allBools:
		return "boolean"
	default:
		return "text"
	}
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d{4}[-/]\d{2}[-/]\d{2}`),
	regexp.MustCompile(`^\d{2}[-/]\d{2}[-/]\d{4}`),
	regexp.MustCompile(`^\d{1,2}[-/]\d{1,2}[-/]\d{2,4}`),
}

func looksLikeDate(value string) bool {
	trimmed := strings.TrimSpace(value)
	for _, pattern := range datePatterns {
		if pattern.MatchString(trimmed) {
			return true
		}
	}
	return false
}

func fileBase(path string) string {
	if idx := strings.LastIndexAny(path, `/\`); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
