package transform

import (
	"fmt"
	"strings"
)

// ColumnAnalysis is the per-column schema suggestion.
type ColumnAnalysis struct {
	SourceColumn       string   `json:"source_column"`
	SuggestedName      string   `json:"suggested_name"`
	DataType           string   `json:"data_type"`
	IsKeyField         bool     `json:"is_key_field"`
	Nullable           bool     `json:"nullable"`
	Unique             bool     `json:"unique"`
	MissingCount       int      `json:"missing_count"`
	MissingPercentage  float64  `json:"missing_percentage"`
	HasDuplicates      bool     `json:"has_duplicates"`
	DuplicateCount     int      `json:"duplicate_count"`
	DataQualityWarning string   `json:"data_quality_warning,omitempty"`
	ExampleValues      []string `json:"example_values"`
}

// SchemaAnalysis is the full analysis of one sheet.
type SchemaAnalysis struct {
	SuggestedTableName string           `json:"suggested_table_name"`
	Columns            []ColumnAnalysis `json:"columns"`
	TotalRows          int              `json:"total_rows"`
	DuplicateRowCount  int              `json:"duplicate_row_count"`
	DataQualitySummary string           `json:"data_quality_summary"`
	RecommendedIndexes []string         `json:"recommended_indexes"`
	CreateTableSQL     string           `json:"create_table_sql"`
	Warnings           []string         `json:"warnings"`
}

var abbreviations = map[string]string{
	"emp":    "employee",
	"cust":   "customer",
	"dept":   "department",
	"mgr":    "manager",
	"addr":   "address",
	"qty":    "quantity",
	"amt":    "amount",
	"num":    "number",
	"desc":   "description",
	"ref":    "reference",
	"cat":    "category",
	"prod":   "product",
	"org":    "organization",
	"auth":   "authorization",
	"config": "configuration",
	"admin":  "administrator",
}

var keyPatterns = []string{
	"id", "name", "email", "username", "title", "status", "type",
	"category", "date", "created", "updated",
}

var optionalPatterns = []string{
	"middle", "note", "comment", "description", "optional", "secondary",
	"alternate", "suffix", "prefix", "nickname", "alias",
}

// Column-name keywords that override the sampled type. Order matters: the
// first match wins, so more specific names come first.
var semanticTypes = []struct {
	keyword string
	pgType  string
}{
	{"created_at", "timestamptz"},
	{"updated_at", "timestamptz"},
	{"email", "text"},
	{"phone", "text"},
	{"zip", "text"},
	{"postal", "text"},
	{"id", "text"},
	{"code", "text"},
	{"reference", "text"},
	{"url", "text"},
	{"description", "text"},
	{"notes", "text"},
	{"content", "text"},
	{"price", "numeric"},
	{"amount", "numeric"},
	{"quantity", "integer"},
	{"count", "integer"},
	{"age", "integer"},
	{"year", "integer"},
	{"date", "date"},
	{"active", "boolean"},
	{"enabled", "boolean"},
	{"verified", "boolean"},
}

// AnalyzeSchema produces a deterministic schema suggestion for one extracted
// sheet: semantic column names, key-field classification, data quality
// counters, type suggestions, index recommendations, and CREATE TABLE SQL.
func AnalyzeSchema(sheet SheetData, tableName string) SchemaAnalysis {
	if strings.TrimSpace(tableName) == "" {
		tableName = SuggestName(sheet.SheetName)
	}
	if tableName == "" {
		tableName = "imported_data"
	}

	analysis := SchemaAnalysis{
		SuggestedTableName: tableName,
		TotalRows:          sheet.TotalRows,
		Warnings:           []string{},
		RecommendedIndexes: []string{},
	}

	for idx, source := range sheet.Columns {
		if strings.TrimSpace(source) == "" {
			continue
		}

		col := ColumnAnalysis{
			SourceColumn:  source,
			SuggestedName: SuggestName(source),
		}
		col.IsKeyField = isKeyField(col.SuggestedName)
		col.Nullable = !col.IsKeyField

		values := columnValues(sheet.Rows, idx)
		col.MissingCount, col.DuplicateCount, col.ExampleValues = columnQuality(values)
		col.HasDuplicates = col.DuplicateCount > 0
		if len(values) > 0 {
			col.MissingPercentage = float64(col.MissingCount) / float64(len(values)) * 100
		}

		// Missing values only matter for key fields.
		if col.IsKeyField && col.MissingCount > 0 {
			col.DataQualityWarning = fmt.Sprintf(
				"key field has %d missing values (%.1f%%), should be NOT NULL",
				col.MissingCount, col.MissingPercentage)
		} else if col.IsKeyField && col.HasDuplicates {
			col.DataQualityWarning = fmt.Sprintf(
				"key field has %d duplicate values, consider a UNIQUE constraint",
				col.DuplicateCount)
		}
		if col.DataQualityWarning != "" {
			analysis.Warnings = append(analysis.Warnings,
				fmt.Sprintf("%s: %s", col.SuggestedName, col.DataQualityWarning))
		}

		col.Unique = col.IsKeyField && !col.HasDuplicates &&
			strings.HasSuffix(col.SuggestedName, "id")
		col.DataType = suggestPostgresType(col.SuggestedName, sheet.ColumnTypes[source])

		if indexWorthy(col.SuggestedName) {
			analysis.RecommendedIndexes = append(analysis.RecommendedIndexes,
				fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s (%s);",
					tableName, col.SuggestedName, tableName, col.SuggestedName))
		}

		analysis.Columns = append(analysis.Columns, col)
	}

	analysis.DuplicateRowCount = duplicateRows(sheet.Rows)
	if analysis.DuplicateRowCount > 0 {
		analysis.Warnings = append(analysis.Warnings,
			fmt.Sprintf("%d completely duplicate rows found", analysis.DuplicateRowCount))
	}

	analysis.DataQualitySummary = qualitySummary(len(analysis.Warnings))
	analysis.CreateTableSQL = createTableSQL(tableName, analysis.Columns)
	return analysis
}

// SuggestName converts a header to a semantic snake_case identifier,
// expanding common abbreviations.
func SuggestName(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	name = strings.Trim(name, "_")

	words := strings.Split(name, "_")
	for i, word := range words {
		if expanded, ok := abbreviations[word]; ok {
			words[i] = expanded
		}
	}
	return strings.Join(words, "_")
}

func isKeyField(name string) bool {
	for _, pattern := range optionalPatterns {
		if strings.Contains(name, pattern) {
			return false
		}
	}
	for _, pattern := range keyPatterns {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}

func suggestPostgresType(name, detected string) string {
	for _, semantic := range semanticTypes {
		if strings.Contains(name, semantic.keyword) {
			return semantic.pgType
		}
	}
	switch detected {
	case "number":
		return "numeric"
	case "date":
		return "date"
	case "boolean":
		return "boolean"
	default:
		return "text"
	}
}

func indexWorthy(name string) bool {
	if name == "id" || strings.HasSuffix(name, "_id") {
		return true
	}
	switch name {
	case "status", "type", "category", "date":
		return true
	}
	return false
}

func columnValues(rows [][]string, idx int) []string {
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if idx < len(row) {
			values = append(values, row[idx])
		} else {
			values = append(values, "")
		}
	}
	return values
}

func columnQuality(values []string) (missing, duplicates int, examples []string) {
	counts := map[string]int{}
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			missing++
			continue
		}
		counts[v]++
		if counts[v] == 1 && len(examples) < 5 {
			examples = append(examples, v)
		}
	}
	for _, count := range counts {
		if count > 1 {
			duplicates += count - 1
		}
	}
	return missing, duplicates, examples
}

func duplicateRows(rows [][]string) int {
	counts := map[string]int{}
	for _, row := range rows {
		counts[strings.Join(row, "\x1f")]++
	}
	duplicates := 0
	for _, count := range counts {
		if count > 1 {
			duplicates += count - 1
		}
	}
	return duplicates
}

func qualitySummary(warningCount int) string {
	switch {
	case warningCount == 0:
		return "good: no data quality issues detected"
	case warningCount <= 3:
		return fmt.Sprintf("fair: %d data quality issues detected", warningCount)
	default:
		return fmt.Sprintf("poor: %d data quality issues detected", warningCount)
	}
}

func createTableSQL(tableName string, columns []ColumnAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", tableName)
	b.WriteString("    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),\n")
	for _, col := range columns {
		fmt.Fprintf(&b, "    %s %s", col.SuggestedName, strings.ToUpper(col.DataType))
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if col.Unique {
			b.WriteString(" UNIQUE")
		}
		b.WriteString(",\n")
	}
	b.WriteString("    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),\n")
	b.WriteString("    source_file TEXT,\n")
	b.WriteString("    source_sheet TEXT,\n")
	b.WriteString("    source_row INTEGER\n")
	b.WriteString(");")
	return b.String()
}
