// Package parsers loads reconciliation reference data from files.
//
// CSV loaders read targets, candidates, balances and proposed links; a YAML
// loader reads tolerance scope overrides. All loaders share BaseParser, which
// handles header mapping, encoding checks, empty rows and per-record error
// collection.
//
// Loaders:
//   - LoadTargets: bank movements and invoices to be matched
//   - LoadCandidates: PO headers, PO lines, invoices, expenses, receipts
//   - LoadBalances: group totals, line remainders and three-way status in one file
//   - LoadLinks: the allocation a caller wants to confirm
//   - LoadToleranceScopes: global, project and vendor tolerance overrides
//   - LoadDataset: targets, candidates and balances read concurrently
//
// Example usage:
//
//	loader := parsers.NewLoader(nil, log)
//	candidates, stats, err := loader.LoadCandidates(ctx, "candidates.csv")
//	if err != nil {
//		return err
//	}
//	if stats.HasErrors() {
//		log.Warnf("skipped %d rows", stats.ErrorCount)
//	}
//
// Amounts accept currency symbols and thousands separators; dates accept
// ISO, US and a few textual layouts and are truncated to UTC days.
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"
)

// RowError describes one CSV record that could not be loaded.
type RowError struct {
	Line    int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *RowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d (%s='%s'): %s: %v", e.Line, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("line %d (%s='%s'): %s", e.Line, e.Field, e.Value, e.Message)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	Delimiter        rune `mapstructure:"delimiter"`
	Comment          rune `mapstructure:"comment"`
	SkipEmptyRows    bool `mapstructure:"skip_empty_rows"`
	MaxFieldSize     int  `mapstructure:"max_field_size"`
	ValidateEncoding bool `mapstructure:"validate_encoding"`
	// Strict aborts on the first bad record instead of skipping it
	Strict bool `mapstructure:"strict"`
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:        ',',
		Comment:          '#',
		SkipEmptyRows:    true,
		MaxFieldSize:     64 * 1024,
		ValidateEncoding: true,
	}
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a BaseParser; nil config means defaults.
func NewBaseParser(config *ParseConfig, log logger.Logger) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &BaseParser{
		config: config,
		logger: logger.OrNop(log).WithComponent("csv_parser"),
	}
}

// ParseContext holds state during one file parse.
type ParseContext struct {
	ctx        context.Context
	FilePath   string
	LineNumber int
	Headers    []string
	headerMap  map[string]int
}

// NewParseContext creates a parsing context for filePath.
func NewParseContext(ctx context.Context, filePath string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		ctx:       ctx,
		FilePath:  filePath,
		headerMap: make(map[string]int),
	}
}

// Err returns the cancellation error of the underlying context, if any.
func (pc *ParseContext) Err() error {
	return pc.ctx.Err()
}

// ColumnIndex returns the index of a column by case-insensitive name, or -1.
func (pc *ParseContext) ColumnIndex(name string) int {
	if index, ok := pc.headerMap[strings.ToLower(name)]; ok {
		return index
	}
	return -1
}

// HasColumn reports whether the header row contains name.
func (pc *ParseContext) HasColumn(name string) bool {
	return pc.ColumnIndex(name) >= 0
}

// OpenFile opens a CSV file and returns it with a configured reader.
func (bp *BaseParser) OpenFile(filePath string) (*os.File, *csv.Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")
		return nil, nil, errors.Wrap(err, errors.CategoryInput, errors.CodeInvalidInput,
			fmt.Sprintf("cannot open %s", filePath)).
			WithContext("file", filePath)
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			return nil, nil, err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, nil, errors.InternalError("csv_rewind", err)
		}
	}

	reader := csv.NewReader(file)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	return file, reader, nil
}

// validateEncoding checks that the first lines are valid UTF-8
func (bp *BaseParser) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() && lineNum < 100 {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(errors.CodeInvalidFormat, filePath, lineNum, "encoding",
				fmt.Errorf("invalid UTF-8 encoding detected")).
				WithSuggestion("save the file in UTF-8 encoding and try again")
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.ParseError(errors.CodeInvalidFormat, filePath, lineNum, "encoding", err)
	}
	return nil
}

// ReadHeaders reads the header row and checks required columns.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, pc *ParseContext, required []string) error {
	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.ParseError(errors.CodeMissingColumn, pc.FilePath, 1, strings.Join(required, ","), nil).
				WithSuggestion("ensure the file contains a header row")
		}
		return errors.ParseError(errors.CodeInvalidFormat, pc.FilePath, 1, "headers", err)
	}

	pc.LineNumber++
	pc.Headers = make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		pc.Headers[i] = h
		pc.headerMap[strings.ToLower(h)] = i
	}

	var missing []string
	for _, name := range required {
		if !pc.HasColumn(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"file_path":         pc.FilePath,
			"missing_headers":   missing,
			"available_headers": pc.Headers,
		}).Error("Required headers are missing")
		return errors.ParseError(errors.CodeMissingColumn, pc.FilePath, 1, strings.Join(missing, ", "), nil).
			WithSuggestion(fmt.Sprintf("ensure the CSV file contains these headers: %s", strings.Join(required, ", ")))
	}
	return nil
}

// ReadRecord returns the next non-empty record, io.EOF at the end.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, pc *ParseContext) ([]string, error) {
	for {
		if err := pc.Err(); err != nil {
			return nil, errors.Cancelled("csv_parsing", err)
		}

		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, err
			}
			pc.LineNumber++
			return nil, errors.ParseError(errors.CodeInvalidFormat, pc.FilePath, pc.LineNumber, "record", err)
		}
		pc.LineNumber++

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, errors.ParseError(errors.CodeInvalidFormat, pc.FilePath, pc.LineNumber,
						columnName(pc, i), fmt.Errorf("field exceeds maximum size of %d bytes", bp.config.MaxFieldSize))
				}
			}
		}
		return record, nil
	}
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func columnName(pc *ParseContext, i int) string {
	if i < len(pc.Headers) {
		return pc.Headers[i]
	}
	return fmt.Sprintf("field_%d", i)
}

// Field returns the trimmed value of a named column; absent columns and
// short records yield "".
func (bp *BaseParser) Field(record []string, pc *ParseContext, name string) string {
	index := pc.ColumnIndex(name)
	if index < 0 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// RequiredField is Field failing on an empty value.
func (bp *BaseParser) RequiredField(record []string, pc *ParseContext, name string) (string, *RowError) {
	value := bp.Field(record, pc, name)
	if value == "" {
		return "", &RowError{Line: pc.LineNumber, Field: name, Message: "required value is empty"}
	}
	return value, nil
}

// rowFunc converts one record; a non-nil RowError rejects the record.
type rowFunc func(record []string, pc *ParseContext) *RowError

// parseFile drives a full file parse, handing each record to row.
func (bp *BaseParser) parseFile(ctx context.Context, filePath string, required []string, row rowFunc) (*ParseStats, error) {
	file, reader, err := bp.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	pc := NewParseContext(ctx, filePath)
	stats := NewParseStats()
	if err := bp.ReadHeaders(reader, pc, required); err != nil {
		return stats, err
	}

	for {
		record, err := bp.ReadRecord(reader, pc)
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.IsCancelled(err) || bp.config.Strict {
				return stats, err
			}
			stats.AddError(&RowError{Line: pc.LineNumber, Field: "record", Message: "unreadable record", Err: err})
			continue
		}

		stats.RecordsParsed++
		if rowErr := row(record, pc); rowErr != nil {
			if bp.config.Strict {
				return stats, errors.ParseError(errors.CodeInvalidFormat, filePath, rowErr.Line, rowErr.Field, rowErr)
			}
			stats.AddError(rowErr)
			continue
		}
		stats.RecordsValid++
	}
	stats.TotalLines = pc.LineNumber

	log := bp.logger.WithFields(logger.Fields{
		"file_path": filePath,
		"records":   stats.RecordsParsed,
		"valid":     stats.RecordsValid,
		"errors":    stats.ErrorCount,
	})
	if stats.HasErrors() {
		log.WithField("sample_errors", stats.SampleErrors(3)).Warn("Skipped invalid records")
	} else {
		log.Debug("Parsed CSV file")
	}
	return stats, nil
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	ErrorCount    int
	Errors        []*RowError
}

// NewParseStats creates a new ParseStats instance
func NewParseStats() *ParseStats {
	return &ParseStats{}
}

// AddError adds an error to the parsing statistics
func (ps *ParseStats) AddError(err *RowError) {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount)
}

// SampleErrors returns up to maxSamples error messages.
func (ps *ParseStats) SampleErrors(maxSamples int) []string {
	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}
	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Errors[i].Error())
	}
	return samples
}
