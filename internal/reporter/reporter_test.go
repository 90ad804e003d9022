package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/reconciler"
	"golang-reconciliation-engine/internal/tolerance"
	"golang-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

func plainConfig(format OutputFormat) *ReportConfig {
	cfg := DefaultReportConfig()
	cfg.Format = format
	cfg.UseColors = false
	return cfg
}

func sampleSuggestResponse() *reconciler.SuggestResponse {
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	line := func(id string, amount int64) models.Candidate {
		return models.Candidate{
			ID:               id,
			Kind:             models.KindPOLine,
			Amount:           decimal.NewFromInt(amount),
			Date:             date,
			CounterpartyName: "Acme Supplies GmbH",
			GroupKey:         "PO-1",
		}
	}
	return &reconciler.SuggestResponse{
		TargetID:   "BM-1",
		Candidates: 3,
		Tolerance:  tolerance.Defaults(),
		Trace:      []reconciler.State{reconciler.StateResolvingTolerance, reconciler.StateRanked},
		Suggestions: []models.Suggestion{
			{
				Strategy:        models.StrategySubset,
				Candidates:      []models.Candidate{line("L1", 4000), line("L2", 3000), line("L3", 3000)},
				Coverage:        decimal.NewFromInt(10000),
				CoveragePercent: 100,
				Confidence:      0.95,
				MatchType:       models.MatchRule,
				Reasons:         []string{"subset_sum", "coverage=100.00%"},
			},
			{
				Strategy:        models.StrategySingle,
				Candidates:      []models.Candidate{line("L1", 4000)},
				Coverage:        decimal.NewFromInt(4000),
				CoveragePercent: 40,
				Confidence:      0.41,
				MatchType:       models.MatchFuzzy,
				Reasons:         []string{"amount_score=0.00"},
			},
		},
	}
}

func sampleConfirmResult(ok bool) *reconciler.ConfirmResult {
	if ok {
		return &reconciler.ConfirmResult{
			OK:      true,
			State:   reconciler.StatePersisted,
			EventID: "evt-1",
			Links: []models.Link{
				{ID: "lnk-1", TargetID: "BM-1", CandidateID: "L1", Amount: decimal.NewFromInt(4000), Quantity: models.DecimalPtr(decimal.NewFromInt(40))},
			},
			Trace: []reconciler.State{reconciler.StateValidating, reconciler.StatePersisting, reconciler.StatePersisted},
		}
	}
	return &reconciler.ConfirmResult{
		OK:    false,
		State: reconciler.StateRejected,
		Violations: []models.Violation{
			{Kind: models.ViolationAmountExceedsRemaining, Key: "L2", Limit: decimal.NewFromInt(3060), Actual: decimal.NewFromInt(3100)},
		},
	}
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{"default config", nil, false},
		{"valid config", DefaultReportConfig(), false},
		{"invalid format", &ReportConfig{Format: "invalid", TableMaxWidth: 120, MaxItems: 10}, true},
		{"table width too small", &ReportConfig{Format: FormatConsole, TableMaxWidth: 30, MaxItems: 10}, true},
		{"no items", &ReportConfig{Format: FormatConsole, TableMaxWidth: 120}, true},
		{"csv without delimiter", &ReportConfig{Format: FormatCSV, TableMaxWidth: 120, MaxItems: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if generator == nil {
				t.Errorf("expected generator but got nil")
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{FormatConsole, true},
		{FormatJSON, true},
		{FormatCSV, true},
		{"invalid", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := tt.format.IsValid(); got != tt.valid {
			t.Errorf("OutputFormat(%q).IsValid() = %v, want %v", tt.format, got, tt.valid)
		}
	}
}

func TestConsoleSuggestReport(t *testing.T) {
	cfg := plainConfig(FormatConsole)
	cfg.IncludeTrace = true
	gen, err := NewReportGenerator(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf bytes.Buffer
	if err := gen.GenerateSuggestReport(sampleSuggestResponse(), &buf); err != nil {
		t.Fatalf("GenerateSuggestReport failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"MATCH SUGGESTIONS",
		"Target: BM-1",
		"=== TOLERANCE ===",
		"Layers:           defaults",
		"Amount tolerance: 2.0%",
		"=== SUGGESTIONS ===",
		"1. subset",
		"coverage 10000.00 (100.0%)",
		"candidates: L1, L2, L3",
		"reasons: subset_sum; coverage=100.00%",
		"=== TRACE ===",
		"resolving-tolerance -> ranked",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console report missing %q\n%s", want, out)
		}
	}
	if strings.Index(out, "1. subset") > strings.Index(out, "2. single") {
		t.Error("suggestions are not printed in rank order")
	}
}

func TestConsoleSuggestReportTruncatesList(t *testing.T) {
	cfg := plainConfig(FormatConsole)
	cfg.MaxItems = 1
	cfg.IncludeCandidates = false
	gen, _ := NewReportGenerator(cfg)

	var buf bytes.Buffer
	if err := gen.GenerateSuggestReport(sampleSuggestResponse(), &buf); err != nil {
		t.Fatalf("GenerateSuggestReport failed: %v", err)
	}
	if !strings.Contains(buf.String(), "... and 1 more") {
		t.Errorf("expected truncation notice, got:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "2. single") {
		t.Error("second suggestion should be truncated")
	}
}

func TestConsoleSuggestReportEmpty(t *testing.T) {
	gen, _ := NewReportGenerator(plainConfig(FormatConsole))
	var buf bytes.Buffer
	resp := &reconciler.SuggestResponse{TargetID: "BM-9", Tolerance: tolerance.Defaults()}
	if err := gen.GenerateSuggestReport(resp, &buf); err != nil {
		t.Fatalf("GenerateSuggestReport failed: %v", err)
	}
	if !strings.Contains(buf.String(), "No suggestions") {
		t.Errorf("expected empty notice, got:\n%s", buf.String())
	}
}

func TestConsoleConfirmReport(t *testing.T) {
	gen, _ := NewReportGenerator(plainConfig(FormatConsole))

	var buf bytes.Buffer
	if err := gen.GenerateConfirmReport(sampleConfirmResult(true), &buf); err != nil {
		t.Fatalf("GenerateConfirmReport failed: %v", err)
	}
	for _, want := range []string{"Status: persisted", "Event: evt-1", "=== LINKS ===", "BM-1", "4000.00 qty 40"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("confirm report missing %q\n%s", want, buf.String())
		}
	}

	buf.Reset()
	if err := gen.GenerateConfirmReport(sampleConfirmResult(false), &buf); err != nil {
		t.Fatalf("GenerateConfirmReport failed: %v", err)
	}
	for _, want := range []string{"Status: refused", "=== VIOLATIONS ===", "amount_exceeds_remaining L2: actual 3100 exceeds limit 3060"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("refused report missing %q\n%s", want, buf.String())
		}
	}
}

func TestJSONReports(t *testing.T) {
	gen, _ := NewReportGenerator(plainConfig(FormatJSON))

	var buf bytes.Buffer
	if err := gen.GenerateSuggestReport(sampleSuggestResponse(), &buf); err != nil {
		t.Fatalf("GenerateSuggestReport failed: %v", err)
	}
	var decoded struct {
		TargetID    string `json:"target_id"`
		Suggestions []struct {
			Strategy string `json:"strategy"`
		} `json:"suggestions"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.TargetID != "BM-1" || len(decoded.Suggestions) != 2 || decoded.Suggestions[0].Strategy != "subset" {
		t.Errorf("unexpected decoded response: %+v", decoded)
	}

	buf.Reset()
	if err := gen.GenerateEventsReport(nil, &buf); err != nil {
		t.Fatalf("GenerateEventsReport failed: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("expected empty JSON array, got %q", buf.String())
	}
}

func TestCSVReports(t *testing.T) {
	cfg := plainConfig(FormatCSV)
	cfg.CSVDelimiter = ';'
	gen, err := NewReportGenerator(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf bytes.Buffer
	if err := gen.GenerateSuggestReport(sampleSuggestResponse(), &buf); err != nil {
		t.Fatalf("GenerateSuggestReport failed: %v", err)
	}
	r := csv.NewReader(&buf)
	r.Comma = ';'
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if records[0][0] != "Rank" || records[1][2] != "subset" || records[1][7] != "L1 L2 L3" {
		t.Errorf("unexpected CSV rows: %v", records)
	}

	buf.Reset()
	if err := gen.GenerateConfirmReport(sampleConfirmResult(false), &buf); err != nil {
		t.Fatalf("GenerateConfirmReport failed: %v", err)
	}
	r = csv.NewReader(&buf)
	r.Comma = ';'
	records, err = r.ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 2 || records[1][0] != "Violation" || records[1][6] != "amount_exceeds_remaining" {
		t.Errorf("unexpected confirm CSV: %v", records)
	}
}

func TestEventsReport(t *testing.T) {
	events := []models.MatchEvent{
		{ID: "evt-1", TargetID: "BM-1", CandidateIDs: []string{"L1", "L2"}, ChosenIDs: []string{"L1"}, Accepted: true, Actor: "alice", Confidence: 0.9, CreatedAt: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)},
		{ID: "evt-2", TargetID: "BM-2", CandidateIDs: []string{"INV-A"}, Accepted: false, Actor: "bob", Confidence: 0.4, CreatedAt: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)},
	}

	gen, _ := NewReportGenerator(plainConfig(FormatConsole))
	var buf bytes.Buffer
	if err := gen.GenerateEventsReport(events, &buf); err != nil {
		t.Fatalf("GenerateEventsReport failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "accepted  target BM-1  by alice  candidates [L1, L2]") {
		t.Errorf("missing accepted event line:\n%s", out)
	}
	if !strings.Contains(out, "rejected  target BM-2  by bob") {
		t.Errorf("missing rejected event line:\n%s", out)
	}

	csvGen, _ := NewReportGenerator(plainConfig(FormatCSV))
	buf.Reset()
	if err := csvGen.GenerateEventsReport(events, &buf); err != nil {
		t.Fatalf("GenerateEventsReport failed: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 3 || records[2][2] != "false" || records[1][7] != "2024-03-15T09:00:00Z" {
		t.Errorf("unexpected events CSV: %v", records)
	}
}

func TestNilInputs(t *testing.T) {
	gen, _ := NewReportGenerator(nil)
	if err := gen.GenerateSuggestReport(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error for nil suggest response")
	}
	if err := gen.GenerateConfirmReport(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error for nil confirm result")
	}
}

type failingWriter struct {
	failures int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.failures > 0 {
		w.failures--
		return 0, errors.New("write failed")
	}
	return len(p), nil
}

func TestSafeReportGeneratorFallsBackToConsole(t *testing.T) {
	srg, err := NewSafeReportGenerator(plainConfig(FormatJSON), logger.NewNopLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := &failingWriter{failures: 1}
	if err := srg.WriteSuggestReport(sampleSuggestResponse(), w); err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}

	consoleSrg, _ := NewSafeReportGenerator(plainConfig(FormatConsole), nil)
	if err := consoleSrg.WriteEventsReport(nil, &failingWriter{failures: 100}); err == nil {
		t.Error("expected error when the console writer fails")
	}
}

func TestSafeReportGeneratorValidation(t *testing.T) {
	if _, err := NewSafeReportGenerator(&ReportConfig{Format: "xml"}, nil); err == nil {
		t.Error("expected invalid config error")
	}

	srg, _ := NewSafeReportGenerator(nil, nil)
	if err := srg.WriteConfirmReport(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error for nil confirm result")
	}
	if err := srg.WriteConfirmReport(sampleConfirmResult(true), nil); err == nil {
		t.Error("expected error for nil writer")
	}
}

func TestOpenOutput(t *testing.T) {
	srg, _ := NewSafeReportGenerator(nil, nil)

	w, err := srg.OpenOutput("-")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("closing stdout wrapper failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "report.json")
	w, err = srg.OpenOutput(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Write([]byte("{}"))
	w.Close()
	if data, err := os.ReadFile(path); err != nil || string(data) != "{}" {
		t.Errorf("report file not written: %q %v", data, err)
	}

	if _, err := srg.OpenOutput(filepath.Join(t.TempDir(), "missing", "report.json")); err == nil {
		t.Error("expected error for a missing directory")
	}
}

func TestGenerateBackupPath(t *testing.T) {
	if got := generateBackupPath("/tmp/out/report.csv"); got != "/tmp/out/report_backup.csv" {
		t.Errorf("generateBackupPath() = %q", got)
	}
}
