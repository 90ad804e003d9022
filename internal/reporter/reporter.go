// Package reporter renders the outcomes of suggestion, confirm and reject
// calls for the command line.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: the response structures, indented
//   - CSV: one row per suggestion, link or event for spreadsheets
//
// Example usage:
//
//	gen, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON, ...})
//	err = gen.GenerateSuggestReport(resp, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/reconciler"

	"github.com/charmbracelet/lipgloss"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// Detail level options
	IncludeReasons    bool `json:"include_reasons" mapstructure:"include_reasons"`
	IncludeCandidates bool `json:"include_candidates" mapstructure:"include_candidates"`
	IncludeTrace      bool `json:"include_trace" mapstructure:"include_trace"`

	// MaxItems caps console lists; the rest is summarised as "... and N more"
	MaxItems int `json:"max_items" mapstructure:"max_items"`

	// Console formatting options
	UseColors     bool `json:"use_colors" mapstructure:"use_colors"`
	TableMaxWidth int  `json:"table_max_width" mapstructure:"table_max_width"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeReasons:    true,
		IncludeCandidates: true,
		IncludeTrace:      false,
		MaxItems:          10,
		UseColors:         true,
		TableMaxWidth:     120,
		CSVDelimiter:      ',',
		CSVHeaders:        true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}
	if c.MaxItems < 1 {
		return fmt.Errorf("max items must be positive, got %d", c.MaxItems)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter: %q", c.CSVDelimiter)
	}
	return nil
}

type styles struct {
	title   lipgloss.Style
	section lipgloss.Style
	label   lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(colors bool) styles {
	if !colors {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#89b4fa")),
		section: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#cba6f7")),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color("#a6adc8")),
		ok:      lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1")),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("#f9e2af")),
		bad:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f38ba8")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6c7086")),
	}
}

// ReportGenerator renders engine results in the configured format
type ReportGenerator struct {
	config *ReportConfig
	styles styles
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{
		config: config,
		styles: newStyles(config.UseColors),
	}, nil
}

// GetConfiguration returns a copy of the current configuration
func (rg *ReportGenerator) GetConfiguration() ReportConfig {
	return *rg.config
}

// GenerateSuggestReport writes a ranked suggestion response.
func (rg *ReportGenerator) GenerateSuggestReport(resp *reconciler.SuggestResponse, writer io.Writer) error {
	if resp == nil {
		return fmt.Errorf("suggest response cannot be nil")
	}
	switch rg.config.Format {
	case FormatConsole:
		return rg.console(writer, func(w io.Writer) { rg.consoleSuggest(resp, w) })
	case FormatJSON:
		return rg.encodeJSON(resp, writer)
	case FormatCSV:
		return rg.csvSuggest(resp, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateConfirmReport writes the outcome of a confirm call.
func (rg *ReportGenerator) GenerateConfirmReport(res *reconciler.ConfirmResult, writer io.Writer) error {
	if res == nil {
		return fmt.Errorf("confirm result cannot be nil")
	}
	switch rg.config.Format {
	case FormatConsole:
		return rg.console(writer, func(w io.Writer) { rg.consoleConfirm(res, w) })
	case FormatJSON:
		return rg.encodeJSON(res, writer)
	case FormatCSV:
		return rg.csvConfirm(res, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateEventsReport writes audit events, e.g. the event of a reject call.
func (rg *ReportGenerator) GenerateEventsReport(events []models.MatchEvent, writer io.Writer) error {
	switch rg.config.Format {
	case FormatConsole:
		return rg.console(writer, func(w io.Writer) { rg.consoleEvents(events, w) })
	case FormatJSON:
		if events == nil {
			events = []models.MatchEvent{}
		}
		return rg.encodeJSON(events, writer)
	case FormatCSV:
		return rg.csvEvents(events, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) encodeJSON(v interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// Console output

// errWriter keeps the first write error so console rendering can use
// fmt.Fprintf freely and still report failures.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}

func (rg *ReportGenerator) console(w io.Writer, render func(io.Writer)) error {
	ew := &errWriter{w: w}
	render(ew)
	return ew.err
}

func (rg *ReportGenerator) consoleSuggest(resp *reconciler.SuggestResponse, w io.Writer) {
	s := rg.styles
	fmt.Fprintln(w, s.title.Render("MATCH SUGGESTIONS"))
	fmt.Fprintf(w, "%s %s\n", s.label.Render("Target:"), resp.TargetID)
	fmt.Fprintf(w, "%s %d\n\n", s.label.Render("Candidates considered:"), resp.Candidates)

	fmt.Fprintln(w, s.section.Render("=== TOLERANCE ==="))
	tol := resp.Tolerance
	fmt.Fprintf(w, "  Layers:           %s\n", strings.Join(tol.SourceLayers, ", "))
	fmt.Fprintf(w, "  Amount tolerance: %s\n", formatPercentage(tol.AmountTolerance*100))
	fmt.Fprintf(w, "  Qty tolerance:    %s\n", formatPercentage(tol.QtyTolerance*100))
	fmt.Fprintf(w, "  Receipt required: %t\n", tol.ReceiptRequired)
	fmt.Fprintf(w, "  Weights:          amount=%.2f counterparty=%.2f date=%.2f\n\n",
		tol.Weights.Amount, tol.Weights.Counterparty, tol.Weights.Date)

	fmt.Fprintln(w, s.section.Render("=== SUGGESTIONS ==="))
	if len(resp.Suggestions) == 0 {
		fmt.Fprintln(w, s.muted.Render("  No suggestions"))
	}
	for i, sg := range resp.Suggestions {
		if i >= rg.config.MaxItems {
			fmt.Fprintf(w, "  ... and %d more\n", len(resp.Suggestions)-i)
			break
		}
		fmt.Fprintf(w, "  %d. %-11s %s  confidence %.2f  coverage %s (%s)\n",
			i+1, sg.Strategy, rg.matchTypeStyle(sg.MatchType).Render(string(sg.MatchType)),
			sg.Confidence, sg.Coverage.StringFixed(2), formatPercentage(sg.CoveragePercent))
		fmt.Fprintf(w, "     %s %s\n", s.label.Render("candidates:"), rg.truncate(strings.Join(sg.CandidateIDs(), ", "), 16))
		if rg.config.IncludeCandidates {
			for _, c := range sg.Candidates {
				fmt.Fprintf(w, "       - %-12s %-10s %14s  %s  %s\n",
					c.ID, c.Kind, c.ReferenceAmount().StringFixed(2), c.Date.Format("2006-01-02"),
					rg.truncate(c.CounterpartyName, 70))
			}
		}
		if rg.config.IncludeReasons && len(sg.Reasons) > 0 {
			fmt.Fprintf(w, "     %s %s\n", s.label.Render("reasons:"), s.muted.Render(rg.truncate(strings.Join(sg.Reasons, "; "), 13)))
		}
	}

	if rg.config.IncludeTrace {
		fmt.Fprintln(w)
		rg.printTrace(resp.Trace, w)
	}
}

func (rg *ReportGenerator) consoleConfirm(res *reconciler.ConfirmResult, w io.Writer) {
	s := rg.styles
	fmt.Fprintln(w, s.title.Render("CONFIRMATION"))
	status := s.ok.Render("persisted")
	if !res.OK {
		status = s.bad.Render("refused")
	}
	fmt.Fprintf(w, "%s %s\n", s.label.Render("Status:"), status)
	if res.EventID != "" {
		fmt.Fprintf(w, "%s %s\n", s.label.Render("Event:"), res.EventID)
	}
	fmt.Fprintln(w)

	if len(res.Links) > 0 {
		fmt.Fprintln(w, s.section.Render("=== LINKS ==="))
		for i, l := range res.Links {
			if i >= rg.config.MaxItems {
				fmt.Fprintf(w, "  ... and %d more\n", len(res.Links)-i)
				break
			}
			qty := ""
			if l.Quantity != nil {
				qty = " qty " + l.Quantity.String()
			}
			fmt.Fprintf(w, "  %-12s -> %-12s %14s%s\n", l.TargetID, l.LineKey(), l.Amount.StringFixed(2), qty)
		}
		fmt.Fprintln(w)
	}

	if len(res.Violations) > 0 {
		fmt.Fprintln(w, s.section.Render("=== VIOLATIONS ==="))
		for i, v := range res.Violations {
			if i >= rg.config.MaxItems {
				fmt.Fprintf(w, "  ... and %d more\n", len(res.Violations)-i)
				break
			}
			fmt.Fprintf(w, "  %s %s: actual %s exceeds limit %s\n",
				s.bad.Render(string(v.Kind)), v.Key, v.Actual.String(), v.Limit.String())
		}
		fmt.Fprintln(w)
	}

	if rg.config.IncludeTrace {
		rg.printTrace(res.Trace, w)
	}
}

func (rg *ReportGenerator) consoleEvents(events []models.MatchEvent, w io.Writer) {
	s := rg.styles
	fmt.Fprintln(w, s.section.Render("=== MATCH EVENTS ==="))
	if len(events) == 0 {
		fmt.Fprintln(w, s.muted.Render("  No events"))
		return
	}
	for i, e := range events {
		if i >= rg.config.MaxItems {
			fmt.Fprintf(w, "  ... and %d more\n", len(events)-i)
			break
		}
		outcome := s.ok.Render("accepted")
		if !e.Accepted {
			outcome = s.warn.Render("rejected")
		}
		fmt.Fprintf(w, "  %s  %s  target %s  by %s  candidates [%s]  confidence %.2f\n",
			e.CreatedAt.Format(time.RFC3339), outcome, e.TargetID, e.Actor,
			strings.Join(e.CandidateIDs, ", "), e.Confidence)
		fmt.Fprintf(w, "    %s %s\n", s.label.Render("event:"), e.ID)
	}
}

func (rg *ReportGenerator) printTrace(trace []reconciler.State, w io.Writer) {
	fmt.Fprintln(w, rg.styles.section.Render("=== TRACE ==="))
	names := make([]string, len(trace))
	for i, st := range trace {
		names[i] = string(st)
	}
	fmt.Fprintf(w, "  %s\n", strings.Join(names, " -> "))
}

func (rg *ReportGenerator) matchTypeStyle(t models.MatchType) lipgloss.Style {
	if t == models.MatchRule {
		return rg.styles.ok
	}
	return rg.styles.warn
}

// truncate shortens s to the table width minus the given indent.
func (rg *ReportGenerator) truncate(s string, indent int) string {
	limit := rg.config.TableMaxWidth - indent
	if limit < 10 {
		limit = 10
	}
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

// CSV output

func (rg *ReportGenerator) newCSVWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = rg.config.CSVDelimiter
	return cw
}

func (rg *ReportGenerator) csvSuggest(resp *reconciler.SuggestResponse, w io.Writer) error {
	cw := rg.newCSVWriter(w)
	if rg.config.CSVHeaders {
		headers := []string{"Rank", "Target_ID", "Strategy", "Match_Type", "Confidence", "Coverage", "Coverage_Percent", "Candidate_IDs", "Reasons"}
		if err := cw.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for i, sg := range resp.Suggestions {
		record := []string{
			fmt.Sprintf("%d", i+1),
			resp.TargetID,
			string(sg.Strategy),
			string(sg.MatchType),
			fmt.Sprintf("%.2f", sg.Confidence),
			sg.Coverage.StringFixed(2),
			fmt.Sprintf("%.2f", sg.CoveragePercent),
			strings.Join(sg.CandidateIDs(), " "),
			strings.Join(sg.Reasons, "; "),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write suggestion record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (rg *ReportGenerator) csvConfirm(res *reconciler.ConfirmResult, w io.Writer) error {
	cw := rg.newCSVWriter(w)
	if rg.config.CSVHeaders {
		headers := []string{"Type", "Key", "Target_ID", "Amount", "Quantity", "Limit", "Detail"}
		if err := cw.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, l := range res.Links {
		qty := ""
		if l.Quantity != nil {
			qty = l.Quantity.String()
		}
		record := []string{"Link", l.LineKey(), l.TargetID, l.Amount.String(), qty, "", l.ID}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write link record: %w", err)
		}
	}
	for _, v := range res.Violations {
		record := []string{"Violation", v.Key, "", v.Actual.String(), "", v.Limit.String(), string(v.Kind)}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write violation record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (rg *ReportGenerator) csvEvents(events []models.MatchEvent, w io.Writer) error {
	cw := rg.newCSVWriter(w)
	if rg.config.CSVHeaders {
		headers := []string{"Event_ID", "Target_ID", "Accepted", "Actor", "Confidence", "Candidate_IDs", "Chosen_IDs", "Created_At", "Reasons"}
		if err := cw.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, e := range events {
		record := []string{
			e.ID,
			e.TargetID,
			fmt.Sprintf("%t", e.Accepted),
			e.Actor,
			fmt.Sprintf("%.2f", e.Confidence),
			strings.Join(e.CandidateIDs, " "),
			strings.Join(e.ChosenIDs, " "),
			e.CreatedAt.Format(time.RFC3339),
			strings.Join(e.Reasons, "; "),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write event record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatPercentage(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}
