package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/reconciler"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and a console
// fallback when the requested format fails to render.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.InvalidConfig("report_config", config, err).
			WithSuggestion("Check the report configuration values")
	}
	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          logger.OrNop(log).WithComponent("reporter"),
	}, nil
}

type renderFunc func(rg *ReportGenerator, w io.Writer) error

// WriteSuggestReport renders a suggestion response with fallback.
func (srg *SafeReportGenerator) WriteSuggestReport(resp *reconciler.SuggestResponse, writer io.Writer) error {
	if resp == nil {
		return errors.New(errors.CategoryValidation, errors.CodeMissingField, "suggest response is required")
	}
	return srg.render("suggest", writer, func(rg *ReportGenerator, w io.Writer) error {
		return rg.GenerateSuggestReport(resp, w)
	})
}

// WriteConfirmReport renders a confirm result with fallback.
func (srg *SafeReportGenerator) WriteConfirmReport(res *reconciler.ConfirmResult, writer io.Writer) error {
	if res == nil {
		return errors.New(errors.CategoryValidation, errors.CodeMissingField, "confirm result is required")
	}
	return srg.render("confirm", writer, func(rg *ReportGenerator, w io.Writer) error {
		return rg.GenerateConfirmReport(res, w)
	})
}

// WriteEventsReport renders audit events with fallback.
func (srg *SafeReportGenerator) WriteEventsReport(events []models.MatchEvent, writer io.Writer) error {
	return srg.render("events", writer, func(rg *ReportGenerator, w io.Writer) error {
		return rg.GenerateEventsReport(events, w)
	})
}

func (srg *SafeReportGenerator) render(report string, writer io.Writer, fn renderFunc) error {
	if writer == nil {
		return errors.New(errors.CategoryValidation, errors.CodeMissingField, "report writer is required").
			WithSuggestion("Provide a valid output writer")
	}

	log := srg.logger.WithFields(logger.Fields{
		"report": report,
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	})
	log.Debug("Generating report")

	err := fn(srg.ReportGenerator, writer)
	if err == nil {
		return nil
	}
	log.WithError(err).Warn("Report generation failed, attempting fallback")

	if srg.config.Format == FormatConsole {
		return srg.wrapGenerationError(err)
	}

	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	fallback, ferr := NewReportGenerator(&fallbackConfig)
	if ferr != nil {
		return srg.wrapGenerationError(err)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", err)
	if ferr := fn(fallback, writer); ferr != nil {
		return errors.InternalError("report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", err, ferr))
	}
	log.WithField("fallback_format", FormatConsole).Info("Report generated using format fallback")
	return nil
}

// OpenOutput returns the destination for a report: stdout for "" or "-",
// otherwise a created file. A file that cannot be created falls back to a
// "_backup" sibling before giving up.
func (srg *SafeReportGenerator) OpenOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err == nil {
		return f, nil
	}

	backup := generateBackupPath(path)
	srg.logger.WithFields(logger.Fields{
		"original_file": path,
		"backup_file":   backup,
	}).WithError(err).Warn("Cannot create report file, using backup location")

	f, berr := os.Create(backup)
	if berr != nil {
		return nil, errors.Wrap(err, errors.CategoryInput, errors.CodeInvalidInput,
			fmt.Sprintf("cannot create report file %s", path)).
			WithSuggestion("Check that the output directory exists and is writable")
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError("report_generation", err).
		WithSuggestion("Check the output destination and report format settings")
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	case nopCloser:
		return getWriterDescription(w.Writer)
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
