package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"
)

// CLIErrorHandler turns command errors into readable output and exit codes.
type CLIErrorHandler struct {
	out     io.Writer
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler writing to out.
func NewCLIErrorHandler(out io.Writer, log logger.Logger, verbose bool) *CLIErrorHandler {
	return &CLIErrorHandler{
		out:     out,
		logger:  logger.OrNop(log),
		verbose: verbose,
	}
}

// HandleError prints err and returns the process exit code. nil yields 0.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	if isFileNotFoundError(err) {
		fmt.Fprintf(h.out, "Error: File not found: %v\n", err)
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if isPermissionError(err) {
		fmt.Fprintf(h.out, "Error: Permission denied: %v\n", err)
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	// cobra reports unknown flags and commands as plain errors
	fmt.Fprintf(h.out, "Error: %v\n", err)
	if strings.Contains(err.Error(), "flag") || strings.HasPrefix(err.Error(), "unknown command") {
		fmt.Fprintf(h.out, "Run 'reconciler --help' for usage.\n")
		return 2
	}
	return 1
}

func getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryInput:
		return `Input error help:
• Check your command-line flags and request fields
• Pass --target-id with the id of a loaded target
• Amounts are decimal numbers without currency symbols`

	case errors.CategoryParse:
		return `Parse error help:
• Verify the CSV file has the expected header row
• Ensure the file uses UTF-8 encoding
• Dates use YYYY-MM-DD and amounts are plain decimals
• Use 'reconciler import --help' for the expected columns`

	case errors.CategoryValidation:
		return `Validation error help:
• The allocation exceeds an open balance and nothing was written
• Run 'reconciler suggest' again to see current remaining amounts
• Reduce the linked amounts or choose other candidates`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Verify configuration file syntax if using --config
• Check RECONCILER_* environment variables
• Try running with default settings first`

	case errors.CategoryStore:
		return `Store error help:
• Check that the database is reachable and the path is writable
• Verify --storage, --sqlite-path and --postgres-url
• Retry once the store is available`

	case errors.CategoryCancelled:
		return `The operation was cancelled before it completed.`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler <command> --help' for command-specific help
• Run with --verbose to see the underlying error`
	}
}

func isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}
