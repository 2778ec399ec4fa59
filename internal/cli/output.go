package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/diamondctl/internal/config"
	"github.com/roach88/diamondctl/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Deployment or validation failure
	ExitCommandError = 2 // Command error (bad flags, database unreadable, config not found)
	ExitPending      = 3 // Remote work still in flight; rerun to resume
)

// CLI error codes. Config loading and validation codes come from the config
// package.
const (
	ErrCodeGeneric   = config.ErrCodeGeneric
	ErrCodeStore     = "E002" // Database could not be opened or read
	ErrCodeUsage     = "E003" // Invalid flag combination
	ErrCodeRunFailed = "E300" // A pipeline phase failed
	ErrCodePending   = "E301" // A remote step or proposal is not finished
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classifyRunError maps a pipeline error to an error code and exit code.
// Unfinished remote work is not a failure: the run resumes when rerun.
func classifyRunError(err error) (code string, exit int) {
	var le *config.LoadError
	switch {
	case errors.Is(err, engine.ErrAwaitingApproval), errors.Is(err, engine.ErrStepIncomplete):
		return ErrCodePending, ExitPending
	case errors.As(err, &le):
		if le.Code == config.ErrCodeNotFound || le.Code == config.ErrCodeUnsupported {
			return le.Code, ExitCommandError
		}
		return le.Code, ExitFailure
	default:
		return ErrCodeRunFailed, ExitFailure
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok", "pending" or "error"
	Data   any       `json:"data,omitempty"`  // success payload, or partial result on error
	Error  *CLIError `json:"error,omitempty"` // error details
	RunID  string    `json:"run_id,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E300", etc.
	Message string `json:"message"`           // human-readable message
	Phase   string `json:"phase,omitempty"`   // pipeline phase the run aborted in
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Render outputs data as a JSON success response, or calls text to write the
// human-readable form.
func (f *OutputFormatter) Render(data any, runID string, text func(w io.Writer)) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data, RunID: runID})
	}
	text(f.Writer)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// RunError outputs a failed or unfinished pipeline run together with the
// partial result, which may be nil.
func (f *OutputFormatter) RunError(err error, res *engine.Result) error {
	code, exit := classifyRunError(err)
	phase, _ := engine.FailedPhase(err)

	if f.Format == "json" {
		status := "error"
		if exit == ExitPending {
			status = "pending"
		}
		resp := CLIResponse{
			Status: status,
			Error:  &CLIError{Code: code, Message: err.Error(), Phase: string(phase)},
		}
		if res != nil {
			resp.Data = res
			resp.RunID = res.RunID
		}
		return f.encode(resp)
	}

	if exit == ExitPending {
		fmt.Fprintf(f.Writer, "Pending [%s]: %s\n", code, err)
		fmt.Fprintln(f.Writer, "Rerun the same command to resume.")
		return nil
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, err)
	if f.Verbose && res != nil {
		writeResult(f.Writer, res)
	}
	return nil
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resp)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
