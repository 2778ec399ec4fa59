package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/diamondctl/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid           bool                     `json:"valid"`
	Facets          int                      `json:"facets,omitempty"`
	ProtocolVersion int                      `json:"protocol_version,omitempty"`
	Errors          []config.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a deploy config without deploying",
		Long: `Validate a YAML or CUE deploy config.

Checks syntax, the config schema and the cross-facet rules (init facet
present, no selector both included and excluded, no two facets force-including
the same selector at one priority). Every rule violation is reported, not just
the first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	formatter.VerboseLog("Validating %s", path)

	cfg, err := config.Load(path)
	if err == nil {
		result := ValidationResult{Valid: true, Facets: len(cfg.Facets), ProtocolVersion: cfg.ProtocolVersion}
		return formatter.Render(result, "", func(w io.Writer) {
			fmt.Fprintf(w, "✓ Config valid (%d facets, protocol version %d)\n", result.Facets, result.ProtocolVersion)
		})
	}

	var le *config.LoadError
	if !errors.As(err, &le) {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "validation failed", err)
	}
	if len(le.Errors) > 0 {
		return outputValidationErrors(formatter, le.Errors)
	}

	var details any
	if le.Pos.IsValid() {
		details = map[string]int{"line": le.Pos.Line(), "column": le.Pos.Column()}
	}
	_ = formatter.Error(le.Code, le.Error(), details)

	// A missing or unreadable file is a command error (exit code 2)
	if le.Code == config.ErrCodeNotFound || le.Code == config.ErrCodeUnsupported {
		return NewExitError(ExitCommandError, le.Error())
	}
	return NewExitError(ExitFailure, le.Error())
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []config.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}
		if err := formatter.encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", err.Code, err.Field, err.Message)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
