package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/diamondctl/internal/ir"
)

// StepsOptions holds flags for the steps command.
type StepsOptions struct {
	*RootOptions
	Clear bool
}

// StepsResult is the JSON payload of the steps command.
type StepsResult struct {
	DeploymentID string          `json:"deployment_id"`
	Steps        []ir.StepRecord `json:"steps"`
	Cleared      bool            `json:"cleared,omitempty"`
}

// NewStepsCommand creates the steps command.
func NewStepsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StepsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "steps",
		Short: "List the remote step ledger",
		Long: `List every step the remote strategy submitted for the deployment target,
in submission order, with its status and external reference.

--clear deletes the ledger so the next remote run submits every step again.
Deployed state is not touched.

Example:
  diamondctl steps --name core --network sepolia --chain-id 11155111
  diamondctl steps --clear`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSteps(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "delete all ledger entries for the target")

	return cmd
}

func runSteps(opts *StepsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	target, err := checkTarget(opts.RootOptions)
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(opts.RootOptions)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	id := target.DeploymentID()

	steps, err := st.Steps(ctx, id)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read step ledger", err)
	}

	if opts.Clear {
		if err := st.DeleteSteps(ctx, id); err != nil {
			_ = formatter.Error(ErrCodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to clear step ledger", err)
		}
		formatter.VerboseLog("Cleared %d step(s) for %s", len(steps), id)
	}

	result := StepsResult{DeploymentID: id, Steps: steps, Cleared: opts.Clear}
	return formatter.Render(result, "", func(w io.Writer) {
		writeSteps(w, id, steps)
		if opts.Clear {
			fmt.Fprintf(w, "✓ Cleared %d step(s)\n", len(steps))
		}
	})
}
