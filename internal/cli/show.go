package cli

import (
	"io"

	"github.com/spf13/cobra"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print recorded deployment state",
		Long: `Print the diamond address, owner, protocol version and live facets
recorded for the deployment target. With --verbose every facet's selectors are
listed.

Example:
  diamondctl show --db ./diamondctl.db --name core --network mainnet --chain-id 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, cmd)
		},
	}
	return cmd
}

func runShow(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	target, err := checkTarget(opts)
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return err
	}
	defer closeStore()

	data, _, err := st.LoadDeployedDiamondData(cmd.Context(), target.DeploymentID())
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load deployed state", err)
	}

	return formatter.Render(data, "", func(w io.Writer) {
		writeState(w, target.DeploymentID(), data, opts.Verbose)
	})
}
