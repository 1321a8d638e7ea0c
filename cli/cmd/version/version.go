package version

import (
	"fmt"

	"github.com/compozy/agentrix/cli/helpers"
	"github.com/compozy/agentrix/pkg/version"
	"github.com/spf13/cobra"
)

// NewVersionCommand prints build information.
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}
			info := version.Get()
			if asJSON {
				return helpers.WriteJSON(cmd.OutOrStdout(), info)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "agentrix "+info.String())
			return err
		},
	}
	cmd.Flags().Bool("json", false, "Print build information as JSON")
	return cmd
}
