package config

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/compozy/agentrix/cli/helpers"
	"github.com/compozy/agentrix/pkg/config"
	"github.com/compozy/agentrix/pkg/logger"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration inspection",
	}
	cmd.AddCommand(NewConfigShowCommand(), NewConfigValidateCommand())
	return cmd
}

// NewConfigShowCommand creates the config show subcommand
func NewConfigShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration values",
		Long: `Display the effective configuration after merging defaults, the config file,
the environment and flags. Secrets are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}
			ctx := cmd.Context()
			logger.FromContext(ctx).Debug("Showing configuration", "format", format)
			return formatConfigOutput(cmd.OutOrStdout(), config.FromContext(ctx), format)
		},
	}
	cmd.Flags().StringP("format", "f", "table", "Output format (json, yaml, table)")
	return cmd
}

// NewConfigValidateCommand creates the config validate subcommand. Loading
// already validates, so reaching RunE means the configuration is valid.
func NewConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return err
		},
	}
}

func formatConfigOutput(w io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "json", "yaml":
		nested, err := config.Nested(cfg)
		if err != nil {
			return err
		}
		if format == "json" {
			return helpers.WriteJSON(w, nested)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(nested); err != nil {
			return fmt.Errorf("failed to encode configuration as YAML: %w", err)
		}
		return enc.Close()
	case "table":
		return writeTable(w, cfg)
	default:
		return fmt.Errorf("unsupported format %q (expected json, yaml or table)", format)
	}
}

func writeTable(w io.Writer, cfg *config.Config) error {
	values, err := config.Flatten(cfg)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE\tENV")
	for _, key := range keys {
		env := config.EnvVarFor(key)
		if env == "" {
			env = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", key, values[key], env)
	}
	return tw.Flush()
}
