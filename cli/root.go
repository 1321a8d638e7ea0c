package cli

import (
	"context"
	"fmt"

	"github.com/compozy/agentrix/cli/cmd/config"
	"github.com/compozy/agentrix/cli/cmd/launch"
	"github.com/compozy/agentrix/cli/cmd/serve"
	"github.com/compozy/agentrix/cli/cmd/tasks"
	versioncmd "github.com/compozy/agentrix/cli/cmd/version"
	appconfig "github.com/compozy/agentrix/pkg/config"
	"github.com/compozy/agentrix/pkg/logger"
	"github.com/compozy/agentrix/pkg/version"
	"github.com/spf13/cobra"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentrix",
		Short:         "Run coding agents in isolated git worktrees",
		Long:          "Agentrix clones repositories, prepares worktrees and launches coding agents, tracking every run as a task.",
		Version:       version.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	root.PersistentFlags().String("config", "", "Path to a YAML config file")
	root.PersistentFlags().String("env-file", ".env", "Path to an env file; ignored when missing")
	root.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error, disabled)")
	root.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	root.PersistentFlags().Bool("log-source", false, "Include source locations in logs")

	root.AddCommand(
		serve.NewServeCommand(),
		launch.NewLaunchCommand(),
		tasks.NewTasksCommand(),
		config.NewConfigCommand(),
		versioncmd.NewVersionCommand(),
	)
	return root
}

// SetupGlobalConfig loads configuration and the logger and attaches both to
// the command context. Logging flags override the file and environment only
// when given explicitly.
func SetupGlobalConfig(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	logLevel, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	overrides := map[string]any{}
	if cmd.Flags().Changed("log-level") {
		overrides["log.level"] = logLevel
	}
	if cmd.Flags().Changed("log-json") {
		overrides["log.json"] = logJSON
	}
	if cmd.Flags().Changed("log-source") {
		overrides["log.source"] = logSource
	}
	cfg, err := appconfig.Load(ctx, appconfig.LoadOptions{
		ConfigFile: configFile,
		EnvFile:    envFile,
		Overrides:  overrides,
	})
	if err != nil {
		return err
	}
	log := logger.SetupLogger(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Source)
	ctx = appconfig.ContextWithConfig(ctx, cfg)
	ctx = logger.ContextWithLogger(ctx, log)
	cmd.SetContext(ctx)
	log.Debug("Configuration loaded", "config_file", configFile, "snapshot", cfg.Tasks.SnapshotPath)
	return nil
}
