package serve

import (
	"context"
	"fmt"

	"github.com/compozy/agentrix/cli/app"
	"github.com/compozy/agentrix/engine/infra/server"
	"github.com/compozy/agentrix/pkg/config"
	"github.com/compozy/agentrix/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the daemon command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Run the automation daemon",
		Long:    "Serve the HTTP API and event stream, and run automation tasks until interrupted.",
		Args:    cobra.NoArgs,
		RunE:    executeServeCommand,
	}
	cmd.Flags().String("host", "", "Override the listen host")
	cmd.Flags().Int("port", 0, "Override the listen port")
	return cmd
}

func executeServeCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	gin.SetMode(gin.ReleaseMode)
	log := logger.FromContext(ctx)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	deps := server.Deps{
		Tasks:         a.Registry,
		Automation:    a.Coordinator,
		Views:         a.Workspace,
		WorkspaceRoot: cfg.Workspace.Root,
		Events:        a.Hub,
		Monitoring:    a.Monitoring,
		Logger:        log,
	}
	if a.GitHub != nil {
		deps.GitHub = a.GitHub
	}
	srv, err := server.NewServer(cfg.Server, deps)
	if err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to build server: %w", err)
	}
	a.Monitoring.SetAsGlobal()
	log.Info("Starting agentrix daemon",
		"address", srv.Addr(),
		"workspace", cfg.Workspace.Root,
		"snapshot", cfg.Tasks.SnapshotPath,
		"github", a.GitHub != nil,
	)
	runErr := srv.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.ShutdownTimeout())
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		log.Error("Failed to close cleanly", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
