package launch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compozy/agentrix/cli/app"
	"github.com/compozy/agentrix/cli/helpers"
	"github.com/compozy/agentrix/engine/automation"
	"github.com/compozy/agentrix/engine/infra/filestore"
	"github.com/compozy/agentrix/engine/task"
	"github.com/compozy/agentrix/pkg/config"
	"github.com/compozy/agentrix/pkg/logger"
	"github.com/spf13/cobra"
)

var ErrRunFailed = errors.New("automation run failed")

// NewLaunchCommand runs one automation in the foreground, without the daemon.
func NewLaunchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Prepare a worktree and launch an agent once",
		Long: `Run the automation pipeline for one repository in this process and print
the finished task. The daemon must not be running because it owns the task snapshot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, timeout, err := requestFromFlags(cmd)
			if err != nil {
				return err
			}
			return run(cmd, req, timeout, nil)
		},
	}
	cmd.Flags().String("org", "", "Repository owner")
	cmd.Flags().String("repo", "", "Repository name")
	cmd.Flags().String("worktree", "", `Worktree descriptor, "branch" or "base:branch"`)
	cmd.Flags().String("prompt", "", "Prompt handed to the agent")
	cmd.Flags().String("command", "", "Agent command (defaults to agent.command)")
	cmd.Flags().Bool("plan", false, "Generate a plan from the prompt before launching")
	cmd.Flags().Duration("timeout", 10*time.Minute, "Maximum time to wait for the run")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func requestFromFlags(cmd *cobra.Command) (automation.Request, time.Duration, error) {
	flags := cmd.Flags()
	var req automation.Request
	var err error
	strs := []struct {
		name string
		dst  *string
	}{
		{"org", &req.Org},
		{"repo", &req.Repo},
		{"worktree", &req.Worktree},
		{"prompt", &req.Prompt},
		{"command", &req.Command},
	}
	for _, f := range strs {
		if *f.dst, err = flags.GetString(f.name); err != nil {
			return req, 0, fmt.Errorf("failed to get %s flag: %w", f.name, err)
		}
	}
	if req.PlanEnabled, err = flags.GetBool("plan"); err != nil {
		return req, 0, fmt.Errorf("failed to get plan flag: %w", err)
	}
	timeout, err := flags.GetDuration("timeout")
	if err != nil {
		return req, 0, fmt.Errorf("failed to get timeout flag: %w", err)
	}
	return req, timeout, nil
}

func run(cmd *cobra.Command, req automation.Request, timeout time.Duration, opts []app.Option) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	log := logger.FromContext(ctx)
	a, err := app.New(ctx, cfg, opts...)
	if errors.Is(err, filestore.ErrLocked) {
		return fmt.Errorf("%w; stop the daemon or use its API", err)
	}
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.ShutdownTimeout())
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			log.Error("Failed to close cleanly", "error", cerr)
		}
	}()

	launch, err := a.Coordinator.Start(ctx, req, automation.Callbacks{})
	if err != nil {
		return err
	}
	log.Info("Automation started", "task_id", launch.TaskID, "identifier", launch.Identifier)
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case <-launch.Handle.Done():
	case <-waitCtx.Done():
		return fmt.Errorf("failed waiting for task %s: %w", launch.TaskID, waitCtx.Err())
	}
	finished, err := a.Registry.GetTask(launch.TaskID)
	if err != nil {
		return err
	}
	if err := helpers.WriteJSON(cmd.OutOrStdout(), finished); err != nil {
		return err
	}
	if finished.Status == task.StatusFailed {
		msg := "unknown error"
		if finished.Error != nil {
			msg = finished.Error.Message
		}
		return fmt.Errorf("%w: %s", ErrRunFailed, msg)
	}
	return nil
}
