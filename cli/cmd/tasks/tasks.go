package tasks

import (
	"fmt"
	"slices"
	"strings"

	"github.com/compozy/agentrix/cli/helpers"
	"github.com/compozy/agentrix/engine/infra/filestore"
	"github.com/compozy/agentrix/engine/task"
	"github.com/compozy/agentrix/pkg/config"
	"github.com/compozy/agentrix/pkg/logger"
	"github.com/spf13/cobra"
)

// NewTasksCommand reads the task snapshot directly. It takes no lock, so it
// works while the daemon is running and may trail it by one flush window.
func NewTasksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect persisted tasks",
	}
	cmd.AddCommand(newListCommand(), newGetCommand())
	return cmd
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := cmd.Flags().GetString("status")
			if err != nil {
				return fmt.Errorf("failed to get status flag: %w", err)
			}
			taskType, err := cmd.Flags().GetString("type")
			if err != nil {
				return fmt.Errorf("failed to get type flag: %w", err)
			}
			all, err := loadTasks(cmd)
			if err != nil {
				return err
			}
			out := filterTasks(all, task.Status(strings.TrimSpace(status)), strings.TrimSpace(taskType))
			return helpers.WriteJSON(cmd.OutOrStdout(), map[string]any{"tasks": out})
		},
	}
	cmd.Flags().String("status", "", "Only show tasks with this status (pending, running, succeeded, failed)")
	cmd.Flags().String("type", "", "Only show tasks of this type")
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := loadTasks(cmd)
			if err != nil {
				return err
			}
			for i := range all {
				if all[i].ID.String() == args[0] {
					return helpers.WriteJSON(cmd.OutOrStdout(), all[i])
				}
			}
			return fmt.Errorf("%w: %s", task.ErrTaskNotFound, args[0])
		},
	}
}

func loadTasks(cmd *cobra.Command) ([]task.Task, error) {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	store, err := filestore.New(cfg.Tasks.SnapshotPath)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug("Reading task snapshot", "path", store.Path())
	snapshot, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return []task.Task{}, nil
	}
	return snapshot.Tasks, nil
}

func filterTasks(all []task.Task, status task.Status, taskType string) []task.Task {
	out := make([]task.Task, 0, len(all))
	for i := range all {
		if status != "" && all[i].Status != status {
			continue
		}
		if taskType != "" && all[i].Type != taskType {
			continue
		}
		out = append(out, all[i])
	}
	slices.SortStableFunc(out, func(a, b task.Task) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}
