package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/compozy/agentrix/pkg/logger"
)

// Runner executes the processes behind a launch.
type Runner interface {
	// Output runs name to completion and returns its stdout.
	Output(ctx context.Context, name string, args ...string) (string, error)
	// Start spawns a long-lived process in dir and returns its pid.
	Start(ctx context.Context, dir, name string, args ...string) (int, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w", msg, err)
		}
		return "", err
	}
	return stdout.String(), nil
}

// Start detaches the process from ctx; the agent outlives the request.
func (execRunner) Start(ctx context.Context, dir, name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	log := logger.FromContext(ctx)
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Warn("Agent process exited with error", "pid", pid, "error", err)
			return
		}
		log.Info("Agent process exited", "pid", pid)
	}()
	return pid, nil
}
