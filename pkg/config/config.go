package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config represents the complete configuration for the agentrix daemon and CLI.
type Config struct {
	Server     ServerConfig     `koanf:"server"     validate:"required"`
	Workspace  WorkspaceConfig  `koanf:"workspace"  validate:"required"`
	Tasks      TasksConfig      `koanf:"tasks"      validate:"required"`
	Agent      AgentConfig      `koanf:"agent"`
	LLM        LLMConfig        `koanf:"llm"`
	GitHub     GitHubConfig     `koanf:"github"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
	Log        LogConfig        `koanf:"log"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"             validate:"required"        env:"AGENTRIX_SERVER_HOST"`
	Port            int           `koanf:"port"             validate:"min=1,max=65535" env:"AGENTRIX_SERVER_PORT"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"           env:"AGENTRIX_SERVER_SHUTDOWN_TIMEOUT"`
}

// WorkspaceConfig controls where repositories and worktrees live on disk.
type WorkspaceConfig struct {
	Root             string   `koanf:"root"               validate:"required" env:"AGENTRIX_WORKSPACE_ROOT"`
	CloneURLTemplate string   `koanf:"clone_url_template" validate:"required" env:"AGENTRIX_WORKSPACE_CLONE_URL_TEMPLATE"`
	DefaultBranches  []string `koanf:"default_branches"                       env:"AGENTRIX_WORKSPACE_DEFAULT_BRANCHES"`
	GitBinary        string   `koanf:"git_binary"         validate:"required" env:"AGENTRIX_WORKSPACE_GIT_BINARY"`

	// BaseBranches maps "org/repo" to the base branch new worktrees start from.
	BaseBranches map[string]string `koanf:"base_branches"`
}

// TasksConfig controls the task registry and its snapshot file.
type TasksConfig struct {
	SnapshotPath string        `koanf:"snapshot_path" validate:"required" env:"AGENTRIX_TASKS_SNAPSHOT_PATH"`
	FlushWindow  time.Duration `koanf:"flush_window"  validate:"min=0"    env:"AGENTRIX_TASKS_FLUSH_WINDOW"`
	MaxRetries   int           `koanf:"max_retries"   validate:"min=0"    env:"AGENTRIX_TASKS_MAX_RETRIES"`
	MaxRetained  int           `koanf:"max_retained"  validate:"min=0"    env:"AGENTRIX_TASKS_MAX_RETAINED"`
}

// AgentConfig controls how coding agents are launched.
type AgentConfig struct {
	Command    string `koanf:"command"     validate:"required" env:"AGENTRIX_AGENT_COMMAND"`
	UseTmux    bool   `koanf:"use_tmux"                        env:"AGENTRIX_AGENT_USE_TMUX"`
	TmuxBinary string `koanf:"tmux_binary"                     env:"AGENTRIX_AGENT_TMUX_BINARY"`
}

// LLMConfig configures the model used for plans and branch names.
type LLMConfig struct {
	Provider string          `koanf:"provider" validate:"omitempty,oneof=openai anthropic ollama" env:"AGENTRIX_LLM_PROVIDER"`
	Model    string          `koanf:"model"                                                      env:"AGENTRIX_LLM_MODEL"`
	APIKey   SensitiveString `koanf:"api_key"                                                    env:"AGENTRIX_LLM_API_KEY"  sensitive:"true"`
	BaseURL  string          `koanf:"base_url"                                                   env:"AGENTRIX_LLM_BASE_URL"`
	Timeout  time.Duration   `koanf:"timeout"  validate:"min=0"                                  env:"AGENTRIX_LLM_TIMEOUT"`
}

// GitHubConfig configures API access and authenticated clones.
type GitHubConfig struct {
	Token   SensitiveString `koanf:"token"    env:"AGENTRIX_GITHUB_TOKEN"    sensitive:"true"`
	BaseURL string          `koanf:"base_url" env:"AGENTRIX_GITHUB_BASE_URL"`
}

// MonitoringConfig exposes Prometheus metrics outside the API prefix.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"AGENTRIX_MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"AGENTRIX_MONITORING_PATH"`
}

type LogConfig struct {
	Level  string `koanf:"level"  validate:"oneof=debug info warn error disabled" env:"AGENTRIX_LOG_LEVEL"`
	JSON   bool   `koanf:"json"                                                   env:"AGENTRIX_LOG_JSON"`
	Source bool   `koanf:"source"                                                 env:"AGENTRIX_LOG_SOURCE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home := homeDir()
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            3414,
			ShutdownTimeout: 10 * time.Second,
		},
		Workspace: WorkspaceConfig{
			Root:             filepath.Join(home, ".agentrix", "workspaces"),
			CloneURLTemplate: "https://github.com/{org}/{repo}.git",
			DefaultBranches:  []string{"main", "master"},
			GitBinary:        "git",
		},
		Tasks: TasksConfig{
			SnapshotPath: filepath.Join(home, ".agentrix", "tasks.json"),
			FlushWindow:  25 * time.Millisecond,
			MaxRetries:   3,
			MaxRetained:  200,
		},
		Agent: AgentConfig{
			Command:    "codex",
			UseTmux:    true,
			TmuxBinary: "tmux",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  60 * time.Second,
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return home
	}
	return "."
}
