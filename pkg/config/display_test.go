package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFlatten(t *testing.T) {
	t.Run("Should render dotted keys with readable values", func(t *testing.T) {
		cfg := Default()
		cfg.GitHub.Token = "ghp_secret"
		cfg.Workspace.BaseBranches = map[string]string{"b/repo": "develop", "a/repo": "main"}
		flat, err := Flatten(cfg)
		require.NoError(t, err)
		assert.Equal(t, "3414", flat["server.port"])
		assert.Equal(t, "25ms", flat["tasks.flush_window"])
		assert.Equal(t, "main,master", flat["workspace.default_branches"])
		assert.Equal(t, "a/repo=main,b/repo=develop", flat["workspace.base_branches"])
		assert.Equal(t, "[REDACTED]", flat["github.token"])
	})
}

func TestEnvVarFor(t *testing.T) {
	t.Run("Should find the variable bound to a path", func(t *testing.T) {
		assert.Equal(t, "AGENTRIX_TASKS_SNAPSHOT_PATH", EnvVarFor("tasks.snapshot_path"))
		assert.Empty(t, EnvVarFor("workspace.base_branches"))
	})
}

func TestSensitiveString_MarshalYAML(t *testing.T) {
	t.Run("Should redact secrets in YAML output", func(t *testing.T) {
		out, err := yaml.Marshal(map[string]SensitiveString{"token": "ghp_secret"})
		require.NoError(t, err)
		assert.Contains(t, string(out), "[REDACTED]")
		assert.NotContains(t, string(out), "ghp_secret")
	})
}

func TestNested(t *testing.T) {
	t.Run("Should group redacted values by section", func(t *testing.T) {
		cfg := Default()
		cfg.GitHub.Token = "ghp_secret"
		nested, err := Nested(cfg)
		require.NoError(t, err)
		gh, ok := nested["github"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "[REDACTED]", gh["token"])
		server, ok := nested["server"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "3414", server["port"])
	})
}
