package monitoring

import (
	"testing"

	"github.com/compozy/agentrix/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		path string
		msg  string
	}{
		{name: "Should reject an empty path", path: "", msg: "cannot be empty"},
		{name: "Should reject a relative path", path: "metrics", msg: "must start with '/'"},
		{name: "Should reject paths under the API prefix", path: "/api/metrics", msg: "cannot be under /api/"},
		{name: "Should reject query parameters", path: "/metrics?x=1", msg: "query parameters"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := (&Config{Enabled: true, Path: tc.path}).Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}

	t.Run("Should accept the default path", func(t *testing.T) {
		assert.NoError(t, DefaultConfig().Validate())
	})
}

func TestFromAppConfig(t *testing.T) {
	t.Run("Should keep the default path when none is set", func(t *testing.T) {
		cfg := FromAppConfig(config.MonitoringConfig{Enabled: true})
		assert.True(t, cfg.Enabled)
		assert.Equal(t, "/metrics", cfg.Path)
	})

	t.Run("Should copy a custom path", func(t *testing.T) {
		cfg := FromAppConfig(config.MonitoringConfig{Path: "/internal/metrics"})
		assert.False(t, cfg.Enabled)
		assert.Equal(t, "/internal/metrics", cfg.Path)
	})
}
