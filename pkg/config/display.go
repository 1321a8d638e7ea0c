package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Flatten renders every setting keyed by its dotted path, e.g. "tasks.flush_window".
// Secrets are redacted.
func Flatten(cfg *Config) (map[string]string, error) {
	if cfg == nil {
		cfg = Default()
	}
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to flatten configuration: %w", err)
	}
	all := k.All()
	out := make(map[string]string, len(all))
	for key, value := range all {
		out[key] = displayValue(value)
	}
	return out, nil
}

// Nested renders the same redacted values as Flatten grouped by section,
// suitable for JSON or YAML output.
func Nested(cfg *Config) (map[string]any, error) {
	flat, err := Flatten(cfg)
	if err != nil {
		return nil, err
	}
	k := koanf.New(".")
	for key, value := range flat {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return k.Raw(), nil
}

func displayValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case SensitiveString:
		return t.String()
	case time.Duration:
		return t.String()
	case []string:
		return strings.Join(t, ",")
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+t[k])
		}
		return strings.Join(pairs, ",")
	default:
		return fmt.Sprint(t)
	}
}

// EnvVarFor returns the environment variable bound to a dotted path, if any.
func EnvVarFor(path string) string {
	for _, m := range GenerateEnvMappings() {
		if m.ConfigPath == path {
			return m.EnvVar
		}
	}
	return ""
}
