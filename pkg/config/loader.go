package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/compozy/agentrix/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

const envPrefix = "AGENTRIX_"

// LoadOptions selects the optional sources merged over the defaults.
// Precedence, lowest first: defaults, YAML file, env file, process env, overrides.
type LoadOptions struct {
	ConfigFile string
	EnvFile    string
	Overrides  map[string]any
}

// Loader assembles a Config from layered sources.
type Loader struct {
	mu        sync.Mutex
	koanf     *koanf.Koanf
	validator *validator.Validate
	environ   func() []string
}

func NewLoader() *Loader {
	return &Loader{
		koanf:     koanf.New("."),
		validator: validator.New(),
		environ:   os.Environ,
	}
}

// Load is a convenience wrapper around NewLoader().Load.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	return NewLoader().Load(ctx, opts)
}

func (l *Loader) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.koanf = koanf.New(".")
	if err := l.koanf.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if opts.ConfigFile != "" {
		if err := l.loadYAML(opts.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := l.loadEnvironment(ctx, opts.EnvFile); err != nil {
		return nil, err
	}
	for key, value := range opts.Overrides {
		if err := l.koanf.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to apply override %s: %w", key, err)
		}
	}
	return l.unmarshalAndValidate()
}

func (l *Loader) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	for key, value := range flattenMap("", raw) {
		if value == nil {
			continue
		}
		if err := l.koanf.Set(key, value); err != nil {
			return fmt.Errorf("failed to set key %s from %s: %w", key, path, err)
		}
	}
	return nil
}

func (l *Loader) loadEnvironment(ctx context.Context, envFile string) error {
	fileVars := map[string]string{}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.FromContext(ctx).Debug("Env file not found, skipping", "path", envFile)
		case err != nil:
			return fmt.Errorf("failed to read env file %s: %w", envFile, err)
		default:
			fileVars = vars
		}
	}
	mappings := GenerateEnvToConfigMap()
	environ := func() []string {
		merged := make([]string, 0, len(fileVars))
		for key, value := range fileVars {
			merged = append(merged, key+"="+value)
		}
		return append(merged, l.environ()...)
	}
	if err := l.koanf.Load(env.Provider(".", env.Opt{
		Prefix:      envPrefix,
		EnvironFunc: environ,
		TransformFunc: func(key, value string) (string, any) {
			if path, ok := mappings[key]; ok {
				return path, value
			}
			return transformEnvKey(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

// transformEnvKey converts environment variable names to koanf paths.
// For example: TASKS_FLUSH_WINDOW -> tasks.flush_window
func transformEnvKey(s string) string {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '_'
	})
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return parts[0] + "." + strings.Join(parts[1:], "_")
	}
}

func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for fk, fv := range flattenMap(key, nested) {
				result[fk] = fv
			}
			continue
		}
		result[key] = v
	}
	return result
}

func (l *Loader) unmarshalAndValidate() (*Config, error) {
	var cfg Config
	if err := l.koanf.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				sensitiveStringDecodeHook,
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := l.validator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}
