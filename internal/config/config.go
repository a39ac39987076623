package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const configFileEnvVar = "NOTIFICA_CONFIG"

type Config interface {
	EnvConfig
	BackendConfig
	SessionConfig
	CorsConfig
}

type EnvConfig interface {
	GetEnv() string
	GetAppName() string
	GetPort() string
	GetPublicURL() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Backend
	Session
	Cors
}

// New builds a Config from environment variables, overlaid on the YAML file
// named by NOTIFICA_CONFIG when that variable is set.
func New() (Config, error) {
	path := os.Getenv(configFileEnvVar)
	if path == "" {
		return fromValues(nil), nil
	}
	return Load(path)
}

// Load builds a Config from the YAML file at path. Environment variables still
// take precedence over file values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("[config.Load] read %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("[config.Load] parse %s: %w", path, err)
	}
	values := make(fileValues, len(raw))
	for k, v := range raw {
		values[strings.ToLower(k)] = scalarString(v)
	}
	return fromValues(values), nil
}

func fromValues(values fileValues) Config {
	return mainConfig{
		EnvVars: EnvVars{values: values},
		Backend: Backend{values: values},
		Session: Session{values: values},
		Cors:    Cors{values: values},
	}
}

// fileValues holds settings read from the config file, keyed by the env var
// name without its NOTIFICA_ prefix, lower-cased (NOTIFICA_ANON_KEY -> anon_key).
type fileValues map[string]string

func (f fileValues) get(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	if value, ok := f[fileKey(envVar)]; ok && value != "" {
		return value
	}
	return defaultValue
}

func fileKey(envVar string) string {
	return strings.ToLower(strings.TrimPrefix(envVar, "NOTIFICA_"))
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, scalarString(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}
