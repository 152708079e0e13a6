package taxonomy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/metaline-io/metaline/internal/config"
)

// Config holds the taxonomy configuration loaded from .metaline.yaml.
type Config struct {
	Tags []Tag `yaml:"tags"`
}

// DefaultConfigPath is the default location for the taxonomy configuration
// file. Uses hidden file format following common tool conventions
// (.eslintrc, .prettierrc, etc.).
const DefaultConfigPath = ".metaline.yaml"

// ConfigPathEnvVar is the environment variable name for a custom config path.
const ConfigPathEnvVar = "METALINE_TAXONOMY_PATH"

// LoadConfig loads the taxonomy from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if the file doesn't exist - a catalog
//     without tags is valid, every tag reference will simply be rejected
//   - Returns an error if the YAML is invalid - a half-parsed taxonomy would
//     silently reject tags the operator believes are configured
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Taxonomy file not found, starting with an empty tag set",
				slog.String("path", path))

			return cfg, nil
		}

		return nil, fmt.Errorf("failed to read taxonomy file %s: %w", path, err)
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy file %s: %w", path, err)
	}

	return cfg, nil
}

// LoadConfigFromEnv loads the taxonomy from the path in METALINE_TAXONOMY_PATH,
// falling back to ".metaline.yaml" in the current directory if not set.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}

// LoadRegistry loads the taxonomy config from the environment and builds the
// registry from it. This is the standard process-start entry point.
func LoadRegistry() (*Registry, error) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	return NewRegistry(cfg.Tags)
}
