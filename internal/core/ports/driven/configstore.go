package driven

import "github.com/custodia-labs/propops/internal/core/domain"

// ConfigStore loads and persists runtime configuration.
type ConfigStore interface {
	// Load returns the effective configuration: defaults, overlaid by the
	// stored file, overlaid by the environment, then validated.
	// A missing file is not an error.
	Load() (domain.Config, error)

	// Save validates cfg and writes it to storage.
	Save(cfg domain.Config) error

	// Path returns the configuration file path.
	Path() string
}
