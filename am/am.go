// Package am loads nstree configuration ("am" as in "I am configured as").
//
// Sources merge in precedence order, lowest first: built-in defaults,
// /etc/nstree/am.toml, ~/.nstree/am.toml, the project am.toml found by
// walking up from the working directory, then NSTREE_* environment
// variables.
package am

import "time"

// Config represents the nstree configuration
type Config struct {
	Store StoreConfig `mapstructure:"store" toml:"store" yaml:"store" json:"store"`
	Log   LogConfig   `mapstructure:"log" toml:"log" yaml:"log" json:"log"`
	Watch WatchConfig `mapstructure:"watch" toml:"watch" yaml:"watch" json:"watch"`
}

// StoreConfig configures the backing container file
type StoreConfig struct {
	// Container file (default: nstree.h5db)
	Path string `mapstructure:"path" toml:"path" yaml:"path" json:"path"`

	// Reserved organizational group
	DataGroup string `mapstructure:"data_group" toml:"data_group" yaml:"data_group" json:"data_group"`

	// Reserved group emptied on close
	ScratchGroup string `mapstructure:"scratch_group" toml:"scratch_group" yaml:"scratch_group" json:"scratch_group"`

	// Semver constraint on container format
	FormatConstraint string `mapstructure:"format_constraint" toml:"format_constraint" yaml:"format_constraint" json:"format_constraint"`
}

// LogConfig configures logging
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json" yaml:"json" json:"json"`

	// Same scale as the -v flag count
	Verbosity int `mapstructure:"verbosity" toml:"verbosity" yaml:"verbosity" json:"verbosity"`
}

// WatchConfig configures `nstree watch`
type WatchConfig struct {
	DebounceMS int `mapstructure:"debounce_ms" toml:"debounce_ms" yaml:"debounce_ms" json:"debounce_ms"`

	// 0 = unlimited
	MaxRebuildsPerSecond float64 `mapstructure:"max_rebuilds_per_second" toml:"max_rebuilds_per_second" yaml:"max_rebuilds_per_second" json:"max_rebuilds_per_second"`
}

// Debounce returns the debounce period as a duration.
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMS) * time.Millisecond
}

const (
	// ConfigFileName is the file searched for at every config location.
	ConfigFileName = "am.toml"

	// EnvPrefix prefixes environment overrides, e.g. NSTREE_STORE_PATH.
	EnvPrefix = "NSTREE"

	// DefaultDirPermissions is used for ~/.nstree.
	DefaultDirPermissions = 0o750
)
