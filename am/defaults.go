package am

import (
	"github.com/spf13/viper"

	"github.com/teranos/nstree/container"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Store defaults
	v.SetDefault("store.path", "nstree.h5db")
	v.SetDefault("store.data_group", container.DefaultDataGroup)
	v.SetDefault("store.scratch_group", container.DefaultScratchGroup)
	v.SetDefault("store.format_constraint", container.DefaultFormatConstraint)

	// Log defaults
	v.SetDefault("log.json", false)
	v.SetDefault("log.verbosity", 0)

	// Watch defaults
	v.SetDefault("watch.debounce_ms", 500)           // coalesce SQLite write bursts
	v.SetDefault("watch.max_rebuilds_per_second", 2) // cap on full tree rebuilds
}

// Defaults returns the configuration with only built-in defaults applied.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// defaults always decode
		panic(err)
	}
	return cfg
}
