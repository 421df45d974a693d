package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/nstree/errors"
)

var (
	globalConfig  *Config
	viperInstance *viper.Viper

	// ConfigSources records, per dotted key, which file last set it during
	// the most recent load. Keys absent here come from defaults or the
	// environment.
	ConfigSources   = make(map[string]SourceInfo)
	configSourcesMu sync.Mutex
)

// Load reads the nstree configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path, on top of
// defaults and environment overrides. User and project files are skipped.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	bindEnv(v)
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	sources := make(map[string]SourceInfo)
	for _, key := range v.AllKeys() {
		if v.InConfig(key) {
			sources[key] = SourceInfo{Source: SourceFile, Path: configPath}
		}
	}
	recordSources(sources)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	globalConfig = &config
	viperInstance = v
	return &config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
	recordSources(map[string]SourceInfo{})
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()
	bindEnv(v)
	SetDefaults(v)

	// Manually merge configs in precedence order: system -> user -> project -> env vars
	mergeConfigFiles(v, configPaths())

	viperInstance = v
	return v
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// configLocation is one candidate config file and the source it counts as.
type configLocation struct {
	path   string
	source ConfigSource
}

func configPaths() []configLocation {
	locations := []configLocation{
		{filepath.Join("/etc/nstree", ConfigFileName), SourceSystem},
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, configLocation{filepath.Join(home, ".nstree", ConfigFileName), SourceUser})
	}
	if project := findProjectConfig(); project != "" {
		locations = append(locations, configLocation{project, SourceProject})
	}
	return locations
}

// findProjectConfig searches for am.toml by walking up the directory tree.
// Returns the path to the first file found, or empty string if none found.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		amPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(amPath); err == nil {
			return amPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root, stop searching
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles merges existing files in order; later files win.
// Unreadable files are skipped.
func mergeConfigFiles(v *viper.Viper, locations []configLocation) {
	sources := make(map[string]SourceInfo)

	for _, loc := range locations {
		if _, err := os.Stat(loc.path); err != nil {
			continue
		}
		tempViper := viper.New()
		tempViper.SetConfigFile(loc.path)
		tempViper.SetConfigType("toml")
		if err := tempViper.ReadInConfig(); err != nil {
			continue
		}

		settings := tempViper.AllSettings()
		// MergeConfigMap keeps file values below environment overrides
		if err := v.MergeConfigMap(settings); err != nil {
			continue
		}
		markSettingsFromSource(settings, "", loc.source, loc.path, sources)
	}

	recordSources(sources)
}

// markSettingsFromSource records source for every leaf key in settings.
func markSettingsFromSource(settings map[string]interface{}, prefix string, source ConfigSource, path string, sourceMap map[string]SourceInfo) {
	for key, value := range settings {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			markSettingsFromSource(nested, fullKey, source, path, sourceMap)
			continue
		}
		sourceMap[fullKey] = SourceInfo{Source: source, Path: path}
	}
}

func recordSources(sources map[string]SourceInfo) {
	configSourcesMu.Lock()
	defer configSourcesMu.Unlock()
	ConfigSources = sources
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	return initViper().GetString(key)
}

// GetStorePath returns the configured store path. NSTREE_STORE_PATH
// overrides every file.
func GetStorePath() (string, error) {
	config, err := Load()
	if err != nil {
		return "", err
	}
	return config.Store.Path, nil
}
