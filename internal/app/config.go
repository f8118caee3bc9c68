package app

import (
	"sheetgate/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level
	Debug bool

	// Custom configuration path (optional)
	// When empty, ~/.config/sheetgate is used
	ConfigPath string

	// LookupEnv resolves secret references. Defaults to os.LookupEnv.
	LookupEnv config.LookupEnvFunc

	// Environment configuration
	SheetgateConfig *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
	}
}
