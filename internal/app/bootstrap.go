package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"sheetgate/internal/config"
	"sheetgate/pkg/logging"
)

// Application represents the main application structure that bootstraps and runs sheetgate.
// It encapsulates the configuration and the wired services required for the
// application's lifecycle.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: Load configuration, initialize logging, build services
//  2. Execution phase: Start background loops and serve HTTP until shutdown
//
// Example usage:
//
//	cfg := app.NewConfig(false, "")
//	application, err := app.NewApplication(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication creates and initializes a new application instance with the provided configuration.
// This function performs the complete bootstrap sequence:
//
//  1. Loads config.yaml (unless cfg.SheetgateConfig is already set) and resolves secrets
//  2. Configures logging from the loaded level and format
//  3. Initializes all services
//
// When cfg.ConfigPath is empty, ~/.config/sheetgate is used.
func NewApplication(ctx context.Context, cfg *Config) (*Application, error) {
	// Log to stderr at info until the configured level is known
	initLogging(cfg.Debug, config.LoggingConfig{Level: "info"}, os.Stderr)

	if cfg.SheetgateConfig == nil {
		configPath := cfg.ConfigPath
		if configPath == "" {
			var err error
			configPath, err = config.GetDefaultConfigPath()
			if err != nil {
				return nil, err
			}
		}

		loaded, err := config.Load(configPath, cfg.LookupEnv)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load configuration from path: %s", configPath)
			return nil, fmt.Errorf("failed to load configuration from path %s: %w", configPath, err)
		}
		cfg.SheetgateConfig = &loaded
	}

	initLogging(cfg.Debug, cfg.SheetgateConfig.Logging, os.Stderr)

	services, err := InitializeServices(ctx, cfg.SheetgateConfig)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// initLogging applies the configured level and format. Debug overrides the level.
func initLogging(debug bool, cfg config.LoggingConfig, output io.Writer) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	if debug {
		level = logging.LevelDebug
	}

	if cfg.Format == "json" {
		logging.InitForJSON(level, output)
	} else {
		logging.InitForCLI(level, output)
	}
}

// Services exposes the wired components, mainly for tests.
func (a *Application) Services() *Services {
	return a.services
}

// Run starts the services and blocks until ctx is cancelled, a termination
// signal arrives or the HTTP server fails.
func (a *Application) Run(ctx context.Context) error {
	return runServer(ctx, a.services)
}
