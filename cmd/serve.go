package cmd

import (
	"context"
	"fmt"

	"sheetgate/internal/app"

	"github.com/spf13/cobra"
)

// serveCmd defines the serve command structure.
// This is the main command of sheetgate that runs the authorization gateway.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the OAuth authorization gateway",
	Long: `Starts the HTTP server exposing the authorization endpoints and the
background token refresh loop.

Endpoints:
  GET    /oauth/authorize   start an authorization (PKCE S256 required)
  GET    /oauth/callback    redirect target registered with the identity provider
  POST   /oauth/token       redeem a downstream authorization code
  GET    /oauth/status      credential status for a principal (client Basic auth)
  DELETE /oauth/token       revoke a principal's credential (client Basic auth)
  GET    /health            liveness
  GET    /metrics           Prometheus metrics

Configuration:
  Settings are read from config.yaml in the configuration directory
  (default ~/.config/sheetgate, override with --config-path). Secrets are
  never read from the file; they come from the environment variables it
  names:
  - SHEETGATE_STATE_SECRET    HMAC key for state tokens (at least 32 bytes)
  - SHEETGATE_ENCRYPTION_KEY  base64-encoded 32-byte token encryption key
  - SHEETGATE_CLIENT_SECRET   upstream OAuth client secret

The server stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := app.NewConfig(debug, configPath)
	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
