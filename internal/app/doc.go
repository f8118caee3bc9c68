// Package app provides application bootstrap and lifecycle management for sheetgate.
//
// It turns a loaded configuration into a running process: it builds every
// component in dependency order, starts the background loops and the HTTP
// server, and tears them down again on shutdown.
//
// # Architecture Overview
//
// The package has four parts:
//
//  1. **Configuration (`config.go`)**: Runtime settings such as the debug flag
//     and the configuration directory
//  2. **Bootstrap (`bootstrap.go`)**: Loads config.yaml, resolves secrets from
//     the environment and configures logging
//  3. **Services (`services.go`)**: Wires the session store, identity provider
//     client, encrypted token store, token manager, authorizer and server
//  4. **Lifecycle (`lifecycle.go`)**: Starts and stops the services in order
//
// # Session Store Selection
//
// `oauth.sessionStore.type` picks the backend for pending authorizations,
// downstream codes and rate limit counters:
//
//   - `memory` (default): in-process maps with a periodic sweeper. Only
//     suitable for a single instance.
//   - `redis`: shared state for multi-instance deployments. The connection is
//     verified at startup.
//
// # Upstream Discovery
//
// A custom identity provider configured with only an `issuer` has its
// authorization and token endpoints discovered from the RFC 8414 or OpenID
// Connect metadata documents before the token client is built. A missing S256
// PKCE advertisement is logged as a warning.
//
// # Lifecycle
//
// Startup order:
//
//  1. Session sweeper (memory store only)
//  2. Token manager: loads stored credentials and starts background refresh
//  3. Token directory watcher (when `tokens.watchDir` is set)
//  4. HTTP server
//
// After startup `READY=1` is sent to systemd when running under a notify
// unit. Shutdown runs in reverse after SIGINT, SIGTERM, context cancellation
// or a server failure, and announces `STOPPING=1` first.
//
// # Example
//
//	cfg := app.NewConfig(false, "/etc/sheetgate")
//	application, err := app.NewApplication(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
package app
