// Package logging provides the subsystem-tagged structured logger used across sheetgate.
//
// It is a thin layer over log/slog. Every entry carries a subsystem attribute
// and, for errors, the error text:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Bootstrap", "Listening on %s", addr)
//	logging.Debug("Config", "Loaded configuration from %s", configPath)
//	logging.Error("TokenStore", err, "Failed to persist credential")
//
// Server deployments use InitForJSON instead.
//
// # Security
//
// Token values must never be passed to any logging function. Identifiers such
// as principals and state nonces are logged through TruncateID. Security
// relevant events (credential stored, deleted, tampering detected) go through
// Audit so they can be routed separately.
package logging
