// Package config loads sheetgate's configuration.
//
// Configuration lives in a single directory (default ~/.config/sheetgate)
// containing config.yaml. The file is merged over GetDefaultConfig, so every
// field is optional except the deployment-specific ones (public URL, upstream
// client id, client allow-list).
//
// Secrets are never written in the YAML. The file names environment variables
// instead and ResolveSecrets reads them at startup:
//
//	oauth:
//	  stateSecretEnv: SHEETGATE_STATE_SECRET       # >= 32 bytes, HMAC key for state tokens
//	  upstream:
//	    clientSecretEnv: SHEETGATE_CLIENT_SECRET
//	tokens:
//	  encryptionKeyEnv: SHEETGATE_ENCRYPTION_KEY   # base64, 32 bytes
//
// Load runs the whole sequence (read, resolve, validate) and returns
// ValidationErrors listing every problem at once.
package config
