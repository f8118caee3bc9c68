package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sheetgate/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/sheetgate"
	configFileName = "config.yaml"
	tokenDirName   = "tokens"
)

// LookupEnvFunc resolves an environment variable. os.LookupEnv in production.
type LookupEnvFunc func(key string) (string, bool)

// GetDefaultConfigPath returns ~/.config/sheetgate.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads config.yaml from the given directory over the defaults.
// A missing file is not an error; the defaults are returned.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	// #nosec G304 -- configPath is operator supplied
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return withDerivedDefaults(config, configPath), nil
		}
		return Config{}, fmt.Errorf("failed to read %s: %w", configFilePath, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return withDerivedDefaults(config, configPath), nil
}

// Load is the full bootstrap sequence: read the file, resolve secrets from the
// environment and validate the result.
func Load(configPath string, lookup LookupEnvFunc) (Config, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ResolveSecrets(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func withDerivedDefaults(cfg Config, configPath string) Config {
	if cfg.Tokens.Dir == "" {
		cfg.Tokens.Dir = filepath.Join(configPath, tokenDirName)
	}
	return cfg
}

// ResolveSecrets reads every *Env reference from the environment. Secrets never
// live in the YAML file itself.
func (c *Config) ResolveSecrets(lookup LookupEnvFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var errs ValidationErrors

	if v, ok := lookup(c.OAuth.StateSecretEnv); ok && v != "" {
		c.OAuth.StateSecret = []byte(v)
	} else {
		errs.Add("oauth.stateSecretEnv", fmt.Sprintf("environment variable %s is not set", c.OAuth.StateSecretEnv))
	}

	if v, ok := lookup(c.Tokens.EncryptionKeyEnv); ok && v != "" {
		key, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			errs.Add("tokens.encryptionKeyEnv", fmt.Sprintf("%s is not valid base64", c.Tokens.EncryptionKeyEnv))
		} else {
			c.Tokens.EncryptionKey = key
		}
	} else {
		errs.Add("tokens.encryptionKeyEnv", fmt.Sprintf("environment variable %s is not set", c.Tokens.EncryptionKeyEnv))
	}

	if c.OAuth.Upstream.ClientSecretEnv != "" {
		if v, ok := lookup(c.OAuth.Upstream.ClientSecretEnv); ok {
			c.OAuth.Upstream.ClientSecret = v
		}
	}

	if c.OAuth.SessionStore.Redis.PasswordEnv != "" {
		if v, ok := lookup(c.OAuth.SessionStore.Redis.PasswordEnv); ok {
			c.OAuth.SessionStore.Redis.Password = v
		}
	}

	for i := range c.OAuth.Clients {
		client := &c.OAuth.Clients[i]
		if client.SecretEnv == "" {
			continue
		}
		v, ok := lookup(client.SecretEnv)
		if !ok || v == "" {
			errs.Add(fmt.Sprintf("oauth.clients[%d].secretEnv", i), fmt.Sprintf("environment variable %s is not set", client.SecretEnv))
			continue
		}
		client.Secret = v
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
