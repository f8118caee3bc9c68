package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetgate/internal/config"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600))
}

func envLookup(vars map[string]string) config.LookupEnvFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestNewApplication_LoadsFromConfigPath(t *testing.T) {
	provider := startProvider(t)
	dir := t.TempDir()
	writeConfigFile(t, dir, fmt.Sprintf(`
server:
  host: 127.0.0.1
  port: 18090
  publicUrl: http://localhost:18090
logging:
  level: warn
  format: json
oauth:
  upstream:
    provider: custom
    authUrl: %s
    tokenUrl: %s
    clientId: gateway
  clients:
    - clientId: sheets-addon
      public: true
      redirectUris: [https://addon.example.com/done]
`, provider.GetAuthorizeURL(), provider.GetTokenURL()))

	cfg := NewConfig(false, dir)
	cfg.LookupEnv = envLookup(map[string]string{
		config.DefaultStateSecretEnv:   "0123456789abcdef0123456789abcdef",
		config.DefaultEncryptionKeyEnv: base64.StdEncoding.EncodeToString([]byte("fedcba9876543210fedcba9876543210")),
	})

	application, err := NewApplication(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(application.Services().Close)

	require.NotNil(t, cfg.SheetgateConfig)
	assert.Equal(t, filepath.Join(dir, "tokens"), cfg.SheetgateConfig.Tokens.Dir)
	assert.Equal(t, filepath.Join(dir, "tokens"), application.Services().TokenStore.Dir())
	assert.DirExists(t, filepath.Join(dir, "tokens"))
}

func TestNewApplication_MissingSecrets(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
server:
  publicUrl: http://localhost:8090
oauth:
  upstream:
    clientId: gateway
  clients:
    - clientId: sheets-addon
      public: true
      redirectUris: [https://addon.example.com/done]
`)

	cfg := NewConfig(false, dir)
	cfg.LookupEnv = envLookup(nil)

	_, err := NewApplication(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.DefaultStateSecretEnv)
}

func TestNewApplication_PresetConfig(t *testing.T) {
	provider := startProvider(t)
	cfg := &Config{Debug: true, SheetgateConfig: testConfig(t, provider)}

	application, err := NewApplication(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(application.Services().Close)
	assert.NotNil(t, application.Services().Manager)
}

func TestApplication_RunUntilCancelled(t *testing.T) {
	provider := startProvider(t)
	cfg := &Config{SheetgateConfig: testConfig(t, provider)}

	application, err := NewApplication(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	var addr string
	require.Eventually(t, func() bool {
		addr = application.Services().Server.Addr()
		return addr != ""
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, "ok", body["status"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestInitLogging_FallsBackToInfo(t *testing.T) {
	// An unparseable level must not prevent startup.
	assert.NotPanics(t, func() {
		initLogging(false, config.LoggingConfig{Level: "loud", Format: "text"}, os.Stderr)
		initLogging(true, config.LoggingConfig{Level: "error", Format: "json"}, os.Stderr)
	})
}
