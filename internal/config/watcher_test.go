package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avagate/internal/observability"
)

// invalidConfigYAML parses but fails validation.
const invalidConfigYAML = `
apiVersion: gateway.avagate.io/v1
kind: Gateway
metadata:
  name: test-gateway
spec:
  circuitBreaker:
    enabled: true
    failureThreshold: 0
    successThreshold: 2
    timeout: 30s
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestNewWatcher_WithOptions(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, configPath, validConfigYAML)

	logger := observability.NopLogger()
	w, err := NewWatcher(configPath, func(*GatewayConfig) {},
		WithDebounceDelay(200*time.Millisecond),
		WithLogger(logger),
		WithErrorCallback(func(error) {}),
	)
	require.NoError(t, err)
	defer w.Stop()

	assert.Equal(t, configPath, w.path)
	assert.Equal(t, 200*time.Millisecond, w.debounceDelay)
	assert.Equal(t, logger, w.logger)
	assert.NotNil(t, w.errorCallback)
	assert.Nil(t, w.LastConfig())
}

func TestWatcher_Start_InvalidInitialConfig(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, configPath, invalidConfigYAML)

	w, err := NewWatcher(configPath, nil)
	require.NoError(t, err)
	defer w.Stop()

	err = w.Start(context.Background())
	require.Error(t, err)
	_, ok := AsValidationErrors(err)
	assert.True(t, ok)
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	// Not parallel due to file system notifications.

	configPath := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, configPath, validConfigYAML)

	reloaded := make(chan *GatewayConfig, 4)
	var failures atomic.Int32

	w, err := NewWatcher(configPath,
		func(cfg *GatewayConfig) { reloaded <- cfg },
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(error) { failures.Add(1) }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer w.Stop()
	require.NotNil(t, w.LastConfig())
	assert.Equal(t, "test-gateway", w.LastConfig().Metadata.Name)

	// An invalid edit is rejected and the last good config stays.
	writeConfig(t, configPath, invalidConfigYAML)
	assert.Eventually(t, func() bool { return failures.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "test-gateway", w.LastConfig().Metadata.Name)

	writeConfig(t, configPath, strings.Replace(validConfigYAML, "name: test-gateway", "name: renamed", 1))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "renamed", cfg.Metadata.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback was not called")
	}
	assert.Equal(t, "renamed", w.LastConfig().Metadata.Name)
}

func TestWatcher_ForceReload(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, configPath, validConfigYAML)

	var calls atomic.Int32
	w, err := NewWatcher(configPath, func(*GatewayConfig) { calls.Add(1) })
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.ForceReload())
	assert.Equal(t, int32(1), calls.Load())
	assert.NotNil(t, w.LastConfig())

	writeConfig(t, configPath, invalidConfigYAML)
	assert.Error(t, w.ForceReload())
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcher_StopIdempotent(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, configPath, validConfigYAML)

	w, err := NewWatcher(configPath, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
