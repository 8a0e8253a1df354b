package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avagate/internal/util"
)

func TestEnvProvider_GetSecret(t *testing.T) {
	t.Setenv("AVAGATE_SECRET_JWT_SECRET", "plain-value")
	t.Setenv("AVAGATE_SECRET_DB", `{"user":"gw","port":5432}`)

	p := NewEnvProvider(nil)
	assert.Equal(t, ProviderTypeEnv, p.Type())

	s, err := p.GetSecret(context.Background(), "jwt-secret")
	require.NoError(t, err)
	v, ok := s.GetString("value")
	assert.True(t, ok)
	assert.Equal(t, "plain-value", v)
	assert.Equal(t, "AVAGATE_SECRET_JWT_SECRET", s.Metadata["env_var"])

	s, err = p.GetSecret(context.Background(), "db")
	require.NoError(t, err)
	user, _ := s.GetString("user")
	port, _ := s.GetString("port")
	assert.Equal(t, "gw", user)
	assert.Equal(t, "5432", port)

	_, err = p.GetSecret(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.ErrorIs(t, err, util.ErrSecretNotFound)

	_, err = p.GetSecret(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidPath)

	assert.NoError(t, p.HealthCheck(context.Background()))
}

func TestEnvProvider_CustomPrefix(t *testing.T) {
	t.Parallel()

	p := NewEnvProvider(&EnvProviderConfig{Prefix: "GW_"})
	p.lookup = func(name string) (string, bool) {
		if name == "GW_API_KEY" {
			return "k", true
		}
		return "", false
	}

	v, err := Resolve(context.Background(), p, "api.key", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("k"), v)

	_, err = Resolve(context.Background(), p, "api.key", "other")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestLocalProvider(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "jwt"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(base, "jwt", "secret"), []byte("from-dir\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(base, "yamlsecret.yaml"), []byte("secret: from-yaml\nttl: 30\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(base, "jsonsecret.json"), []byte(`{"secret":"from-json"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(base, "broken.json"), []byte(`{`), 0o600))

	p, err := NewLocalProvider(&LocalProviderConfig{BasePath: base})
	require.NoError(t, err)

	tests := []struct {
		path string
		want string
	}{
		{"jwt", "from-dir"},
		{"yamlsecret", "from-yaml"},
		{"jsonsecret", "from-json"},
	}
	for _, tt := range tests {
		v, err := Resolve(context.Background(), p, tt.path, "secret")
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, string(v))
	}

	s, err := p.GetSecret(context.Background(), "yamlsecret")
	require.NoError(t, err)
	ttl, _ := s.GetString("ttl")
	assert.Equal(t, "30", ttl)
	assert.NotNil(t, s.UpdatedAt)

	_, err = p.GetSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	_, err = p.GetSecret(context.Background(), "broken")
	assert.Error(t, err)

	for _, bad := range []string{"", "../etc/passwd", "/etc/passwd"} {
		_, err = p.GetSecret(context.Background(), bad)
		assert.ErrorIs(t, err, ErrInvalidPath, bad)
	}

	assert.NoError(t, p.HealthCheck(context.Background()))
}

func TestNewLocalProvider_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NewLocalProvider(nil)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)

	_, err = NewLocalProvider(&LocalProviderConfig{BasePath: filepath.Join(t.TempDir(), "nope")})
	assert.ErrorIs(t, err, ErrProviderNotConfigured)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = NewLocalProvider(&LocalProviderConfig{BasePath: file})
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

// fakeVault serves the subset of the Vault HTTP API the provider uses.
func fakeVault(t *testing.T, reads *atomic.Int32) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/secret/data/gateway/jwt", func(w http.ResponseWriter, r *http.Request) {
		reads.Add(1)
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data": map[string]any{"secret": "vault-secret-value", "rotations": 2},
				"metadata": map[string]any{
					"version":       3,
					"created_time":  "2026-01-02T03:04:05Z",
					"deletion_time": "",
					"destroyed":     false,
				},
			},
		})
	})
	mux.HandleFunc("/v1/sys/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"initialized":true,"sealed":false,"standby":false}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[]}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestVaultProvider(t *testing.T) {
	t.Parallel()

	var reads atomic.Int32
	srv := fakeVault(t, &reads)

	p, err := NewVaultProvider(&VaultProviderConfig{
		Address:    srv.URL,
		Token:      "test-token",
		Timeout:    2 * time.Second,
		MaxRetries: -1,
	})
	require.NoError(t, err)
	defer p.Close()

	s, err := p.GetSecret(context.Background(), "gateway/jwt")
	require.NoError(t, err)
	v, ok := s.GetString("secret")
	assert.True(t, ok)
	assert.Equal(t, "vault-secret-value", v)
	rotations, _ := s.GetString("rotations")
	assert.Equal(t, "2", rotations)
	assert.Equal(t, "3", s.Version)
	require.NotNil(t, s.UpdatedAt)
	assert.Equal(t, 2026, s.UpdatedAt.Year())

	_, err = p.GetSecret(context.Background(), "gateway/missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	assert.NoError(t, p.HealthCheck(context.Background()))
}

func TestNewVaultProvider_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NewVaultProvider(nil)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	p, err := NewProvider(&ProviderConfig{Type: ProviderTypeEnv})
	require.NoError(t, err)
	assert.Equal(t, ProviderTypeEnv, p.Type())

	p, err = NewProvider(&ProviderConfig{Type: ProviderTypeLocal, Local: &LocalProviderConfig{BasePath: t.TempDir()}})
	require.NoError(t, err)
	assert.Equal(t, ProviderTypeLocal, p.Type())

	_, err = NewProvider(&ProviderConfig{Type: ProviderTypeLocal})
	assert.ErrorIs(t, err, ErrProviderNotConfigured)

	_, err = NewProvider(&ProviderConfig{Type: ProviderTypeVault})
	assert.ErrorIs(t, err, ErrProviderNotConfigured)

	_, err = NewProvider(&ProviderConfig{Type: "kubernetes"})
	assert.ErrorIs(t, err, ErrInvalidProviderType)

	_, err = NewProvider(nil)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestCachingProvider(t *testing.T) {
	t.Parallel()

	var reads atomic.Int32
	srv := fakeVault(t, &reads)

	vp, err := NewVaultProvider(&VaultProviderConfig{Address: srv.URL, Token: "test-token", MaxRetries: -1})
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cp := NewCachingProvider(vp, time.Minute, nil)
	cp.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := cp.GetSecret(context.Background(), "gateway/jwt")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), reads.Load())

	now = now.Add(2 * time.Minute)
	_, err = cp.GetSecret(context.Background(), "gateway/jwt")
	require.NoError(t, err)
	assert.Equal(t, int32(2), reads.Load())

	cp.ClearCache()
	_, err = cp.GetSecret(context.Background(), "gateway/jwt")
	require.NoError(t, err)
	assert.Equal(t, int32(3), reads.Load())

	assert.Equal(t, ProviderTypeVault, cp.Type())
	assert.NoError(t, cp.HealthCheck(context.Background()))
	assert.NoError(t, cp.Close())
}
