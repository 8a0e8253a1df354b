package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LocalProviderConfig holds configuration for the local file secrets provider
type LocalProviderConfig struct {
	// BasePath is the base directory for secrets
	BasePath string
	// Logger is the logger instance
	Logger *zap.Logger
}

// LocalProvider reads secrets from a directory tree:
//   - base-path/secret-name/key (each key is a separate file)
//   - base-path/secret-name.yaml (single file with all keys)
//   - base-path/secret-name.json (single file with all keys)
type LocalProvider struct {
	basePath string
	logger   *zap.Logger
}

// NewLocalProvider creates a new local file secrets provider
func NewLocalProvider(cfg *LocalProviderConfig) (*LocalProvider, error) {
	if cfg == nil || cfg.BasePath == "" {
		return nil, fmt.Errorf("%w: base path is required", ErrProviderNotConfigured)
	}

	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to access base path: %w", ErrProviderNotConfigured, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: base path is not a directory: %s", ErrProviderNotConfigured, cfg.BasePath)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LocalProvider{
		basePath: cfg.BasePath,
		logger:   logger,
	}, nil
}

// Type returns the provider type
func (p *LocalProvider) Type() ProviderType {
	return ProviderTypeLocal
}

// cleanPath rejects empty, absolute and escaping paths.
func cleanPath(path string) (string, error) {
	if path == "" {
		return "", ErrInvalidPath
	}
	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes the base path", ErrInvalidPath, path)
	}
	return clean, nil
}

// GetSecret retrieves a secret by path, trying the directory form first and
// then the YAML and JSON files.
func (p *LocalProvider) GetSecret(_ context.Context, path string) (*Secret, error) {
	start := time.Now()

	clean, err := cleanPath(path)
	if err != nil {
		RecordOperation(p.Type(), "get", time.Since(start), err)
		return nil, err
	}

	dirPath := filepath.Join(p.basePath, clean)
	if info, statErr := os.Stat(dirPath); statErr == nil && info.IsDir() {
		secret, readErr := p.readDirectory(dirPath, clean)
		RecordOperation(p.Type(), "get", time.Since(start), readErr)
		return secret, readErr
	}

	for _, ext := range []string{".yaml", ".yml", ".json"} {
		filePath := filepath.Join(p.basePath, clean+ext)
		if _, statErr := os.Stat(filePath); statErr != nil {
			continue
		}
		secret, readErr := p.readFile(filePath, clean, ext == ".json")
		RecordOperation(p.Type(), "get", time.Since(start), readErr)
		return secret, readErr
	}

	err = fmt.Errorf("%w: %s", ErrSecretNotFound, path)
	RecordOperation(p.Type(), "get", time.Since(start), err)
	return nil, err
}

// readDirectory reads a secret from a directory where each file is a key.
func (p *LocalProvider) readDirectory(dirPath, name string) (*Secret, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	data := make(map[string][]byte)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		filePath := filepath.Join(dirPath, entry.Name())
		content, err := os.ReadFile(filepath.Clean(filePath))
		if err != nil {
			p.logger.Warn("Failed to read key file",
				zap.String("file", filePath),
				zap.Error(err),
			)
			continue
		}

		// Trim trailing newline (common in secret files)
		data[entry.Name()] = []byte(strings.TrimSuffix(string(content), "\n"))
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no key files in %s", ErrSecretNotFound, name)
	}

	secret := &Secret{
		Name:     name,
		Data:     data,
		Metadata: map[string]string{"source": "directory"},
	}
	if info, err := os.Stat(dirPath); err == nil {
		modTime := info.ModTime()
		secret.UpdatedAt = &modTime
	}
	return secret, nil
}

// readFile reads a secret from a YAML or JSON file.
func (p *LocalProvider) readFile(filePath, name string, isJSON bool) (*Secret, error) {
	content, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}

	var rawData map[string]interface{}
	source := "yaml"
	if isJSON {
		source = "json"
		err = json.Unmarshal(content, &rawData)
	} else {
		err = yaml.Unmarshal(content, &rawData)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s secret file: %w", source, err)
	}

	data := make(map[string][]byte, len(rawData))
	for k, v := range rawData {
		switch val := v.(type) {
		case string:
			data[k] = []byte(val)
		default:
			jsonBytes, err := json.Marshal(val)
			if err != nil {
				p.logger.Warn("Failed to marshal value to JSON",
					zap.String("key", k),
					zap.Error(err),
				)
				continue
			}
			data[k] = jsonBytes
		}
	}

	secret := &Secret{
		Name:     name,
		Data:     data,
		Metadata: map[string]string{"source": source, "file": filePath},
	}
	if info, err := os.Stat(filePath); err == nil {
		modTime := info.ModTime()
		secret.UpdatedAt = &modTime
	}
	return secret, nil
}

// HealthCheck verifies the base path is still readable.
func (p *LocalProvider) HealthCheck(context.Context) error {
	_, err := os.ReadDir(p.basePath)
	RecordHealthStatus(p.Type(), err == nil)
	if err != nil {
		return fmt.Errorf("base path not readable: %w", err)
	}
	return nil
}

// Close cleans up provider resources
func (p *LocalProvider) Close() error {
	return nil
}
