// Package config provides configuration types and loading for the
// admission gateway.
//
// This package defines the gateway configuration model, YAML loading
// with environment variable substitution, validation, and file
// watching for hot-reload support.
//
// # Features
//
//   - YAML configuration file loading
//   - Environment variable substitution with ${VAR:-default} syntax
//   - Configuration validation that reports every problem at once
//   - File watching with debounced reload callbacks
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := config.ValidateConfig(cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// # File Watching
//
//	w, err := config.NewWatcher("gateway.yaml", func(cfg *config.GatewayConfig) {
//	    pipeline.Reload(cfg)
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
package config
