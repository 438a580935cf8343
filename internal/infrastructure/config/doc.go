// Package config handles loading and validating beamline core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Resolving named broker environments for processing notifications
//
// Security Considerations:
//   - Broker and InfluxDB credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	envs := config.EnvironmentFile{Path: cfg.Processing.EnvironmentsFile}
//	env, err := envs.Lookup(cfg.Processing.Environment)
package config
