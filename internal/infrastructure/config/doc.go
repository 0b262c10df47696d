// Package config handles loading and validating fleet controller configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (FLEET_*)
//   - Validation of required fields
//   - Default value handling
//
// Sensitive values (broker passwords, tokens, the JWT secret) should be set
// via environment variables rather than committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/fleet.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Discovery.ServiceDomain)
package config
