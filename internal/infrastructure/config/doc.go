// Package config handles loading and validating the gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with HOMEGW_* environment variables
//   - Per-device defaults for door sensors and smart plugs
//   - Validation of required fields
//
// Secrets (JWT secret, MQTT password, webhook secret hash) should be supplied
// through the environment rather than committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
