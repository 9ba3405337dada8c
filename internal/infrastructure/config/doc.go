// Package config handles loading and validating Gray Logic gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (GATEWAY_SECTION_KEY)
//   - Per-machine and per-channel default values
//   - Validation of required fields
//
// Security Considerations:
//   - The uplink API key, MQTT password and InfluxDB token should be set via
//     environment variables rather than committed to the config file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.ID)
package config
