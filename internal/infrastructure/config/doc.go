// Package config handles loading and validating Notify Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (NOTIFY_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The JWT secret signs both API access tokens and MQTT broker tokens
//   - The EMQX webhook secret authenticates broker lifecycle events
//   - Both should be supplied via environment variables, not the file
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	host, port := cfg.MQTT.BrokerAddress()
package config
