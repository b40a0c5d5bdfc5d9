// Package config provides the relay configuration.
//
// The config package handles:
//   - Listen address and optional TLS key pair
//   - Logging level and destination
//   - Metrics endpoint port
//   - Liveness heartbeat interval and inbound frame size limit
//   - Optional ngrok tunnel
//
// Values come from command-line flags, which fall back to NEXUS_* and NGROK_*
// environment variables (a .env file is loaded first when present). Validate
// reports the first problem found, wrapped in ErrInvalidConfig.
//
// Usage:
//
//	cfg := config.Default()
//	cfg.Port = 9000
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config
