// Package logging provides structured logging for Notify Core.
//
// It wraps log/slog so every component logs through one handler with the
// same default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("webhook").Info("client connected", "client_id", id)
//
// # Security
//
// Never log broker tokens, webhook secrets or push registration tokens.
package logging
