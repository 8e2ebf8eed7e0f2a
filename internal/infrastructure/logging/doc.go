// Package logging provides structured logging for the gateway.
//
// It wraps log/slog so every entry carries the service name and build
// version. Components derive child loggers with Component or With:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("dispatcher").Info("event dispatched", "correlation_id", id)
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log secrets, tokens, or the webhook shared secret.
package logging
