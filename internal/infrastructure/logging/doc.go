// Package logging provides structured logging for the fleet controller.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same handler, level and default fields (service, version).
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
//	logger.Info("discovery finished", "devices", 3)
//	ctrl.SetLogger(logger.Component("controller"))
//
// Never log broker passwords, bearer tokens or the JWT secret.
package logging
