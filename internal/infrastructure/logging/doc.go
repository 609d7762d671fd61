// Package logging provides structured logging for the OpenHandy bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the bridge components.
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
//	logger.Info("hub connected", "url", url)
//	logger.Error("device request failed", "error", err)
//
// Never log the action secret or broker credentials.
package logging
