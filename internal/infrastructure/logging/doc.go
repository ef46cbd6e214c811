// Package logging provides structured logging for mqttlightbulb.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level filtering.
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
//	logger := logging.New(cfg.Logging, version)
//	lamp := logger.Component("light").With("accessory", "Desk Lamp")
//	lamp.Info("state changed", "on", true)
//
// Broker passwords and the InfluxDB token must never be logged.
package logging
