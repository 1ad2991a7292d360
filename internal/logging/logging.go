// Package logging builds the pilot's zap logger, generalized from
// agent/cmd/agent/main.go's buildLogger to a standalone package so both
// cmd/pilot and tests can construct one consistently.
package logging

import "go.uber.org/zap"

// Build returns a *zap.Logger configured for level ("debug", "info", "warn",
// "error"); unrecognized levels default to info, matching the teacher's
// buildLogger.
func Build(level string) (*zap.Logger, error) {
	var cfg zap.Config
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
