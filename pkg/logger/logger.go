// Package logger builds the structured zap logger used throughout shimrepo.
// It is referenced by every internal package via dependency injection
// (a *zap.SugaredLogger field set at construction time) rather than a
// package-level global, so components stay testable with a no-op logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-shaped zap logger named after the calling
// service/component, returning the sugared form the rest of the codebase
// uses for key-value structured logging.
func New(service string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	log, err := cfg.Build()
	if err != nil {
		// Building a production config can only fail on bad encoder/sink
		// settings, which are fixed above; fall back rather than panic so a
		// misconfigured logger never takes the engine down with it.
		log = zap.NewNop()
	}

	return log.Named(service).Sugar()
}

// NewDevelopment builds a human-readable logger for local tooling
// (cmd/shimrepoctl) where colorized, caller-free output is preferred over
// JSON.
func NewDevelopment(service string) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	cfg.OutputPaths = []string{"stderr"}

	log := zap.Must(cfg.Build())
	return log.Named(service).Sugar()
}
