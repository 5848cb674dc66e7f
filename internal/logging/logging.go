// Package logging builds the process logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger at level, or a console development
// logger when debug is set. An empty level means info.
func New(level string, debug bool) (*zap.Logger, error) {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		if level != "" {
			lvl, err := zapcore.ParseLevel(level)
			if err != nil {
				return nil, fmt.Errorf("log level: %w", err)
			}
			config.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
