package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// NewNamed builds the process logger: human-readable development output
// for APP_ENV=development, JSON production output otherwise.
func NewNamed(appEnv, name string) (*zap.Logger, error) {
	var (
		log *zap.Logger
		err error
	)

	if appEnv == "development" {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("new logger: %w", err)
	}

	return log.Named(name), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
