package dcragent

import (
	"go.uber.org/zap"
)

// NewLogger builds the process logger. Debug switches to the development
// config: console encoder and debug-level diagnostics for dropped fragments
// and retries.
func NewLogger(debug bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
