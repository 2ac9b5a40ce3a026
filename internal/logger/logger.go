package logger

import (
	"go.uber.org/zap"
)

// New builds a production JSON logger at verbosity. An empty verbosity means info.
func New(verbosity string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbosity != "" {
		level, err := zap.ParseAtomicLevel(verbosity)
		if err != nil {
			return nil, err
		}
		config.Level = level
	}
	// Token lifecycle events arrive in bursts; keep all of them.
	config.Sampling = nil
	config.InitialFields = map[string]interface{}{"service": "clsafe"}
	return config.Build()
}

// OrNop returns log, or a no-op logger when log is nil.
func OrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
