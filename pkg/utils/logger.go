package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger создает zap логгер с указанным уровнем.
// Неизвестный уровень трактуется как info.
func NewLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	l, err := zapcore.ParseLevel(level)
	if err != nil {
		l = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(l)
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}

// MustLogger как NewLogger, но при ошибке возвращает zap.NewNop()
func MustLogger(level string) *zap.Logger {
	logger, err := NewLogger(level)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
