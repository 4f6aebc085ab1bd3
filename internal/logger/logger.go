package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log   *zap.Logger
	sugar *zap.SugaredLogger
)

// Init builds the global logger. In debug mode output is colored console
// text at debug level; otherwise JSON at info level.
func Init(mode string) error {
	var cfg zap.Config

	if mode == "debug" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	log = l
	sugar = l.Sugar()
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}

// GetSugar returns the sugared logger for printf-style callers.
func GetSugar() *zap.SugaredLogger {
	ensure()
	return sugar
}

func ensure() {
	if log == nil {
		log = zap.NewNop()
		sugar = log.Sugar()
	}
}

func Debug(msg string, fields ...zap.Field) {
	ensure()
	log.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	ensure()
	log.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	ensure()
	log.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	ensure()
	log.Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	ensure()
	log.Fatal(msg, fields...)
}
