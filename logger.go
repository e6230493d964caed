package main

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process log, not the simulated services' log output; that
// goes to a Sink.
type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	Fatal(format string, v ...interface{})
}

type logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger returns a console logger on stderr. Level 0 logs errors only,
// 3 logs everything, matching Options.DebugLevel.
func NewLogger(level int) Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	switch {
	case level >= 3:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case level == 2:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case level == 1:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	}
	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return &logger{sugar: z.Sugar()}
}

// NewNopLogger discards everything; tests use it.
func NewNopLogger() Logger {
	return &logger{sugar: zap.NewNop().Sugar()}
}

// zap adds its own line endings
func trim(format string) string {
	return strings.TrimRight(format, "\n")
}

func (l *logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(trim(format), v...)
}

func (l *logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(trim(format), v...)
}

func (l *logger) Warn(format string, v ...interface{}) {
	l.sugar.Warnf(trim(format), v...)
}

func (l *logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(trim(format), v...)
}

func (l *logger) Fatal(format string, v ...interface{}) {
	l.sugar.Fatalf(trim(format), v...)
}
