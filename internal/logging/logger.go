// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package logging provides the structured logger used across the core —
// a thin wrapper over zap so call sites can log with loosely typed
// key/value pairs without depending on zap directly.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging surface every component in the core depends on.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	With(kv ...interface{}) Logger
}

type zapLogger struct {
	z *zap.SugaredLogger
}

// Config controls the on-disk rotation of the production logger.
type Config struct {
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      string
	Console    bool
}

// New builds a production logger. Output goes to stderr when cfg.Console
// is set and to a lumberjack-rotated file when cfg.FilePath is set (both
// are teed when both are set), using the same rotation defaults across
// deployments. With neither set, output goes to stderr.
func New(cfg Config) Logger {
	level := zapcore.InfoLevel
	_ = level.UnmarshalText([]byte(cfg.Level))

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var cores []zapcore.Core
	if cfg.Console {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}
	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    maxOr(cfg.MaxSizeMB, 100),
			MaxBackups: maxOr(cfg.MaxBackups, 5),
			MaxAge:     maxOr(cfg.MaxAgeDays, 14),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}

	core := zapcore.NewTee(cores...)
	return &zapLogger{z: zap.New(core).Sugar()}
}

// NewTest returns a logger suitable for unit tests — console only, debug
// level, no file rotation.
func NewTest() Logger {
	return New(Config{Console: true, Level: "debug"})
}

func maxOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func (l *zapLogger) Debug(msg string, kv ...interface{}) { l.z.Debugw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...interface{})  { l.z.Infow(msg, kv...) }
func (l *zapLogger) Warn(msg string, kv ...interface{})  { l.z.Warnw(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...interface{}) { l.z.Errorw(msg, kv...) }

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.z.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.z.Infof(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.z.Errorf(format, args...) }

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{z: l.z.With(kv...)}
}
