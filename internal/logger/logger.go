// Package logger builds the process zap logger and the fields components share.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects format, verbosity and destination of the process logger.
type Options struct {
	JSON bool
	// Debug wins over Level.
	Debug bool
	// Level is a zap level name such as "warn". Empty means info.
	Level string
	// File receives logs instead of stderr. Interactive chat uses it to keep
	// log lines out of the prompt.
	File string
}

func (o Options) level() (zapcore.Level, error) {
	if o.Debug {
		return zapcore.DebugLevel, nil
	}
	if strings.TrimSpace(o.Level) == "" {
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(o.Level)
	if err != nil {
		return level, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// New builds the process logger. Console output unless JSON is set.
func New(o Options) (*zap.Logger, error) {
	level, err := o.level()
	if err != nil {
		return nil, err
	}

	encoding := "console"
	if o.JSON {
		encoding = "json"
	}

	output := "stderr"
	if file := strings.TrimSpace(o.File); file != "" {
		output = file
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "step",

			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.RFC3339TimeEncoder,

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,

			NameKey: "logger",
		},
	}

	return cfg.Build()
}
