// Package logging builds the daemon logger.
package logging

import (
	"io"
	"os"

	"github.com/zond/juiceworker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Path, if set, makes the logger write JSON lines to a rotated file.
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Output is used when Path is empty. Defaults to stderr.
	Output io.Writer
}

// New returns a JSON file logger when opts.Path is set, and a console
// logger otherwise.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, juiceworker.WithStack(err)
		}
	}
	var core zapcore.Core
	if opts.Path != "" {
		out := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(out), level)
	} else {
		out := opts.Output
		if out == nil {
			out = os.Stderr
		}
		cfg := encoderConfig()
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(out), level)
	}
	return zap.New(core, zap.AddCaller()), nil
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}
