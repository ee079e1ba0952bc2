// Package logging builds the structured logger shared by every stage.
package logging

import (
	"fmt"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New
type Options struct {
	// Verbose lowers the level to debug
	Verbose bool

	// File, when set, receives a JSON copy of every entry in a rotating log
	File string

	// MaxSize is the size in megabytes at which File is rotated
	MaxSize int

	// MaxAge is the number of days rotated files are kept
	MaxAge int
}

// New builds a production zap logger writing to stderr, teed into a rotating
// file when opts.File is set. The returned function flushes and closes the
// sinks; call it once the run is over.
func New(opts Options) (*zap.Logger, func(), error) {
	config := zap.NewProductionConfig()
	if opts.Verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if opts.File == "" {
		return logger, func() { _ = logger.Sync() }, nil
	}

	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = 100
	}
	rotator := &lumberjack.Logger{
		Filename: opts.File,
		MaxSize:  maxSize,     // megabytes
		MaxAge:   opts.MaxAge, // days
	}
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(config.EncoderConfig),
		zapcore.AddSync(rotator),
		config.Level,
	)
	logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))

	closer := func() {
		_ = logger.Sync()
		_ = rotator.Close()
	}
	return logger, closer, nil
}
