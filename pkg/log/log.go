// Package log provides the structured logger shared by the skyrelay binaries.
// Init installs the process logger once; klog output from the Kubernetes
// helper libraries is routed into the same sink.
package log

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"
)

// Logger is the key/value logger used by every skyrelay package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)

	// Error logs at ErrorLevel. err may be nil for failures reported by the
	// vehicle or broker as plain text.
	Error(err error, msg string, keysAndValues ...any)

	// WithName appends a dotted segment to the logger name, e.g. "broker".
	WithName(name string) Logger
	WithValues(keysAndValues ...any) Logger

	// Logr adapts the logger for libraries that speak logr, klog included.
	Logr() logr.Logger

	// Sync flushes buffered entries.
	Sync() error
}

var _ Logger = (*zapLogger)(nil)

type zapLogger struct {
	z *zap.Logger
}

// NewLogger builds a Logger from opts. Nil opts means defaults.
func NewLogger(opts *Options) Logger {
	if opts == nil {
		opts = NewOptions()
	}

	outputs := opts.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(opts.Level)),
		DisableCaller:    opts.DisableCaller,
		Encoding:         opts.Format,
		EncoderConfig:    encoderConfig(opts),
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	z, err := cfg.Build(zap.AddCallerSkip(opts.CallerSkip), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		// Validated options only fail here on unwritable output paths.
		fmt.Fprintf(os.Stderr, "skyrelay: falling back to stderr logging: %v\n", err)
		z = zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(cfg.EncoderConfig),
			zapcore.Lock(os.Stderr),
			cfg.Level,
		))
	}

	if opts.Name != "" {
		z = z.Named(opts.Name)
	}
	return &zapLogger{z: z}
}

func encoderConfig(opts *Options) zapcore.EncoderConfig {
	ec := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "timestamp",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	if opts.Format == "console" && opts.EnableColor {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return ec
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func (l *zapLogger) Debug(msg string, keysAndValues ...any) {
	l.z.Debug(msg, toFields(keysAndValues...)...)
}

func (l *zapLogger) Info(msg string, keysAndValues ...any) {
	l.z.Info(msg, toFields(keysAndValues...)...)
}

func (l *zapLogger) Warn(msg string, keysAndValues ...any) {
	l.z.Warn(msg, toFields(keysAndValues...)...)
}

func (l *zapLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := toFields(keysAndValues...)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.z.Error(msg, fields...)
}

func (l *zapLogger) WithName(name string) Logger {
	return &zapLogger{z: l.z.Named(name)}
}

func (l *zapLogger) WithValues(keysAndValues ...any) Logger {
	return &zapLogger{z: l.z.With(toFields(keysAndValues...)...)}
}

func (l *zapLogger) Logr() logr.Logger {
	return zapr.NewLogger(l.z)
}

// Sync ignores the EINVAL and ENOTTY errors returned when stdout is a
// terminal or pipe that cannot be fsynced.
func (l *zapLogger) Sync() error {
	err := l.z.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}

var (
	mu   sync.RWMutex
	once sync.Once
	std  = NewNopLogger()
)

// Init installs the process logger and redirects klog to it. Only the first
// call has an effect.
func Init(opts *Options) {
	once.Do(func() {
		l := NewLogger(opts)
		mu.Lock()
		std = l
		mu.Unlock()
		klog.SetLogger(l.Logr())
	})
}

// Std returns the process logger.
func Std() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return &zapLogger{z: zap.NewNop()}
}

func Debug(msg string, keysAndValues ...any)            { Std().Debug(msg, keysAndValues...) }
func Info(msg string, keysAndValues ...any)             { Std().Info(msg, keysAndValues...) }
func Warn(msg string, keysAndValues ...any)             { Std().Warn(msg, keysAndValues...) }
func Error(err error, msg string, keysAndValues ...any) { Std().Error(err, msg, keysAndValues...) }
func WithName(name string) Logger                       { return Std().WithName(name) }
func WithValues(keysAndValues ...any) Logger            { return Std().WithValues(keysAndValues...) }
func Logr() logr.Logger                                 { return Std().Logr() }
func Sync() error                                       { return Std().Sync() }
