package zaplogger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger exposes a zap logger through the glog contracts used across
// go-collab. Variadic args are read as key/value pairs.
type Logger struct {
	base *zap.SugaredLogger
}

// New builds a production JSON logger, or a colored console logger when
// pretty is set. Unknown levels keep the zap default.
func New(level string, pretty bool) (*Logger, error) {
	var cfg zap.Config
	if pretty {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	if lvl, ok := parseLevel(level); ok {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	base, err := cfg.Build(zap.AddStacktrace(zapcore.FatalLevel), zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("zaplogger: build logger: %w", err)
	}
	return Wrap(base), nil
}

func Wrap(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{base: base.Sugar()}
}

func parseLevel(level string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}

// Trace maps to debug; zap has no finer level.
func (l *Logger) Trace(msg string, args ...any) { l.base.Debugw(msg, normalizeArgs(args)...) }
func (l *Logger) Debug(msg string, args ...any) { l.base.Debugw(msg, normalizeArgs(args)...) }
func (l *Logger) Info(msg string, args ...any)  { l.base.Infow(msg, normalizeArgs(args)...) }
func (l *Logger) Warn(msg string, args ...any)  { l.base.Warnw(msg, normalizeArgs(args)...) }
func (l *Logger) Error(msg string, args ...any) { l.base.Errorw(msg, normalizeArgs(args)...) }
func (l *Logger) Fatal(msg string, args ...any) { l.base.Fatalw(msg, normalizeArgs(args)...) }

func (l *Logger) WithContext(context.Context) glog.Logger {
	return l
}

// WithFields returns a child logger carrying fields in key order.
func (l *Logger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return &Logger{base: l.base.With(args...)}
}

func (l *Logger) Sync() error {
	return l.base.Sync()
}

// normalizeArgs keeps zap from logging an "ignored key" error on odd
// argument lists and stringifies non string keys.
func normalizeArgs(args []any) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, 0, len(args)+1)
	for idx := 0; idx < len(args); idx += 2 {
		key, ok := args[idx].(string)
		if !ok {
			key = fmt.Sprint(args[idx])
		}
		if idx+1 >= len(args) {
			out = append(out, "extra", args[idx])
			break
		}
		out = append(out, key, args[idx+1])
	}
	return out
}

// Provider hands out named children of one zap logger.
type Provider struct {
	base *zap.Logger
}

func NewProvider(base *zap.Logger) *Provider {
	if base == nil {
		base = zap.NewNop()
	}
	return &Provider{base: base}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return Wrap(p.base)
	}
	return Wrap(p.base.Named(name))
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.FieldsLogger   = (*Logger)(nil)
	_ glog.LoggerProvider = (*Provider)(nil)
)
