// Package log provides structured logging scoped to a coverage context.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for the instrumenter, aggregator and host
//   - SugaredLogger: Printf-style logging for CLI/debug surfaces
//
// A nil *Logger is valid and discards everything, so collaborators can be
// constructed without one.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Meta carries the identity fields attached to every entry.
type Meta struct {
	// ContextID is the execution context (tab, session) coverage is kept for.
	ContextID string
	// PageURL is the document being instrumented or reported, if any.
	PageURL string
	// Component names the emitting subsystem (instrument, aggregate, host...).
	Component string
}

// Logger provides structured logging with context identity.
type Logger struct {
	zap    *zap.Logger
	fields []zap.Field
}

// SugaredLogger provides printf-style logging for CLI and debug surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a new logger writing JSON lines to os.Stderr.
func NewLogger(meta Meta) *Logger {
	return NewLoggerWithWriter(meta, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(meta Meta, w io.Writer) *Logger {
	fields := metaFields(meta)
	return &Logger{zap: zap.New(newCore(w)).With(fields...), fields: fields}
}

// Nop returns a logger that discards all entries.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func newCore(w io.Writer) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
}

func metaFields(meta Meta) []zap.Field {
	var fields []zap.Field
	if meta.ContextID != "" {
		fields = append(fields, zap.String("context_id", meta.ContextID))
	}
	if meta.PageURL != "" {
		fields = append(fields, zap.String("page_url", meta.PageURL))
	}
	if meta.Component != "" {
		fields = append(fields, zap.String("component", meta.Component))
	}
	return fields
}

// WithOutput returns a new logger with a different output writer.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	if l == nil {
		return nil
	}
	// Fields live in the core, so they are re-applied to the new one.
	return &Logger{zap: zap.New(newCore(w)).With(l.fields...), fields: l.fields}
}

// With returns a child logger carrying additional identity fields.
func (l *Logger) With(meta Meta) *Logger {
	if l == nil {
		return nil
	}
	extra := metaFields(meta)
	fields := append(append([]zap.Field{}, l.fields...), extra...)
	return &Logger{zap: l.zap.With(extra...), fields: fields}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	if l == nil {
		return
	}
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.zap.Sync()
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	if l == nil {
		return &SugaredLogger{sugar: zap.NewNop().Sugar()}
	}
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
