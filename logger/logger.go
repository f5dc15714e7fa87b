// Package logger defines the leveled structured logger the paywall
// components write to. Fields are plain maps so callers do not couple
// to a logging backend; the zap implementation is the one the facade
// wires by default when a level is configured.
package logger

type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// NoopLogger discards everything. It is the default so that library
// consumers opt into output rather than suppress it.
type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}
