package authclient

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

// NewLogger builds the root logger at the given level ("trace", "debug",
// "info", "warn", "error"). Unknown levels fall back to info.
func NewLogger(name, level string) *glog.BaseLogger {
	lvl := glog.Info
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		lvl = glog.Trace
	case "debug":
		lvl = glog.Debug
	case "warn", "warning":
		lvl = glog.Warn
	case "error":
		lvl = glog.Error
	}

	return glog.NewLogger(
		glog.WithName(name),
		glog.WithLevel(lvl),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}

// NopLogger discards everything.
func NopLogger() Logger {
	return nopLogger{}
}

// ResolveLogger picks the logger for a named component. A logger returned by
// the provider wins, then the explicit logger, then the package default.
// The returned provider always yields a usable logger.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider != nil {
		if resolved := provider.GetLogger(name); resolved != nil {
			return provider, resolved
		}
	}

	if logger == nil {
		logger = defaultLogger(name)
	}

	return glog.ProviderFromLogger(logger), logger
}

func defaultLogger(name string) Logger {
	return NewLogger("authclient", "info").GetLogger(name)
}

type nopLogger struct{}

func (nopLogger) Trace(string, ...any)                 {}
func (nopLogger) Debug(string, ...any)                 {}
func (nopLogger) Info(string, ...any)                  {}
func (nopLogger) Warn(string, ...any)                  {}
func (nopLogger) Error(string, ...any)                 {}
func (nopLogger) Fatal(string, ...any)                 {}
func (n nopLogger) WithContext(context.Context) Logger { return n }
