package authclient_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-logger/glog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authclient "github.com/goliatone/go-auth-client"
)

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Trace(message string, args ...any) { l.record("trace", message, args...) }
func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }
func (l *captureLogger) Fatal(message string, args ...any) { l.record("fatal", message, args...) }
func (l *captureLogger) WithContext(context.Context) authclient.Logger {
	return l
}

type loggerProviderSpy struct {
	byName map[string]authclient.Logger
	names  []string
}

func (p *loggerProviderSpy) GetLogger(name string) authclient.Logger {
	p.names = append(p.names, name)
	return p.byName[name]
}

func TestResolveLoggerPrefersProvider(t *testing.T) {
	scoped := &captureLogger{}
	provider := &loggerProviderSpy{byName: map[string]authclient.Logger{"authclient.test": scoped}}

	resolvedProvider, resolvedLogger := authclient.ResolveLogger("authclient.test", provider, &captureLogger{})
	require.Same(t, scoped, resolvedLogger)
	require.Same(t, provider, resolvedProvider)
	assert.Equal(t, []string{"authclient.test"}, provider.names)
}

func TestResolveLoggerFallsBackToExplicitLogger(t *testing.T) {
	fallback := &captureLogger{}
	provider := &loggerProviderSpy{byName: map[string]authclient.Logger{"authclient.test": nil}}

	resolvedProvider, resolvedLogger := authclient.ResolveLogger("authclient.test", provider, fallback)
	require.Same(t, fallback, resolvedLogger)
	require.NotNil(t, resolvedProvider)
	require.NotNil(t, resolvedProvider.GetLogger("authclient.other"))
}

func TestResolveLoggerDefault(t *testing.T) {
	provider, logger := authclient.ResolveLogger("authclient.test", nil, nil)
	require.NotNil(t, provider)
	require.NotNil(t, logger)
}

func TestNewLoggerFeedsProvider(t *testing.T) {
	base := authclient.NewLogger("campauth", "debug")
	require.NotNil(t, base)

	provider := glog.ProviderFromLogger(base)
	_, logger := authclient.ResolveLogger("campauth.test", provider, nil)
	require.NotNil(t, logger)
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := authclient.NopLogger()
	assert.NotPanics(t, func() {
		logger.Info("ignored", "key", "value")
		logger.WithContext(context.Background()).Error("ignored")
	})
}

func TestResolvedLoggerReceivesCalls(t *testing.T) {
	capture := &captureLogger{}
	_, logger := authclient.ResolveLogger("authclient.test", nil, capture)

	logger.Warn("profile fetch failed", "subject_id", "uid-1")
	require.Len(t, capture.calls, 1)
	assert.Equal(t, logCall{level: "warn", message: "profile fetch failed", args: []any{"subject_id", "uid-1"}}, capture.calls[0])
}
