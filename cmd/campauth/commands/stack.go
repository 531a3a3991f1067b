package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goliatone/go-logger/glog"
	"github.com/prometheus/client_golang/prometheus"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/provider/identitytoolkit"
	"github.com/goliatone/go-auth-client/provider/local"
)

type stack struct {
	coordinator *authclient.Coordinator
	registry    *prometheus.Registry
	logger      authclient.Logger
}

// buildStack wires the session stack. With the local provider a non-nil seed
// is registered before the coordinator starts, since the account store only
// lives as long as the process.
func buildStack(ctx context.Context, cfg authclient.Config, seed *credentials) (*stack, error) {
	base := authclient.NewLogger("campauth", cfg.LogLevel)
	provider := glog.ProviderFromLogger(base)
	logger := base.GetLogger("campauth")

	source, err := buildSource(cfg, provider)
	if err != nil {
		return nil, err
	}
	if err := seedLocalAccount(ctx, source, seed); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics := authclient.NewCollector(registry)

	gateway := authclient.NewGateway(cfg.BaseURL(),
		authclient.WithGatewayHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		authclient.WithGatewayLoggerProvider(provider),
		authclient.WithGatewayMetrics(metrics),
	)
	resolver := authclient.NewProfileResolver(gateway,
		authclient.WithResolverLoggerProvider(provider),
	)

	coordinator := authclient.NewCoordinator(source, resolver,
		authclient.WithLoggerProvider(provider),
		authclient.WithMetrics(metrics),
		authclient.WithActivitySink(logSink(base.GetLogger("campauth.activity"))),
		authclient.WithResolveTimeout(cfg.ResolveTimeout),
		authclient.WithSignUpCooldown(cfg.SignUpCooldown),
	)
	if err := coordinator.Start(ctx); err != nil {
		return nil, err
	}

	return &stack{
		coordinator: coordinator,
		registry:    registry,
		logger:      logger,
	}, nil
}

func buildSource(cfg authclient.Config, provider authclient.LoggerProvider) (authclient.IdentitySource, error) {
	switch cfg.IdentityProvider {
	case authclient.IdentityProviderLocal:
		return local.New(local.Config{
			SigningKey: []byte(cfg.LocalSigningKey),
			TokenTTL:   cfg.LocalTokenTTL,
		}, local.WithLoggerProvider(provider))
	case authclient.IdentityProviderToolkit:
		return identitytoolkit.New(identitytoolkit.Config{
			APIKey:              cfg.IdentityAPIKey,
			IdentityEndpoint:    cfg.IdentityEndpoint,
			SecureTokenEndpoint: cfg.SecureTokenEndpoint,
			HTTPClient:          &http.Client{Timeout: cfg.HTTPTimeout},
		}, identitytoolkit.WithLoggerProvider(provider))
	default:
		return nil, fmt.Errorf("unknown identity provider %q", cfg.IdentityProvider)
	}
}

func seedLocalAccount(ctx context.Context, source authclient.IdentitySource, seed *credentials) error {
	src, ok := source.(*local.Source)
	if !ok || seed == nil {
		return nil
	}

	_, err := src.Register(ctx, seed.email, seed.password)
	if err != nil && !authclient.IsIdentityErrorCode(err, authclient.CodeEmailAlreadyInUse) {
		return fmt.Errorf("register local account: %w", err)
	}
	return nil
}

func logSink(logger authclient.Logger) authclient.ActivitySink {
	return authclient.ActivitySinkFunc(func(ctx context.Context, event authclient.ActivityEvent) error {
		logger.WithContext(ctx).Debug("session activity",
			"event", string(event.EventType),
			"subject_id", event.SubjectID,
			"profile_id", event.ProfileID,
			"generation", event.Generation,
		)
		return nil
	})
}

func (s *stack) close() {
	if err := s.coordinator.Close(); err != nil {
		s.logger.Warn("failed to close coordinator", "error", err)
	}

	families, err := s.registry.Gather()
	if err != nil {
		s.logger.Warn("failed to gather metrics", "error", err)
		return
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			value := metric.GetCounter().GetValue()
			if h := metric.GetHistogram(); h != nil {
				value = float64(h.GetSampleCount())
			}
			s.logger.Debug("metric", "name", family.GetName(), "value", value)
		}
	}
}
