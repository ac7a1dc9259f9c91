package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/sandeepkv93/finance-tracker-auth/internal/config"
)

const meterName = "finance-tracker-auth"

type AppMetrics struct {
	authLoginCounter       metric.Int64Counter
	authRefreshCounter     metric.Int64Counter
	authLogoutCounter      metric.Int64Counter
	authRegisterCounter    metric.Int64Counter
	authVerifyCounter      metric.Int64Counter
	passwordResetCounter   metric.Int64Counter
	accessTokenValidations metric.Int64Counter
	revocationStoreOps     metric.Int64Counter
	repositoryOps          metric.Int64Counter
	rateLimitDecisions     metric.Int64Counter
	tenantScopeEvents      metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

// InitMetrics installs the global meter provider and binds the application
// instruments to it. With metrics disabled the provider has no reader and
// every measurement is dropped.
func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		if err := BindMetrics(mp); err != nil {
			return nil, err
		}
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)
	if err := BindMetrics(mp); err != nil {
		return nil, err
	}

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

// BindMetrics creates the application instruments on provider. Tests use it
// with a manual reader to assert on recorded values.
func BindMetrics(provider metric.MeterProvider) error {
	meter := provider.Meter(meterName)
	names := []string{
		"auth.login.attempts",
		"auth.refresh.attempts",
		"auth.logout.attempts",
		"auth.register.attempts",
		"auth.verify.attempts",
		"auth.password_reset.attempts",
		"auth.access_token.validations",
		"revocation_store.operations",
		"repository.operations",
		"rate_limit.decisions",
		"tenancy.scope.events",
	}
	counters := make([]metric.Int64Counter, len(names))
	for i, name := range names {
		c, err := meter.Int64Counter(name)
		if err != nil {
			return fmt.Errorf("create counter %s: %w", name, err)
		}
		counters[i] = c
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		authLoginCounter:       counters[0],
		authRefreshCounter:     counters[1],
		authLogoutCounter:      counters[2],
		authRegisterCounter:    counters[3],
		authVerifyCounter:      counters[4],
		passwordResetCounter:   counters[5],
		accessTokenValidations: counters[6],
		revocationStoreOps:     counters[7],
		repositoryOps:          counters[8],
		rateLimitDecisions:     counters[9],
		tenantScopeEvents:      counters[10],
	}
	metricsMu.Unlock()
	return nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authLoginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthRefresh(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authRefreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthLogout(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authLogoutCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthRegister(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authRegisterCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthVerify(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authVerifyCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordPasswordReset(ctx context.Context, stage, status string) {
	if m := current(); m != nil {
		m.passwordResetCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		))
	}
}

// RecordAccessTokenValidation counts bearer checks; source is where the
// decision was made (header, codec, store).
func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	if m := current(); m != nil {
		m.accessTokenValidations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("source", source),
		))
	}
}

func RecordRevocationStoreOperation(ctx context.Context, op, outcome string) {
	if m := current(); m != nil {
		m.revocationStoreOps.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordRepositoryOperation(ctx context.Context, repository, operation, outcome string) {
	if m := current(); m != nil {
		m.repositoryOps.Add(ctx, 1, metric.WithAttributes(
			attribute.String("repository", repository),
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome string) {
	if m := current(); m != nil {
		m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordTenantScopeEvent(ctx context.Context, event string) {
	if m := current(); m != nil {
		m.tenantScopeEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
	}
}
