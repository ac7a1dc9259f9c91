package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// loadEvents is resolved lazily so that it binds to whatever global meter
// provider is installed by the time the first Load runs.
var loadEvents = sync.OnceValue(func() metric.Int64Counter {
	counter, err := otel.Meter("finance-tracker-auth/config").Int64Counter(
		"config.validation.events",
		metric.WithDescription("Configuration loads by profile and outcome"),
	)
	if err != nil {
		return nil
	}
	return counter
})

func recordLoad(ctx context.Context, cfg *Config, err error) {
	counter := loadEvents()
	if counter == nil {
		return
	}
	env := ""
	if cfg != nil {
		env = cfg.Env
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", profileLabel(env)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", loadStage(err)),
	))
}

// loadStage maps a Load error to a low-cardinality label.
func loadStage(err error) string {
	if err == nil {
		return "none"
	}
	var le *LoadError
	if !errors.As(err, &le) {
		return "load"
	}
	switch le.Stage {
	case "validate":
		return "validation"
	case "parse":
		return "parse"
	default:
		return "load"
	}
}

func profileLabel(env string) string {
	env = strings.ToLower(strings.TrimSpace(env))
	if env == "" {
		return "unknown"
	}
	return env
}
