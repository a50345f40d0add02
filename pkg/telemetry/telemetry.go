package telemetry

import (
	"context"
	"errors"
	"os"
)

// Telemetry bundles logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration. Logs go
// to stderr.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  NewLogger(cfg.Logging, os.Stderr),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  NewEventPublisher(cfg.Events),
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that discards logs, spans, metrics and events.
func Nop() *Telemetry {
	return &Telemetry{
		Logger:  NopLogger(),
		Tracer:  NopTracer(),
		Metrics: NopMetrics(),
		Events:  nil,
		Config:  DefaultConfig(),
	}
}

// OrNop returns t, or Nop() when t is nil.
func OrNop(t *Telemetry) *Telemetry {
	if t == nil {
		return Nop()
	}
	return t
}

// Component returns a copy of t whose logger is scoped to component.
func (t *Telemetry) Component(component string) *Telemetry {
	c := *OrNop(t)
	c.Logger = c.Logger.NewComponentLogger(component)
	return &c
}

// StartMetricsServer starts the metrics HTTP server if one is configured.
// Serve errors are logged through t.Logger.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer(t.Logger.NewComponentLogger("metrics"))
}

// Shutdown stops the metrics server and flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Metrics.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
	)
}
