package engine

import (
	"github.com/fleetrecon/fleetrecon/pkg/telemetry"
)

// Option configures an engine component.
type Option func(*options)

type options struct {
	telemetry *telemetry.Telemetry
}

// WithTelemetry sets the logger, tracer, metrics and event publisher a
// component reports through. Components default to telemetry.Nop().
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *options) {
		o.telemetry = t
	}
}

func buildOptions(component string, opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.telemetry = o.telemetry.Component(component)
	return o
}
