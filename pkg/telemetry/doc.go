// Package telemetry provides observability instrumentation for fleetrecon.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics and an in-process event publisher
// behind a single Telemetry value that engine components receive at
// construction.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	collector := engine.NewCollector(plan, gateway, store, engine.WithTelemetry(tel))
//
// Components scope their logger with Component:
//
//	tel = tel.Component("collector")
//	tel.Logger.WithVM(vm.CID, vm.AgentID).Debug("fetching state")
//
// # Metrics
//
// The collector records agent_state_fetches_total{outcome},
// agent_state_fetch_duration_seconds{outcome}, state_inconsistencies_total{kind}
// and the collected_states gauge. The reaper and rename coordinator record
// orphan_vms_scheduled_total and instance_renames_total. All names carry the
// configured namespace (fleetrecon by default).
//
// A nil or disabled Metrics, Tracer or EventPublisher is a no-op, so tests
// can pass telemetry.Nop() or nothing at all.
//
// # Events
//
// The event publisher delivers reconciliation events (inconsistencies,
// reaped VMs, renamed instances, preparation lifecycle) synchronously to
// subscribers such as the store's audit log.
//
// # Metrics endpoint
//
// StartMetricsServer serves the registry on Config.Metrics.ListenAddress. The
// server belongs to the Telemetry value and Shutdown releases the address.
package telemetry
