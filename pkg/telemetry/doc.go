// Package telemetry provides observability instrumentation for the
// provisioning engine.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus).
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithSessionID(session.ID()).WithPhase("install")
//	logger.WithError(err).Error("action failed")
//
// Log levels: trace, debug, info, warn, error, disabled
//
// # Tracing
//
// The engine opens one span per transaction and one per phase:
//
//	ctx, span := tel.Tracer.StartTransactionSpan(ctx, sessionID, profileID)
//	defer span.End()
//
// Supported exporters: otlp, stdout, none.
//
// # Metrics
//
// Key metrics exposed:
//
//   - provengine_transactions_completed_total{severity}
//   - provengine_phases_completed_total{phase,severity}
//   - provengine_actions_executed_total{phase,action,severity}
//   - provengine_forced_downgrades_total{phase,action}
//   - provengine_rollbacks_total{severity}
//   - provengine_download_requests_total{result}
//   - provengine_trust_decisions_total{outcome}
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics).
// All Record methods are safe to call on a nil or disabled *Metrics.
package telemetry
