package engine

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/telemetry"
)

// Engine runs provisioning transactions. One Engine may run many
// transactions, but transactions against the same profile must be
// serialized by the caller.
type Engine struct {
	registry *ActionRegistry
	agent    *Agent
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	sink     TraceSink
	dataDir  string
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry sets the action and touchpoint registry.
func WithRegistry(r *ActionRegistry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithAgent sets the agent shared by every transaction.
func WithAgent(a *Agent) Option {
	return func(e *Engine) {
		e.agent = a
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithSink sets where session traces are persisted.
func WithSink(sink TraceSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithDataRoot sets the root under which per-profile data directories live.
func WithDataRoot(dir string) Option {
	return func(e *Engine) {
		e.dataDir = dir
	}
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewActionRegistry()
	}
	if e.agent == nil {
		e.agent = NewAgent()
	}
	if e.tracer == nil {
		e.tracer = telemetry.NoopTracer()
	}
	e.logger = telemetry.OrNop(e.logger)
	return e
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *ActionRegistry { return e.registry }

// Agent returns the engine's agent.
func (e *Engine) Agent() *Agent { return e.agent }

// Request describes one transaction.
type Request struct {
	Profile  *Profile
	PhaseSet *PhaseSet
	Operands []*Operand

	// Context defaults to one built from the agent's repository source.
	Context *ProvisioningContext

	// Reporter receives progress updates. Optional.
	Reporter progress.Reporter
}

// Report is the outcome of a transaction.
type Report struct {
	Status      *status.Status
	Diagnostics []*status.Status
	Session     *Session

	// Rollback is set when the transaction failed and was rolled back.
	Rollback *status.Status
	Duration time.Duration
}

// Perform runs req. A transaction ending in ERROR is rolled back and the
// profile restored to its state before the run; a cancelled transaction is
// left as is.
func (e *Engine) Perform(ctx context.Context, req Request) *Report {
	timer := telemetry.NewTimer()
	if req.Profile == nil || req.PhaseSet == nil {
		err := NewValidationError("profile and phase set are required", nil)
		return &Report{Status: status.Error(source, err.Message, err), Duration: timer.Duration()}
	}
	for i, op := range req.Operands {
		if op == nil || (op.Before == nil && op.After == nil) {
			err := NewValidationError("invalid operand", ErrEmptyOperand).WithDetail("index", i)
			return &Report{Status: status.Error(source, err.Error(), err), Duration: timer.Duration()}
		}
	}

	id := uuid.New().String()
	profileID := req.Profile.ID()
	log := e.logger.NewComponentLogger("engine").WithSessionID(id).WithField("profile_id", profileID)

	ctx, span := e.tracer.StartTransactionSpan(ctx, id, profileID)
	defer span.End()

	provCtx := req.Context
	if provCtx == nil {
		provCtx = ContextFromAgent(e.agent)
	}
	var dataDir string
	if e.dataDir != "" {
		dataDir = filepath.Join(e.dataDir, profileID)
	}

	session := NewSession(req.Profile, e.registry,
		WithSessionID(id),
		WithSessionContext(ctx),
		WithDataDir(dataDir),
		WithProvisioningContext(provCtx),
		WithSessionAgent(e.agent),
		WithSessionLogger(e.logger),
		WithSessionMetrics(e.metrics),
		WithSessionTracer(e.tracer),
		WithTraceSink(e.sink),
	)

	recorder, _ := e.sink.(SessionRecorder)
	if recorder != nil {
		info := SessionInfo{ID: id, ProfileID: profileID, Operands: len(req.Operands), Started: time.Now()}
		if err := recorder.StartSession(ctx, info); err != nil {
			log.WithError(err).Warn("failed to persist session start")
		}
	}

	e.metrics.RecordTransactionStarted()
	log.Infof("starting transaction with %d operands over %d phases", len(req.Operands), len(req.PhaseSet.Phases()))

	snapshot := req.Profile.Snapshot()
	m := progress.New(ctx, "provisioning", req.PhaseSet.Weight(), req.Reporter)
	result := req.PhaseSet.Perform(session, req.Operands, m)

	report := &Report{Status: result, Session: session}
	if result.Severity == status.SeverityError {
		log.WithError(result.AsError()).Error("transaction failed, rolling back")
		report.Rollback = session.Rollback()
		req.Profile.Restore(snapshot)
	}
	report.Diagnostics = session.Diagnostics()
	report.Duration = timer.Duration()

	if recorder != nil {
		if err := recorder.FinishSession(ctx, id, result.Severity, time.Now()); err != nil {
			log.WithError(err).Warn("failed to persist session end")
		}
	}

	e.metrics.RecordTransactionCompleted(result.Severity.String(), report.Duration)
	if err := result.AsError(); err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	log.WithField("severity", result.Severity.String()).
		WithField("duration", report.Duration.String()).
		Info("transaction finished")
	return report
}
