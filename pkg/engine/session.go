package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/telemetry"
)

// EventKind identifies an entry of the session trace.
type EventKind string

const (
	EventPhaseEnter    EventKind = "phase_enter"
	EventPhaseStart    EventKind = "phase_start"
	EventOperandStart  EventKind = "operand_start"
	EventActionExecute EventKind = "action_execute"
	EventActionUndo    EventKind = "action_undo"
	EventOperandEnd    EventKind = "operand_end"
	EventPhaseEnd      EventKind = "phase_end"
	EventPhaseExit     EventKind = "phase_exit"
)

// TraceEvent is one entry of the append-only session trace.
type TraceEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Kind      EventKind `json:"kind"`
	Phase     string    `json:"phase"`
	Operand   string    `json:"operand,omitempty"`
	Action    string    `json:"action,omitempty"`
	Time      time.Time `json:"time"`
}

// TraceSink persists the trace and diagnostics of sessions. Sink errors are
// logged and never fail the transaction.
type TraceSink interface {
	RecordEvent(ctx context.Context, event TraceEvent) error
	RecordDiagnostic(ctx context.Context, sessionID string, diag *status.Status) error
}

// SessionInfo describes a session when it starts.
type SessionInfo struct {
	ID        string
	ProfileID string
	Operands  int
	Started   time.Time
}

// SessionRecorder is implemented by sinks that also track session lifecycle.
type SessionRecorder interface {
	StartSession(ctx context.Context, info SessionInfo) error
	FinishSession(ctx context.Context, sessionID string, severity status.Severity, finished time.Time) error
}

type operandRecord struct {
	operand *Operand
	actions []Action
}

type phaseRecord struct {
	runner   *Runner
	operands []*operandRecord
}

// Session holds the state of one provisioning transaction: the profile it
// applies to, the trace of everything executed and the forced-mode
// diagnostics. It records enough to roll the transaction back.
type Session struct {
	id       string
	ctx      context.Context
	profile  *Profile
	dataDir  string
	provCtx  *ProvisioningContext
	agent    *Agent
	registry *ActionRegistry
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	sink     TraceSink

	mu          sync.Mutex
	seq         int
	events      []TraceEvent
	diagnostics []*status.Status
	phases      []*phaseRecord
	rolledBack  bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionID overrides the generated session id.
func WithSessionID(id string) SessionOption {
	return func(s *Session) {
		s.id = id
	}
}

// WithSessionContext sets the context whose span parents the phase spans.
func WithSessionContext(ctx context.Context) SessionOption {
	return func(s *Session) {
		s.ctx = ctx
	}
}

// WithDataDir sets the profile data directory.
func WithDataDir(dir string) SessionOption {
	return func(s *Session) {
		s.dataDir = dir
	}
}

// WithProvisioningContext sets the repositories and properties of the transaction.
func WithProvisioningContext(c *ProvisioningContext) SessionOption {
	return func(s *Session) {
		s.provCtx = c
	}
}

// WithSessionAgent sets the agent whose services hooks may look up.
func WithSessionAgent(a *Agent) SessionOption {
	return func(s *Session) {
		s.agent = a
	}
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(l *telemetry.Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

// WithSessionMetrics sets the metrics used by the session's runners.
func WithSessionMetrics(m *telemetry.Metrics) SessionOption {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithSessionTracer sets the tracer used by the session's runners.
func WithSessionTracer(t *telemetry.Tracer) SessionOption {
	return func(s *Session) {
		s.tracer = t
	}
}

// WithTraceSink sets where trace events and diagnostics are persisted.
func WithTraceSink(sink TraceSink) SessionOption {
	return func(s *Session) {
		s.sink = sink
	}
}

// NewSession creates a session for profile. Actions are resolved through registry.
func NewSession(profile *Profile, registry *ActionRegistry, opts ...SessionOption) *Session {
	s := &Session{
		id:       uuid.New().String(),
		ctx:      context.Background(),
		profile:  profile,
		registry: registry,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = NewActionRegistry()
	}
	if s.agent == nil {
		s.agent = NewAgent()
	}
	if s.provCtx == nil {
		s.provCtx = ContextFromAgent(s.agent)
	}
	s.logger = telemetry.OrNop(s.logger).NewComponentLogger("session").WithSessionID(s.id)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Context returns the session context.
func (s *Session) Context() context.Context { return s.ctx }

// Profile returns the profile being modified.
func (s *Session) Profile() *Profile { return s.profile }

// DataDir returns the profile data directory.
func (s *Session) DataDir() string { return s.dataDir }

// ProvisioningContext returns the transaction's provisioning context.
func (s *Session) ProvisioningContext() *ProvisioningContext { return s.provCtx }

// Agent returns the agent.
func (s *Session) Agent() *Agent { return s.agent }

// Registry returns the action registry.
func (s *Session) Registry() *ActionRegistry { return s.registry }

// Trace returns a copy of the recorded trace.
func (s *Session) Trace() []TraceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TraceEvent(nil), s.events...)
}

// Diagnostics returns the action failures absorbed by forced phases.
func (s *Session) Diagnostics() []*status.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*status.Status(nil), s.diagnostics...)
}

// ContextString describes where a failure happened.
func (s *Session) ContextString(phase Phase, op *Operand, action Action) string {
	return fmt.Sprintf("session context was:(profile=%s, phase=%s, operand=%s, action=%s)",
		s.profile.ID(), phase.ID(), op, ActionName(action))
}

func (s *Session) newRunner(p Phase) *Runner {
	return NewRunner(p, s.registry,
		WithRunnerLogger(s.logger),
		WithRunnerMetrics(s.metrics),
		WithRunnerTracer(s.tracer),
	)
}

// phaseParameters builds the base parameters of phase.
func (s *Session) phaseParameters(phase Phase) Parameters {
	return Parameters{
		Profile: s.profile,
		DataDir: s.dataDir,
		Context: s.provCtx,
		PhaseID: phase.ID(),
		Forced:  phase.Forced(),
		Agent:   s.agent,
		Session: s,
	}
}

func (s *Session) record(kind EventKind, r *Runner, op *Operand, action Action) {
	s.mu.Lock()
	s.seq++
	event := TraceEvent{
		ID:        uuid.New().String(),
		SessionID: s.id,
		Seq:       s.seq,
		Kind:      kind,
		Phase:     r.phase.ID(),
		Time:      time.Now(),
	}
	if op != nil {
		event.Operand = op.String()
	}
	if action != nil {
		event.Action = ActionName(action)
	}
	s.events = append(s.events, event)
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.RecordEvent(s.ctx, event); err != nil {
			s.logger.WithError(err).Warn("failed to persist trace event")
		}
	}
}

func (s *Session) recordPhaseEnter(r *Runner) {
	s.mu.Lock()
	s.phases = append(s.phases, &phaseRecord{runner: r})
	s.mu.Unlock()
	s.record(EventPhaseEnter, r, nil, nil)
}

func (s *Session) recordPhaseStart(r *Runner) { s.record(EventPhaseStart, r, nil, nil) }
func (s *Session) recordPhaseEnd(r *Runner)   { s.record(EventPhaseEnd, r, nil, nil) }
func (s *Session) recordPhaseExit(r *Runner)  { s.record(EventPhaseExit, r, nil, nil) }

func (s *Session) recordOperandStart(r *Runner, op *Operand) {
	s.mu.Lock()
	if rec := s.phaseRecordOf(r); rec != nil {
		rec.operands = append(rec.operands, &operandRecord{operand: op})
	}
	s.mu.Unlock()
	s.record(EventOperandStart, r, op, nil)
}

func (s *Session) recordOperandEnd(r *Runner, op *Operand) { s.record(EventOperandEnd, r, op, nil) }

func (s *Session) recordActionExecute(r *Runner, op *Operand, action Action, _ Parameters) {
	s.mu.Lock()
	if rec := s.phaseRecordOf(r); rec != nil {
		for i := len(rec.operands) - 1; i >= 0; i-- {
			if rec.operands[i].operand == op {
				rec.operands[i].actions = append(rec.operands[i].actions, action)
				break
			}
		}
	}
	s.mu.Unlock()
	s.record(EventActionExecute, r, op, action)
}

func (s *Session) recordActionUndo(r *Runner, op *Operand, action Action, _ Parameters) {
	s.record(EventActionUndo, r, op, action)
}

// phaseRecordOf must be called with s.mu held.
func (s *Session) phaseRecordOf(r *Runner) *phaseRecord {
	for i := len(s.phases) - 1; i >= 0; i-- {
		if s.phases[i].runner == r {
			return s.phases[i]
		}
	}
	return nil
}

func (s *Session) addDiagnostic(diag *status.Status) {
	s.mu.Lock()
	s.diagnostics = append(s.diagnostics, diag)
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.RecordDiagnostic(s.ctx, s.id, diag); err != nil {
			s.logger.WithError(err).Warn("failed to persist diagnostic")
		}
	}
}

// Rollback undoes every executed action, phases and operands in reverse
// order. Undo failures are collected and do not stop the rollback. A session
// rolls back at most once; later calls return an INFO status.
func (s *Session) Rollback() *status.Status {
	s.mu.Lock()
	if s.rolledBack {
		s.mu.Unlock()
		return status.Info(source, "session already rolled back", nil)
	}
	s.rolledBack = true
	phases := append([]*phaseRecord(nil), s.phases...)
	s.mu.Unlock()

	timer := telemetry.NewTimer()
	result := status.NewMulti(source, fmt.Sprintf("rollback of session %s", s.id))
	for i := len(phases) - 1; i >= 0; i-- {
		rec := phases[i]
		for j := len(rec.operands) - 1; j >= 0; j-- {
			or := rec.operands[j]
			if len(or.actions) == 0 {
				continue
			}
			result.MergeNonOK(rec.runner.Undo(s, or.operand, append([]Action(nil), or.actions...)))
		}
		result.MergeNonOK(rec.runner.finishRollback(s.profile))
	}

	s.metrics.RecordRollback(result.Severity.String())
	log := s.logger.WithField("duration", timer.Duration().String())
	if result.Matches(status.SeverityError) {
		log.WithError(result.AsError()).Error("rollback completed with errors")
	} else {
		log.Info("rollback completed")
	}
	return result
}
