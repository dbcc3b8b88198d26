package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/telemetry"
)

const source = "engine"

// RunnerState is the lifecycle state of a Runner.
type RunnerState string

const (
	StateCreated RunnerState = "created"
	StatePre     RunnerState = "pre"
	StateMain    RunnerState = "main"
	StatePost    RunnerState = "post"
	StateDone    RunnerState = "done"
	StateAborted RunnerState = "aborted"
)

type touchpointEntry struct {
	touchpoint Touchpoint
	params     Parameters
}

// touchpointCache keeps parameters per touchpoint in first-use order.
type touchpointCache []touchpointEntry

func (c touchpointCache) find(tp Touchpoint) (Parameters, bool) {
	for _, e := range c {
		if e.touchpoint == tp {
			return e.params, true
		}
	}
	return Parameters{}, false
}

func (c *touchpointCache) put(tp Touchpoint, params Parameters) {
	for i, e := range *c {
		if e.touchpoint == tp {
			(*c)[i].params = params
			return
		}
	}
	*c = append(*c, touchpointEntry{touchpoint: tp, params: params})
}

// Runner executes one phase for one transaction. It owns the phase, operand
// and touchpoint parameter scopes and is not safe for concurrent use.
type Runner struct {
	phase    Phase
	registry *ActionRegistry
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer

	// spanCtx carries the phase span while the phase runs.
	spanCtx context.Context

	state       RunnerState
	mainReached bool

	phaseParams   *Parameters
	operand       *Operand
	operandParams *Parameters
	tpPhase       touchpointCache
	tpOperand     touchpointCache
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(logger *telemetry.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRunnerMetrics sets the runner's metrics collector.
func WithRunnerMetrics(metrics *telemetry.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = metrics
	}
}

// WithRunnerTracer sets the runner's tracer.
func WithRunnerTracer(tracer *telemetry.Tracer) RunnerOption {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// NewRunner creates a runner for phase.
func NewRunner(phase Phase, registry *ActionRegistry, opts ...RunnerOption) *Runner {
	r := &Runner{
		phase:    phase,
		registry: registry,
		state:    StateCreated,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = NewActionRegistry()
	}
	r.logger = telemetry.OrNop(r.logger).NewComponentLogger("phase").WithPhase(phase.ID())
	return r
}

// Phase returns the phase being run.
func (r *Runner) Phase() Phase {
	return r.phase
}

// State returns the current lifecycle state.
func (r *Runner) State() RunnerState {
	return r.state
}

func aborted(st *status.Status) bool {
	return st.Matches(status.SeverityError | status.SeverityCancel)
}

// Perform applies the phase to operands in order and returns the merged
// result of the pre, main and post stages. The pre stage failing skips the
// main stage; a main stage failure skips the post stage.
func (r *Runner) Perform(session *Session, operands []*Operand, m *progress.Monitor) *status.Status {
	id := r.phase.ID()
	result := status.NewMulti(source, fmt.Sprintf("phase %s", id))
	log := r.logger.WithSessionID(session.ID())

	ctx, span := r.tracer.StartPhaseSpan(session.Context(), id, r.phase.Forced(), len(operands))
	r.spanCtx = ctx
	timer := telemetry.NewTimer()
	defer func() {
		if aborted(result) {
			telemetry.RecordError(span, result.AsError())
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
		r.spanCtx = nil
		r.metrics.RecordPhase(id, result.Severity.String(), timer.Duration())
	}()

	pre, main, post := phaseWork(r.phase)
	m.SetWorkRemaining(pre + main + post)

	session.recordPhaseEnter(r)
	r.state = StatePre
	log.Debugf("entering phase with %d operands", len(operands))
	r.prePerform(result, session, m.NewChild(pre))
	if aborted(result) {
		r.abort(log, result)
		return result
	}
	session.recordPhaseStart(r)

	m.SetWorkRemaining(main + post)
	r.state = StateMain
	r.mainReached = true
	r.mainPerform(result, session, operands, m.NewChild(main))
	if aborted(result) {
		r.abort(log, result)
		return result
	}
	session.recordPhaseEnd(r)

	m.SetWorkRemaining(post)
	r.state = StatePost
	r.postPerform(result, session, m.NewChild(post))
	r.phaseParams = nil
	if aborted(result) {
		r.abort(log, result)
		return result
	}
	session.recordPhaseExit(r)
	r.state = StateDone
	m.Done()
	return result
}

func (r *Runner) abort(log *telemetry.Logger, result *status.Status) {
	r.state = StateAborted
	log.WithField("severity", result.Severity.String()).Warn("phase aborted")
}

func (r *Runner) prePerform(result *status.Status, session *Session, m *progress.Monitor) {
	params := session.phaseParameters(r.phase)
	if init, ok := r.phase.(PhaseInitializer); ok {
		next, st := init.InitializePhase(m, session.Profile(), params)
		result.MergeNonOK(st)
		params = next
	}
	r.phaseParams = &params
	m.Done()
}

func (r *Runner) mainPerform(result *status.Status, session *Session, operands []*Operand, m *progress.Monitor) {
	profile := session.Profile()
	m.SetWorkRemaining(len(operands))

	for i, op := range operands {
		m.SetWorkRemaining(len(operands) - i)
		if m.IsCanceled() {
			result.Add(status.Cancel(source, "provisioning operation cancelled"))
			return
		}
		if !r.applicable(op) {
			continue
		}

		if !r.performOperand(result, session, profile, op, m) {
			return
		}
		m.Worked(1)
	}
}

// performOperand runs the operand hooks and actions of op inside an operand
// span. It reports false when result aborted the phase.
func (r *Runner) performOperand(result *status.Status, session *Session, profile *Profile, op *Operand, m *progress.Monitor) (ok bool) {
	session.recordOperandStart(r, op)
	r.metrics.RecordOperand(r.phase.ID(), string(op.Kind()))

	parent := r.spanCtx
	if parent == nil {
		parent = session.Context()
	}
	_, span := r.tracer.StartOperandSpan(parent, op.String(), string(op.Kind()))
	defer func() {
		if !ok {
			telemetry.RecordError(span, result.AsError())
		}
		span.End()
	}()

	actions, err := r.phase.Actions(op, r.registry)
	if err != nil {
		result.Add(status.Error(source, fmt.Sprintf("failed to resolve actions for %s", op), r.classify(err, op)))
		return false
	}

	params, st := r.initializeOperand(session, profile, op, m)
	result.MergeNonOK(st)
	if aborted(result) {
		r.operand = nil
		r.operandParams = nil
		return false
	}
	r.operand = op
	r.operandParams = &params

	if tp := params.Touchpoint; tp != nil {
		result.MergeNonOK(r.initializeTouchpoint(profile, tp, m))
		if aborted(result) {
			return false
		}
		params, _ = r.tpOperand.find(tp)
		r.operandParams = &params
	}

	for _, action := range actions {
		r.executeAction(result, action, session, op, m)
		if aborted(result) {
			return false
		}
	}

	result.MergeNonOK(r.completeTouchpointOperands(profile))
	result.MergeNonOK(r.completeOperand(profile, op, *r.operandParams, m))
	if aborted(result) {
		return false
	}
	r.operand = nil
	r.operandParams = nil
	session.recordOperandEnd(r, op)
	return true
}

func (r *Runner) postPerform(result *status.Status, session *Session, m *progress.Monitor) {
	profile := session.Profile()
	result.MergeNonOK(r.completeTouchpointPhases(profile, m))
	if c, ok := r.phase.(PhaseCompleter); ok {
		result.MergeNonOK(c.CompletePhase(m, profile, *r.phaseParams))
	}
	m.Done()
}

func (r *Runner) applicable(op *Operand) bool {
	if a, ok := r.phase.(Applicability); ok {
		return a.IsApplicable(op)
	}
	return true
}

// initializeOperand builds the operand scope from the phase scope.
func (r *Runner) initializeOperand(session *Session, profile *Profile, op *Operand, m *progress.Monitor) (Parameters, *status.Status) {
	params := *r.phaseParams
	params.Operand = op
	params.Monitor = m

	var st *status.Status
	if init, ok := r.phase.(OperandInitializer); ok {
		params, st = init.InitializeOperand(profile, op, params, m)
		if aborted(st) {
			return params, st
		}
	}

	if op.After != nil {
		tpType := op.After.TouchpointType
		if params.Unit != nil {
			tpType = params.Unit.TouchpointType
		}
		params.Executor = newActionExecutor(r, session, op, m, tpType)
	}
	return params, st
}

// initializeTouchpoint lazily builds the phase and operand scopes of tp.
// The operand scope being built is taken from r.operandParams.
func (r *Runner) initializeTouchpoint(profile *Profile, tp Touchpoint, m *progress.Monitor) *status.Status {
	if _, ok := r.tpOperand.find(tp); ok {
		return nil
	}

	var warnings *status.Status
	phaseParams, ok := r.tpPhase.find(tp)
	if !ok {
		next, st := tp.InitializePhase(m, profile, r.phase.ID(), r.phaseParams.phaseScope())
		if aborted(st) {
			return st
		}
		warnings = st
		phaseParams = next
		r.tpPhase.put(tp, phaseParams)
	}

	next, st := tp.InitializeOperand(profile, phaseParams.overlay(*r.operandParams))
	if aborted(st) {
		return st
	}
	r.tpOperand.put(tp, next)

	if warnings.IsOK() {
		return st
	}
	if !st.IsOK() {
		multi := status.NewMulti(source, "")
		multi.Merge(warnings)
		multi.Merge(st)
		return multi
	}
	return warnings
}

func (r *Runner) executeAction(result *status.Status, action Action, session *Session, op *Operand, m *progress.Monitor) {
	name := ActionName(action)
	if r.operandParams == nil {
		result.Add(status.Errorf(source, "action %s invoked outside of an operand", name))
		return
	}

	params := *r.operandParams
	if tp := touchpointOf(action); tp != nil {
		st := r.initializeTouchpoint(session.Profile(), tp, m)
		result.MergeNonOK(st)
		if aborted(st) {
			return
		}
		params, _ = r.tpOperand.find(tp)
	}

	session.recordActionExecute(r, op, action, params)
	st, fault := capture(func() *status.Status { return action.Execute(params) })
	if fault != nil {
		st = r.faultStatus(fault, op, name, "execute")
	}
	r.metrics.RecordAction(r.phase.ID(), name, severityName(st))

	if r.phase.Forced() && st.Matches(status.SeverityError) {
		diag := status.New(status.SeverityError, source, problemMessage(r.phase), nil)
		diag.Code = ErrCodeActionFailed
		diag.Add(status.Error(source, session.ContextString(r.phase, op, action), nil))
		diag.Merge(st)

		r.logger.WithSessionID(session.ID()).
			WithOperand(op.String()).
			WithAction(name).
			WithError(diag.AsError()).
			Error("forced phase continued past action failure")
		session.addDiagnostic(diag)
		r.metrics.RecordForcedDowngrade(r.phase.ID(), name)
		st = status.OK()
	}
	result.MergeNonOK(st)
}

// Undo compensates actions already executed for op, calling each action's
// Undo in the order given. Undo failures are merged into the result and do
// not stop the remaining undos.
func (r *Runner) Undo(session *Session, op *Operand, actions []Action) *status.Status {
	result := status.NewMulti(source, fmt.Sprintf("undo of phase %s for %s", r.phase.ID(), op))
	if !r.mainReached {
		err := NewError(ErrorClassRollback, "cannot undo", ErrUndoUnavailable).WithPhase(r.phase.ID())
		result.Add(status.Error(source, err.Error(), err))
		return result
	}

	profile := session.Profile()
	var m *progress.Monitor
	log := r.logger.WithSessionID(session.ID()).WithOperand(op.String())

	if r.operandParams == nil || r.operand != op {
		// Parameters held for another operand are released first.
		if r.operandParams != nil {
			result.MergeNonOK(r.completeTouchpointOperands(profile))
		}
		if r.phaseParams == nil {
			base := session.phaseParameters(r.phase)
			r.phaseParams = &base
		}

		params, st := r.initializeOperand(session, profile, op, m)
		result.MergeNonOK(st)
		r.operand = op
		r.operandParams = &params

		if tp := params.Touchpoint; tp != nil {
			st := r.initializeTouchpoint(profile, tp, m)
			result.MergeNonOK(st)
			if aborted(st) {
				r.operand = nil
				r.operandParams = nil
				return result
			}
			params, _ = r.tpOperand.find(tp)
			r.operandParams = &params
		}
	}

	for _, action := range actions {
		name := ActionName(action)
		params := *r.operandParams
		if tp := touchpointOf(action); tp != nil {
			st := r.initializeTouchpoint(profile, tp, m)
			result.MergeNonOK(st)
			if aborted(st) {
				continue
			}
			params, _ = r.tpOperand.find(tp)
		}

		session.recordActionUndo(r, op, action, params)
		st, fault := capture(func() *status.Status { return action.Undo(params) })
		if fault != nil {
			st = r.faultStatus(fault, op, name, "undo")
		}
		r.metrics.RecordUndo(r.phase.ID(), name, severityName(st))

		if st.Matches(status.SeverityError) {
			wrapped := status.New(status.SeverityError, source, problemMessage(r.phase), nil)
			wrapped.Code = ErrCodeUndoFailed
			wrapped.Add(status.Error(source, session.ContextString(r.phase, op, action), nil))
			wrapped.Merge(st)
			result.Add(wrapped)
			log.WithAction(name).WithError(wrapped.AsError()).Error("undo failed")
			continue
		}
		result.MergeNonOK(st)
	}

	result.MergeNonOK(r.completeTouchpointOperands(profile))
	result.MergeNonOK(r.completeOperand(profile, op, *r.operandParams, m))
	r.operand = nil
	r.operandParams = nil
	return result
}

// finishRollback completes touchpoint phase scopes left open by an aborted
// run or re-opened by Undo.
func (r *Runner) finishRollback(profile *Profile) *status.Status {
	st := r.completeTouchpointPhases(profile, nil)
	r.phaseParams = nil
	return st
}

func (r *Runner) completeOperand(profile *Profile, op *Operand, params Parameters, m *progress.Monitor) *status.Status {
	if c, ok := r.phase.(OperandCompleter); ok {
		return c.CompleteOperand(profile, op, params, m)
	}
	return nil
}

func (r *Runner) completeTouchpointOperands(profile *Profile) *status.Status {
	if len(r.tpOperand) == 0 {
		return nil
	}
	multi := status.NewMulti(source, "")
	for _, e := range r.tpOperand {
		multi.MergeNonOK(e.touchpoint.CompleteOperand(profile, e.params))
	}
	r.tpOperand = nil
	return multi
}

func (r *Runner) completeTouchpointPhases(profile *Profile, m *progress.Monitor) *status.Status {
	if len(r.tpPhase) == 0 {
		return nil
	}
	multi := status.NewMulti(source, "")
	for _, e := range r.tpPhase {
		multi.MergeNonOK(e.touchpoint.CompletePhase(m, profile, r.phase.ID(), e.params))
	}
	r.tpPhase = nil
	return multi
}

func (r *Runner) faultStatus(fault *Fault, op *Operand, name, verb string) *status.Status {
	err := NewActionError(fmt.Sprintf("action %s panicked during %s", name, verb), fault).
		WithCode(ErrCodeActionPanic).
		WithPhase(r.phase.ID()).
		WithOperand(op.String()).
		WithAction(name)
	st := status.Error(source, err.Message, err)
	st.Code = ErrCodeActionPanic
	return st
}

func (r *Runner) classify(err error, op *Operand) error {
	if ClassOf(err) != "" {
		return err
	}
	return NewActionError("action resolution failed", err).
		WithPhase(r.phase.ID()).
		WithOperand(op.String())
}

func severityName(st *status.Status) string {
	if st == nil {
		return status.SeverityOK.String()
	}
	return st.Severity.String()
}
