package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/openfroyo/provengine/pkg/metadata"
	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
)

// callLog records hook and action calls in order.
type callLog struct {
	entries []string
}

func (l *callLog) add(format string, args ...interface{}) {
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

func (l *callLog) with(prefix string) []string {
	var out []string
	for _, e := range l.entries {
		if strings.HasPrefix(e, prefix) {
			out = append(out, e)
		}
	}
	return out
}

func (l *callLog) count(entry string) int {
	n := 0
	for _, e := range l.entries {
		if e == entry {
			n++
		}
	}
	return n
}

// Mock touchpoint recording every hook
type recordingTouchpoint struct {
	BaseTouchpoint
	log *callLog

	phaseResult   *status.Status
	operandResult map[string]*status.Status
}

func newRecordingTouchpoint(log *callLog) *recordingTouchpoint {
	return &recordingTouchpoint{
		BaseTouchpoint: BaseTouchpoint{TouchpointType: metadata.TouchpointType{ID: "test", Version: "1.0.0"}},
		log:            log,
	}
}

func (t *recordingTouchpoint) InitializePhase(_ *progress.Monitor, _ *Profile, phaseID string, params Parameters) (Parameters, *status.Status) {
	t.log.add("tp.initPhase")
	return params.With("tp.phase", phaseID), t.phaseResult
}

func (t *recordingTouchpoint) CompletePhase(*progress.Monitor, *Profile, string, Parameters) *status.Status {
	t.log.add("tp.completePhase")
	return nil
}

func (t *recordingTouchpoint) InitializeOperand(_ *Profile, params Parameters) (Parameters, *status.Status) {
	t.log.add("tp.initOperand:%s", params.Unit.ID)
	return params.With("tp.operand", params.Unit.ID), t.operandResult[params.Unit.ID]
}

func (t *recordingTouchpoint) CompleteOperand(_ *Profile, params Parameters) *status.Status {
	t.log.add("tp.completeOperand:%s", params.Unit.ID)
	return nil
}

// Mock action with scripted results
type scriptedAction struct {
	name       string
	log        *callLog
	result     *status.Status
	undoResult *status.Status
	panicWith  interface{}
	seen       Parameters
}

func (a *scriptedAction) Execute(params Parameters) *status.Status {
	a.log.add("exec:%s", a.name)
	a.seen = params
	if a.panicWith != nil {
		panic(a.panicWith)
	}
	return a.result
}

func (a *scriptedAction) Undo(Parameters) *status.Status {
	a.log.add("undo:%s", a.name)
	return a.undoResult
}

func (a *scriptedAction) Name() string {
	return a.name
}

// Mock phase implementing every optional hook
type testPhase struct {
	Base
	log        *callLog
	actions    map[string][]Action
	actionsErr error
	skip       map[string]bool
	touchpoint Touchpoint
	initPhase  func(Parameters) (Parameters, *status.Status)

	operandResult map[string]*status.Status
}

func newTestPhase(id string, forced bool, log *callLog) *testPhase {
	return &testPhase{
		Base:    MustBase(id, 10, forced),
		log:     log,
		actions: make(map[string][]Action),
		skip:    make(map[string]bool),
	}
}

func (p *testPhase) Actions(op *Operand, _ *ActionRegistry) ([]Action, error) {
	return p.actions[op.Unit().ID], p.actionsErr
}

func (p *testPhase) IsApplicable(op *Operand) bool {
	return !p.skip[op.Unit().ID]
}

func (p *testPhase) InitializePhase(_ *progress.Monitor, _ *Profile, params Parameters) (Parameters, *status.Status) {
	p.log.add("phase.initPhase")
	if p.initPhase != nil {
		return p.initPhase(params)
	}
	return params, nil
}

func (p *testPhase) CompletePhase(*progress.Monitor, *Profile, Parameters) *status.Status {
	p.log.add("phase.completePhase")
	return nil
}

func (p *testPhase) InitializeOperand(_ *Profile, op *Operand, params Parameters, _ *progress.Monitor) (Parameters, *status.Status) {
	p.log.add("phase.initOperand:%s", op.Unit().ID)
	params.Unit = op.Unit()
	params.Touchpoint = p.touchpoint
	return params, p.operandResult[op.Unit().ID]
}

func (p *testPhase) CompleteOperand(_ *Profile, op *Operand, _ Parameters, _ *progress.Monitor) *status.Status {
	p.log.add("phase.completeOperand:%s", op.Unit().ID)
	return nil
}

func (p *testPhase) action(unit, name string) *scriptedAction {
	a := &scriptedAction{name: name, log: p.log}
	p.actions[unit] = append(p.actions[unit], a)
	return a
}

func installOperand(id string) *Operand {
	return &Operand{After: &metadata.Unit{ID: id, Version: "1.0.0"}}
}

func newTestSession() *Session {
	return NewSession(NewProfile("test-profile", nil), NewActionRegistry())
}

func newTestMonitor() *progress.Monitor {
	return progress.New(context.Background(), "test", 100, nil)
}

// operandStarts returns the operands the session saw start, in order.
func operandStarts(session *Session) []string {
	var out []string
	for _, e := range session.Trace() {
		if e.Kind == EventOperandStart {
			out = append(out, e.Operand)
		}
	}
	return out
}

func TestRunnerPerformHookOrder(t *testing.T) {
	log := &callLog{}
	phase := newTestPhase("install", false, log)
	phase.touchpoint = newRecordingTouchpoint(log)
	a1 := phase.action("u1", "a1")
	phase.action("u2", "b1")

	session := newTestSession()
	runner := session.newRunner(phase)
	result := runner.Perform(session, []*Operand{installOperand("u1"), installOperand("u2")}, newTestMonitor())

	if !result.IsOK() {
		t.Fatalf("Expected OK, got %s", result)
	}
	if runner.State() != StateDone {
		t.Errorf("Expected state %s, got %s", StateDone, runner.State())
	}

	expected := []string{
		"phase.initPhase",
		"phase.initOperand:u1",
		"tp.initPhase",
		"tp.initOperand:u1",
		"exec:a1",
		"tp.completeOperand:u1",
		"phase.completeOperand:u1",
		"phase.initOperand:u2",
		"tp.initOperand:u2",
		"exec:b1",
		"tp.completeOperand:u2",
		"phase.completeOperand:u2",
		"tp.completePhase",
		"phase.completePhase",
	}
	if strings.Join(log.entries, "\n") != strings.Join(expected, "\n") {
		t.Errorf("Unexpected call order:\n%s\nexpected:\n%s", strings.Join(log.entries, "\n"), strings.Join(expected, "\n"))
	}

	if v, _ := a1.seen.Get("tp.operand"); v != "u1" {
		t.Errorf("Expected touchpoint operand parameter u1, got %v", v)
	}
	if v, _ := a1.seen.Get("tp.phase"); v != "install" {
		t.Errorf("Expected touchpoint phase parameter install, got %v", v)
	}
	if a1.seen.Executor == nil {
		t.Error("Expected executor for operand with after unit")
	}

	var kinds []string
	for _, e := range session.Trace() {
		kinds = append(kinds, string(e.Kind))
	}
	expectedKinds := "phase_enter,phase_start,operand_start,action_execute,operand_end," +
		"operand_start,action_execute,operand_end,phase_end,phase_exit"
	if strings.Join(kinds, ",") != expectedKinds {
		t.Errorf("Expected trace %s, got %s", expectedKinds, strings.Join(kinds, ","))
	}
}

func TestRunnerTouchpointPhaseCompletedOnce(t *testing.T) {
	log := &callLog{}
	phase := newTestPhase("configure", false, log)
	phase.touchpoint = newRecordingTouchpoint(log)
	for _, id := range []string{"u1", "u2", "u3"} {
		phase.action(id, "cfg-"+id)
	}

	session := newTestSession()
	ops := []*Operand{installOperand("u1"), installOperand("u2"), installOperand("u3")}
	if result := session.newRunner(phase).Perform(session, ops, newTestMonitor()); !result.IsOK() {
		t.Fatalf("Expected OK, got %s", result)
	}

	if n := log.count("tp.initPhase"); n != 1 {
		t.Errorf("Expected touchpoint phase init once, got %d", n)
	}
	if n := log.count("tp.completePhase"); n != 1 {
		t.Errorf("Expected touchpoint phase completion once, got %d", n)
	}
	if n := len(log.with("tp.initOperand:")); n != 3 {
		t.Errorf("Expected 3 touchpoint operand inits, got %d", n)
	}
}

func TestRunnerNonForcedErrorHalts(t *testing.T) {
	log := &callLog{}
	phase := newTestPhase("install", false, log)
	phase.action("u1", "a1")
	phase.action("u1", "a2").result = status.Error("test", "boom", nil)
	phase.action("u1", "a3")
	phase.action("u2", "b1")

	session := newTestSession()
	runner := session.newRunner(phase)
	u1, u2 := installOperand("u1"), installOperand("u2")
	result := runner.Perform(session, []*Operand{u1, u2}, newTestMonitor())

	if !result.Matches(status.SeverityError) {
		t.Fatalf("Expected ERROR, got %s", result)
	}
	if starts := operandStarts(session); len(starts) != 1 || starts[0] != u1.String() {
		t.Errorf("Expected only %s to start, got %v", u1, starts)
	}
	if runner.State() != StateAborted {
		t.Errorf("Expected state %s, got %s", StateAborted, runner.State())
	}
	execs := log.with("exec:")
	if strings.Join(execs, ",") != "exec:a1,exec:a2" {
		t.Errorf("Expected execution to stop after a2, got %v", execs)
	}
	if log.count("phase.completePhase") != 0 {
		t.Error("Expected post stage to be skipped")
	}
	if len(session.Diagnostics()) != 0 {
		t.Errorf("Expected no diagnostics, got %d", len(session.Diagnostics()))
	}
}

func TestRunnerForcedDowngradesErrors(t *testing.T) {
	log := &callLog{}
	phase := newTestPhase("uninstall", true, log)
	phase.action("u1", "a1").result = status.Error("test", "boom", nil)
	phase.action("u1", "a2")

	session := newTestSession()
	result := session.newRunner(phase).Perform(session, []*Operand{installOperand("u1")}, newTestMonitor())

	if result.Matches(status.SeverityError) {
		t.Fatalf("Expected forced phase to succeed, got %s", result)
	}
	if strings.Join(log.with("exec:"), ",") != "exec:a1,exec:a2" {
		t.Errorf("Expected both actions to run, got %v", log.with("exec:"))
	}

	diags := session.Diagnostics()
	if len(diags) != 1 {
		t.Fatalf("Expected 1 diagnostic, got %d", len(diags))
	}
	if !diags[0].Matches(status.SeverityError) {
		t.Errorf("Expected ERROR diagnostic, got %s", diags[0].Severity)
	}
	if !strings.Contains(diags[0].String(), "session context was:(profile=test-profile, phase=uninstall") {
		t.Errorf("Expected context string in diagnostic, got %s", diags[0])
	}
	if !strings.Contains(diags[0].String(), "boom") {
		t.Errorf("Expected action status in diagnostic, got %s", diags[0])
	}
}

func TestRunnerForcedHookFailureAborts(t *testing.T) {
	boom := func() *status.Status { return status.Error("test", "hook failed", nil) }
	tests := []struct {
		name  string
		setup func(*testPhase, *recordingTouchpoint)
		calls string
	}{
		{
			name:  "phase operand hook",
			setup: func(p *testPhase, _ *recordingTouchpoint) { p.operandResult = map[string]*status.Status{"u1": boom()} },
			calls: "phase.initOperand:u1",
		},
		{
			name:  "touchpoint phase hook",
			setup: func(_ *testPhase, tp *recordingTouchpoint) { tp.phaseResult = boom() },
			calls: "tp.initPhase",
		},
		{
			name:  "touchpoint operand hook",
			setup: func(_ *testPhase, tp *recordingTouchpoint) { tp.operandResult = map[string]*status.Status{"u1": boom()} },
			calls: "tp.initOperand:u1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &callLog{}
			phase := newTestPhase("uninstall", true, log)
			tp := newRecordingTouchpoint(log)
			phase.touchpoint = tp
			phase.action("u1", "a1")
			phase.action("u2", "b1")
			tt.setup(phase, tp)

			session := newTestSession()
			u1, u2 := installOperand("u1"), installOperand("u2")
			result := session.newRunner(phase).Perform(session, []*Operand{u1, u2}, newTestMonitor())

			if !result.Matches(status.SeverityError) {
				t.Fatalf("Expected ERROR from a failing hook in a forced phase, got %s", result)
			}
			if execs := log.with("exec:"); len(execs) != 0 {
				t.Errorf("Expected no action to run, got %v", execs)
			}
			if log.count(tt.calls) != 1 {
				t.Errorf("Expected the failing hook %s to run once, got %v", tt.calls, log.entries)
			}
			if starts := operandStarts(session); len(starts) != 1 || starts[0] != u1.String() {
				t.Errorf("Expected no operand after %s to start, got %v", u1, starts)
			}
			if len(session.Diagnostics()) != 0 {
				t.Errorf("Expected hook failure not to be downgraded, got %d diagnostics", len(session.Diagnostics()))
			}
		})
	}
}

func TestRunnerForcedNeverDowngradesCancel(t *testing.T) {
	log := &callLog{}
	phase := newTestPhase("uninstall", true, log)
	phase.action("u1", "a1").result = status.Cancel("test", "stop")
	phase.action("u1", "a2")

	session := newTestSession()
	result := session.newRunner(phase).Perform(session, []*Operand{installOperand("u1")}, newTestMonitor())

	if !result.Matches(status.SeverityCancel) {
		t.Fatalf("Expected CANCEL, got %s", result)
	}
	if log.count("exec:a2") != 0 {
		t.Error("Expected a2 not to run after cancel")
	}
}

func TestRunnerRecoversPanics(t *testing.T) {
	log := &callLog{}
	phase := newTestPhase("install", false, log)
	phase.action("u1", "a1").panicWith = "kaboom"

	session := newTestSession()
	result := session.newRunner(phase).Perform(session, []*Operand{installOperand("u1")}, newTestMonitor())

	if !result.Matches(status.SeverityError) {
		t.Fatalf("Expected ERROR, got %s", result)
	}
	leaves := result.Flatten()
	if len(leaves) != 1 || leaves[0].Code != ErrCodeActionPanic {
		t.Fatalf("Expected one %s leaf, got %s", ErrCodeActionPanic, result)
	}
	var fault *Fault
	if !errors.As(leaves[0].Err, &fault) {
		t.Fatalf("Expected Fault in error chain, got %v", leaves[0].Err)
	}
	if fault.Value != "kaboom" {
		t.Errorf("Expected panic value kaboom, got %v", fault.Value)
	}
}

func TestRunnerReraisesUnrecoverable(t *testing.T) {
	log := &callLog{}
	phase := newTestPhase("uninstall", true, log)
	fatal := Fatal(errors.New("out of memory"))
	phase.action("u1", "a1").panicWith = fatal

	defer func() {
		v := recover()
		if v == nil {
			t.Fatal("Expected unrecoverable panic to propagate")
		}
		if v != fatal {
			t.Errorf("Expected original panic value, got %v", v)
		}
	}()

	session := newTestSession()
	session.newRunner(phase).Perform(session, []*Operand{installOperand("u1")}, newTestMonitor())
}

func TestRunnerCancelBeforeOperand(t *testing.T) {
	log := &callLog{}
	phase := newTestPhase("install", false, log)
	phase.action("u1", "a1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := newTestSession()
	result := session.newRunner(phase).Perform(session, []*Operand{installOperand("u1")}, progress.New(ctx, "test", 100, nil))

	if !result.Matches(status.SeverityCancel) {
		t.Fatalf("Expected CANCEL, got %s", result)
	}
	if len(log.with("exec:")) != 0 {
		t.Errorf("Expected no actions, got %v", log.with("exec:"))
	}
}

func TestRunnerSkipsInapplicableOperands(t *testing.T) {
	log := &callLog{}
	phase := newTestPhase("install", false, log)
	phase.action("u1", "a1")
	phase.action("u2", "b1")
	phase.skip["u1"] = true

	session := newTestSession()
	result := session.newRunner(phase).Perform(session, []*Operand{installOperand("u1"), installOperand("u2")}, newTestMonitor())

	if !result.IsOK() {
		t.Fatalf("Expected OK, got %s", result)
	}
	if strings.Join(log.with("exec:"), ",") != "exec:b1" {
		t.Errorf("Expected only b1, got %v", log.with("exec:"))
	}
	if log.count("phase.initOperand:u1") != 0 {
		t.Error("Expected skipped operand not to be initialized")
	}
}

func TestRunnerPhaseInitFailureSkipsMain(t *testing.T) {
	log := &callLog{}
	phase := newTestPhase("install", true, log)
	phase.action("u1", "a1")
	phase.initPhase = func(p Parameters) (Parameters, *status.Status) {
		return p, status.Error("test", "no space", nil)
	}

	session := newTestSession()
	runner := session.newRunner(phase)
	result := runner.Perform(session, []*Operand{installOperand("u1")}, newTestMonitor())

	if !result.Matches(status.SeverityError) {
		t.Fatalf("Expected ERROR, got %s", result)
	}
	if len(log.with("exec:")) != 0 {
		t.Error("Expected main stage to be skipped")
	}

	undo := runner.Undo(session, installOperand("u1"), nil)
	if !undo.Matches(status.SeverityError) {
		t.Fatalf("Expected undo before main stage to fail, got %s", undo)
	}
	if !errors.Is(undo.AsError(), ErrUndoUnavailable) {
		t.Errorf("Expected ErrUndoUnavailable, got %v", undo.AsError())
	}
}

func TestRunnerActionResolutionFailure(t *testing.T) {
	log := &callLog{}
	phase := newTestPhase("install", false, log)
	phase.actionsErr = errors.New("bad instructions")

	session := newTestSession()
	result := session.newRunner(phase).Perform(session, []*Operand{installOperand("u1")}, newTestMonitor())

	if !result.Matches(status.SeverityError) {
		t.Fatalf("Expected ERROR, got %s", result)
	}
	if ClassOf(result.AsError()) != ErrorClassAction {
		t.Errorf("Expected action error class, got %q", ClassOf(result.AsError()))
	}
}

func TestRollbackUndoesForwardWithinOperand(t *testing.T) {
	log := &callLog{}
	phase := newTestPhase("install", false, log)
	phase.action("u1", "a1")
	phase.action("u1", "a2")
	phase.action("u1", "a3").result = status.Error("test", "boom", nil)

	session := newTestSession()
	result := session.newRunner(phase).Perform(session, []*Operand{installOperand("u1")}, newTestMonitor())
	if !result.Matches(status.SeverityError) {
		t.Fatalf("Expected ERROR, got %s", result)
	}

	rollback := session.Rollback()
	if rollback.Matches(status.SeverityError) {
		t.Fatalf("Expected clean rollback, got %s", rollback)
	}
	if got := strings.Join(log.with("undo:"), ","); got != "undo:a1,undo:a2,undo:a3" {
		t.Errorf("Expected undo:a1,undo:a2,undo:a3, got %s", got)
	}
	if log.count("phase.completeOperand:u1") != 1 {
		t.Errorf("Expected operand completion after undo, got %d", log.count("phase.completeOperand:u1"))
	}

	again := session.Rollback()
	if again.Severity != status.SeverityInfo {
		t.Errorf("Expected INFO on second rollback, got %s", again.Severity)
	}
	if len(log.with("undo:")) != 3 {
		t.Error("Expected second rollback to be a no-op")
	}
}

func TestRollbackOperandsInReverse(t *testing.T) {
	log := &callLog{}
	install := newTestPhase("install", false, log)
	install.touchpoint = newRecordingTouchpoint(log)
	install.action("u1", "i1")
	install.action("u2", "i2")
	configure := newTestPhase("configure", false, log)
	configure.action("u1", "c1")
	configure.action("u2", "c2").result = status.Error("test", "boom", nil)

	session := newTestSession()
	set, err := NewPhaseSet(install, configure)
	if err != nil {
		t.Fatalf("Failed to create phase set: %v", err)
	}
	ops := []*Operand{installOperand("u1"), installOperand("u2")}
	if result := set.Perform(session, ops, newTestMonitor()); !result.Matches(status.SeverityError) {
		t.Fatalf("Expected ERROR, got %s", result)
	}

	log.entries = nil
	session.Rollback()

	if got := strings.Join(log.with("undo:"), ","); got != "undo:c2,undo:c1,undo:i2,undo:i1" {
		t.Errorf("Expected undo:c2,undo:c1,undo:i2,undo:i1, got %s", got)
	}
	// The install phase completed normally, so its touchpoint scopes are
	// re-opened by undo and flushed once at the end.
	if n := log.count("tp.completePhase"); n != 1 {
		t.Errorf("Expected touchpoint phase flushed once, got %d", n)
	}
}

func TestUndoFailureDoesNotStopRemainingUndos(t *testing.T) {
	log := &callLog{}
	phase := newTestPhase("install", false, log)
	phase.action("u1", "a1").undoResult = status.Error("test", "cannot undo", nil)
	phase.action("u1", "a2")
	phase.action("u1", "a3").result = status.Error("test", "boom", nil)

	session := newTestSession()
	session.newRunner(phase).Perform(session, []*Operand{installOperand("u1")}, newTestMonitor())

	rollback := session.Rollback()
	if !rollback.Matches(status.SeverityError) {
		t.Fatalf("Expected rollback ERROR, got %s", rollback)
	}
	if got := strings.Join(log.with("undo:"), ","); got != "undo:a1,undo:a2,undo:a3" {
		t.Errorf("Expected all undos to run, got %s", got)
	}
	if !strings.Contains(rollback.String(), "session context was:") {
		t.Errorf("Expected context string in undo failure, got %s", rollback)
	}
}

// nestedAction runs another action through the executor.
type nestedAction struct {
	log *callLog
}

func (a *nestedAction) Execute(params Parameters) *status.Status {
	a.log.add("exec:outer")
	return params.Executor.Action("inner").WithParam("path", "c:/tmp;x").Execute()
}

func (a *nestedAction) Undo(Parameters) *status.Status { return nil }

func TestActionExecutorRunsNestedAction(t *testing.T) {
	log := &callLog{}
	registry := NewActionRegistry()
	var got string
	err := registry.RegisterGlobal("inner", func() Action {
		return &ActionFunc{Label: "inner", ExecFn: func(p Parameters) *status.Status {
			got, _ = p.Arg("path")
			log.add("exec:inner")
			return status.Error("test", "inner failed", nil)
		}}
	})
	if err != nil {
		t.Fatalf("Failed to register action: %v", err)
	}

	phase := newTestPhase("install", true, log)
	phase.actions["u1"] = []Action{&nestedAction{log: log}}

	session := NewSession(NewProfile("p", nil), registry)
	result := session.newRunner(phase).Perform(session, []*Operand{installOperand("u1")}, newTestMonitor())

	if got != "c:/tmp;x" {
		t.Errorf("Expected escaped argument to round-trip, got %q", got)
	}
	if strings.Join(log.with("exec:"), ",") != "exec:outer,exec:inner" {
		t.Errorf("Unexpected executions: %v", log.with("exec:"))
	}
	if result.Matches(status.SeverityError) {
		t.Errorf("Expected forced phase to absorb nested failure, got %s", result)
	}
	if len(session.Diagnostics()) != 1 {
		t.Errorf("Expected 1 diagnostic from nested action, got %d", len(session.Diagnostics()))
	}
}

func TestExecutableInstruction(t *testing.T) {
	x := (&ActionExecutor{}).Action("copy").
		WithParam("target", "a,b").
		WithParam("source", "x:y")
	want := "copy(source:x${#58}y,target:a${#44}b)"
	if got := x.Instruction(); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestPhaseSetValidation(t *testing.T) {
	log := &callLog{}
	if _, err := NewPhaseSet(newTestPhase("a", false, log), newTestPhase("a", false, log)); !errors.Is(err, ErrDuplicatePhase) {
		t.Errorf("Expected ErrDuplicatePhase, got %v", err)
	}

	set, err := NewPhaseSet(newTestPhase("a", false, log), newTestPhase("b", false, log))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if set.Weight() != 20 {
		t.Errorf("Expected weight 20, got %d", set.Weight())
	}
	if len(set.Phases()) != 2 {
		t.Errorf("Expected 2 phases, got %d", len(set.Phases()))
	}
}

func TestNewBaseValidation(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		weight int
		want   error
	}{
		{"empty id", "", 1, ErrInvalidPhaseID},
		{"zero weight", "collect", 0, ErrInvalidWeight},
		{"negative weight", "collect", -5, ErrInvalidWeight},
		{"valid", "collect", 10, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBase(tt.id, tt.weight, false)
			if tt.want == nil {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if ClassOf(err) != ErrorClassValidation {
				t.Errorf("Expected validation class, got %q", ClassOf(err))
			}
		})
	}
}
