package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/telemetry"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Mock sink capturing persisted records
type mockSink struct {
	mu          sync.Mutex
	started     []SessionInfo
	finished    map[string]status.Severity
	events      []TraceEvent
	diagnostics []*status.Status
}

func newMockSink() *mockSink {
	return &mockSink{finished: make(map[string]status.Severity)}
}

func (s *mockSink) RecordEvent(_ context.Context, e TraceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *mockSink) RecordDiagnostic(_ context.Context, _ string, d *status.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnostics = append(s.diagnostics, d)
	return nil
}

func (s *mockSink) StartSession(_ context.Context, info SessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, info)
	return nil
}

func (s *mockSink) FinishSession(_ context.Context, id string, sev status.Severity, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[id] = sev
	return nil
}

func setPropertyAction(log *callLog, name, key, value string) Action {
	return &ActionFunc{
		Label: name,
		ExecFn: func(p Parameters) *status.Status {
			log.add("exec:%s", name)
			p.Profile.SetProperty(key, value)
			return nil
		},
		UndoFn: func(p Parameters) *status.Status {
			log.add("undo:%s", name)
			return nil
		},
	}
}

func TestEnginePerformSuccess(t *testing.T) {
	log := &callLog{}
	install := newTestPhase("install", false, log)
	install.actions["u1"] = []Action{setPropertyAction(log, "i1", "installed", "yes")}
	set, err := NewPhaseSet(install)
	if err != nil {
		t.Fatalf("Failed to create phase set: %v", err)
	}

	sink := newMockSink()
	profile := NewProfile("p1", nil)
	var lastDone, lastTotal float64
	e := New(WithSink(sink), WithDataRoot(t.TempDir()))
	report := e.Perform(context.Background(), Request{
		Profile:  profile,
		PhaseSet: set,
		Operands: []*Operand{installOperand("u1")},
		Reporter: func(_ string, done, total float64) {
			lastDone, lastTotal = done, total
		},
	})

	if !report.Status.IsOK() {
		t.Fatalf("Expected OK, got %s", report.Status)
	}
	if report.Rollback != nil {
		t.Error("Expected no rollback")
	}
	if v, _ := profile.Property("installed"); v != "yes" {
		t.Errorf("Expected property to be set, got %q", v)
	}
	if lastTotal == 0 || lastDone < lastTotal*0.999 {
		t.Errorf("Expected progress to complete, got %v/%v", lastDone, lastTotal)
	}
	if !strings.HasSuffix(report.Session.DataDir(), "p1") {
		t.Errorf("Expected per-profile data dir, got %s", report.Session.DataDir())
	}

	if len(sink.started) != 1 || sink.started[0].ProfileID != "p1" {
		t.Fatalf("Expected one started session for p1, got %+v", sink.started)
	}
	if sev, ok := sink.finished[report.Session.ID()]; !ok || sev != status.SeverityOK {
		t.Errorf("Expected session finished OK, got %v (%v)", sev, ok)
	}
	if len(sink.events) != len(report.Session.Trace()) {
		t.Errorf("Expected %d persisted events, got %d", len(report.Session.Trace()), len(sink.events))
	}
}

func TestEnginePerformSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tracer := telemetry.NewProviderTracer(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)), "test")

	log := &callLog{}
	install := newTestPhase("install", false, log)
	install.action("u1", "a1")
	install.action("u2", "b1").result = status.Error("test", "boom", nil)
	set, err := NewPhaseSet(install)
	if err != nil {
		t.Fatalf("Failed to create phase set: %v", err)
	}

	u1, u2 := installOperand("u1"), installOperand("u2")
	e := New(WithTracer(tracer))
	report := e.Perform(context.Background(), Request{
		Profile:  NewProfile("p1", nil),
		PhaseSet: set,
		Operands: []*Operand{u1, u2},
	})
	if !report.Status.Matches(status.SeverityError) {
		t.Fatalf("Expected ERROR, got %s", report.Status)
	}

	byName := make(map[string][]sdktrace.ReadOnlySpan)
	for _, s := range rec.Ended() {
		byName[s.Name()] = append(byName[s.Name()], s)
	}
	perform, phase, operands := byName["provengine.perform"], byName["provengine.phase.install"], byName["provengine.operand"]
	if len(perform) != 1 || len(phase) != 1 || len(operands) != 2 {
		t.Fatalf("Expected 1 transaction, 1 phase and 2 operand spans, got %d/%d/%d", len(perform), len(phase), len(operands))
	}
	if phase[0].Parent().SpanID() != perform[0].SpanContext().SpanID() {
		t.Error("Expected the phase span under the transaction span")
	}

	outcome := make(map[string]codes.Code)
	for _, s := range operands {
		if s.Parent().SpanID() != phase[0].SpanContext().SpanID() {
			t.Errorf("Expected operand span %v under the phase span", s.Attributes())
		}
		for _, a := range s.Attributes() {
			if a.Key == telemetry.AttrOperand {
				outcome[a.Value.AsString()] = s.Status().Code
			}
		}
	}
	if outcome[u1.String()] == codes.Error {
		t.Errorf("Expected %s span not to be failed", u1)
	}
	if outcome[u2.String()] != codes.Error {
		t.Errorf("Expected %s span to be failed, got %v", u2, outcome[u2.String()])
	}
}

func TestEnginePerformRollsBackOnError(t *testing.T) {
	log := &callLog{}
	install := newTestPhase("install", false, log)
	install.actions["u1"] = []Action{setPropertyAction(log, "i1", "installed", "yes")}
	configure := newTestPhase("configure", false, log)
	configure.action("u1", "c1").result = status.Error("test", "config failed", nil)
	set, err := NewPhaseSet(install, configure)
	if err != nil {
		t.Fatalf("Failed to create phase set: %v", err)
	}

	profile := NewProfile("p1", map[string]string{"keep": "1"})
	report := New().Perform(context.Background(), Request{
		Profile:  profile,
		PhaseSet: set,
		Operands: []*Operand{installOperand("u1")},
	})

	if report.Status.Severity != status.SeverityError {
		t.Fatalf("Expected ERROR, got %s", report.Status)
	}
	if report.Rollback == nil {
		t.Fatal("Expected rollback status")
	}
	if got := strings.Join(log.with("undo:"), ","); got != "undo:c1,undo:i1" {
		t.Errorf("Expected undo:c1,undo:i1, got %s", got)
	}
	if _, ok := profile.Property("installed"); ok {
		t.Error("Expected profile to be restored")
	}
	if v, _ := profile.Property("keep"); v != "1" {
		t.Errorf("Expected original property to survive, got %q", v)
	}
}

func TestEnginePerformCancelLeavesState(t *testing.T) {
	log := &callLog{}
	install := newTestPhase("install", false, log)
	install.actions["u1"] = []Action{setPropertyAction(log, "i1", "installed", "yes")}
	install.action("u2", "b1").result = status.Cancel("test", "stop")
	set, _ := NewPhaseSet(install)

	profile := NewProfile("p1", nil)
	report := New().Perform(context.Background(), Request{
		Profile:  profile,
		PhaseSet: set,
		Operands: []*Operand{installOperand("u1"), installOperand("u2")},
	})

	if !report.Status.Matches(status.SeverityCancel) {
		t.Fatalf("Expected CANCEL, got %s", report.Status)
	}
	if report.Rollback != nil {
		t.Error("Expected no rollback on cancel")
	}
	if len(log.with("undo:")) != 0 {
		t.Errorf("Expected no undos, got %v", log.with("undo:"))
	}
	if v, _ := profile.Property("installed"); v != "yes" {
		t.Error("Expected cancelled transaction to keep its changes")
	}
}

func TestEngineForcedDiagnosticsReported(t *testing.T) {
	log := &callLog{}
	uninstall := newTestPhase("uninstall", true, log)
	uninstall.action("u1", "r1").result = status.Error("test", "file busy", nil)
	set, _ := NewPhaseSet(uninstall)

	sink := newMockSink()
	report := New(WithSink(sink)).Perform(context.Background(), Request{
		Profile:  NewProfile("p1", nil),
		PhaseSet: set,
		Operands: []*Operand{{Before: installOperand("u1").After}},
	})

	if report.Status.Matches(status.SeverityError) {
		t.Fatalf("Expected forced transaction to succeed, got %s", report.Status)
	}
	if len(report.Diagnostics) != 1 {
		t.Fatalf("Expected 1 diagnostic, got %d", len(report.Diagnostics))
	}
	if len(sink.diagnostics) != 1 {
		t.Errorf("Expected diagnostic to be persisted, got %d", len(sink.diagnostics))
	}
}

func TestEnginePerformRejectsInvalidRequest(t *testing.T) {
	e := New()
	if r := e.Perform(context.Background(), Request{}); !r.Status.Matches(status.SeverityError) {
		t.Errorf("Expected ERROR for empty request, got %s", r.Status)
	}

	set, _ := NewPhaseSet(newTestPhase("install", false, &callLog{}))
	r := e.Perform(context.Background(), Request{
		Profile:  NewProfile("p", nil),
		PhaseSet: set,
		Operands: []*Operand{{}},
	})
	if ClassOf(r.Status.AsError()) != ErrorClassValidation {
		t.Errorf("Expected validation error for empty operand, got %s", r.Status)
	}
}
