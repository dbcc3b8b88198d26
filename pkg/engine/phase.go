package engine

import (
	"fmt"

	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
)

// Default progress budget of a phase's three stages.
const (
	DefaultPreWork  = 1000
	DefaultMainWork = 10000
	DefaultPostWork = 1000
)

// Phase is the policy of one stage of a transaction. Phases are stateless
// between runs; per-run state lives in the Runner and in the parameters.
type Phase interface {
	ID() string
	Weight() int
	Forced() bool

	// Actions returns the ordered actions to run for op.
	Actions(op *Operand, registry *ActionRegistry) ([]Action, error)
}

// Optional phase capabilities. A Runner calls a hook only when the phase
// implements it.
type (
	// Applicability restricts the operands a phase visits.
	Applicability interface {
		IsApplicable(op *Operand) bool
	}

	// PhaseInitializer enriches the phase parameters before the main stage.
	PhaseInitializer interface {
		InitializePhase(m *progress.Monitor, profile *Profile, params Parameters) (Parameters, *status.Status)
	}

	// PhaseCompleter runs once after every operand has been processed.
	PhaseCompleter interface {
		CompletePhase(m *progress.Monitor, profile *Profile, params Parameters) *status.Status
	}

	// OperandInitializer enriches the operand parameters.
	OperandInitializer interface {
		InitializeOperand(profile *Profile, op *Operand, params Parameters, m *progress.Monitor) (Parameters, *status.Status)
	}

	// OperandCompleter runs after an operand's actions.
	OperandCompleter interface {
		CompleteOperand(profile *Profile, op *Operand, params Parameters, m *progress.Monitor) *status.Status
	}

	// ProblemReporter supplies the message used when an action of the phase fails.
	ProblemReporter interface {
		ProblemMessage() string
	}

	// WorkSplitter overrides the default pre/main/post progress budget.
	WorkSplitter interface {
		Work() (pre, main, post int)
	}
)

// Base carries the identity of a phase. Embed it in phase implementations.
type Base struct {
	id     string
	weight int
	forced bool
}

// NewBase validates and creates a phase identity.
func NewBase(id string, weight int, forced bool) (Base, error) {
	if id == "" {
		return Base{}, NewValidationError("invalid phase", ErrInvalidPhaseID)
	}
	if weight <= 0 {
		return Base{}, NewValidationError(fmt.Sprintf("invalid weight %d for phase %s", weight, id), ErrInvalidWeight).
			WithPhase(id)
	}
	return Base{id: id, weight: weight, forced: forced}, nil
}

// MustBase is NewBase for statically known phases. It panics on invalid input.
func MustBase(id string, weight int, forced bool) Base {
	b, err := NewBase(id, weight, forced)
	if err != nil {
		panic(err)
	}
	return b
}

// ID implements Phase.
func (b Base) ID() string { return b.id }

// Weight implements Phase.
func (b Base) Weight() int { return b.weight }

// Forced implements Phase.
func (b Base) Forced() bool { return b.forced }

// String returns "id - weight".
func (b Base) String() string {
	return fmt.Sprintf("%s - %d", b.id, b.weight)
}

func problemMessage(p Phase) string {
	if r, ok := p.(ProblemReporter); ok {
		if msg := r.ProblemMessage(); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("An error occurred while performing the %s phase", p.ID())
}

func phaseWork(p Phase) (int, int, int) {
	if w, ok := p.(WorkSplitter); ok {
		pre, main, post := w.Work()
		if pre > 0 && main > 0 && post > 0 {
			return pre, main, post
		}
	}
	return DefaultPreWork, DefaultMainWork, DefaultPostWork
}
