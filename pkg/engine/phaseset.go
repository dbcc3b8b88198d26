package engine

import (
	"fmt"

	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
)

// PhaseSet is an ordered sequence of phases run for one transaction.
type PhaseSet struct {
	phases []Phase
	weight int
}

// NewPhaseSet validates and creates a phase set. Phase ids must be unique.
func NewPhaseSet(phases ...Phase) (*PhaseSet, error) {
	seen := make(map[string]struct{}, len(phases))
	total := 0
	for i, p := range phases {
		if p == nil {
			return nil, NewValidationError(fmt.Sprintf("phase %d is nil", i), nil)
		}
		if p.ID() == "" {
			return nil, NewValidationError(fmt.Sprintf("phase %d has no id", i), ErrInvalidPhaseID)
		}
		if p.Weight() <= 0 {
			return nil, NewValidationError(fmt.Sprintf("invalid weight %d for phase %s", p.Weight(), p.ID()), ErrInvalidWeight).
				WithPhase(p.ID())
		}
		if _, dup := seen[p.ID()]; dup {
			return nil, NewValidationError(fmt.Sprintf("phase %s appears twice", p.ID()), ErrDuplicatePhase).
				WithPhase(p.ID())
		}
		seen[p.ID()] = struct{}{}
		total += p.Weight()
	}
	return &PhaseSet{phases: append([]Phase(nil), phases...), weight: total}, nil
}

// Phases returns the phases in execution order.
func (s *PhaseSet) Phases() []Phase {
	return append([]Phase(nil), s.phases...)
}

// Weight returns the sum of the phase weights.
func (s *PhaseSet) Weight() int {
	return s.weight
}

// Perform runs each phase over operands, stopping at the first phase that
// ends in ERROR or CANCEL. Progress is split by phase weight.
func (s *PhaseSet) Perform(session *Session, operands []*Operand, m *progress.Monitor) *status.Status {
	result := status.NewMulti(source, "provisioning transaction")
	m.SetWorkRemaining(s.weight)

	for _, p := range s.phases {
		if m.IsCanceled() {
			result.Add(status.Cancel(source, "provisioning operation cancelled"))
			break
		}
		runner := session.newRunner(p)
		st := runner.Perform(session, operands, m.NewChild(p.Weight()))
		if !st.IsOK() {
			result.Add(st)
		}
		if aborted(st) {
			break
		}
	}
	return result
}
