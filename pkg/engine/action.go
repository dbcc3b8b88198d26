package engine

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/openfroyo/provengine/pkg/metadata"
	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
)

// Touchpoint is the environment-specific delegate for units of one
// touchpoint type. Each hook receives a parameter snapshot and returns the
// enriched snapshot for its scope.
//
// Touchpoints are cached by identity for the lifetime of a phase, so
// implementations must be comparable; pointer receivers are the norm.
type Touchpoint interface {
	Type() metadata.TouchpointType
	InitializePhase(m *progress.Monitor, profile *Profile, phaseID string, params Parameters) (Parameters, *status.Status)
	CompletePhase(m *progress.Monitor, profile *Profile, phaseID string, params Parameters) *status.Status
	InitializeOperand(profile *Profile, params Parameters) (Parameters, *status.Status)
	CompleteOperand(profile *Profile, params Parameters) *status.Status
}

// BaseTouchpoint implements every Touchpoint hook as a no-op. Embed it and
// override the hooks a touchpoint needs.
type BaseTouchpoint struct {
	TouchpointType metadata.TouchpointType
}

// Type implements Touchpoint.
func (b *BaseTouchpoint) Type() metadata.TouchpointType { return b.TouchpointType }

// InitializePhase implements Touchpoint.
func (b *BaseTouchpoint) InitializePhase(_ *progress.Monitor, _ *Profile, _ string, params Parameters) (Parameters, *status.Status) {
	return params, nil
}

// CompletePhase implements Touchpoint.
func (b *BaseTouchpoint) CompletePhase(*progress.Monitor, *Profile, string, Parameters) *status.Status {
	return nil
}

// InitializeOperand implements Touchpoint.
func (b *BaseTouchpoint) InitializeOperand(_ *Profile, params Parameters) (Parameters, *status.Status) {
	return params, nil
}

// CompleteOperand implements Touchpoint.
func (b *BaseTouchpoint) CompleteOperand(*Profile, Parameters) *status.Status {
	return nil
}

// Action is one declarative provisioning step. Action code is treated as
// untrusted: panics raised by Execute or Undo are recovered by the engine.
type Action interface {
	Execute(params Parameters) *status.Status
	Undo(params Parameters) *status.Status
}

// TouchpointAction is implemented by actions bound to a touchpoint. Such
// actions receive the touchpoint-scoped parameters.
type TouchpointAction interface {
	Touchpoint() Touchpoint
}

// NamedAction is implemented by actions that report a name for traces.
type NamedAction interface {
	Name() string
}

// ActionName returns the name used for an action in traces and diagnostics.
func ActionName(a Action) string {
	if n, ok := a.(NamedAction); ok {
		return n.Name()
	}
	t := reflect.TypeOf(a)
	if t == nil {
		return "<nil>"
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}

func touchpointOf(a Action) Touchpoint {
	if ta, ok := a.(TouchpointAction); ok {
		return ta.Touchpoint()
	}
	return nil
}

// Memento is key/value state an action keeps between Execute and Undo.
// Embed it in action structs; the zero value is ready to use.
type Memento struct {
	values map[string]interface{}
}

// Put stores a value.
func (m *Memento) Put(key string, value interface{}) {
	if m.values == nil {
		m.values = make(map[string]interface{})
	}
	m.values[key] = value
}

// Get returns a stored value.
func (m *Memento) Get(key string) (interface{}, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Remove deletes a stored value.
func (m *Memento) Remove(key string) {
	delete(m.values, key)
}

// Len returns the number of stored values.
func (m *Memento) Len() int {
	return len(m.values)
}

// ActionFunc adapts a pair of functions to Action. A nil undo is a no-op.
type ActionFunc struct {
	Label  string
	ExecFn func(Parameters) *status.Status
	UndoFn func(Parameters) *status.Status
}

// Execute implements Action.
func (f *ActionFunc) Execute(params Parameters) *status.Status {
	if f.ExecFn == nil {
		return nil
	}
	return f.ExecFn(params)
}

// Undo implements Action.
func (f *ActionFunc) Undo(params Parameters) *status.Status {
	if f.UndoFn == nil {
		return nil
	}
	return f.UndoFn(params)
}

// Name implements NamedAction.
func (f *ActionFunc) Name() string {
	return f.Label
}

// ParameterizedAction binds an action to the raw arguments parsed from an
// instruction. Arguments are substituted against the parameters at call
// time, then passed to the wrapped action in Parameters.Args.
type ParameterizedAction struct {
	action     Action
	name       string
	args       map[string]string
	touchpoint Touchpoint
}

// NewParameterizedAction wraps action. touchpoint may be nil.
func NewParameterizedAction(name string, action Action, args map[string]string, touchpoint Touchpoint) *ParameterizedAction {
	return &ParameterizedAction{
		action:     action,
		name:       name,
		args:       args,
		touchpoint: touchpoint,
	}
}

// Execute substitutes the arguments and runs the wrapped action.
func (p *ParameterizedAction) Execute(params Parameters) *status.Status {
	return p.action.Execute(params.WithArgs(p.resolve(params)))
}

// Undo substitutes the arguments and undoes the wrapped action.
func (p *ParameterizedAction) Undo(params Parameters) *status.Status {
	return p.action.Undo(params.WithArgs(p.resolve(params)))
}

// Name implements NamedAction.
func (p *ParameterizedAction) Name() string {
	return p.name
}

// Touchpoint implements TouchpointAction.
func (p *ParameterizedAction) Touchpoint() Touchpoint {
	return p.touchpoint
}

// Action returns the wrapped action.
func (p *ParameterizedAction) Action() Action {
	return p.action
}

// RawArgs returns the unsubstituted arguments.
func (p *ParameterizedAction) RawArgs() map[string]string {
	out := make(map[string]string, len(p.args))
	for k, v := range p.args {
		out[k] = v
	}
	return out
}

func (p *ParameterizedAction) resolve(params Parameters) map[string]string {
	out := make(map[string]string, len(p.args))
	for k, v := range p.args {
		out[k] = Substitute(v, params)
	}
	return out
}

// Substitute replaces ${name} references with params.Lookup(name). Unknown
// names are left in place.
func Substitute(value string, params Parameters) string {
	if !strings.Contains(value, "${") {
		return value
	}

	var b strings.Builder
	rest := value
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start

		name := rest[start+2 : end]
		b.WriteString(rest[:start])
		if v, ok := params.Lookup(name); ok {
			b.WriteString(v)
		} else {
			b.WriteString(rest[start : end+1])
		}
		rest = rest[end+1:]
	}
	return b.String()
}

func (p *ParameterizedAction) String() string {
	return fmt.Sprintf("%s(%v)", p.name, p.args)
}
