package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/provengine/pkg/metadata"
)

// ActionFactory creates a fresh action instance. Every parsed instruction
// gets its own instance so that mementos are never shared.
type ActionFactory func() Action

// ActionRegistry maps action names to factories and touchpoint types to
// touchpoints. It is safe for concurrent use.
type ActionRegistry struct {
	mu          sync.RWMutex
	actions     map[string]ActionFactory
	touchpoints map[string]Touchpoint
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{
		actions:     make(map[string]ActionFactory),
		touchpoints: make(map[string]Touchpoint),
	}
}

// RegisterGlobal registers an action usable from any touchpoint type.
func (r *ActionRegistry) RegisterGlobal(name string, factory ActionFactory) error {
	if name == "" || factory == nil {
		return NewValidationError("action name and factory are required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; exists {
		return NewValidationError(fmt.Sprintf("action %q already registered", name), nil)
	}
	r.actions[name] = factory
	return nil
}

// Register registers an action owned by touchpoint type tp. It resolves as
// "<tp>.<name>" and, for units of that type, as the bare name.
func (r *ActionRegistry) Register(tp, name string, factory ActionFactory) error {
	if tp == "" {
		return r.RegisterGlobal(name, factory)
	}
	return r.RegisterGlobal(tp+"."+name, factory)
}

// RegisterTouchpoint makes tp available for its type id.
func (r *ActionRegistry) RegisterTouchpoint(tp Touchpoint) error {
	id := tp.Type().ID
	if id == "" {
		return NewValidationError("touchpoint type id is required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.touchpoints[id]; exists {
		return NewValidationError(fmt.Sprintf("touchpoint %q already registered", id), nil)
	}
	r.touchpoints[id] = tp
	return nil
}

// Touchpoint returns the touchpoint registered for t, or nil.
func (r *ActionRegistry) Touchpoint(t metadata.TouchpointType) Touchpoint {
	if t.IsZero() {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.touchpoints[t.ID]
}

// Resolve finds the factory for name as seen from a unit of type tpType.
// A qualified name is tried as is, then "<tpType>.<name>", then the global
// name. The returned name is the qualified name that matched.
func (r *ActionRegistry) Resolve(name string, tpType metadata.TouchpointType) (ActionFactory, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if strings.Contains(name, ".") {
		if f, ok := r.actions[name]; ok {
			return f, name, nil
		}
	}
	if !tpType.IsZero() {
		qualified := tpType.ID + "." + name
		if f, ok := r.actions[qualified]; ok {
			return f, qualified, nil
		}
	}
	if f, ok := r.actions[name]; ok {
		return f, name, nil
	}
	return nil, "", NewError(ErrorClassAction, fmt.Sprintf("no action found for %q", name), ErrUnknownAction).
		WithAction(name).
		WithCode(ErrCodeUnknownAction)
}

// touchpointFor returns the touchpoint owning a qualified action name.
func (r *ActionRegistry) touchpointFor(qualified string) Touchpoint {
	idx := strings.LastIndex(qualified, ".")
	if idx <= 0 {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.touchpoints[qualified[:idx]]
}

// Actions returns the registered action names, sorted.
func (r *ActionRegistry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
