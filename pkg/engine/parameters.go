package engine

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/openfroyo/provengine/pkg/metadata"
	"github.com/openfroyo/provengine/pkg/progress"
)

// Well-known parameter names, as seen by ${name} substitution.
const (
	ParamPhaseID     = "phaseId"
	ParamProfileID   = "profileId"
	ParamDataDir     = "profileDataDirectory"
	ParamForced      = "forced"
	ParamUnitID      = "unitId"
	ParamUnitVersion = "unitVersion"
	ParamArtifact    = "artifact"
)

// Parameters is the immutable parameter snapshot handed to hooks and actions.
// Each scope (phase, operand, touchpoint) builds a new value; nothing mutates
// a Parameters after handing it off. The typed fields cover the keys the
// engine owns, and Extra values carry touchpoint- or phase-specific keys.
type Parameters struct {
	Profile *Profile
	DataDir string
	Context *ProvisioningContext
	PhaseID string
	Forced  bool
	Agent   *Agent
	Session *Session

	// Operand scope. Unset in phase-scoped parameters.
	Operand    *Operand
	Unit       *metadata.Unit
	Touchpoint Touchpoint

	// Executor is set only for operands with an after unit.
	Executor *ActionExecutor

	// Monitor is the progress scope of the current operand.
	Monitor *progress.Monitor

	// Args holds the substituted arguments of the action being run.
	Args map[string]string

	extra map[string]interface{}
}

// With returns a copy of p with key bound to value.
func (p Parameters) With(key string, value interface{}) Parameters {
	next := make(map[string]interface{}, len(p.extra)+1)
	for k, v := range p.extra {
		next[k] = v
	}
	next[key] = value
	p.extra = next
	return p
}

// WithArgs returns a copy of p carrying action arguments.
func (p Parameters) WithArgs(args map[string]string) Parameters {
	p.Args = args
	return p
}

// Get returns an extra value.
func (p Parameters) Get(key string) (interface{}, bool) {
	v, ok := p.extra[key]
	return v, ok
}

// Value returns Lookup(key), or "" when key is unknown.
func (p Parameters) Value(key string) string {
	v, ok := p.Lookup(key)
	if !ok {
		return ""
	}
	return v
}

// Arg returns an action argument.
func (p Parameters) Arg(name string) (string, bool) {
	v, ok := p.Args[name]
	return v, ok
}

// Keys returns the extra keys, sorted.
func (p Parameters) Keys() []string {
	keys := make([]string, 0, len(p.extra))
	for k := range p.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup resolves name for ${name} substitution. Action arguments win over
// extra values, which win over the engine's well-known names.
func (p Parameters) Lookup(name string) (string, bool) {
	if v, ok := p.Args[name]; ok {
		return v, true
	}
	if v, ok := p.extra[name]; ok {
		switch val := v.(type) {
		case string:
			return val, true
		case fmt.Stringer:
			return val.String(), true
		case bool:
			return strconv.FormatBool(val), true
		case int:
			return strconv.Itoa(val), true
		default:
			return "", false
		}
	}

	switch name {
	case ParamPhaseID:
		return p.PhaseID, p.PhaseID != ""
	case ParamProfileID:
		return p.Profile.ID(), p.Profile != nil
	case ParamDataDir:
		return p.DataDir, p.DataDir != ""
	case ParamForced:
		return strconv.FormatBool(p.Forced), true
	case ParamUnitID:
		if p.Unit != nil {
			return p.Unit.ID, true
		}
	case ParamUnitVersion:
		if p.Unit != nil {
			return p.Unit.Version, true
		}
	}
	return "", false
}

// overlay returns o extended with the extra values of p that o lacks.
// Typed fields always come from o.
func (p Parameters) overlay(o Parameters) Parameters {
	merged := make(map[string]interface{}, len(p.extra)+len(o.extra))
	for k, v := range p.extra {
		merged[k] = v
	}
	for k, v := range o.extra {
		merged[k] = v
	}
	o.extra = merged
	return o
}

// phaseScope strips the operand scope from p.
func (p Parameters) phaseScope() Parameters {
	p.Operand = nil
	p.Unit = nil
	p.Touchpoint = nil
	p.Executor = nil
	p.Monitor = nil
	p.Args = nil
	return p
}
