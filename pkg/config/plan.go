package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/metadata"
)

// LoadPlan reads a plan from a .cue file or CUE package directory, or from
// a YAML or JSON file.
func LoadPlan(ctx context.Context, path string) (*Plan, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}

	var plan *Plan
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case info.IsDir() || ext == ".cue":
		plan, err = NewCUEParser().Parse(ctx, []string{path})
	case ext == ".yaml" || ext == ".yml" || ext == ".json":
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			plan, err = ParsePlanYAML(data)
		}
	default:
		return nil, fmt.Errorf("plan %s: unsupported file type %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}

	plan.Source = path
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return plan, nil
}

// ParsePlanYAML decodes a plan from YAML (or JSON) without validating it.
func ParsePlanYAML(data []byte) (*Plan, error) {
	plan := &Plan{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	return plan, nil
}

// Validate checks the plan's fields and that unit keys are unique.
// Operand references are checked by ResolveOperands, since a before unit may come
// from the profile.
func (p *Plan) Validate() error {
	if err := validateStruct(p, p.Source); err != nil {
		return err
	}

	seen := make(map[string]bool, len(p.Units))
	var errs ValidationErrors
	for i, u := range p.Units {
		if seen[u.Key()] {
			errs = append(errs, ValidationError{
				File:    p.Source,
				Path:    fmt.Sprintf("units[%d]", i),
				Message: fmt.Sprintf("duplicate unit %s", u.Key()),
			})
		}
		seen[u.Key()] = true
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Unit returns the plan unit with key id@version.
func (p *Plan) Unit(key string) (*metadata.Unit, bool) {
	for _, u := range p.Units {
		if u.Key() == key {
			return u, true
		}
	}
	return nil, false
}

// ResolveOperands resolves the operand references. After units must be declared
// in the plan; before units may also be installed units of profile, which
// may be nil.
func (p *Plan) ResolveOperands(profile *engine.Profile) ([]*engine.Operand, error) {
	installed := make(map[string]*metadata.Unit)
	if profile != nil {
		for _, u := range profile.Units() {
			installed[u.Key()] = u
		}
	}

	var errs ValidationErrors
	operands := make([]*engine.Operand, 0, len(p.Operands))
	for i, ref := range p.Operands {
		path := fmt.Sprintf("operands[%d]", i)
		var before, after *metadata.Unit
		if ref.Before != "" {
			u, ok := installed[ref.Before]
			if !ok {
				u, ok = p.Unit(ref.Before)
			}
			if !ok {
				errs = append(errs, ValidationError{File: p.Source, Path: path + ".before", Message: fmt.Sprintf("unknown unit %s", ref.Before)})
				continue
			}
			before = u
		}
		if ref.After != "" {
			u, ok := p.Unit(ref.After)
			if !ok {
				errs = append(errs, ValidationError{File: p.Source, Path: path + ".after", Message: fmt.Sprintf("unknown unit %s", ref.After)})
				continue
			}
			after = u.Clone()
		}

		op, err := engine.NewOperand(before, after)
		if err != nil {
			errs = append(errs, ValidationError{File: p.Source, Path: path, Message: err.Error()})
			continue
		}
		operands = append(operands, op)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return operands, nil
}

// TargetProfile returns existing, or a new profile when existing is nil,
// with the plan's profile properties applied.
func (p *Plan) TargetProfile(existing *engine.Profile) *engine.Profile {
	if existing == nil {
		return engine.NewProfile(p.Profile.ID, p.Profile.Properties)
	}
	for k, v := range p.Profile.Properties {
		existing.SetProperty(k, v)
	}
	return existing
}
