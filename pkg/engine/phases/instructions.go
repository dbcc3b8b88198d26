package phases

import (
	"fmt"

	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/metadata"
	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
)

// instructionPhase runs the instructions one side of an operand declares
// for the phase id. The operand scope carries the unit and its touchpoint.
type instructionPhase struct {
	engine.Base
	before   bool
	artifact bool
	problem  string
}

func (p *instructionPhase) unit(op *engine.Operand) *metadata.Unit {
	if p.before {
		return op.Before
	}
	return op.After
}

// IsApplicable implements engine.Applicability.
func (p *instructionPhase) IsApplicable(op *engine.Operand) bool {
	return p.unit(op) != nil
}

// ProblemMessage implements engine.ProblemReporter.
func (p *instructionPhase) ProblemMessage() string {
	return p.problem
}

// Actions parses the unit's instructions for this phase.
func (p *instructionPhase) Actions(op *engine.Operand, registry *engine.ActionRegistry) ([]engine.Action, error) {
	u := p.unit(op)
	text := u.Instruction(p.ID())
	if text == "" {
		return nil, nil
	}
	return engine.ParseInstructions(text, u.TouchpointType, registry)
}

// InitializeOperand binds the unit, its touchpoint and, for phases that
// handle artifacts, the path of the unit's first collected artifact.
func (p *instructionPhase) InitializeOperand(_ *engine.Profile, op *engine.Operand, params engine.Parameters, _ *progress.Monitor) (engine.Parameters, *status.Status) {
	u := p.unit(op)
	params.Unit = u

	if !u.TouchpointType.IsZero() && params.Session != nil {
		tp := params.Session.Registry().Touchpoint(u.TouchpointType)
		if tp == nil {
			st := status.Error(source, fmt.Sprintf("no touchpoint registered for type %s of %s", u.TouchpointType, u), nil)
			st.Code = CodeNoTouchpoint
			return params, st
		}
		params.Touchpoint = tp
	}

	if p.artifact && hasArtifacts(u) && params.DataDir != "" {
		params = params.With(engine.ParamArtifact, ArtifactPath(params.DataDir, u.Artifacts[0]))
	}
	return params, nil
}

// UnconfigurePhase runs the unconfigure instructions of the units being
// removed.
type UnconfigurePhase struct {
	instructionPhase
}

// NewUnconfigure creates the unconfigure phase.
func NewUnconfigure(forced bool) *UnconfigurePhase {
	return &UnconfigurePhase{instructionPhase{
		Base:    engine.MustBase(Unconfigure, 10, forced),
		before:  true,
		problem: "An error occurred while unconfiguring the items to uninstall",
	}}
}

// UninstallPhase runs the uninstall instructions of the units being removed
// and drops them from the profile.
type UninstallPhase struct {
	instructionPhase
}

// NewUninstall creates the uninstall phase.
func NewUninstall(forced bool) *UninstallPhase {
	return &UninstallPhase{instructionPhase{
		Base:     engine.MustBase(Uninstall, 50, forced),
		before:   true,
		artifact: true,
		problem:  "An error occurred while uninstalling",
	}}
}

// CompleteOperand removes the before unit from the profile.
func (p *UninstallPhase) CompleteOperand(profile *engine.Profile, op *engine.Operand, _ engine.Parameters, _ *progress.Monitor) *status.Status {
	profile.RemoveUnit(op.Before)
	return nil
}

// InstallPhase runs the install instructions of the units being added and
// records them in the profile.
type InstallPhase struct {
	instructionPhase
}

// NewInstall creates the install phase.
func NewInstall() *InstallPhase {
	return &InstallPhase{instructionPhase{
		Base:     engine.MustBase(Install, 50, false),
		artifact: true,
		problem:  "An error occurred while installing the items",
	}}
}

// CompleteOperand adds the after unit to the profile.
func (p *InstallPhase) CompleteOperand(profile *engine.Profile, op *engine.Operand, _ engine.Parameters, _ *progress.Monitor) *status.Status {
	profile.AddUnit(op.After)
	return nil
}

// ConfigurePhase runs the configure instructions of the units being added.
type ConfigurePhase struct {
	instructionPhase
}

// NewConfigure creates the configure phase.
func NewConfigure() *ConfigurePhase {
	return &ConfigurePhase{instructionPhase{
		Base:    engine.MustBase(Configure, 10, false),
		problem: "An error occurred while configuring the installed items",
	}}
}
