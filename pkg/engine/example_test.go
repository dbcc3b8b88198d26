package engine_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/metadata"
	"github.com/openfroyo/provengine/pkg/status"
)

// propertyPhase sets one profile property per operand.
type propertyPhase struct {
	engine.Base
	fail bool
}

func (p *propertyPhase) Actions(op *engine.Operand, _ *engine.ActionRegistry) ([]engine.Action, error) {
	unit := op.Unit()
	actions := []engine.Action{&engine.ActionFunc{
		Label: "setProperty",
		ExecFn: func(params engine.Parameters) *status.Status {
			params.Profile.SetProperty(unit.ID+".version", unit.Version)
			return status.OK()
		},
	}}
	if p.fail {
		actions = append(actions, &engine.ActionFunc{
			Label: "fail",
			ExecFn: func(engine.Parameters) *status.Status {
				return status.Errorf("example", "cannot configure %s", unit.ID)
			},
		})
	}
	return actions, nil
}

func ExampleEngine_Perform() {
	set, err := engine.NewPhaseSet(&propertyPhase{Base: engine.MustBase("configure", 10, false)})
	if err != nil {
		panic(err)
	}
	profile := engine.NewProfile("webserver", nil)
	op, _ := engine.NewOperand(nil, &metadata.Unit{ID: "web", Version: "2.0.0"})

	report := engine.New().Perform(context.Background(), engine.Request{
		Profile:  profile,
		PhaseSet: set,
		Operands: []*engine.Operand{op},
	})

	version, _ := profile.Property("web.version")
	fmt.Println(report.Status.Severity, version)
	// Output: ok 2.0.0
}

func ExampleEngine_Perform_rollback() {
	set, err := engine.NewPhaseSet(&propertyPhase{Base: engine.MustBase("configure", 10, false), fail: true})
	if err != nil {
		panic(err)
	}
	profile := engine.NewProfile("webserver", nil)
	op, _ := engine.NewOperand(nil, &metadata.Unit{ID: "web", Version: "2.0.0"})

	report := engine.New().Perform(context.Background(), engine.Request{
		Profile:  profile,
		PhaseSet: set,
		Operands: []*engine.Operand{op},
	})

	_, kept := profile.Property("web.version")
	fmt.Println(report.Status.Severity, report.Rollback.Severity, kept)
	// Output: error ok false
}

func ExampleParseInstructions() {
	registry := engine.NewActionRegistry()
	for _, name := range []string{"mkdir", "setProperty"} {
		registry.RegisterGlobal(name, func() engine.Action { return &engine.ActionFunc{} })
	}

	actions, err := engine.ParseInstructions(
		"mkdir(path:${installFolder}/lib);setProperty(key:home,value:${installFolder})",
		metadata.NoTouchpoint, registry)
	if err != nil {
		panic(err)
	}
	for _, a := range actions {
		pa := a.(*engine.ParameterizedAction)
		fmt.Println(pa.Name(), pa.RawArgs())
	}
	// Output:
	// mkdir map[path:${installFolder}/lib]
	// setProperty map[key:home value:${installFolder}]
}
