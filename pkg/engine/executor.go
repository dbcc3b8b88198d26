package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/provengine/pkg/metadata"
	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
)

// ActionExecutor lets a touchpoint or action run further actions inside the
// current operand. Nested actions get the same parameter scoping, fault
// capture and forced-mode handling as the phase's own actions.
type ActionExecutor struct {
	runner   *Runner
	session  *Session
	operand  *Operand
	monitor  *progress.Monitor
	tpType   metadata.TouchpointType
	registry *ActionRegistry
}

func newActionExecutor(r *Runner, s *Session, op *Operand, m *progress.Monitor, tpType metadata.TouchpointType) *ActionExecutor {
	return &ActionExecutor{
		runner:   r,
		session:  s,
		operand:  op,
		monitor:  m,
		tpType:   tpType,
		registry: r.registry,
	}
}

// Action starts building an invocation of the named action.
func (e *ActionExecutor) Action(name string) *Executable {
	return &Executable{
		executor: e,
		name:     name,
		params:   make(map[string]string),
	}
}

// Executable is a pending action invocation.
type Executable struct {
	executor *ActionExecutor
	name     string
	params   map[string]string
}

// WithParam sets an argument and returns x.
func (x *Executable) WithParam(name, value string) *Executable {
	x.params[name] = value
	return x
}

// Instruction renders the invocation in instruction syntax with sorted
// argument names.
func (x *Executable) Instruction() string {
	keys := make([]string, 0, len(x.params))
	for k := range x.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, escape(k)+":"+escape(x.params[k]))
	}
	return fmt.Sprintf("%s(%s)", x.name, strings.Join(args, ","))
}

// Execute parses and runs the invocation.
func (x *Executable) Execute() *status.Status {
	e := x.executor
	instruction := x.Instruction()

	actions, err := ParseInstructions(instruction, e.tpType, e.registry)
	if err != nil {
		return status.Error(source, fmt.Sprintf("could not parse %s", instruction), err)
	}
	if len(actions) != 1 {
		return status.OK()
	}

	result := status.NewMulti(source, fmt.Sprintf("execution of %s", x.name))
	e.runner.executeAction(result, actions[0], e.session, e.operand, e.monitor)
	return result
}
