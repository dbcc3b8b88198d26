package native

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/status"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// scriptAction runs a Starlark script given inline (source) or as a file.
// The script sees its action arguments and the well-known parameters in the
// params dict and may call run(name, key=value, ...) to execute another
// action of the unit's touchpoint type. Actions started with run() are
// recorded by the session like any other, so undoing a script undoes them
// through the rollback and the script itself has nothing to undo.
type scriptAction struct {
	tp *Touchpoint
}

func (a *scriptAction) Execute(params engine.Parameters) *status.Status {
	name, script, st := scriptSource(params)
	if st != nil {
		return st
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"run":    runBuiltin(params),
	}
	paramsDict, err := toStarlarkValue(scriptParams(params))
	if err != nil {
		return status.Error(source, "script: invalid parameters", err)
	}
	predeclared["params"] = paramsDict

	log := a.tp.logger.WithField("script", name)
	thread := &starlark.Thread{
		Name: "provengine",
		Print: func(_ *starlark.Thread, msg string) {
			log.Info(msg)
		},
	}

	timeout := a.tp.scriptTimeout
	timer := time.AfterFunc(timeout, func() {
		thread.Cancel(fmt.Sprintf("execution timeout after %v", timeout))
	})
	defer timer.Stop()
	stop := context.AfterFunc(params.Monitor.Context(), func() {
		thread.Cancel("provisioning operation cancelled")
	})
	defer stop()

	startTime := time.Now()
	if _, err := starlark.ExecFile(thread, name, script, predeclared); err != nil {
		if params.Monitor.IsCanceled() {
			return status.Cancel(source, fmt.Sprintf("script %s cancelled", name))
		}
		return status.Error(source, fmt.Sprintf("script %s failed", name), err)
	}
	log.WithField("duration", time.Since(startTime).String()).Debug("script finished")
	return status.OK()
}

func (a *scriptAction) Undo(engine.Parameters) *status.Status {
	return status.OK()
}

func scriptSource(params engine.Parameters) (string, string, *status.Status) {
	if src, ok := params.Arg("source"); ok && src != "" {
		return "inline.star", src, nil
	}
	file, ok := params.Arg("file")
	if !ok || file == "" {
		return "", "", status.Errorf(source, "script: one of %q or %q is required", "source", "file")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", "", status.Error(source, fmt.Sprintf("script: failed to read %s", file), err)
	}
	return file, string(data), nil
}

// scriptParams collects the values visible to a script: the well-known
// parameter names, the extra parameters and the action arguments.
func scriptParams(params engine.Parameters) map[string]interface{} {
	out := make(map[string]interface{})
	names := []string{
		engine.ParamPhaseID, engine.ParamProfileID, engine.ParamDataDir,
		engine.ParamUnitID, engine.ParamUnitVersion,
	}
	names = append(names, params.Keys()...)
	for name := range params.Args {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v, ok := params.Lookup(name); ok {
			out[name] = v
		}
	}
	out[engine.ParamForced] = params.Forced
	return out
}

func runBuiltin(params engine.Parameters) *starlark.Builtin {
	return starlark.NewBuiltin("run", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &name); err != nil {
			return nil, err
		}
		if params.Executor == nil {
			return nil, fmt.Errorf("%s: actions can only be run while installing a unit", b.Name())
		}

		x := params.Executor.Action(name)
		for _, kv := range kwargs {
			key, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("%s: invalid argument name %s", b.Name(), kv[0])
			}
			x.WithParam(key, stringValue(kv[1]))
		}

		st := x.Execute()
		if st.Matches(status.SeverityError | status.SeverityCancel) {
			return nil, fmt.Errorf("%s %s: %w", b.Name(), name, st.AsError())
		}
		return starlark.String(st.Severity.String()), nil
	})
}

func stringValue(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
