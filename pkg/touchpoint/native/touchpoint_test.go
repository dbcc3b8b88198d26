package native

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/engine/phases"
	"github.com/openfroyo/provengine/pkg/metadata"
	"github.com/openfroyo/provengine/pkg/status"
)

type nativeFixture struct {
	engine  *engine.Engine
	root    string
	install string
	profile *engine.Profile
}

func newNativeFixture(t *testing.T, opts ...Option) *nativeFixture {
	t.Helper()
	reg := engine.NewActionRegistry()
	if _, err := Register(reg, opts...); err != nil {
		t.Fatalf("Failed to register native touchpoint: %v", err)
	}
	root := t.TempDir()
	install := filepath.Join(t.TempDir(), "install")
	if err := os.Mkdir(install, 0755); err != nil {
		t.Fatal(err)
	}
	return &nativeFixture{
		engine:  engine.New(engine.WithRegistry(reg), engine.WithDataRoot(root)),
		root:    root,
		install: install,
		profile: engine.NewProfile("p1", map[string]string{ParamInstallFolder: install}),
	}
}

func (f *nativeFixture) run(t *testing.T, phase engine.Phase, op *engine.Operand) *engine.Report {
	t.Helper()
	set, err := engine.NewPhaseSet(phase)
	if err != nil {
		t.Fatalf("Failed to create phase set: %v", err)
	}
	return f.engine.Perform(context.Background(), engine.Request{
		Profile:  f.profile,
		PhaseSet: set,
		Operands: []*engine.Operand{op},
	})
}

func nativeUnit(phase, instructions string) *metadata.Unit {
	return &metadata.Unit{
		ID:             "app",
		Version:        "1.0.0",
		TouchpointType: Type,
		Instructions:   map[string]string{phase: instructions},
	}
}

func TestRegister(t *testing.T) {
	reg := engine.NewActionRegistry()
	tp, err := Register(reg)
	if err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if reg.Touchpoint(Type) != tp {
		t.Error("Expected touchpoint to be registered for its type")
	}
	for _, name := range []string{"mkdir", "rmdir", "copy", "remove", "chmod", "setProperty", "script"} {
		if _, qualified, err := reg.Resolve(name, Type); err != nil || qualified != TypeID+"."+name {
			t.Errorf("Expected %s to resolve to %s.%s, got %q (%v)", name, TypeID, name, qualified, err)
		}
	}
	if _, err := Register(reg); err == nil {
		t.Error("Expected second registration to fail")
	}
}

func TestInstallWithNativeActions(t *testing.T) {
	f := newNativeFixture(t)
	src := filepath.Join(t.TempDir(), "app.jar")
	writeFile(t, src, "jar")

	unit := nativeUnit(phases.Install,
		"mkdir(path:${installFolder}/lib);"+
			"copy(source:"+src+",target:${installFolder}/lib/app.jar);"+
			"chmod(path:${installFolder}/lib/app.jar,permissions:600);"+
			"setProperty(key:app.home,value:${installFolder}/lib)")
	op, _ := engine.NewOperand(nil, unit)

	report := f.run(t, phases.NewInstall(), op)
	if !report.Status.IsOK() {
		t.Fatalf("Expected OK, got %s", report.Status)
	}

	target := filepath.Join(f.install, "lib", "app.jar")
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("Expected %s to be installed: %v", target, err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %o", info.Mode().Perm())
	}
	if v, _ := f.profile.Property("app.home"); v != filepath.Join(f.install, "lib") {
		t.Errorf("Expected app.home property, got %q", v)
	}
	if !f.profile.Contains(unit) {
		t.Error("Expected unit to be installed in the profile")
	}
}

func TestFailedInstallRollsBackNativeActions(t *testing.T) {
	f := newNativeFixture(t)
	src := filepath.Join(t.TempDir(), "app.jar")
	writeFile(t, src, "jar")
	existing := filepath.Join(f.install, "old.txt")
	writeFile(t, existing, "old")

	unit := nativeUnit(phases.Install,
		"copy(source:"+src+",target:${installFolder}/app.jar);"+
			"remove(path:${installFolder}/old.txt);"+
			"chmod(path:${installFolder}/missing,permissions:755)")
	op, _ := engine.NewOperand(nil, unit)

	report := f.run(t, phases.NewInstall(), op)
	if report.Status.Severity != status.SeverityError {
		t.Fatalf("Expected ERROR, got %s", report.Status)
	}
	if report.Rollback == nil || report.Rollback.Matches(status.SeverityError) {
		t.Fatalf("Expected a clean rollback, got %v", report.Rollback)
	}
	if _, err := os.Stat(filepath.Join(f.install, "app.jar")); !os.IsNotExist(err) {
		t.Errorf("Expected copied file to be removed, got %v", err)
	}
	if data, err := os.ReadFile(existing); err != nil || string(data) != "old" {
		t.Errorf("Expected removed file to be restored, got %q (%v)", data, err)
	}

	if err := Commit(report.Session.DataDir(), report.Session.ID()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if _, err := os.Stat(BackupDir(report.Session.DataDir(), report.Session.ID())); !os.IsNotExist(err) {
		t.Errorf("Expected backups to be discarded, got %v", err)
	}
}

func TestScriptRunsActions(t *testing.T) {
	f := newNativeFixture(t)
	script := filepath.Join(t.TempDir(), "install.star")
	writeFile(t, script, `
home = params["installFolder"] + "/bin"
run("mkdir", path=home)
run("setProperty", key="scripted", value=params["unitId"] + "-" + params["unitVersion"])
print("installed into " + home)
`)

	unit := nativeUnit(phases.Install, "script(file:"+script+")")
	op, _ := engine.NewOperand(nil, unit)

	report := f.run(t, phases.NewInstall(), op)
	if !report.Status.IsOK() {
		t.Fatalf("Expected OK, got %s", report.Status)
	}
	if info, err := os.Stat(filepath.Join(f.install, "bin")); err != nil || !info.IsDir() {
		t.Errorf("Expected script to create bin: %v", err)
	}
	if v, _ := f.profile.Property("scripted"); v != "app-1.0.0" {
		t.Errorf("Expected scripted=app-1.0.0, got %q", v)
	}

	executed := 0
	for _, e := range report.Session.Trace() {
		if e.Kind == engine.EventActionExecute {
			executed++
		}
	}
	if executed != 3 {
		t.Errorf("Expected script and two nested actions in the trace, got %d", executed)
	}
}

func TestScriptRollback(t *testing.T) {
	f := newNativeFixture(t)
	script := filepath.Join(t.TempDir(), "install.star")
	writeFile(t, script, `run("mkdir", path=params["installFolder"] + "/bin")`)

	unit := nativeUnit(phases.Install, "script(file:"+script+");rmdir(path:${installFolder})")
	op, _ := engine.NewOperand(nil, unit)

	report := f.run(t, phases.NewInstall(), op)
	if report.Status.Severity != status.SeverityError {
		t.Fatalf("Expected ERROR from rmdir of a non-empty directory, got %s", report.Status)
	}
	if _, err := os.Stat(filepath.Join(f.install, "bin")); !os.IsNotExist(err) {
		t.Errorf("Expected the nested mkdir to be undone, got %v", err)
	}
}

func TestScriptFailures(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"syntax error", "run(("},
		{"failing nested action", `run("chmod", path="/nonexistent/file", permissions="755")`},
		{"unknown action", `run("nope")`},
		{"explicit fail", `fail("refusing to install")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newNativeFixture(t)
			script := filepath.Join(t.TempDir(), "s.star")
			writeFile(t, script, tt.script)

			op, _ := engine.NewOperand(nil, nativeUnit(phases.Install, "script(file:"+script+")"))
			report := f.run(t, phases.NewInstall(), op)
			if report.Status.Severity != status.SeverityError {
				t.Errorf("Expected ERROR, got %s", report.Status)
			}
		})
	}
}

func TestScriptTimeout(t *testing.T) {
	f := newNativeFixture(t, WithScriptTimeout(50*time.Millisecond))
	script := filepath.Join(t.TempDir(), "loop.star")
	writeFile(t, script, `
def spin():
    for i in range(1000000000):
        pass
spin()
`)

	op, _ := engine.NewOperand(nil, nativeUnit(phases.Install, "script(file:"+script+")"))
	start := time.Now()
	report := f.run(t, phases.NewInstall(), op)
	if report.Status.Severity != status.SeverityError {
		t.Fatalf("Expected ERROR on timeout, got %s", report.Status)
	}
	if time.Since(start) > 10*time.Second {
		t.Errorf("Expected the script to be interrupted, took %v", time.Since(start))
	}
}

func TestScriptWithoutExecutor(t *testing.T) {
	f := newNativeFixture(t)
	script := filepath.Join(t.TempDir(), "s.star")
	writeFile(t, script, `run("mkdir", path="/tmp/x")`)

	unit := nativeUnit(phases.Uninstall, "script(file:"+script+")")
	f.profile.AddUnit(unit)
	op, _ := engine.NewOperand(unit, nil)

	report := f.run(t, phases.NewUninstall(false), op)
	if report.Status.Severity != status.SeverityError {
		t.Fatalf("Expected ERROR when run() has no executor, got %s", report.Status)
	}
}
