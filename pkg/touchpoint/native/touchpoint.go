// Package native provides the native touchpoint: file system and profile
// actions that need nothing beyond the local operating system.
//
// Register binds the touchpoint and its actions to an action registry:
//
//	tp, err := native.Register(registry, native.WithLogger(logger))
//
// after which units of touchpoint type "native" may use the bare names
//
//	mkdir(path:...)            rmdir(path:...)
//	copy(source:...,target:...[,overwrite:true])
//	remove(path:...)           chmod(path:...,permissions:755)
//	setProperty(key:...,value:...)
//	script(file:...) or script(source:...)
//
// Every action can be undone. Removed and overwritten files are moved to a
// backup directory below the profile data directory; call Commit once the
// transaction is over to discard them.
package native

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/metadata"
	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/telemetry"
)

const source = "native"

// TypeID is the touchpoint type id of the native touchpoint.
const TypeID = "native"

// Type is the touchpoint type of the native touchpoint.
var Type = metadata.TouchpointType{ID: TypeID, Version: "1.0.0"}

// Parameter names added by the touchpoint.
const (
	ParamBackupDir     = "native.backupDir"
	ParamInstallFolder = "installFolder"
)

// DefaultScriptTimeout bounds the run time of a script action.
const DefaultScriptTimeout = 30 * time.Second

// Touchpoint is the native touchpoint.
type Touchpoint struct {
	engine.BaseTouchpoint
	logger        *telemetry.Logger
	scriptTimeout time.Duration
}

// Option configures the touchpoint.
type Option func(*Touchpoint)

// WithLogger sets the touchpoint logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(t *Touchpoint) {
		t.logger = logger
	}
}

// WithScriptTimeout bounds the run time of script actions.
func WithScriptTimeout(d time.Duration) Option {
	return func(t *Touchpoint) {
		t.scriptTimeout = d
	}
}

// New creates the touchpoint without registering it.
func New(opts ...Option) *Touchpoint {
	t := &Touchpoint{
		BaseTouchpoint: engine.BaseTouchpoint{TouchpointType: Type},
		scriptTimeout:  DefaultScriptTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.scriptTimeout <= 0 {
		t.scriptTimeout = DefaultScriptTimeout
	}
	t.logger = telemetry.OrNop(t.logger).NewComponentLogger("touchpoint.native")
	return t
}

// Register creates the touchpoint and registers it and its actions.
func Register(registry *engine.ActionRegistry, opts ...Option) (*Touchpoint, error) {
	t := New(opts...)
	if err := registry.RegisterTouchpoint(t); err != nil {
		return nil, err
	}
	for name, factory := range t.actions() {
		if err := registry.Register(TypeID, name, factory); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Touchpoint) actions() map[string]engine.ActionFactory {
	return map[string]engine.ActionFactory{
		"mkdir":       func() engine.Action { return &mkdirAction{} },
		"rmdir":       func() engine.Action { return &rmdirAction{} },
		"copy":        func() engine.Action { return &copyAction{} },
		"remove":      func() engine.Action { return &removeAction{} },
		"chmod":       func() engine.Action { return &chmodAction{} },
		"setProperty": func() engine.Action { return &setPropertyAction{} },
		"script":      func() engine.Action { return &scriptAction{tp: t} },
	}
}

// InitializePhase binds the backup directory of the session.
func (t *Touchpoint) InitializePhase(_ *progress.Monitor, _ *engine.Profile, phaseID string, params engine.Parameters) (engine.Parameters, *status.Status) {
	dir := BackupDir(params.DataDir, sessionID(params))
	t.logger.WithPhase(phaseID).Debugf("using backup directory %s", dir)
	return params.With(ParamBackupDir, dir), nil
}

// InitializeOperand exposes the profile's installFolder property.
func (t *Touchpoint) InitializeOperand(profile *engine.Profile, params engine.Parameters) (engine.Parameters, *status.Status) {
	if _, ok := params.Get(ParamInstallFolder); ok {
		return params, nil
	}
	if folder, ok := profile.Property(ParamInstallFolder); ok {
		return params.With(ParamInstallFolder, folder), nil
	}
	return params, nil
}

// BackupDir is the directory holding the backups of a session.
func BackupDir(dataDir, sessionID string) string {
	if dataDir == "" {
		dataDir = filepath.Join(os.TempDir(), "provengine")
	}
	return filepath.Join(dataDir, "backup", sessionID)
}

// Commit discards the backups of a finished session.
func Commit(dataDir, sessionID string) error {
	if err := os.RemoveAll(BackupDir(dataDir, sessionID)); err != nil {
		return fmt.Errorf("failed to discard backups of session %s: %w", sessionID, err)
	}
	return nil
}

func sessionID(params engine.Parameters) string {
	if params.Session == nil {
		return "default"
	}
	return params.Session.ID()
}

// args returns the named action arguments, failing when one is missing or empty.
func args(params engine.Parameters, action string, names ...string) ([]string, *status.Status) {
	values := make([]string, len(names))
	for i, name := range names {
		v, ok := params.Arg(name)
		if !ok || v == "" {
			return nil, status.Errorf(source, "%s: missing argument %q", action, name)
		}
		values[i] = v
	}
	return values, nil
}

func backupDir(params engine.Parameters) string {
	if v, ok := params.Get(ParamBackupDir); ok {
		if dir, ok := v.(string); ok && dir != "" {
			return dir
		}
	}
	return BackupDir(params.DataDir, sessionID(params))
}
