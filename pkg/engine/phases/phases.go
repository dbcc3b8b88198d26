// Package phases provides the phases of a standard provisioning transaction:
// artifacts are collected and checked for trust, the old units are
// unconfigured and uninstalled, and the new units are installed and
// configured.
//
// The instruction-driven phases run the instruction text a unit declares
// under the phase id, for example
//
//	unit.Instructions["install"] = "mkdir(path:${installFolder}/lib);copy(source:${artifact},target:${installFolder}/lib)"
//
// with names resolved through the engine's ActionRegistry.
package phases

import (
	"path/filepath"

	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/metadata"
	"github.com/openfroyo/provengine/pkg/telemetry"
)

const source = "phases"

// Phase ids of the default phase set, in execution order.
const (
	Collect     = "collect"
	CheckTrust  = "checkTrust"
	Unconfigure = "unconfigure"
	Uninstall   = "uninstall"
	Install     = "install"
	Configure   = "configure"
)

// Status codes produced by the phases.
const (
	CodeNotInitialized  = "PHASE_NOT_INITIALIZED"
	CodeNoDataDir       = "NO_DATA_DIRECTORY"
	CodeNoTouchpoint    = "TOUCHPOINT_NOT_FOUND"
	CodeInvalidSettings = "INVALID_TRUST_SETTINGS"
)

type options struct {
	forcedUninstall bool
	logger          *telemetry.Logger
	metrics         *telemetry.Metrics
}

// Option configures the phases of a phase set.
type Option func(*options)

// WithForcedUninstall makes the unconfigure and uninstall phases continue
// past action failures.
func WithForcedUninstall(forced bool) Option {
	return func(o *options) {
		o.forcedUninstall = forced
	}
}

// WithLogger sets the logger used by the collect and trust phases.
func WithLogger(logger *telemetry.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics collector of the download manager and the
// certificate checker.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = telemetry.OrNop(o.logger).NewComponentLogger(source)
	return o
}

// DefaultPhaseSet returns collect(100), checkTrust(10), unconfigure(10),
// uninstall(50), install(50) and configure(10).
func DefaultPhaseSet(opts ...Option) (*engine.PhaseSet, error) {
	o := newOptions(opts)
	return engine.NewPhaseSet(
		newCollect(o),
		newCheckTrust(o),
		NewUnconfigure(o.forcedUninstall),
		NewUninstall(o.forcedUninstall),
		NewInstall(),
		NewConfigure(),
	)
}

// ArtifactPath is where a collected artifact is stored below a profile's
// data directory.
func ArtifactPath(dataDir string, key metadata.ArtifactKey) string {
	return filepath.Join(dataDir, "artifacts", key.Classifier, key.Filename())
}

func hasArtifacts(u *metadata.Unit) bool {
	return u != nil && len(u.Artifacts) > 0
}
