package phases

import (
	"fmt"
	"os"

	"github.com/openfroyo/provengine/pkg/download"
	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/telemetry"
)

const managerKey = "collect.manager"

// CollectPhase queues the artifacts of every unit being installed and
// downloads them once all operands have been visited.
type CollectPhase struct {
	engine.Base
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewCollect creates the collect phase.
func NewCollect(opts ...Option) *CollectPhase {
	return newCollect(newOptions(opts))
}

func newCollect(o *options) *CollectPhase {
	return &CollectPhase{
		Base:    engine.MustBase(Collect, 100, false),
		logger:  o.logger.WithPhase(Collect),
		metrics: o.metrics,
	}
}

// Work implements engine.WorkSplitter. Downloading happens in the post stage.
func (p *CollectPhase) Work() (int, int, int) {
	return 1000, 1000, 10000
}

// IsApplicable implements engine.Applicability.
func (p *CollectPhase) IsApplicable(op *engine.Operand) bool {
	return hasArtifacts(op.After)
}

// InitializePhase creates the transaction's download manager.
func (p *CollectPhase) InitializePhase(_ *progress.Monitor, _ *engine.Profile, params engine.Parameters) (engine.Parameters, *status.Status) {
	var src download.RepositorySource
	if params.Context != nil {
		src = params.Context
	}
	mgr := download.NewManager(src,
		download.WithLogger(p.logger.WithSessionID(sessionID(params))),
		download.WithMetrics(p.metrics),
	)
	return params.With(managerKey, mgr), nil
}

// Actions implements engine.Phase.
func (p *CollectPhase) Actions(*engine.Operand, *engine.ActionRegistry) ([]engine.Action, error) {
	return []engine.Action{&collectAction{logger: p.logger}}, nil
}

// CompletePhase downloads everything queued.
func (p *CollectPhase) CompletePhase(m *progress.Monitor, _ *engine.Profile, params engine.Parameters) *status.Status {
	mgr, ok := managerOf(params)
	if !ok {
		return notInitialized(Collect)
	}
	pending := len(mgr.Pending())
	st := mgr.Start(m)
	if pending > 0 {
		p.logger.WithSessionID(sessionID(params)).
			WithField("severity", st.Severity.String()).
			Infof("collected %d artifacts", pending)
	}
	return st
}

// collectAction queues the artifacts of the operand's after unit that are
// not present yet. Undo removes the files it queued.
type collectAction struct {
	engine.Memento
	logger *telemetry.Logger
}

const queuedKey = "queued"

func (a *collectAction) Name() string { return Collect }

func (a *collectAction) Execute(params engine.Parameters) *status.Status {
	mgr, ok := managerOf(params)
	if !ok {
		return notInitialized(Collect)
	}
	if params.DataDir == "" {
		st := status.Error(source, fmt.Sprintf("no data directory to collect the artifacts of %s", params.Operand.After), nil)
		st.Code = CodeNoDataDir
		return st
	}

	var queued []string
	for _, key := range params.Operand.After.Artifacts {
		dest := ArtifactPath(params.DataDir, key)
		if _, err := os.Stat(dest); err == nil {
			a.logger.Debugf("artifact %s already collected", key)
			continue
		}
		if err := mgr.Add(download.NewRequest(key, dest)); err != nil {
			return status.Error(source, fmt.Sprintf("failed to queue %s", key), err)
		}
		queued = append(queued, dest)
	}
	a.Put(queuedKey, queued)
	return status.OK()
}

func (a *collectAction) Undo(engine.Parameters) *status.Status {
	v, ok := a.Get(queuedKey)
	if !ok {
		return status.OK()
	}
	a.Remove(queuedKey)

	result := status.NewMulti(source, "remove collected artifacts")
	for _, path := range v.([]string) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			result.Add(status.Warning(source, fmt.Sprintf("failed to remove %s", path), err))
		}
	}
	return result
}

func managerOf(params engine.Parameters) (*download.Manager, bool) {
	v, ok := params.Get(managerKey)
	if !ok {
		return nil, false
	}
	mgr, ok := v.(*download.Manager)
	return mgr, ok
}

func notInitialized(phase string) *status.Status {
	st := status.Errorf(source, "%s phase was not initialized", phase)
	st.Code = CodeNotInitialized
	return st
}

func sessionID(params engine.Parameters) string {
	if params.Session == nil {
		return ""
	}
	return params.Session.ID()
}
