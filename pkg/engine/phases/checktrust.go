package phases

import (
	"fmt"
	"os"

	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/progress"
	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/telemetry"
	"github.com/openfroyo/provengine/pkg/trust"
)

const checkerKey = "checkTrust.checker"

// CheckTrustPhase verifies the collected artifacts of every unit being
// installed. The trust service, trust stores and unsigned content policy
// are looked up in the agent under engine.ServiceTrust,
// engine.ServiceTrustStores and engine.ServiceUnsigned.
type CheckTrustPhase struct {
	engine.Base
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewCheckTrust creates the checkTrust phase.
func NewCheckTrust(opts ...Option) *CheckTrustPhase {
	return newCheckTrust(newOptions(opts))
}

func newCheckTrust(o *options) *CheckTrustPhase {
	return &CheckTrustPhase{
		Base:    engine.MustBase(CheckTrust, 10, false),
		logger:  o.logger.WithPhase(CheckTrust),
		metrics: o.metrics,
	}
}

// IsApplicable implements engine.Applicability.
func (p *CheckTrustPhase) IsApplicable(op *engine.Operand) bool {
	return hasArtifacts(op.After)
}

// ProblemMessage implements engine.ProblemReporter.
func (p *CheckTrustPhase) ProblemMessage() string {
	return "An error occurred while checking the trust of the collected artifacts"
}

// InitializePhase builds the transaction's certificate checker.
func (p *CheckTrustPhase) InitializePhase(_ *progress.Monitor, _ *engine.Profile, params engine.Parameters) (engine.Parameters, *status.Status) {
	opts := []trust.Option{
		trust.WithLogger(p.logger.WithSessionID(sessionID(params))),
		trust.WithMetrics(p.metrics),
	}

	if svc, ok := params.Agent.Service(engine.ServiceTrust).(trust.Service); ok {
		opts = append(opts, trust.WithService(svc))
	}
	if stores, ok := params.Agent.Service(engine.ServiceTrustStores).([]trust.Store); ok {
		opts = append(opts, trust.WithStores(stores...))
	}

	switch v := params.Agent.Service(engine.ServiceUnsigned).(type) {
	case nil:
	case trust.UnsignedPolicy:
		if err := v.Validate(); err != nil {
			return params, invalidSettings(err)
		}
		opts = append(opts, trust.WithPolicy(v))
	case string:
		policy, err := trust.ParseUnsignedPolicy(v)
		if err != nil {
			return params, invalidSettings(err)
		}
		opts = append(opts, trust.WithPolicy(policy))
	default:
		return params, invalidSettings(fmt.Errorf("unexpected unsigned content policy of type %T", v))
	}

	return params.With(checkerKey, trust.NewChecker(opts...)), nil
}

// Actions implements engine.Phase.
func (p *CheckTrustPhase) Actions(*engine.Operand, *engine.ActionRegistry) ([]engine.Action, error) {
	return []engine.Action{&engine.ActionFunc{
		Label:  CheckTrust,
		ExecFn: queueForCheck,
	}}, nil
}

// CompletePhase checks every queued artifact.
func (p *CheckTrustPhase) CompletePhase(m *progress.Monitor, _ *engine.Profile, params engine.Parameters) *status.Status {
	checker, ok := checkerOf(params)
	if !ok {
		return notInitialized(CheckTrust)
	}
	defer m.Done()
	return checker.Start(m.Context())
}

func queueForCheck(params engine.Parameters) *status.Status {
	checker, ok := checkerOf(params)
	if !ok {
		return notInitialized(CheckTrust)
	}
	for _, key := range params.Operand.After.Artifacts {
		path := ArtifactPath(params.DataDir, key)
		if _, err := os.Stat(path); err != nil {
			return status.Error(source, fmt.Sprintf("artifact %s was not collected", key), err)
		}
		checker.Add(path)
	}
	return status.OK()
}

func checkerOf(params engine.Parameters) (*trust.Checker, bool) {
	v, ok := params.Get(checkerKey)
	if !ok {
		return nil, false
	}
	c, ok := v.(*trust.Checker)
	return c, ok
}

func invalidSettings(err error) *status.Status {
	st := status.Error(source, "invalid trust settings", err)
	st.Code = CodeInvalidSettings
	return st
}
