package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openfroyo/provengine/pkg/config"
	"github.com/openfroyo/provengine/pkg/download"
	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/engine/phases"
	"github.com/openfroyo/provengine/pkg/policy"
	"github.com/openfroyo/provengine/pkg/repository"
	"github.com/openfroyo/provengine/pkg/stores"
	"github.com/openfroyo/provengine/pkg/telemetry"
	"github.com/openfroyo/provengine/pkg/touchpoint/native"
	"github.com/openfroyo/provengine/pkg/trust"
)

// environment holds what the commands build from the engine config.
type environment struct {
	cfg          *config.EngineConfig
	telemetry    *telemetry.Telemetry
	store        *stores.SQLiteStore
	trustStores  []trust.Store
	repositories []download.Repository
	stops        []func()
}

func openEnvironment(ctx context.Context) (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	env := &environment{cfg: cfg, telemetry: tel}
	if err := tel.StartMetricsServer(ctx); err != nil {
		env.Close()
		return nil, err
	}

	if !cfg.Store.Disabled {
		if err := env.openStore(ctx); err != nil {
			env.Close()
			return nil, err
		}
	}

	for _, sc := range cfg.Trust.Stores {
		env.trustStores = append(env.trustStores, trust.NewPEMStore(sc.Path, sc.ReadOnly))
	}
	return env, nil
}

func (env *environment) openStore(ctx context.Context) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: env.cfg.Store.Path})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	env.store = store
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (env *environment) logger(component string) *telemetry.Logger {
	return env.telemetry.Logger.NewComponentLogger(component)
}

// openRepositories opens the configured artifact repositories in order.
func (env *environment) openRepositories() error {
	for _, rc := range env.cfg.Repositories {
		opts := []repository.Option{
			repository.WithWorkers(rc.Workers),
			repository.WithLogger(env.logger("repository")),
		}
		if isRemote(rc.Location) {
			repo, err := repository.OpenSFTP(rc.Location, rc.SSH, opts...)
			if err != nil {
				return fmt.Errorf("repository %s: %w", rc.Location, err)
			}
			env.repositories = append(env.repositories, repo)
			env.stops = append(env.stops, repo.Stop)
			continue
		}
		repo, err := repository.NewFileRepository(rc.Location, opts...)
		if err != nil {
			return fmt.Errorf("repository %s: %w", rc.Location, err)
		}
		env.repositories = append(env.repositories, repo)
	}
	return nil
}

// trustService builds the policy-backed trust service. Policies are
// reloaded on change until ctx is done when watching is enabled.
func (env *environment) trustService(ctx context.Context) (*policy.TrustService, error) {
	svc, err := policy.NewTrustService(env.logger("policy").Zerolog(), env.cfg.Trust.Data)
	if err != nil {
		return nil, err
	}
	paths := env.cfg.Trust.Policies
	if len(paths) == 0 {
		return svc, nil
	}
	if err := svc.LoadPolicies(ctx, paths); err != nil {
		return nil, err
	}
	if env.cfg.Trust.WatchPolicies {
		if err := svc.Watch(ctx, paths); err != nil {
			return nil, fmt.Errorf("failed to watch policies: %w", err)
		}
	}
	return svc, nil
}

// newEngine wires the agent services, the native touchpoint and the
// store into an engine.
func (env *environment) newEngine(ctx context.Context) (*engine.Engine, error) {
	if err := env.openRepositories(); err != nil {
		return nil, err
	}
	svc, err := env.trustService(ctx)
	if err != nil {
		return nil, err
	}

	agent := engine.NewAgent()
	agent.RegisterService(engine.ServiceRepositories, download.StaticSource(env.repositories))
	agent.RegisterService(engine.ServiceTrust, svc)
	agent.RegisterService(engine.ServiceTrustStores, env.trustStores)
	agent.RegisterService(engine.ServiceUnsigned, env.cfg.Trust.Unsigned)
	env.stops = append(env.stops, agent.Stop)

	registry := engine.NewActionRegistry()
	if _, err := native.Register(registry,
		native.WithLogger(env.logger("native")),
		native.WithScriptTimeout(env.cfg.ScriptTimeout),
	); err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithRegistry(registry),
		engine.WithAgent(agent),
		engine.WithLogger(env.logger("engine")),
		engine.WithMetrics(env.telemetry.Metrics),
		engine.WithTracer(env.telemetry.Tracer),
		engine.WithDataRoot(env.cfg.DataDir),
	}
	if env.store != nil {
		opts = append(opts, engine.WithSink(env.store))
	}
	return engine.New(opts...), nil
}

func (env *environment) phaseSet(forced bool) (*engine.PhaseSet, error) {
	return phases.DefaultPhaseSet(
		phases.WithForcedUninstall(forced || env.cfg.ForcedUninstall),
		phases.WithLogger(env.logger("phases")),
		phases.WithMetrics(env.telemetry.Metrics),
	)
}

// loadProfile returns the stored state of profile id, or nil when there is
// none or no store.
func (env *environment) loadProfile(ctx context.Context, id string) (*engine.Profile, error) {
	if env.store == nil {
		return nil, nil
	}
	state, err := env.store.LoadProfile(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", id, err)
	}
	return state.Profile(), nil
}

func (env *environment) requireStore() error {
	if env.store == nil {
		return errors.New("the session store is disabled")
	}
	return nil
}

// Close stops repositories and flushes telemetry.
func (env *environment) Close() {
	for i := len(env.stops) - 1; i >= 0; i-- {
		env.stops[i]()
	}
	if env.store != nil {
		env.store.Close()
	}
	if err := env.telemetry.Shutdown(context.Background()); err != nil {
		env.logger("cli").WithError(err).Warn("failed to flush telemetry")
	}
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "sftp://") || strings.HasPrefix(location, "ssh://")
}
