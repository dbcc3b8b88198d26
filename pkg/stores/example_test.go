package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/status"
	"github.com/openfroyo/provengine/pkg/stores"
)

func openMemoryStore(ctx context.Context) *stores.SQLiteStore {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	return store
}

// The store is usually handed to the engine with engine.WithSink. Here a
// session is recorded by hand, the way the engine reports one.
func ExampleSQLiteStore() {
	ctx := context.Background()
	store := openMemoryStore(ctx)
	defer store.Close()

	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_ = store.StartSession(ctx, engine.SessionInfo{ID: "s-1", ProfileID: "webserver", Operands: 2, Started: started})
	for i, phase := range []string{"collect", "install"} {
		_ = store.RecordEvent(ctx, engine.TraceEvent{
			ID:        fmt.Sprintf("e-%d", i),
			SessionID: "s-1",
			Seq:       i + 1,
			Kind:      engine.EventPhaseEnter,
			Phase:     phase,
			Time:      started.Add(time.Duration(i) * time.Second),
		})
	}
	_ = store.FinishSession(ctx, "s-1", status.SeverityOK, started.Add(3*time.Second))

	sessions, err := store.ListSessions(ctx, "webserver", 10, 0)
	if err != nil {
		log.Fatal(err)
	}
	for _, s := range sessions {
		events, _ := store.ListEvents(ctx, s.ID)
		fmt.Printf("%s %s finished=%v\n", s.ID, s.Severity, s.Finished())
		for _, e := range events {
			fmt.Println("-", e.Kind, e.Phase)
		}
	}
	// Output:
	// s-1 ok finished=true
	// - phase_enter collect
	// - phase_enter install
}

func ExampleSQLiteStore_ListDiagnostics() {
	ctx := context.Background()
	store := openMemoryStore(ctx)
	defer store.Close()

	_ = store.StartSession(ctx, engine.SessionInfo{ID: "s-1", ProfileID: "webserver", Started: time.Now()})
	_ = store.RecordDiagnostic(ctx, "s-1", status.Info("phase.collect", "artifact already present", nil))
	_ = store.RecordDiagnostic(ctx, "s-1", status.Warning("phase.checkTrust", "unsigned content accepted", nil))

	diags, err := store.ListDiagnostics(ctx, "s-1", status.SeverityWarning)
	if err != nil {
		log.Fatal(err)
	}
	for _, d := range diags {
		fmt.Println(d.Severity, d.Source, d.Message)
	}
	// Output: warning phase.checkTrust unsigned content accepted
}

// A profile saved after one run is the starting point of the next.
func ExampleSQLiteStore_LoadProfile() {
	ctx := context.Background()
	store := openMemoryStore(ctx)
	defer store.Close()

	profile := engine.NewProfile("webserver", map[string]string{"installFolder": "/opt/web"})
	if err := store.SaveProfile(ctx, profile, "s-1"); err != nil {
		log.Fatal(err)
	}

	state, err := store.LoadProfile(ctx, "webserver")
	if err != nil {
		log.Fatal(err)
	}
	folder, _ := state.Profile().Property("installFolder")
	fmt.Println(state.ID, folder)
	// Output: webserver /opt/web
}
