package stores

import (
	"context"
	"time"

	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/metadata"
	"github.com/openfroyo/provengine/pkg/status"
)

// SeverityRunning marks a session that has not finished.
const SeverityRunning = "running"

// Session is the persisted record of one provisioning transaction.
type Session struct {
	ID         string     `json:"id"`
	ProfileID  string     `json:"profile_id"`
	Operands   int        `json:"operands"`
	Severity   string     `json:"severity"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the session has ended.
func (s *Session) Finished() bool {
	return s.FinishedAt != nil
}

// Event is a persisted trace event.
type Event struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"session_id"`
	Seq        int              `json:"seq"`
	Kind       engine.EventKind `json:"kind"`
	Phase      string           `json:"phase"`
	Operand    string           `json:"operand,omitempty"`
	Action     string           `json:"action,omitempty"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// Diagnostic is a persisted diagnostic status. Details holds the full
// status tree as JSON.
type Diagnostic struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Severity   string    `json:"severity"`
	Source     string    `json:"source,omitempty"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message"`
	Error      *string   `json:"error,omitempty"`
	Details    string    `json:"details"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ProfileState is the persisted contents of a profile.
type ProfileState struct {
	ID            string            `json:"id"`
	Properties    map[string]string `json:"properties"`
	Units         []*metadata.Unit  `json:"units"`
	Hash          string            `json:"hash"` // SHA256 of properties and units
	LastSessionID string            `json:"last_session_id"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Profile rebuilds an engine profile from the state.
func (p *ProfileState) Profile() *engine.Profile {
	profile := engine.NewProfile(p.ID, p.Properties)
	for _, u := range p.Units {
		profile.AddUnit(u)
	}
	return profile
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.TraceSink
	engine.SessionRecorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Session operations
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, profileID string, limit, offset int) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// Trace operations
	ListEvents(ctx context.Context, sessionID string) ([]*Event, error)
	ListDiagnostics(ctx context.Context, sessionID string, minSeverity status.Severity) ([]*Diagnostic, error)

	// Profile operations
	SaveProfile(ctx context.Context, profile *engine.Profile, sessionID string) error
	LoadProfile(ctx context.Context, id string) (*ProfileState, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

var _ Store = (*SQLiteStore)(nil)
