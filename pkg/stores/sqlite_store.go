package stores

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/status"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	// Every connection to :memory: opens its own database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

func (s *SQLiteStore) dsn() string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds()),
		"_txlock=immediate",
	}
	if s.cfg.Path != memoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	return s.cfg.Path + "?" + strings.Join(pragmas, "&")
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// StartSession creates the session record. It implements engine.SessionRecorder.
func (s *SQLiteStore) StartSession(ctx context.Context, info engine.SessionInfo) error {
	query := `
		INSERT INTO sessions (id, profile_id, operands, severity, started_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		info.ID,
		info.ProfileID,
		info.Operands,
		SeverityRunning,
		info.Started.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// FinishSession records the final severity of a session. It implements
// engine.SessionRecorder.
func (s *SQLiteStore) FinishSession(ctx context.Context, id string, severity status.Severity, finished time.Time) error {
	query := `
		UPDATE sessions
		SET severity = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, severity.String(), finished.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}

	return expectRow(result, "session", id)
}

// GetSession retrieves a session by ID
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, profile_id, operands, severity, started_at, finished_at
		FROM sessions
		WHERE id = ?
	`

	session := &Session{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.ProfileID,
		&session.Operands,
		&session.Severity,
		&session.StartedAt,
		&session.FinishedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// ListSessions lists sessions, newest first. An empty profileID lists the
// sessions of every profile.
func (s *SQLiteStore) ListSessions(ctx context.Context, profileID string, limit, offset int) ([]*Session, error) {
	query := `
		SELECT id, profile_id, operands, severity, started_at, finished_at
		FROM sessions
		WHERE (? = '' OR profile_id = ?)
		ORDER BY started_at DESC, created_at DESC
		LIMIT ? OFFSET ?
	`

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, profileID, profileID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		session := &Session{}
		err := rows.Scan(
			&session.ID,
			&session.ProfileID,
			&session.Operands,
			&session.Severity,
			&session.StartedAt,
			&session.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// DeleteSession deletes a session with its events and diagnostics.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return expectRow(result, "session", id)
}

// RecordEvent appends a trace event. It implements engine.TraceSink.
func (s *SQLiteStore) RecordEvent(ctx context.Context, event engine.TraceEvent) error {
	query := `
		INSERT INTO events (id, session_id, seq, kind, phase, operand, action, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.SessionID,
		event.Seq,
		string(event.Kind),
		event.Phase,
		event.Operand,
		event.Action,
		event.Time.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	return nil
}

// ListEvents returns the trace of a session in sequence order.
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string) ([]*Event, error) {
	query := `
		SELECT id, session_id, seq, kind, phase, operand, action, recorded_at
		FROM events
		WHERE session_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		var kind string
		err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.Seq,
			&kind,
			&event.Phase,
			&event.Operand,
			&event.Action,
			&event.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Kind = engine.EventKind(kind)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// RecordDiagnostic stores a diagnostic status. It implements engine.TraceSink.
func (s *SQLiteStore) RecordDiagnostic(ctx context.Context, sessionID string, diag *status.Status) error {
	if diag == nil {
		return nil
	}
	details, err := json.Marshal(diag)
	if err != nil {
		return fmt.Errorf("failed to encode diagnostic: %w", err)
	}
	var errMsg *string
	if diag.Err != nil {
		msg := diag.Err.Error()
		errMsg = &msg
	}

	query := `
		INSERT INTO diagnostics (session_id, severity, level, source, code, message, error, details, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		sessionID,
		diag.Severity.String(),
		int(diag.Severity),
		diag.Source,
		diag.Code,
		diag.Message,
		errMsg,
		string(details),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record diagnostic: %w", err)
	}

	return nil
}

// ListDiagnostics returns the diagnostics of a session with at least
// minSeverity, in the order they were recorded.
func (s *SQLiteStore) ListDiagnostics(ctx context.Context, sessionID string, minSeverity status.Severity) ([]*Diagnostic, error) {
	query := `
		SELECT id, session_id, severity, source, code, message, error, details, recorded_at
		FROM diagnostics
		WHERE session_id = ? AND level >= ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, int(minSeverity))
	if err != nil {
		return nil, fmt.Errorf("failed to list diagnostics: %w", err)
	}
	defer rows.Close()

	diags := []*Diagnostic{}
	for rows.Next() {
		diag := &Diagnostic{}
		err := rows.Scan(
			&diag.ID,
			&diag.SessionID,
			&diag.Severity,
			&diag.Source,
			&diag.Code,
			&diag.Message,
			&diag.Error,
			&diag.Details,
			&diag.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic: %w", err)
		}
		diags = append(diags, diag)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating diagnostics: %w", err)
	}

	return diags, nil
}

// SaveProfile stores the current contents of profile, replacing the
// previous state.
func (s *SQLiteStore) SaveProfile(ctx context.Context, profile *engine.Profile, sessionID string) error {
	snap := profile.Snapshot()
	properties, err := json.Marshal(snap.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode profile properties: %w", err)
	}
	units, err := json.Marshal(snap.Units)
	if err != nil {
		return fmt.Errorf("failed to encode profile units: %w", err)
	}
	sum := sha256.New()
	sum.Write(properties)
	sum.Write(units)

	query := `
		INSERT INTO profiles (id, properties, units, hash, last_session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			properties = excluded.properties,
			units = excluded.units,
			hash = excluded.hash,
			last_session_id = excluded.last_session_id,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query,
		profile.ID(),
		string(properties),
		string(units),
		hex.EncodeToString(sum.Sum(nil)),
		sessionID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	return nil
}

// LoadProfile retrieves the stored state of a profile.
func (s *SQLiteStore) LoadProfile(ctx context.Context, id string) (*ProfileState, error) {
	query := `
		SELECT id, properties, units, hash, last_session_id, created_at, updated_at
		FROM profiles
		WHERE id = ?
	`

	state := &ProfileState{}
	var properties, units string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&state.ID,
		&properties,
		&units,
		&state.Hash,
		&state.LastSessionID,
		&state.CreatedAt,
		&state.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if err := json.Unmarshal([]byte(properties), &state.Properties); err != nil {
		return nil, fmt.Errorf("failed to decode profile properties: %w", err)
	}
	if err := json.Unmarshal([]byte(units), &state.Units); err != nil {
		return nil, fmt.Errorf("failed to decode profile units: %w", err)
	}

	return state, nil
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func expectRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
