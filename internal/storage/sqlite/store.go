// Package sqlite is the durable home of conversation state and the
// crisis-event audit trail.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ahandley/textline/internal/domain"
	"github.com/ahandley/textline/internal/ports"
)

// Store is a SQLite implementation of StateStore and CrisisAuditStore.
type Store struct {
	db *sql.DB
}

var (
	_ ports.StateStore       = (*Store)(nil)
	_ ports.CrisisAuditStore = (*Store)(nil)
)

// New opens the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversation_states (
			owner_key TEXT PRIMARY KEY,
			household_id TEXT NOT NULL,
			member_id TEXT,
			channel TEXT NOT NULL,
			current_flow TEXT,
			current_step TEXT,
			flow_data TEXT,
			started_at TIMESTAMP NOT NULL,
			last_activity_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS crisis_events (
			id TEXT PRIMARY KEY,
			household_id TEXT NOT NULL,
			member_id TEXT,
			category TEXT NOT NULL,
			matched_terms TEXT NOT NULL,
			confidence REAL NOT NULL,
			hotline_provided INTEGER NOT NULL DEFAULT 1,
			correlation_id TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_states_household ON conversation_states(household_id)`,
		`CREATE INDEX IF NOT EXISTS idx_crisis_household ON crisis_events(household_id)`,
		`CREATE INDEX IF NOT EXISTS idx_crisis_created ON crisis_events(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) Load(ctx context.Context, key domain.OwnerKey) (*domain.ConversationState, error) {
	query := `SELECT channel, current_flow, current_step, flow_data, started_at, last_activity_at
		FROM conversation_states WHERE owner_key = ?`

	var (
		state    = domain.ConversationState{OwnerKey: key}
		flowData sql.NullString
		flow     sql.NullString
		step     sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, key.String()).Scan(
		&state.Channel, &flow, &step, &flowData, &state.StartedAt, &state.LastActivityAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, domain.NewError(domain.KindPersistence, "storage.load", key.String(), err)
	}

	state.CurrentFlow = flow.String
	state.CurrentStep = step.String
	if flowData.Valid && flowData.String != "" {
		if err := json.Unmarshal([]byte(flowData.String), &state.FlowData); err != nil {
			return nil, domain.NewError(domain.KindPersistence, "storage.load", "decode flow_data", err)
		}
	}
	return &state, nil
}

func (s *Store) Upsert(ctx context.Context, state *domain.ConversationState) error {
	flowData, err := json.Marshal(state.FlowData)
	if err != nil {
		return domain.NewError(domain.KindPersistence, "storage.upsert", "encode flow_data", err)
	}

	startedAt := state.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	lastActivity := state.LastActivityAt
	if lastActivity.IsZero() {
		lastActivity = time.Now().UTC()
	}

	query := `INSERT INTO conversation_states
		(owner_key, household_id, member_id, channel, current_flow, current_step, flow_data, started_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_key) DO UPDATE SET
			channel = excluded.channel,
			current_flow = excluded.current_flow,
			current_step = excluded.current_step,
			flow_data = excluded.flow_data,
			last_activity_at = excluded.last_activity_at`

	_, err = s.db.ExecContext(ctx, query,
		state.OwnerKey.String(), state.OwnerKey.HouseholdID, state.OwnerKey.MemberID,
		state.Channel, state.CurrentFlow, state.CurrentStep, string(flowData),
		startedAt, lastActivity,
	)
	if err != nil {
		return domain.NewError(domain.KindPersistence, "storage.upsert", state.OwnerKey.String(), err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key domain.OwnerKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_states WHERE owner_key = ?`, key.String())
	if err != nil {
		return domain.NewError(domain.KindPersistence, "storage.delete", key.String(), err)
	}
	return nil
}

// RecordCrisisEvent appends one audited risk match. Rows are append-only;
// compliance reporting reads them out of band.
func (s *Store) RecordCrisisEvent(ctx context.Context, rec *ports.CrisisEventRecord) error {
	terms, err := json.Marshal(rec.MatchedTerms)
	if err != nil {
		return domain.NewError(domain.KindPersistence, "storage.crisis", "encode terms", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `INSERT INTO crisis_events
		(id, household_id, member_id, category, matched_terms, confidence, hotline_provided, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerKey.HouseholdID, rec.OwnerKey.MemberID,
		string(rec.Category), string(terms), rec.Confidence,
		boolToInt(rec.HotlineProvided), rec.CorrelationID, createdAt,
	)
	if err != nil {
		return domain.NewError(domain.KindPersistence, "storage.crisis", rec.ID, err)
	}
	return nil
}

// CountCrisisEvents returns the number of audited events for a
// household. Used by compliance checks and tests.
func (s *Store) CountCrisisEvents(ctx context.Context, householdID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM crisis_events WHERE household_id = ?`, householdID).Scan(&n)
	if err != nil {
		return 0, domain.NewError(domain.KindPersistence, "storage.crisis", householdID, err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
