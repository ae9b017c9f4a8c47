package movement

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/pkg/models"
)

// Store is the persistence surface the recorder and detector need. The
// persistent store is the source of truth for movement state; the
// in-process cache never is.
type Store interface {
	InsertSnapshots(ctx context.Context, snapshots []models.Snapshot) error
	GetStates(ctx context.Context, keys []string) (map[string]models.MovementState, error)
	UpsertStates(ctx context.Context, states []models.MovementState) error
	InsertEvents(ctx context.Context, events []models.MovementEvent) error
}

// EventFilters narrows movement-event reads.
type EventFilters struct {
	GameID    string
	BookKey   string
	MarketKey string
	Since     *time.Time
	Limit     int
}

// PostgresStore implements Store plus the read and prune queries against
// Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store around an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the movement tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS prop_snapshots (
			id BIGSERIAL PRIMARY KEY,
			composite_key TEXT NOT NULL,
			game_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			market_key TEXT NOT NULL,
			book_key TEXT NOT NULL,
			line DOUBLE PRECISION NOT NULL,
			over_price TEXT NOT NULL,
			under_price TEXT NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prop_snapshots_key_time
			ON prop_snapshots (composite_key, observed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_prop_snapshots_observed_at
			ON prop_snapshots (observed_at)`,
		`CREATE TABLE IF NOT EXISTS line_movement_state (
			composite_key TEXT PRIMARY KEY,
			game_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			market_key TEXT NOT NULL,
			book_key TEXT NOT NULL,
			opening_line DOUBLE PRECISION NOT NULL,
			opening_over TEXT NOT NULL,
			opening_under TEXT NOT NULL,
			opening_observed_at TIMESTAMPTZ NOT NULL,
			current_line DOUBLE PRECISION NOT NULL,
			current_over TEXT NOT NULL,
			current_under TEXT NOT NULL,
			line_last_changed_at TIMESTAMPTZ NOT NULL,
			last_event_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS line_movement_events (
			id BIGSERIAL PRIMARY KEY,
			composite_key TEXT NOT NULL,
			game_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			market_key TEXT NOT NULL,
			book_key TEXT NOT NULL,
			previous_line DOUBLE PRECISION,
			new_line DOUBLE PRECISION NOT NULL,
			delta DOUBLE PRECISION NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_line_movement_events_key_time
			ON line_movement_events (composite_key, recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_line_movement_events_recorded_at
			ON line_movement_events (recorded_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// InsertSnapshots appends snapshot rows with a single multi-row insert.
// Callers chunk the input to respect payload limits.
func (s *PostgresStore) InsertSnapshots(ctx context.Context, snapshots []models.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	var (
		placeholders []string
		args         []interface{}
	)
	for i, snap := range snapshots {
		base := i * 9
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9))
		args = append(args,
			snap.CompositeKey, snap.GameID, snap.Subject, snap.MarketKey, snap.BookKey,
			snap.Line, snap.OverPrice, snap.UnderPrice, snap.ObservedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO prop_snapshots (
			composite_key, game_id, subject, market_key, book_key,
			line, over_price, under_price, observed_at
		) VALUES %s
	`, strings.Join(placeholders, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting snapshots: %w", err)
	}
	return nil
}

// GetStates batch-fetches movement state for the given composite keys.
// Keys with no state yet are simply absent from the result.
func (s *PostgresStore) GetStates(ctx context.Context, keys []string) (map[string]models.MovementState, error) {
	states := make(map[string]models.MovementState, len(keys))
	if len(keys) == 0 {
		return states, nil
	}

	query := `
		SELECT composite_key, game_id, subject, market_key, book_key,
		       opening_line, opening_over, opening_under, opening_observed_at,
		       current_line, current_over, current_under,
		       line_last_changed_at, last_event_at, updated_at
		FROM line_movement_state
		WHERE composite_key = ANY($1)
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("querying movement state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st models.MovementState
		err := rows.Scan(
			&st.CompositeKey, &st.GameID, &st.Subject, &st.MarketKey, &st.BookKey,
			&st.OpeningLine, &st.OpeningOver, &st.OpeningUnder, &st.OpeningObservedAt,
			&st.CurrentLine, &st.CurrentOver, &st.CurrentUnder,
			&st.LineLastChangedAt, &st.LastEventAt, &st.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning movement state: %w", err)
		}
		states[st.CompositeKey] = st
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating movement state: %w", err)
	}
	return states, nil
}

// UpsertStates writes the latest state per key. Opening columns are only
// written on first insert; the conflict branch deliberately leaves them
// untouched.
func (s *PostgresStore) UpsertStates(ctx context.Context, states []models.MovementState) error {
	if len(states) == 0 {
		return nil
	}

	var (
		placeholders []string
		args         []interface{}
	)
	for i, st := range states {
		base := i * 15
		marks := make([]string, 15)
		for j := range marks {
			marks[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ", ")+")")
		args = append(args,
			st.CompositeKey, st.GameID, st.Subject, st.MarketKey, st.BookKey,
			st.OpeningLine, st.OpeningOver, st.OpeningUnder, st.OpeningObservedAt,
			st.CurrentLine, st.CurrentOver, st.CurrentUnder,
			st.LineLastChangedAt, st.LastEventAt, st.UpdatedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO line_movement_state (
			composite_key, game_id, subject, market_key, book_key,
			opening_line, opening_over, opening_under, opening_observed_at,
			current_line, current_over, current_under,
			line_last_changed_at, last_event_at, updated_at
		) VALUES %s
		ON CONFLICT (composite_key) DO UPDATE SET
			current_line = EXCLUDED.current_line,
			current_over = EXCLUDED.current_over,
			current_under = EXCLUDED.current_under,
			line_last_changed_at = EXCLUDED.line_last_changed_at,
			last_event_at = EXCLUDED.last_event_at,
			updated_at = EXCLUDED.updated_at
	`, strings.Join(placeholders, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting movement state: %w", err)
	}
	return nil
}

// InsertEvents appends movement events.
func (s *PostgresStore) InsertEvents(ctx context.Context, events []models.MovementEvent) error {
	if len(events) == 0 {
		return nil
	}

	var (
		placeholders []string
		args         []interface{}
	)
	for i, ev := range events {
		base := i * 9
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9))
		args = append(args,
			ev.CompositeKey, ev.GameID, ev.Subject, ev.MarketKey, ev.BookKey,
			ev.PreviousLine, ev.NewLine, ev.Delta, ev.RecordedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO line_movement_events (
			composite_key, game_id, subject, market_key, book_key,
			previous_line, new_line, delta, recorded_at
		) VALUES %s
	`, strings.Join(placeholders, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting movement events: %w", err)
	}
	return nil
}

// GetEvents retrieves movement events, newest first.
func (s *PostgresStore) GetEvents(ctx context.Context, filters EventFilters) ([]models.MovementEvent, error) {
	query := `
		SELECT id, composite_key, game_id, subject, market_key, book_key,
		       previous_line, new_line, delta, recorded_at
		FROM line_movement_events
		WHERE 1=1
	`
	var args []interface{}
	idx := 1

	if filters.GameID != "" {
		query += fmt.Sprintf(" AND game_id = $%d", idx)
		args = append(args, filters.GameID)
		idx++
	}
	if filters.BookKey != "" {
		query += fmt.Sprintf(" AND book_key = $%d", idx)
		args = append(args, filters.BookKey)
		idx++
	}
	if filters.MarketKey != "" {
		query += fmt.Sprintf(" AND market_key = $%d", idx)
		args = append(args, filters.MarketKey)
		idx++
	}
	if filters.Since != nil {
		query += fmt.Sprintf(" AND recorded_at >= $%d", idx)
		args = append(args, *filters.Since)
		idx++
	}

	limit := filters.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	query += fmt.Sprintf(" ORDER BY recorded_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying movement events: %w", err)
	}
	defer rows.Close()

	var events []models.MovementEvent
	for rows.Next() {
		var ev models.MovementEvent
		err := rows.Scan(
			&ev.ID, &ev.CompositeKey, &ev.GameID, &ev.Subject, &ev.MarketKey, &ev.BookKey,
			&ev.PreviousLine, &ev.NewLine, &ev.Delta, &ev.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning movement event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating movement events: %w", err)
	}
	return events, nil
}

// GetStatesForGame returns movement state rows for one game, used by the
// opening-line read endpoint.
func (s *PostgresStore) GetStatesForGame(ctx context.Context, gameID string) ([]models.MovementState, error) {
	query := `
		SELECT composite_key, game_id, subject, market_key, book_key,
		       opening_line, opening_over, opening_under, opening_observed_at,
		       current_line, current_over, current_under,
		       line_last_changed_at, last_event_at, updated_at
		FROM line_movement_state
		WHERE game_id = $1
		ORDER BY subject, market_key, book_key
	`

	rows, err := s.db.QueryContext(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("querying movement state for game: %w", err)
	}
	defer rows.Close()

	var states []models.MovementState
	for rows.Next() {
		var st models.MovementState
		err := rows.Scan(
			&st.CompositeKey, &st.GameID, &st.Subject, &st.MarketKey, &st.BookKey,
			&st.OpeningLine, &st.OpeningOver, &st.OpeningUnder, &st.OpeningObservedAt,
			&st.CurrentLine, &st.CurrentOver, &st.CurrentUnder,
			&st.LineLastChangedAt, &st.LastEventAt, &st.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning movement state: %w", err)
		}
		states = append(states, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating movement state: %w", err)
	}
	return states, nil
}

// SelectSnapshotIDsBefore returns up to limit snapshot ids strictly older
// than cutoff.
func (s *PostgresStore) SelectSnapshotIDsBefore(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	return s.selectIDsBefore(ctx, "prop_snapshots", "observed_at", cutoff, limit)
}

// DeleteSnapshots deletes exactly the given snapshot rows.
func (s *PostgresStore) DeleteSnapshots(ctx context.Context, ids []int64) (int64, error) {
	return s.deleteByIDs(ctx, "prop_snapshots", ids)
}

// SelectEventIDsBefore returns up to limit movement-event ids strictly
// older than cutoff.
func (s *PostgresStore) SelectEventIDsBefore(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	return s.selectIDsBefore(ctx, "line_movement_events", "recorded_at", cutoff, limit)
}

// DeleteEvents deletes exactly the given movement-event rows.
func (s *PostgresStore) DeleteEvents(ctx context.Context, ids []int64) (int64, error) {
	return s.deleteByIDs(ctx, "line_movement_events", ids)
}

func (s *PostgresStore) selectIDsBefore(ctx context.Context, table, column string, cutoff time.Time, limit int) ([]int64, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE %s < $1 ORDER BY id LIMIT $2`, table, column)

	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting prune candidates from %s: %w", table, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning prune candidate: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating prune candidates: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) deleteByIDs(ctx context.Context, table string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, table)
	result, err := s.db.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted rows: %w", err)
	}
	return deleted, nil
}
