// Package engine implements the reactive diagnostic and event-routing
// engine: the durable event store, the CQRS event bus, the subprocess
// streaming runner and the diagnostic orchestrator.
package engine

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dockfra/dockfra/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store errors
var (
	ErrStoreConnection = errors.New("store connection failed")
	ErrStoreMigration  = errors.New("store migration failed")
)

// MaxQueryLimit caps every range query server-side.
const MaxQueryLimit = 1000

// DefaultQueryLimit is used when a caller passes limit <= 0.
const DefaultQueryLimit = 100

// =============================================================================
// Store
// =============================================================================

// Store is the append-only event log: one SQLite table in WAL mode, a
// process-wide write mutex, lock-free readers. IDs are assigned by
// AUTOINCREMENT and are strictly increasing per Store instance.
type Store struct {
	db      *sqlx.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

// NewStore opens (or creates) the event log at dsn and bootstraps the
// schema via the embedded migration.
func NewStore(dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// WAL keeps readers from ever blocking on the single writer; the busy
	// timeout covers the WAL checkpoint edge.
	db, err := sqlx.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreConnection, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreConnection, err)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreMigration, err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "event_store"),
	}, nil
}

// runMigrations bootstraps the events schema using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Append Path
// =============================================================================

// Append atomically writes one event and returns its assigned ID. A write
// failure is converted to ID 0 and logged; the caller never crashes on it.
func (s *Store) Append(eventType string, data map[string]any, src string) int64 {
	payload, err := encodeData(data)
	if err != nil {
		s.logger.Error("failed to encode event data", "event", eventType, "error", err)
		return 0
	}
	if src == "" {
		src = domain.SrcSystem
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.Exec(
		`INSERT INTO events (ts, src, event, data) VALUES (?, ?, ?, ?)`,
		domain.Now(), src, eventType, payload)
	if err != nil {
		s.logger.Error("failed to append event", "event", eventType, "src", src, "error", err)
		return 0
	}

	id, err := result.LastInsertId()
	if err != nil {
		s.logger.Error("failed to read event id", "event", eventType, "error", err)
		return 0
	}
	return id
}

// AppendItem is one entry of a bulk insert.
type AppendItem struct {
	Type string
	Data map[string]any
	Src  string
}

// AppendBatch writes the items in a single transaction and returns their
// IDs in input order. On failure every ID is 0.
func (s *Store) AppendBatch(items []AppendItem) []int64 {
	ids := make([]int64, len(items))
	if len(items) == 0 {
		return ids
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		s.logger.Error("failed to begin batch append", "error", err)
		return ids
	}

	ts := domain.Now()
	for i, item := range items {
		payload, err := encodeData(item.Data)
		if err != nil {
			tx.Rollback()
			s.logger.Error("failed to encode batch event", "event", item.Type, "error", err)
			return make([]int64, len(items))
		}
		src := item.Src
		if src == "" {
			src = domain.SrcSystem
		}
		result, err := tx.Exec(
			`INSERT INTO events (ts, src, event, data) VALUES (?, ?, ?, ?)`,
			ts, src, item.Type, payload)
		if err != nil {
			tx.Rollback()
			s.logger.Error("failed to append batch event", "event", item.Type, "error", err)
			return make([]int64, len(items))
		}
		ids[i], _ = result.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("failed to commit batch append", "error", err)
		return make([]int64, len(items))
	}
	return ids
}

// =============================================================================
// Query Path
// =============================================================================

// eventRow is the scan target for the events table.
type eventRow struct {
	ID    int64   `db:"id"`
	TS    float64 `db:"ts"`
	Src   string  `db:"src"`
	Event string  `db:"event"`
	Data  string  `db:"data"`
}

func (r eventRow) toDomain() domain.Event {
	ev := domain.Event{ID: r.ID, TS: r.TS, Src: r.Src, Type: r.Event}
	if r.Data != "" {
		json.Unmarshal([]byte(r.Data), &ev.Data)
	}
	return ev
}

// GetSince returns events with id > sinceID in ascending ID order, optionally
// filtered by event type and source, truncated to limit (capped at
// MaxQueryLimit).
func (s *Store) GetSince(sinceID int64, limit int, eventType, src string) ([]domain.Event, error) {
	limit = normalizeLimit(limit)

	query := "SELECT id, ts, src, event, data FROM events WHERE id > ?"
	args := []any{sinceID}
	if eventType != "" {
		query += " AND event = ?"
		args = append(args, eventType)
	}
	if src != "" {
		query += " AND src = ?"
		args = append(args, src)
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, limit)

	var rows []eventRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("get events since %d: %w", sinceID, err)
	}
	return rowsToDomain(rows), nil
}

// GetMaxID returns the most recent event ID, or 0 when the log is empty.
func (s *Store) GetMaxID() int64 {
	var maxID sql.NullInt64
	if err := s.db.Get(&maxID, "SELECT MAX(id) FROM events"); err != nil {
		s.logger.Error("failed to read max event id", "error", err)
		return 0
	}
	return maxID.Int64
}

// Count returns the number of events matching the optional filters.
func (s *Store) Count(eventType, src string) (int, error) {
	query := "SELECT COUNT(*) FROM events"
	var where []string
	var args []any
	if eventType != "" {
		where = append(where, "event = ?")
		args = append(args, eventType)
	}
	if src != "" {
		where = append(where, "src = ?")
		args = append(args, src)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var count int
	if err := s.db.Get(&count, query, args...); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// LatestByType returns the most recent events of one type, descending by ID.
func (s *Store) LatestByType(eventType string, limit int) ([]domain.Event, error) {
	limit = normalizeLimit(limit)

	var rows []eventRow
	err := s.db.Select(&rows,
		"SELECT id, ts, src, event, data FROM events WHERE event = ? ORDER BY id DESC LIMIT ?",
		eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("latest %s events: %w", eventType, err)
	}
	return rowsToDomain(rows), nil
}

// Prune deletes all but the newest keepLast events. Maintenance only; never
// called from the emit path.
func (s *Store) Prune(ctx context.Context, keepLast int) (int64, error) {
	if keepLast < 0 {
		keepLast = 0
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE id <= (SELECT MAX(id) FROM events) - ?`, keepLast)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}

// =============================================================================
// Helpers
// =============================================================================

func encodeData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

func rowsToDomain(rows []eventRow) []domain.Event {
	events := make([]domain.Event, len(rows))
	for i, r := range rows {
		events[i] = r.toDomain()
	}
	return events
}
