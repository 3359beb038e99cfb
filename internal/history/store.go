// Package history provides the durable outcome store backing the learning
// loop.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/verdictlabs/negotiator/internal/errs"
	"github.com/verdictlabs/negotiator/pkg/logger"
	"github.com/verdictlabs/negotiator/pkg/models"
)

// Store is the narrow interface the engine needs from outcome storage. An
// in-memory implementation backs tests; SQLite backs production.
type Store interface {
	// Save durably appends one outcome and fills in its row id.
	Save(ctx context.Context, outcome *models.DeploymentOutcome) error
	// Recent returns up to limit outcomes, newest first.
	Recent(ctx context.Context, limit int) ([]models.DeploymentOutcome, error)
	// Count returns the number of stored outcomes.
	Count(ctx context.Context) (int64, error)
	// Close releases the store.
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	deployment_id TEXT NOT NULL,
	heuristic_score REAL NOT NULL,
	ml_score REAL NOT NULL,
	final_score REAL NOT NULL,
	actual_error_rate_percent REAL NOT NULL,
	actual_latency_change_percent REAL NOT NULL,
	rollback_triggered INTEGER NOT NULL,
	timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_deployment_id ON outcomes(deployment_id);
`

// SQLiteStore is the embedded relational outcome store. Writers are
// serialized by SQLite's own locking; readers see committed snapshots.
type SQLiteStore struct {
	db            *sql.DB
	log           *logger.Logger
	retentionRows int64
}

// Options configures a SQLiteStore.
type Options struct {
	// RetentionRows is the soft cap on stored rows; 0 disables eviction.
	RetentionRows int64
}

// NewSQLiteStore opens (or creates) the store file and initializes the
// schema.
func NewSQLiteStore(path string, log *logger.Logger, opts Options) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// A single connection keeps writes strictly serialized and sidesteps
	// SQLITE_BUSY under concurrent recording.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{
		db:            db,
		log:           log.WithComponent("history-store"),
		retentionRows: opts.RetentionRows,
	}

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=FULL;`,
		`PRAGMA busy_timeout=5000;`,
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply pragma: %w", err)
		}
	}

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Save durably appends one outcome. The row is committed (and synced under
// synchronous=FULL) before Save returns.
func (s *SQLiteStore) Save(ctx context.Context, outcome *models.DeploymentOutcome) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (
			deployment_id, heuristic_score, ml_score, final_score,
			actual_error_rate_percent, actual_latency_change_percent,
			rollback_triggered, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		outcome.DeploymentID,
		outcome.HeuristicScore,
		outcome.MLScore,
		outcome.FinalScore,
		outcome.ActualErrorRatePercent,
		outcome.ActualLatencyChangePercent,
		boolToInt(outcome.RollbackTriggered),
		outcome.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errs.Storage("save", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		outcome.ID = id
	}

	s.maybeEvict(ctx)

	return nil
}

// Recent returns up to limit outcomes, newest first. limit <= 0 returns an
// empty slice.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]models.DeploymentOutcome, error) {
	if limit <= 0 {
		return []models.DeploymentOutcome{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deployment_id, heuristic_score, ml_score, final_score,
			actual_error_rate_percent, actual_latency_change_percent,
			rollback_triggered, timestamp
		FROM outcomes
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errs.Storage("recent", err)
	}
	defer rows.Close()

	outcomes := make([]models.DeploymentOutcome, 0, limit)
	for rows.Next() {
		var (
			o        models.DeploymentOutcome
			rollback int
			ts       string
		)
		if err := rows.Scan(
			&o.ID, &o.DeploymentID, &o.HeuristicScore, &o.MLScore, &o.FinalScore,
			&o.ActualErrorRatePercent, &o.ActualLatencyChangePercent,
			&rollback, &ts,
		); err != nil {
			return nil, errs.Storage("recent", err)
		}
		o.RollbackTriggered = rollback != 0
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			o.Timestamp = parsed
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("recent", err)
	}

	return outcomes, nil
}

// Count returns the number of stored outcomes.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outcomes`).Scan(&count); err != nil {
		return 0, errs.Storage("count", err)
	}
	return count, nil
}

// maybeEvict drops the oldest rows above the retention cap. Best-effort: a
// failed eviction only logs, it never fails the save that triggered it.
func (s *SQLiteStore) maybeEvict(ctx context.Context) {
	if s.retentionRows <= 0 {
		return
	}

	count, err := s.Count(ctx)
	if err != nil || count <= s.retentionRows {
		return
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM outcomes WHERE id IN (
			SELECT id FROM outcomes ORDER BY id ASC LIMIT ?
		)`, count-s.retentionRows)
	if err != nil {
		s.log.Warn("outcome eviction failed", "error", err)
		return
	}

	s.log.Info("evicted oldest outcomes", "evicted", count-s.retentionRows, "cap", s.retentionRows)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
