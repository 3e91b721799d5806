package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ArchiveDB is the subset of pgxpool.Pool the archive needs; narrowed so
// tests can substitute a mock pool.
type ArchiveDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Archive mirrors session reports into Postgres so dashboards can query run
// history without scanning report files. Files remain the source of truth;
// archive failures are logged, never fatal to a run.
type Archive struct {
	db     ArchiveDB
	logger *zap.Logger
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS session_reports (
	run_id     TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	report     JSONB NOT NULL
)`

// NewArchive connects to Postgres, verifies the connection and ensures the
// schema exists.
func NewArchive(ctx context.Context, dsn string, logger *zap.Logger) (*Archive, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a, err := NewArchiveWithDB(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

// NewArchiveWithDB wraps an existing connection; used by tests.
func NewArchiveWithDB(ctx context.Context, db ArchiveDB, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(ctx, archiveSchema); err != nil {
		return nil, fmt.Errorf("ensure session_reports table: %w", err)
	}
	return &Archive{db: db, logger: logger}, nil
}

// Store upserts one report keyed by run id, so re-saving a finalized run is
// harmless.
func (a *Archive) Store(ctx context.Context, r Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = a.db.Exec(ctx, `
		INSERT INTO session_reports (run_id, started_at, report)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO UPDATE SET started_at = $2, report = $3`,
		r.RunID, r.StartTime, payload,
	)
	if err != nil {
		return fmt.Errorf("insert session report: %w", err)
	}
	return nil
}

// Recent returns up to limit archived reports, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Report, error) {
	rows, err := a.db.Query(ctx, `
		SELECT report FROM session_reports
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query session reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan session report: %w", err)
		}
		var r Report
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("parse archived report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session reports: %w", err)
	}
	return reports, nil
}

// Close releases the underlying pool.
func (a *Archive) Close() {
	a.db.Close()
}
