// Package history persists report runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vaultinsights/internal/db"
	"vaultinsights/internal/domain"
	"vaultinsights/internal/migrate"
)

var ErrNotFound = errors.New("not found")

// tsLayout keeps a fixed width so started_at sorts lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

// Open opens (and migrates) the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	conn, err := db.Open(db.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{DB: conn, Now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Record stores run and its rows, assigning an id and start time when unset.
func (s *Store) Record(ctx context.Context, run domain.Run) (domain.Run, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	ids, err := json.Marshal(run.ProjectIDs)
	if err != nil {
		return domain.Run{}, fmt.Errorf("marshal project ids: %w", err)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Run{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(id,started_at,since_days_ago,concurrency,project_ids_json,outdated_count,updated_count,failed_count) VALUES (?,?,?,?,?,?,?,?)`,
		run.ID, run.StartedAt.UTC().Format(tsLayout), run.SinceDaysAgo, run.Concurrency, string(ids),
		run.OutdatedCount, run.UpdatedCount, run.FailedCount); err != nil {
		return domain.Run{}, fmt.Errorf("insert run: %w", err)
	}
	for i, row := range run.Rows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO run_rows(run_id,position,project_id,name,updated_at,comment_url,updated,failed) VALUES (?,?,?,?,?,?,?,?)`,
			run.ID, i, row.ProjectID, row.Name, row.Date, row.CommentURL, boolInt(row.Updated), boolInt(row.Failed)); err != nil {
			return domain.Run{}, fmt.Errorf("insert run row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Run{}, err
	}
	return run, nil
}

// List returns the most recent runs first, without rows.
func (s *Store) List(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id,started_at,since_days_ago,concurrency,project_ids_json,outdated_count,updated_count,failed_count FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns one run with its rows in report order.
func (s *Store) Get(ctx context.Context, id string) (domain.Run, error) {
	run, err := scanRun(s.DB.QueryRowContext(ctx, `SELECT id,started_at,since_days_ago,concurrency,project_ids_json,outdated_count,updated_count,failed_count FROM runs WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, ErrNotFound
	}
	if err != nil {
		return domain.Run{}, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT project_id,name,updated_at,comment_url,updated,failed FROM run_rows WHERE run_id=? ORDER BY position`, id)
	if err != nil {
		return domain.Run{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var r domain.Row
		var updated, failed int
		if err := rows.Scan(&r.ProjectID, &r.Name, &r.Date, &r.CommentURL, &updated, &failed); err != nil {
			return domain.Run{}, err
		}
		r.Updated = updated != 0
		r.Failed = failed != 0
		run.Rows = append(run.Rows, r)
	}
	return run, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (domain.Run, error) {
	var run domain.Run
	var startedAt, ids string
	if err := sc.Scan(&run.ID, &startedAt, &run.SinceDaysAgo, &run.Concurrency, &ids,
		&run.OutdatedCount, &run.UpdatedCount, &run.FailedCount); err != nil {
		return domain.Run{}, err
	}
	t, err := time.Parse(tsLayout, startedAt)
	if err != nil {
		return domain.Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	run.StartedAt = t
	if err := json.Unmarshal([]byte(ids), &run.ProjectIDs); err != nil {
		return domain.Run{}, fmt.Errorf("decode project ids: %w", err)
	}
	return run, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
