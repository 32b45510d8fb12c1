package jobs

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  progress REAL NOT NULL DEFAULT 0,
  export_type TEXT NOT NULL DEFAULT 'video',
  artifacts_json TEXT NOT NULL DEFAULT '[]',
  error TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`

// SQLiteStore persists jobs so /status and /download survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One writer; progress updates arrive from several export goroutines.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set busy timeout")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Put(ctx context.Context, job Job) error {
	const q = `INSERT INTO jobs (id, status, progress, export_type, artifacts_json, error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  progress = excluded.progress,
  export_type = excluded.export_type,
  artifacts_json = excluded.artifacts_json,
  error = excluded.error,
  updated_at = excluded.updated_at;`

	artifacts, err := json.Marshal(nonNil(job.Artifacts))
	if err != nil {
		return errors.Wrap(err, "encode artifacts")
	}
	_, err = s.db.ExecContext(ctx, q, job.ID, string(job.Status), job.Progress, job.ExportType,
		string(artifacts), job.Error, formatTime(job.CreatedAt), formatTime(job.UpdatedAt))
	return errors.Wrap(err, "upsert job")
}

const selectColumns = `SELECT id, status, progress, export_type, artifacts_json, error, created_at, updated_at FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var (
		job                 Job
		status, artifacts   string
		createdAt, updateAt string
	)
	if err := row.Scan(&job.ID, &status, &job.Progress, &job.ExportType, &artifacts, &job.Error, &createdAt, &updateAt); err != nil {
		return Job{}, err
	}
	job.Status = Status(status)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updateAt)
	if err := json.Unmarshal([]byte(artifacts), &job.Artifacts); err != nil {
		return Job{}, errors.Wrap(err, "decode artifacts")
	}
	return job, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, errors.Wrap(err, "get job")
	}
	return job, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate jobs")
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return errors.Wrap(err, "delete job")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
