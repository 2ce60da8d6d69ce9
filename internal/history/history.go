// Package history persists benchmark outcomes in SQLite so past runs stay
// queryable after the pulled result files rotate away.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/1003xuexue/mobile-ai-bench/internal/model"
)

// JobFilter narrows job queries. Zero fields match everything.
type JobFilter struct {
	RunID    string
	Serial   string
	Executor string
	Model    string
	Status   model.JobStatus
}

// Store defines the interface for benchmark history storage.
type Store interface {
	// StoreJob inserts the initial record for a job that just started.
	StoreJob(ctx context.Context, res *model.JobResult) error

	// UpdateJob writes the final state for a job. Jobs that never started,
	// such as skipped ones, get inserted whole.
	UpdateJob(ctx context.Context, res *model.JobResult) error

	// Job retrieves one job record, or nil when the id is unknown.
	Job(ctx context.Context, id string) (*model.JobResult, error)

	// Jobs retrieves job records matching the filter, newest first.
	Jobs(ctx context.Context, filter JobFilter, offset, limit int) ([]*model.JobResult, error)

	// CountJobs returns the number of records matching the filter.
	CountJobs(ctx context.Context, filter JobFilter) (int, error)

	// StoreRun persists a completed fleet run summary.
	StoreRun(ctx context.Context, summary *model.RunSummary) error

	// Run retrieves one run summary, or nil when the id is unknown.
	Run(ctx context.Context, runID string) (*model.RunSummary, error)

	// Runs retrieves run summaries, newest first.
	Runs(ctx context.Context, offset, limit int) ([]*model.RunSummary, error)

	// DeleteBefore drops jobs and runs that started before the given time.
	DeleteBefore(ctx context.Context, before time.Time) error

	// Close releases the underlying database.
	Close() error
}

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens or creates the history database at dbPath. Existing
// records are kept; retention is DeleteBefore's job.
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		logger: logger.Named("history"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS job_results (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			serial TEXT NOT NULL,
			soc TEXT NOT NULL DEFAULT '',
			abi TEXT NOT NULL DEFAULT '',
			executor TEXT NOT NULL,
			model TEXT NOT NULL,
			device_type TEXT NOT NULL,
			quantize INTEGER NOT NULL,
			status TEXT NOT NULL,
			output TEXT,
			error TEXT,
			started_at DATETIME NOT NULL,
			duration INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_job_results_run_id ON job_results(run_id);
		CREATE INDEX IF NOT EXISTS idx_job_results_serial ON job_results(serial);
		CREATE INDEX IF NOT EXISTS idx_job_results_status ON job_results(status);
		CREATE INDEX IF NOT EXISTS idx_job_results_started_at ON job_results(started_at);

		CREATE TABLE IF NOT EXISTS run_summaries (
			run_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			jobs_planned INTEGER NOT NULL,
			devices TEXT,
			host TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_run_summaries_started_at ON run_summaries(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// StoreJob implements Store.StoreJob
func (s *SQLiteStore) StoreJob(ctx context.Context, res *model.JobResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_results (
			id, run_id, serial, soc, abi, executor, model, device_type, quantize, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID,
		res.RunID,
		res.Serial,
		res.SoC,
		res.ABI,
		res.Executor,
		res.Model,
		res.DeviceType,
		res.Quantize,
		string(res.Status),
		res.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store job result: %w", err)
	}
	return nil
}

// UpdateJob implements Store.UpdateJob
func (s *SQLiteStore) UpdateJob(ctx context.Context, res *model.JobResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_results (
			id, run_id, serial, soc, abi, executor, model, device_type, quantize, status, output, error, started_at, duration
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			output = excluded.output,
			error = excluded.error,
			duration = excluded.duration`,
		res.ID,
		res.RunID,
		res.Serial,
		res.SoC,
		res.ABI,
		res.Executor,
		res.Model,
		res.DeviceType,
		res.Quantize,
		string(res.Status),
		sql.NullString{String: res.Output, Valid: res.Output != ""},
		sql.NullString{String: res.Error, Valid: res.Error != ""},
		res.StartedAt,
		sql.NullInt64{Int64: int64(res.Duration), Valid: res.Duration != 0},
	)
	if err != nil {
		return fmt.Errorf("failed to update job result: %w", err)
	}
	return nil
}

// Job implements Store.Job
func (s *SQLiteStore) Job(ctx context.Context, id string) (*model.JobResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, serial, soc, abi, executor, model, device_type, quantize, status, output, error, started_at, duration
		FROM job_results
		WHERE id = ?`, id)

	res, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return res, err
}

// Jobs implements Store.Jobs
func (s *SQLiteStore) Jobs(ctx context.Context, filter JobFilter, offset, limit int) ([]*model.JobResult, error) {
	query := "SELECT id, run_id, serial, soc, abi, executor, model, device_type, quantize, status, output, error, started_at, duration FROM job_results"
	where, args := filter.clauses()
	query += where + " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list job results: %w", err)
	}
	defer rows.Close()

	var results []*model.JobResult
	for rows.Next() {
		res, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return results, nil
}

// CountJobs implements Store.CountJobs
func (s *SQLiteStore) CountJobs(ctx context.Context, filter JobFilter) (int, error) {
	query := "SELECT COUNT(*) FROM job_results"
	where, args := filter.clauses()
	query += where

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count job results: %w", err)
	}
	return count, nil
}

// StoreRun implements Store.StoreRun
func (s *SQLiteStore) StoreRun(ctx context.Context, summary *model.RunSummary) error {
	devices, err := json.Marshal(summary.Devices)
	if err != nil {
		return fmt.Errorf("failed to encode device results: %w", err)
	}
	var host []byte
	if summary.Host != nil {
		if host, err = json.Marshal(summary.Host); err != nil {
			return fmt.Errorf("failed to encode host stats: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO run_summaries (
			run_id, status, jobs_planned, devices, host, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID,
		string(summary.Status),
		summary.JobsPlanned,
		string(devices),
		sql.NullString{String: string(host), Valid: len(host) > 0},
		summary.StartedAt,
		summary.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store run summary: %w", err)
	}
	return nil
}

// Run implements Store.Run
func (s *SQLiteStore) Run(ctx context.Context, runID string) (*model.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, status, jobs_planned, devices, host, started_at, completed_at
		FROM run_summaries
		WHERE run_id = ?`, runID)

	summary, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return summary, err
}

// Runs implements Store.Runs
func (s *SQLiteStore) Runs(ctx context.Context, offset, limit int) ([]*model.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, status, jobs_planned, devices, host, started_at, completed_at
		FROM run_summaries
		ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list run summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*model.RunSummary
	for rows.Next() {
		summary, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return summaries, nil
}

// DeleteBefore implements Store.DeleteBefore
func (s *SQLiteStore) DeleteBefore(ctx context.Context, before time.Time) error {
	jobs, err := s.db.ExecContext(ctx, "DELETE FROM job_results WHERE started_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete job results: %w", err)
	}
	runs, err := s.db.ExecContext(ctx, "DELETE FROM run_summaries WHERE started_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete run summaries: %w", err)
	}

	jobCount, _ := jobs.RowsAffected()
	runCount, _ := runs.RowsAffected()
	s.logger.Info("Deleted old benchmark records",
		zap.Time("before", before),
		zap.Int64("jobs", jobCount),
		zap.Int64("runs", runCount))
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// clauses renders the filter as a WHERE fragment with its arguments.
func (f JobFilter) clauses() (string, []interface{}) {
	var (
		where string
		args  []interface{}
	)
	add := func(column string, value interface{}) {
		if where == "" {
			where = " WHERE"
		} else {
			where += " AND"
		}
		where += fmt.Sprintf(" %s = ?", column)
		args = append(args, value)
	}

	if f.RunID != "" {
		add("run_id", f.RunID)
	}
	if f.Serial != "" {
		add("serial", f.Serial)
	}
	if f.Executor != "" {
		add("executor", f.Executor)
	}
	if f.Model != "" {
		add("model", f.Model)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*model.JobResult, error) {
	var (
		res           model.JobResult
		status        string
		output        sql.NullString
		errorStr      sql.NullString
		durationNanos sql.NullInt64
	)
	err := row.Scan(
		&res.ID,
		&res.RunID,
		&res.Serial,
		&res.SoC,
		&res.ABI,
		&res.Executor,
		&res.Model,
		&res.DeviceType,
		&res.Quantize,
		&status,
		&output,
		&errorStr,
		&res.StartedAt,
		&durationNanos,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job result: %w", err)
	}

	res.Status = model.JobStatus(status)
	if output.Valid {
		res.Output = output.String
	}
	if errorStr.Valid {
		res.Error = errorStr.String
	}
	if durationNanos.Valid {
		res.Duration = time.Duration(durationNanos.Int64)
	}
	return &res, nil
}

func scanRun(row rowScanner) (*model.RunSummary, error) {
	var (
		summary model.RunSummary
		status  string
		devices sql.NullString
		host    sql.NullString
	)
	err := row.Scan(
		&summary.RunID,
		&status,
		&summary.JobsPlanned,
		&devices,
		&host,
		&summary.StartedAt,
		&summary.CompletedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run summary: %w", err)
	}

	summary.Status = model.RunStatus(status)
	if devices.Valid && devices.String != "" {
		if err := json.Unmarshal([]byte(devices.String), &summary.Devices); err != nil {
			return nil, fmt.Errorf("failed to decode device results: %w", err)
		}
	}
	if host.Valid && host.String != "" {
		summary.Host = &model.HostStats{}
		if err := json.Unmarshal([]byte(host.String), summary.Host); err != nil {
			return nil, fmt.Errorf("failed to decode host stats: %w", err)
		}
	}
	return &summary, nil
}
