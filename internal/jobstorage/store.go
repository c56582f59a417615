// Package jobstorage is the durable, append-only log of finished jobs. It
// outlives daemon restarts and is never pruned by the launcher's in-memory
// bound.
package jobstorage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/gwozai/scrapyd/internal/domain"
)

// Store persists finished job records. Records are immutable: one job
// completion results in exactly one append, and nothing updates or deletes
// entries afterwards.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a Store backed by the given database.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("component", "jobstorage"),
	}
}

// Add appends one finished job record.
func (s *Store) Add(ctx context.Context, job domain.Job) error {
	query := `
		INSERT INTO finished_jobs (project, spider, job, start_time, end_time, exit_code, log_url, items_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.Project,
		job.Spider,
		job.ID,
		job.StartTime,
		job.EndTime,
		job.ExitCode,
		job.LogURL,
		job.ItemsURL,
	)
	if err != nil {
		return fmt.Errorf("failed to record finished job: %w", err)
	}

	s.logger.Debug("recorded finished job",
		"project", job.Project,
		"spider", job.Spider,
		"job", job.ID,
		"exit_code", job.ExitCode)
	return nil
}

// List returns finished jobs in completion order, optionally filtered to
// one project.
func (s *Store) List(ctx context.Context, project string) ([]domain.Job, error) {
	var jobs []domain.Job
	err := s.forEach(ctx, project, func(job domain.Job) error {
		jobs = append(jobs, job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ForEach streams every stored job in insertion order. Iteration restarts
// from the beginning on each call; an error from fn aborts the scan.
func (s *Store) ForEach(ctx context.Context, fn func(domain.Job) error) error {
	return s.forEach(ctx, "", fn)
}

// Has reports whether a finished record exists for the job id, scoped to a
// project when one is given.
func (s *Store) Has(ctx context.Context, project, job string) (bool, error) {
	query := "SELECT COUNT(*) FROM finished_jobs WHERE job = ?"
	args := []interface{}{job}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to look up finished job: %w", err)
	}
	return count > 0, nil
}

func (s *Store) forEach(ctx context.Context, project string, fn func(domain.Job) error) error {
	query := `
		SELECT project, spider, job, start_time, end_time, exit_code, log_url, items_url
		FROM finished_jobs
		ORDER BY id ASC
	`
	var args []interface{}
	if project != "" {
		query = `
			SELECT project, spider, job, start_time, end_time, exit_code, log_url, items_url
			FROM finished_jobs
			WHERE project = ?
			ORDER BY id ASC
		`
		args = []interface{}{project}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query finished jobs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var job domain.Job
		if err := rows.Scan(
			&job.Project,
			&job.Spider,
			&job.ID,
			&job.StartTime,
			&job.EndTime,
			&job.ExitCode,
			&job.LogURL,
			&job.ItemsURL,
		); err != nil {
			return fmt.Errorf("failed to scan finished job: %w", err)
		}
		if err := fn(job); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating finished jobs: %w", err)
	}
	return nil
}
