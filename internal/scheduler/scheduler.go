// Package scheduler maintains the per-project FIFO queues of pending crawl
// jobs. Queues are persisted in the daemon database so pending work survives
// restarts.
package scheduler

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gwozai/scrapyd/internal/domain"
	"github.com/gwozai/scrapyd/internal/events"
)

// Scheduler accepts job descriptors and hands them out in insertion order.
// It performs no existence checks: callers validate projects and spiders
// before enqueueing.
type Scheduler struct {
	db      *sql.DB
	emitter events.EventEmitter
	logger  *slog.Logger
}

// New creates a Scheduler backed by the given database.
func New(db *sql.DB, emitter events.EventEmitter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		db:      db,
		emitter: emitter,
		logger:  logger.With("component", "scheduler"),
	}
}

// Add enqueues a descriptor at the tail of its project queue and returns the
// job id, generating one when the descriptor carries none.
func (s *Scheduler) Add(ctx context.Context, d domain.JobDescriptor) (string, error) {
	if d.JobID == "" {
		d.JobID = newJobID()
	}
	if d.Settings == nil {
		d.Settings = domain.Settings{}
	}
	if d.Args == nil {
		d.Args = map[string]string{}
	}

	settings, err := json.Marshal(d.Settings)
	if err != nil {
		return "", fmt.Errorf("failed to encode job settings: %w", err)
	}
	args, err := json.Marshal(d.Args)
	if err != nil {
		return "", fmt.Errorf("failed to encode job arguments: %w", err)
	}

	query := `
		INSERT INTO pending_jobs (project, spider, job, settings, args, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		d.Project,
		d.Spider,
		d.JobID,
		string(settings),
		string(args),
		d.Version,
		time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("job queued",
		"project", d.Project,
		"spider", d.Spider,
		"job", d.JobID)

	event := events.New(events.TypeJobQueued, d.Project)
	event.Job = d.JobID
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		// The job is queued either way; the periodic poll picks it up.
		s.logger.Warn("job queued event handler failed",
			"project", d.Project,
			"job", d.JobID,
			"error", err)
	}

	return d.JobID, nil
}

// List returns pending descriptors in queue order. An empty project means
// all projects, interleaved in global insertion order.
func (s *Scheduler) List(ctx context.Context, project string) ([]domain.JobDescriptor, error) {
	query := `
		SELECT project, spider, job, settings, args, version
		FROM pending_jobs
		ORDER BY id ASC
	`
	var args []interface{}
	if project != "" {
		query = `
			SELECT project, spider, job, settings, args, version
			FROM pending_jobs
			WHERE project = ?
			ORDER BY id ASC
		`
		args = []interface{}{project}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var descriptors []domain.JobDescriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending jobs: %w", err)
	}
	return descriptors, nil
}

// Pop removes and returns the oldest pending descriptor for a project, or
// nil when the queue is empty.
func (s *Scheduler) Pop(ctx context.Context, project string) (*domain.JobDescriptor, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
		SELECT id, project, spider, job, settings, args, version
		FROM pending_jobs
		WHERE project = ?
		ORDER BY id ASC
		LIMIT 1
	`, project)

	var (
		id                          int64
		proj, spider, job, version  string
		settingsJSON, argumentsJSON string
	)
	if err := row.Scan(&id, &proj, &spider, &job, &settingsJSON, &argumentsJSON, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan pending job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_jobs WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dequeue: %w", err)
	}

	d := domain.JobDescriptor{Project: proj, Spider: spider, JobID: job, Version: version}
	if err := json.Unmarshal([]byte(settingsJSON), &d.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode job settings: %w", err)
	}
	if err := json.Unmarshal([]byte(argumentsJSON), &d.Args); err != nil {
		return nil, fmt.Errorf("failed to decode job arguments: %w", err)
	}
	return &d, nil
}

// Count returns the number of pending jobs, across all projects when
// project is empty.
func (s *Scheduler) Count(ctx context.Context, project string) (int, error) {
	query := "SELECT COUNT(*) FROM pending_jobs"
	var args []interface{}
	if project != "" {
		query += " WHERE project = ?"
		args = []interface{}{project}
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}

// Remove deletes one pending job by id and reports whether it was present.
func (s *Scheduler) Remove(ctx context.Context, project, job string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM pending_jobs WHERE project = ? AND job = ?", project, job)
	if err != nil {
		return false, fmt.Errorf("failed to remove pending job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// Projects returns the projects that currently have pending jobs, sorted by
// name.
func (s *Scheduler) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT project FROM pending_jobs ORDER BY project ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query pending projects: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var projects []string
	for rows.Next() {
		var project string
		if err := rows.Scan(&project); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending projects: %w", err)
	}
	return projects, nil
}

// PurgeProject drops every pending job of a project and returns how many
// were removed. Deleting a project must not leave orphaned queue entries.
func (s *Scheduler) PurgeProject(ctx context.Context, project string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM pending_jobs WHERE project = ?", project)
	if err != nil {
		return 0, fmt.Errorf("failed to purge pending jobs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		s.logger.Info("purged pending jobs", "project", project, "count", affected)
	}
	return affected, nil
}

func scanDescriptor(rows *sql.Rows) (domain.JobDescriptor, error) {
	var (
		d                           domain.JobDescriptor
		settingsJSON, argumentsJSON string
	)
	if err := rows.Scan(&d.Project, &d.Spider, &d.JobID, &settingsJSON, &argumentsJSON, &d.Version); err != nil {
		return d, fmt.Errorf("failed to scan pending job: %w", err)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &d.Settings); err != nil {
		return d, fmt.Errorf("failed to decode job settings: %w", err)
	}
	if err := json.Unmarshal([]byte(argumentsJSON), &d.Args); err != nil {
		return d, fmt.Errorf("failed to decode job arguments: %w", err)
	}
	return d, nil
}

// newJobID generates a job identifier: 32 lowercase hex digits.
func newJobID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
