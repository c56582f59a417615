package jobstorage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwozai/scrapyd/internal/domain"
	"github.com/gwozai/scrapyd/internal/platform/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "scrapyd.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return New(db, logger)
}

func finishedJob(project, id string, exitCode int) domain.Job {
	start := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	return domain.Job{
		Project:   project,
		Spider:    "spider1",
		ID:        id,
		PID:       4321,
		StartTime: start,
		EndTime:   start.Add(90 * time.Second),
		ExitCode:  exitCode,
		LogURL:    "/logs/" + project + "/spider1/" + id + ".log",
	}
}

func TestAddAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, finishedJob("mybot", "job-1", 0)))
	require.NoError(t, s.Add(ctx, finishedJob("mybot", "job-2", 1)))

	jobs, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "job-1", jobs[0].ID, "completion order is preserved")
	assert.Equal(t, "job-2", jobs[1].ID)
	assert.Equal(t, 1, jobs[1].ExitCode)
	assert.Equal(t, "/logs/mybot/spider1/job-1.log", jobs[0].LogURL)
	assert.True(t, jobs[0].EndTime.After(jobs[0].StartTime))
}

func TestListFiltersByProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, finishedJob("alpha", "a-1", 0)))
	require.NoError(t, s.Add(ctx, finishedJob("beta", "b-1", 0)))
	require.NoError(t, s.Add(ctx, finishedJob("alpha", "a-2", 0)))

	jobs, err := s.List(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a-1", jobs[0].ID)
	assert.Equal(t, "a-2", jobs[1].ID)
}

func TestForEachStreamsInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"j1", "j2", "j3"} {
		require.NoError(t, s.Add(ctx, finishedJob("mybot", id, 0)))
	}

	var seen []string
	err := s.ForEach(ctx, func(job domain.Job) error {
		seen = append(seen, job.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"j1", "j2", "j3"}, seen)

	// Iteration restarts from the beginning on every call.
	seen = nil
	err = s.ForEach(ctx, func(job domain.Job) error {
		seen = append(seen, job.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"j1", "j2", "j3"}, seen)
}

func TestForEachAbortsOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"j1", "j2", "j3"} {
		require.NoError(t, s.Add(ctx, finishedJob("mybot", id, 0)))
	}

	boom := errors.New("stop here")
	var seen int
	err := s.ForEach(ctx, func(domain.Job) error {
		seen++
		if seen == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, seen, "the scan stops at the failing record")
}

func TestHas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, finishedJob("mybot", "done-job", 0)))

	found, err := s.Has(ctx, "mybot", "done-job")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.Has(ctx, "", "done-job")
	require.NoError(t, err)
	assert.True(t, found, "empty project matches any project")

	found, err = s.Has(ctx, "other", "done-job")
	require.NoError(t, err)
	assert.False(t, found)

	found, err = s.Has(ctx, "mybot", "never-ran")
	require.NoError(t, err)
	assert.False(t, found)
}
