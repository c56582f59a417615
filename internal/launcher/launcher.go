// Package launcher executes queued crawl jobs as OS subprocesses. It owns
// the running-process table and the bounded finished set, enforces the
// global and per-project concurrency caps, and is the only component that
// pops entries from the pending queues.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/gwozai/scrapyd/internal/config"
	"github.com/gwozai/scrapyd/internal/domain"
	"github.com/gwozai/scrapyd/internal/eggstorage"
	"github.com/gwozai/scrapyd/internal/environ"
	"github.com/gwozai/scrapyd/internal/events"
)

// PendingQueue is the launcher's view of the scheduler: popping descriptors
// per project, listing projects with pending work, and removing a pending
// entry on cancellation.
type PendingQueue interface {
	Pop(ctx context.Context, project string) (*domain.JobDescriptor, error)
	Projects(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, project, job string) (bool, error)
}

// FinishedStore is the durable sink for completed jobs. ForEach replays the
// stored records in completion order for restart backfill.
type FinishedStore interface {
	Add(ctx context.Context, job domain.Job) error
	ForEach(ctx context.Context, fn func(domain.Job) error) error
}

// RunningJob is one running crawl plus the slot it occupies.
type RunningJob struct {
	domain.Job
	Slot int
}

// process is the launcher's bookkeeping for one spawned crawl.
type process struct {
	slot    int
	job     domain.Job
	cmd     *exec.Cmd
	logFile *os.File
	eggPath string

	// done flips under the launcher mutex once the process has been
	// reaped; signal escalation checks it before force-killing.
	done bool
}

// Launcher drains the pending queues into OS subprocesses. One dispatch
// goroutine starts jobs; one reaper goroutine per process waits for exit.
type Launcher struct {
	queue   PendingQueue
	eggs    eggstorage.Storage
	environ *environ.Environ
	store   FinishedStore
	cfg     config.LauncherConfig
	logger  *slog.Logger

	maxProcs   int
	perProject int

	mu        sync.Mutex
	processes map[int]*process
	finished  *finishedSet

	// lastProject is only touched by the dispatch goroutine; it drives
	// round-robin rotation across projects.
	lastProject string

	wake     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	loopDone chan struct{}
	wg       sync.WaitGroup
}

// New creates a Launcher. Start must be called before jobs are dispatched.
func New(
	queue PendingQueue,
	eggs eggstorage.Storage,
	env *environ.Environ,
	store FinishedStore,
	cfg config.LauncherConfig,
	logger *slog.Logger,
) *Launcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Launcher{
		queue:      queue,
		eggs:       eggs,
		environ:    env,
		store:      store,
		cfg:        cfg,
		logger:     logger.With("component", "launcher"),
		maxProcs:   cfg.EffectiveMaxProcs(),
		perProject: cfg.MaxProcsPerProject,
		processes:  make(map[int]*process),
		finished:   newFinishedSet(cfg.FinishedToKeep),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		loopDone:   make(chan struct{}),
	}
}

// Backfill seeds the in-memory finished set from the durable store so status
// reporting survives a daemon restart. The ring's bound applies: only the
// newest entries are retained.
func (l *Launcher) Backfill(ctx context.Context) error {
	var n int
	err := l.store.ForEach(ctx, func(job domain.Job) error {
		l.finished.add(job)
		n++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to backfill finished jobs: %w", err)
	}
	l.logger.Debug("backfilled finished jobs", "scanned", n, "retained", l.finished.len())
	return nil
}

// Start launches the dispatch loop. Calling Start twice is a no-op.
func (l *Launcher) Start() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	l.logger.Info("launcher started",
		"max_procs", l.maxProcs,
		"max_procs_per_project", l.perProject,
		"poll_interval", l.cfg.PollInterval)
	go l.run()
}

// Wake nudges the dispatch loop without waiting for the next poll tick.
func (l *Launcher) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// HandleEvent wakes the dispatcher when a job lands in a queue.
func (l *Launcher) HandleEvent(_ context.Context, event *events.Event) error {
	if event.Type == events.TypeJobQueued {
		l.Wake()
	}
	return nil
}

func (l *Launcher) run() {
	defer close(l.loopDone)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	l.dispatch()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.dispatch()
		case <-l.wake:
			l.dispatch()
		}
	}
}

// dispatch starts pending jobs until capacity is exhausted or the queues run
// dry. Projects are served round-robin, continuing after the project that
// was served last.
func (l *Launcher) dispatch() {
	for l.ctx.Err() == nil {
		if !l.hasCapacity() {
			return
		}

		projects, err := l.queue.Projects(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil {
				l.logger.Error("failed to list pending projects", "error", err)
			}
			return
		}
		if len(projects) == 0 {
			return
		}

		started := false
		for _, project := range rotateAfter(projects, l.lastProject) {
			if !l.hasCapacity() {
				return
			}
			if !l.projectHasCapacity(project) {
				continue
			}

			d, err := l.queue.Pop(l.ctx, project)
			if err != nil {
				if l.ctx.Err() == nil {
					l.logger.Error("failed to pop pending job", "project", project, "error", err)
				}
				return
			}
			if d == nil {
				continue
			}

			l.lastProject = project
			l.startJob(d)
			started = true
			break
		}
		if !started {
			return
		}
	}
}

func (l *Launcher) hasCapacity() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.processes) < l.maxProcs
}

func (l *Launcher) projectHasCapacity(project string) bool {
	if l.perProject <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	running := 0
	for _, p := range l.processes {
		if p.job.Project == project {
			running++
		}
	}
	return running < l.perProject
}

// startJob spawns the crawl subprocess for a popped descriptor. The
// descriptor has already left the queue, so every failure path records a
// failure-terminated finished job rather than dropping it.
func (l *Launcher) startJob(d *domain.JobDescriptor) {
	version, egg, err := l.eggs.Get(d.Project, d.Version)
	if err != nil {
		l.finishFailed(d, "", "", fmt.Errorf("failed to resolve bundle: %w", err))
		return
	}
	if egg == nil {
		// The bundle vanished between scheduling and dispatch.
		if d.Version != "" {
			l.finishFailed(d, "", "", domain.NotFound("version", d.Version))
		} else {
			l.finishFailed(d, "", "", domain.NotFound("project", d.Project))
		}
		return
	}

	eggPath, err := eggstorage.WriteTemp(egg)
	_ = egg.Close()
	if err != nil {
		l.finishFailed(d, "", "", err)
		return
	}

	crawl, err := l.environ.Crawl(*d, eggPath)
	if err != nil {
		_ = os.Remove(eggPath)
		l.finishFailed(d, "", "", err)
		return
	}

	logFile, err := os.Create(crawl.LogPath)
	if err != nil {
		_ = os.Remove(eggPath)
		l.finishFailed(d, crawl.LogURL, crawl.ItemsURL, fmt.Errorf("failed to create log file: %w", err))
		return
	}

	cmd := exec.Command(crawl.Args[0], crawl.Args[1:]...)
	cmd.Env = crawl.Env
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		spawnErr := &domain.SpawnError{Err: err}
		_, _ = fmt.Fprintln(logFile, spawnErr.Error())
		_ = logFile.Close()
		_ = os.Remove(eggPath)
		l.finishFailed(d, crawl.LogURL, crawl.ItemsURL, spawnErr)
		return
	}

	job := domain.Job{
		Project:   d.Project,
		Spider:    d.Spider,
		ID:        d.JobID,
		PID:       cmd.Process.Pid,
		StartTime: time.Now().UTC(),
		LogURL:    crawl.LogURL,
		ItemsURL:  crawl.ItemsURL,
	}

	l.mu.Lock()
	p := &process{
		slot:    l.freeSlot(),
		job:     job,
		cmd:     cmd,
		logFile: logFile,
		eggPath: eggPath,
	}
	l.processes[p.slot] = p
	l.mu.Unlock()

	l.logger.Info("crawl started",
		"project", job.Project,
		"spider", job.Spider,
		"job", job.ID,
		"pid", job.PID,
		"slot", p.slot,
		"version", version)

	l.wg.Add(1)
	go l.reap(p)
}

// freeSlot returns the smallest unoccupied slot number. Callers hold mu.
func (l *Launcher) freeSlot() int {
	for slot := 0; ; slot++ {
		if _, taken := l.processes[slot]; !taken {
			return slot
		}
	}
}

// reap waits for one process to exit, then moves its record from running to
// finished and releases the slot.
func (l *Launcher) reap(p *process) {
	defer l.wg.Done()

	waitErr := p.cmd.Wait()
	exitCode := p.cmd.ProcessState.ExitCode()

	_ = p.logFile.Close()
	_ = os.Remove(p.eggPath)

	l.mu.Lock()
	p.done = true
	delete(l.processes, p.slot)
	p.job.EndTime = time.Now().UTC()
	p.job.ExitCode = exitCode
	job := p.job
	l.finished.add(job)
	l.mu.Unlock()

	if exitCode == 0 {
		l.logger.Info("crawl finished",
			"project", job.Project, "spider", job.Spider, "job", job.ID)
	} else {
		l.logger.Warn("crawl failed",
			"project", job.Project, "spider", job.Spider, "job", job.ID,
			"exit_code", exitCode, "error", waitErr)
	}

	l.persist(job)
	l.Wake()
}

// finishFailed records a job that never reached a running process. ExitCode
// -1 marks the failure; start and end collapse to the same instant.
func (l *Launcher) finishFailed(d *domain.JobDescriptor, logURL, itemsURL string, cause error) {
	now := time.Now().UTC()
	job := domain.Job{
		Project:   d.Project,
		Spider:    d.Spider,
		ID:        d.JobID,
		StartTime: now,
		EndTime:   now,
		ExitCode:  -1,
		LogURL:    logURL,
		ItemsURL:  itemsURL,
	}

	l.logger.Error("job failed to start",
		"project", d.Project, "spider", d.Spider, "job", d.JobID, "error", cause)

	l.mu.Lock()
	l.finished.add(job)
	l.mu.Unlock()
	l.persist(job)
}

func (l *Launcher) persist(job domain.Job) {
	if err := l.store.Add(context.Background(), job); err != nil {
		l.logger.Error("failed to persist finished job",
			"project", job.Project, "job", job.ID, "error", err)
	}
}

// Cancel stops a job. A running job is signalled (and force-killed after the
// cancel grace period if it ignores the signal); a pending job is removed
// from its queue. The returned previous state is "running", "pending", or ""
// when the job is unknown.
func (l *Launcher) Cancel(ctx context.Context, project, job, signal string) (string, error) {
	sig, err := ParseSignal(signal)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	var target *process
	for _, p := range l.processes {
		if p.job.Project == project && p.job.ID == job {
			target = p
			break
		}
	}
	l.mu.Unlock()

	if target != nil {
		if err := target.cmd.Process.Signal(sig); err != nil {
			// The process may have exited between lookup and signal.
			l.logger.Debug("signal delivery failed", "job", job, "error", err)
		}
		l.logger.Info("cancelled running job",
			"project", project, "job", job, "signal", sig.String())
		if l.cfg.CancelGrace > 0 {
			go l.escalate(target)
		}
		return "running", nil
	}

	removed, err := l.queue.Remove(ctx, project, job)
	if err != nil {
		return "", err
	}
	if removed {
		l.logger.Info("cancelled pending job", "project", project, "job", job)
		return "pending", nil
	}
	return "", nil
}

// escalate force-kills a signalled process that outlives the grace period.
func (l *Launcher) escalate(p *process) {
	timer := time.NewTimer(l.cfg.CancelGrace)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-l.ctx.Done():
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !p.done {
		l.logger.Warn("process ignored cancel signal, killing",
			"project", p.job.Project, "job", p.job.ID, "pid", p.job.PID)
		_ = p.cmd.Process.Kill()
	}
}

// Running returns the running jobs ordered by slot.
func (l *Launcher) Running() []RunningJob {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]RunningJob, 0, len(l.processes))
	for _, p := range l.processes {
		out = append(out, RunningJob{Job: p.job, Slot: p.slot})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Finished returns the retained finished jobs, oldest first.
func (l *Launcher) Finished() []domain.Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finished.list()
}

// Stop halts dispatch, asks running crawls to terminate, and waits them out.
// Crawls still alive after the shutdown grace period are force-killed.
func (l *Launcher) Stop(ctx context.Context) error {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()

	l.cancel()
	if started {
		<-l.loopDone
	}

	l.mu.Lock()
	running := make([]*process, 0, len(l.processes))
	for _, p := range l.processes {
		running = append(running, p)
	}
	l.mu.Unlock()

	if len(running) > 0 {
		l.logger.Info("signalling running crawls", "count", len(running))
		for _, p := range running {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
		}
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	if l.cfg.ShutdownGrace > 0 {
		select {
		case <-done:
			l.logger.Info("launcher stopped")
			return nil
		case <-time.After(l.cfg.ShutdownGrace):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.mu.Lock()
	for _, p := range l.processes {
		if !p.done {
			l.logger.Warn("killing crawl that outlived shutdown grace",
				"project", p.job.Project, "job", p.job.ID, "pid", p.job.PID)
			_ = p.cmd.Process.Kill()
		}
	}
	l.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.logger.Info("launcher stopped")
	return nil
}

// rotateAfter reorders projects so iteration resumes after the given one;
// unknown or empty last leaves the order untouched.
func rotateAfter(projects []string, last string) []string {
	if last == "" {
		return projects
	}
	for i, p := range projects {
		if p == last {
			rotated := make([]string, 0, len(projects))
			rotated = append(rotated, projects[i+1:]...)
			rotated = append(rotated, projects[:i+1]...)
			return rotated
		}
	}
	return projects
}
