package spiderlist

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/gwozai/scrapyd/internal/config"
	"github.com/gwozai/scrapyd/internal/domain"
	"github.com/gwozai/scrapyd/internal/eggstorage"
	"github.com/gwozai/scrapyd/internal/environ"
	"github.com/gwozai/scrapyd/internal/events"
)

// Lister resolves the spider names a project defines. Lookups without an
// explicit version are served from the cache when possible; cache misses
// run one enumeration subprocess per project/version pair no matter how
// many callers are waiting on it.
type Lister struct {
	eggs    eggstorage.Storage
	cache   Cache
	environ *environ.Environ
	cfg     config.RunnerConfig
	logger  *slog.Logger
	group   singleflight.Group
}

// NewLister creates a Lister.
func NewLister(eggs eggstorage.Storage, cache Cache, env *environ.Environ, cfg config.RunnerConfig, logger *slog.Logger) *Lister {
	return &Lister{
		eggs:    eggs,
		cache:   cache,
		environ: env,
		cfg:     cfg,
		logger:  logger.With("component", "spiderlist"),
	}
}

// Get returns the spider names for a project, resolving the latest bundle
// version when version is empty. Explicit-version lookups bypass the cache
// (and, unless configured otherwise, do not populate it) so callers always
// see that exact version's spiders.
func (l *Lister) Get(ctx context.Context, project, version string) ([]string, error) {
	if err := domain.CheckSegments(project, version); err != nil {
		return nil, err
	}

	if version == "" {
		spiders, ok, err := l.cache.Get(ctx, project)
		if err != nil {
			return nil, err
		}
		if ok {
			return spiders, nil
		}
	}

	result, err, _ := l.group.Do(project+"\x00"+version, func() (interface{}, error) {
		return l.enumerate(ctx, project, version)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

// InvalidateCache drops the cached enumeration for a project. The next
// default lookup recomputes it.
func (l *Lister) InvalidateCache(ctx context.Context, project string) error {
	if err := l.cache.Invalidate(ctx, project); err != nil {
		return err
	}
	l.logger.Debug("invalidated spider list cache", "project", project)
	return nil
}

// HandleEvent invalidates the project's cache entry when its bundle
// contents change.
func (l *Lister) HandleEvent(ctx context.Context, event *events.Event) error {
	switch event.Type {
	case events.TypeVersionAdded, events.TypeVersionDeleted:
		return l.InvalidateCache(ctx, event.Project)
	default:
		return nil
	}
}

func (l *Lister) enumerate(ctx context.Context, project, version string) ([]string, error) {
	resolved, egg, err := l.eggs.Get(project, version)
	if err != nil {
		return nil, err
	}
	if egg == nil {
		if version != "" {
			return nil, domain.NotFound("version", version)
		}
		return nil, domain.NotFound("project", project)
	}

	eggPath, werr := eggstorage.WriteTemp(egg)
	_ = egg.Close()
	if werr != nil {
		return nil, werr
	}
	defer func() {
		_ = os.Remove(eggPath)
	}()

	runCtx, cancel := context.WithTimeout(ctx, l.cfg.ListTimeout)
	defer cancel()

	args, env := l.environ.List(project, eggPath)
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	l.logger.Debug("enumerating spiders",
		"project", project,
		"version", resolved,
		"command", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("spider enumeration timed out after %s: %w", l.cfg.ListTimeout, runCtx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The subprocess output is the diagnostic; hand it over verbatim.
			detail := stderr.String()
			if detail == "" {
				detail = stdout.String()
			}
			return nil, &domain.RunnerError{Detail: detail}
		}
		return nil, fmt.Errorf("failed to run spider enumeration: %w", err)
	}

	spiders := splitLines(stdout.Bytes())

	if version == "" || l.cfg.CacheExplicitVersions {
		if err := l.cache.Set(ctx, project, spiders); err != nil {
			return nil, err
		}
	}

	l.logger.Info("enumerated spiders",
		"project", project,
		"version", resolved,
		"count", len(spiders))
	return spiders, nil
}

// splitLines decodes subprocess output as UTF-8 text, one spider name per
// line, skipping blank lines.
func splitLines(output []byte) []string {
	spiders := make([]string, 0)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			spiders = append(spiders, line)
		}
	}
	return spiders
}
