// Package eggstorage stores and resolves versioned spider bundles ("eggs").
package eggstorage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/gwozai/scrapyd/internal/domain"
)

const eggSuffix = ".egg"

// Storage is the bundle resolver. Implementations must validate project
// names against directory traversal before touching the filesystem and must
// never rewrite them.
//
// Get resolves the latest version when version is empty and reports an
// absent project or version as ("", nil, nil) rather than an error; callers
// decide what absence means in their context.
type Storage interface {
	// Put stores the egg under project/version, overwriting any previous
	// upload of the same version.
	Put(project, version string, egg io.Reader) error

	// Get opens the egg for the requested version, or the latest stored
	// version when version is empty. The returned string is the resolved,
	// sanitized version name.
	Get(project, version string) (string, io.ReadCloser, error)

	// List returns the stored versions of a project in version order,
	// oldest first; the last element is the latest. A project with no eggs
	// yields an empty list, not an error.
	List(project string) ([]string, error)

	// ListProjects returns every project with at least one stored egg,
	// sorted by name.
	ListProjects() ([]string, error)

	// Delete removes one version, or the whole project when version is
	// empty. Deleting the last version of a project removes the project.
	// Missing targets are reported as NotFoundError.
	Delete(project, version string) error
}

// FilesystemStorage keeps one file per version at
// {basedir}/{project}/{version}.egg. Version strings are sanitized for
// filesystem use; project names are validated, never rewritten.
type FilesystemStorage struct {
	basedir string
	logger  *slog.Logger
}

// NewFilesystemStorage creates a FilesystemStorage rooted at basedir. The
// directory is created lazily on first Put.
func NewFilesystemStorage(basedir string, logger *slog.Logger) *FilesystemStorage {
	return &FilesystemStorage{
		basedir: basedir,
		logger:  logger.With("component", "eggstorage"),
	}
}

var versionSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeVersion rewrites a version string for use as a filename: every
// rune outside [A-Za-z0-9_-] becomes an underscore. Sanitizing is
// idempotent, so already-sanitized names pass through unchanged.
func SanitizeVersion(version string) string {
	return versionSanitizer.ReplaceAllString(version, "_")
}

func (s *FilesystemStorage) eggPath(project, version string) (string, error) {
	// Validate the project on its own first so a traversal report names the
	// offending identifier, not the joined path.
	if err := domain.CheckSegments(project); err != nil {
		return "", err
	}
	return domain.SafeJoin(s.basedir, project, SanitizeVersion(version)+eggSuffix)
}

func (s *FilesystemStorage) Put(project, version string, egg io.Reader) error {
	path, err := s.eggPath(project, version)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create egg file: %w", err)
	}
	if _, err := io.Copy(f, egg); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write egg file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write egg file: %w", err)
	}

	s.logger.Info("stored egg", "project", project, "version", SanitizeVersion(version))
	return nil
}

func (s *FilesystemStorage) Get(project, version string) (string, io.ReadCloser, error) {
	versions, err := s.List(project)
	if err != nil {
		return "", nil, err
	}
	if len(versions) == 0 {
		return "", nil, nil
	}

	resolved := versions[len(versions)-1]
	if version != "" {
		resolved = SanitizeVersion(version)
		if !slices.Contains(versions, resolved) {
			return "", nil, nil
		}
	}

	path, err := s.eggPath(project, resolved)
	if err != nil {
		return "", nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("failed to open egg file: %w", err)
	}
	return resolved, f, nil
}

func (s *FilesystemStorage) List(project string) ([]string, error) {
	dir, err := domain.SafeJoin(s.basedir, project)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read project directory: %w", err)
	}

	var versions []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), eggSuffix) {
			continue
		}
		versions = append(versions, strings.TrimSuffix(entry.Name(), eggSuffix))
	}
	SortVersions(versions)
	return versions, nil
}

func (s *FilesystemStorage) ListProjects() ([]string, error) {
	entries, err := os.ReadDir(s.basedir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read eggs directory: %w", err)
	}

	var projects []string
	for _, entry := range entries {
		if entry.IsDir() {
			projects = append(projects, entry.Name())
		}
	}
	sort.Strings(projects)
	return projects, nil
}

func (s *FilesystemStorage) Delete(project, version string) error {
	if version == "" {
		return s.deleteProject(project)
	}

	path, err := s.eggPath(project, version)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Report the version exactly as the caller named it.
			return domain.NotFound("version", version)
		}
		return fmt.Errorf("failed to delete egg file: %w", err)
	}
	s.logger.Info("deleted egg", "project", project, "version", SanitizeVersion(version))

	versions, err := s.List(project)
	if err == nil && len(versions) == 0 {
		return s.deleteProject(project)
	}
	return nil
}

func (s *FilesystemStorage) deleteProject(project string) error {
	dir, err := domain.SafeJoin(s.basedir, project)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.NotFound("project", project)
		}
		return fmt.Errorf("failed to stat project directory: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete project directory: %w", err)
	}
	s.logger.Info("deleted project eggs", "project", project)
	return nil
}
