// Package environ derives the command line, process environment, and output
// locations for runner subprocesses.
package environ

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/gwozai/scrapyd/internal/config"
	"github.com/gwozai/scrapyd/internal/domain"
)

// Environ builds runner invocations. It is stateless and safe for
// concurrent use.
type Environ struct {
	runner   []string
	logsDir  string
	itemsDir string
	defaults map[string]map[string]string
}

// New creates an Environ from the daemon configuration.
func New(cfg *config.Config) *Environ {
	return &Environ{
		runner:   cfg.Runner.Command,
		logsDir:  cfg.Storage.LogsDir,
		itemsDir: cfg.Storage.ItemsDir,
		defaults: cfg.Settings,
	}
}

// listOverrides are forced for every enumeration run. Spider names are read
// from the subprocess stdout, so stdout redirection is switched off no
// matter what the project or caller configured.
var listOverrides = domain.Settings{"LOG_STDOUT": "0"}

// CrawlEnvironment is one fully derived crawl invocation.
type CrawlEnvironment struct {
	// Args is the complete argv, runner command included.
	Args []string

	// Env is the subprocess environment.
	Env []string

	// LogPath is where the launcher writes the process output. ItemsPath
	// is empty when item storage is disabled.
	LogPath   string
	ItemsPath string

	// LogURL and ItemsURL are the HTTP paths the files are served under.
	LogURL   string
	ItemsURL string
}

// Crawl derives the invocation for one job descriptor. Settings merge
// lowest to highest: project defaults, then the descriptor's settings, then
// daemon-derived output settings. Parent directories for the output files
// are created; the project, spider, and job id are validated as path
// segments first.
func (e *Environ) Crawl(d domain.JobDescriptor, eggPath string) (*CrawlEnvironment, error) {
	logPath, err := domain.SafeJoin(e.logsDir, d.Project, d.Spider, d.JobID+".log")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	crawl := &CrawlEnvironment{
		LogPath: logPath,
		LogURL:  jobURL("logs", d, "log"),
	}

	settings := e.projectDefaults(d.Project).Merge(d.Settings)
	if e.itemsDir != "" {
		itemsPath, err := domain.SafeJoin(e.itemsDir, d.Project, d.Spider, d.JobID+".jl")
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(itemsPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create items directory: %w", err)
		}
		crawl.ItemsPath = itemsPath
		crawl.ItemsURL = jobURL("items", d, "jl")
		settings = settings.Merge(domain.Settings{"FEED_URI": itemsPath})
	}

	args := append([]string{}, e.runner...)
	args = append(args, "crawl", d.Spider)
	args = append(args, "-a", "_job="+d.JobID)
	for _, pair := range sortedPairs(d.Args) {
		args = append(args, "-a", pair)
	}
	for _, pair := range settings.Pairs() {
		args = append(args, "-s", pair)
	}
	crawl.Args = args
	crawl.Env = e.processEnv(d.Project, d.Version, eggPath)

	return crawl, nil
}

// List derives argv and environment for the runner's list subcommand
// against the given egg.
func (e *Environ) List(project, eggPath string) ([]string, []string) {
	settings := e.projectDefaults(project).Merge(listOverrides)

	args := append([]string{}, e.runner...)
	args = append(args, "list")
	for _, pair := range settings.Pairs() {
		args = append(args, "-s", pair)
	}
	return args, e.processEnv(project, "", eggPath)
}

func (e *Environ) projectDefaults(project string) domain.Settings {
	defaults := make(domain.Settings, len(e.defaults[project]))
	for k, v := range e.defaults[project] {
		defaults[k] = v
	}
	return defaults
}

func (e *Environ) processEnv(project, version, eggPath string) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, "SCRAPY_PROJECT="+project)
	if version != "" {
		env = append(env, "SCRAPYD_EGG_VERSION="+version)
	}
	env = append(env, "SCRAPYD_EGG_FILE="+eggPath)
	return env
}

func sortedPairs(args map[string]string) []string {
	return domain.Settings(args).Pairs()
}

// jobURL is the HTTP path a job's output file is served under; always
// forward slashes, independent of the host separator.
func jobURL(prefix string, d domain.JobDescriptor, ext string) string {
	return "/" + path.Join(prefix, d.Project, d.Spider, d.JobID+"."+ext)
}
