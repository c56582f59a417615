package environ

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwozai/scrapyd/internal/config"
	"github.com/gwozai/scrapyd/internal/domain"
)

func newTestEnviron(t *testing.T, itemsDir string, projectSettings map[string]map[string]string) *Environ {
	t.Helper()
	dir := t.TempDir()
	if itemsDir != "" {
		itemsDir = filepath.Join(dir, itemsDir)
	}
	return New(&config.Config{
		Storage: config.StorageConfig{
			LogsDir:  filepath.Join(dir, "logs"),
			ItemsDir: itemsDir,
		},
		Runner: config.RunnerConfig{
			Command: []string{"python", "-m", "scrapyd.runner"},
		},
		Settings: projectSettings,
	})
}

func TestCrawlArgumentLayout(t *testing.T) {
	e := newTestEnviron(t, "", nil)

	crawl, err := e.Crawl(domain.JobDescriptor{
		Project:  "mybot",
		Spider:   "spider1",
		JobID:    "job-1",
		Settings: domain.Settings{"DOWNLOAD_DELAY": "2"},
		Args:     map[string]string{"arg1": "val1"},
	}, "/tmp/egg-path.egg")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"python", "-m", "scrapyd.runner",
		"crawl", "spider1",
		"-a", "_job=job-1",
		"-a", "arg1=val1",
		"-s", "DOWNLOAD_DELAY=2",
	}, crawl.Args)
}

func TestCrawlMergesProjectDefaults(t *testing.T) {
	e := newTestEnviron(t, "", map[string]map[string]string{
		"mybot": {"DOWNLOAD_DELAY": "10", "BOT_NAME": "mybot"},
	})

	crawl, err := e.Crawl(domain.JobDescriptor{
		Project:  "mybot",
		Spider:   "spider1",
		JobID:    "job-1",
		Settings: domain.Settings{"DOWNLOAD_DELAY": "2"},
	}, "/tmp/egg.egg")
	require.NoError(t, err)

	assert.Contains(t, crawl.Args, "DOWNLOAD_DELAY=2", "job settings override project defaults")
	assert.Contains(t, crawl.Args, "BOT_NAME=mybot", "unconflicted defaults survive")
	assert.NotContains(t, crawl.Args, "DOWNLOAD_DELAY=10")
}

func TestCrawlOutputLocations(t *testing.T) {
	e := newTestEnviron(t, "items", nil)

	d := domain.JobDescriptor{Project: "mybot", Spider: "spider1", JobID: "job-1"}
	crawl, err := e.Crawl(d, "/tmp/egg.egg")
	require.NoError(t, err)

	wantSuffix := filepath.Join("logs", "mybot", "spider1", "job-1.log")
	assert.True(t, strings.HasSuffix(crawl.LogPath, wantSuffix),
		"log path %q should end in %q", crawl.LogPath, wantSuffix)
	assert.Equal(t, "/logs/mybot/spider1/job-1.log", crawl.LogURL)
	assert.Equal(t, "/items/mybot/spider1/job-1.jl", crawl.ItemsURL)

	// Parent directories exist so the launcher can create the files.
	assert.DirExists(t, filepath.Dir(crawl.LogPath))
	assert.DirExists(t, filepath.Dir(crawl.ItemsPath))

	// The items location reaches the crawl as a feed setting.
	assert.Contains(t, crawl.Args, "FEED_URI="+crawl.ItemsPath)
}

func TestCrawlWithoutItemsDir(t *testing.T) {
	e := newTestEnviron(t, "", nil)

	crawl, err := e.Crawl(domain.JobDescriptor{Project: "mybot", Spider: "spider1", JobID: "j"}, "/tmp/egg.egg")
	require.NoError(t, err)

	assert.Empty(t, crawl.ItemsPath)
	assert.Empty(t, crawl.ItemsURL)
	for _, arg := range crawl.Args {
		assert.NotContains(t, arg, "FEED_URI", "no feed setting without an items dir")
	}
}

func TestCrawlEnvironment(t *testing.T) {
	e := newTestEnviron(t, "", nil)

	crawl, err := e.Crawl(domain.JobDescriptor{
		Project: "mybot", Spider: "spider1", JobID: "j", Version: "r5",
	}, "/tmp/egg-file.egg")
	require.NoError(t, err)

	assert.Contains(t, crawl.Env, "SCRAPY_PROJECT=mybot")
	assert.Contains(t, crawl.Env, "SCRAPYD_EGG_VERSION=r5")
	assert.Contains(t, crawl.Env, "SCRAPYD_EGG_FILE=/tmp/egg-file.egg")
}

func TestCrawlRejectsTraversal(t *testing.T) {
	e := newTestEnviron(t, "", nil)

	cases := []domain.JobDescriptor{
		{Project: "../p", Spider: "spider1", JobID: "j"},
		{Project: "mybot", Spider: "../s", JobID: "j"},
		{Project: "mybot", Spider: "spider1", JobID: "../j"},
	}
	for _, d := range cases {
		_, err := e.Crawl(d, "/tmp/egg.egg")
		var traversal *domain.DirectoryTraversalError
		assert.ErrorAs(t, err, &traversal, "descriptor %+v must be rejected", d)
	}
}

func TestListForcesStdoutLogging(t *testing.T) {
	// The project default tries to redirect stdout; enumeration depends on
	// reading it, so the daemon's override must win.
	e := newTestEnviron(t, "", map[string]map[string]string{
		"mybot": {"LOG_STDOUT": "1", "BOT_NAME": "mybot"},
	})

	args, env := e.List("mybot", "/tmp/egg.egg")

	assert.Equal(t, []string{
		"python", "-m", "scrapyd.runner",
		"list",
		"-s", "BOT_NAME=mybot",
		"-s", "LOG_STDOUT=0",
	}, args)
	assert.Contains(t, env, "SCRAPY_PROJECT=mybot")
	assert.Contains(t, env, "SCRAPYD_EGG_FILE=/tmp/egg.egg")
}

func TestListInheritsProcessEnvironment(t *testing.T) {
	t.Setenv("SCRAPYD_TEST_MARKER", "inherited")
	e := newTestEnviron(t, "", nil)

	_, env := e.List("mybot", "/tmp/egg.egg")

	assert.Contains(t, env, "SCRAPYD_TEST_MARKER=inherited")
}

