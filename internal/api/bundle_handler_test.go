package api

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwozai/scrapyd/internal/domain"
	"github.com/gwozai/scrapyd/internal/events"
)

func TestAddVersionMultipart(t *testing.T) {
	f := newAPIFixture(t)
	f.lister.spiders = []string{"toscrape-css", "toscrape-xpath"}

	w := postMultipart(t, f.handler.AddVersion,
		url.Values{"project": {"quotesbot"}, "version": {"0.1"}},
		[]byte("egg bytes"))

	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "quotesbot", body["project"])
	assert.Equal(t, "0.1", body["version"], "the version is echoed raw, not sanitized")
	assert.EqualValues(t, 2, body["spiders"])

	versions, err := f.eggs.List("quotesbot")
	require.NoError(t, err)
	assert.Equal(t, []string{"0_1"}, versions)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, events.TypeVersionAdded, f.events.events[0].Type)
	assert.Equal(t, "quotesbot", f.events.events[0].Project)
	assert.Equal(t, "0.1", f.events.events[0].Version)

	require.Len(t, f.lister.calls, 1)
	assert.Equal(t, listerCall{"quotesbot", "0.1"}, f.lister.calls[0],
		"the uploaded version is enumerated, not whatever is latest")
}

func TestAddVersionFormField(t *testing.T) {
	f := newAPIFixture(t)
	f.lister.spiders = []string{"spider1"}

	w := postForm(t, f.handler.AddVersion, url.Values{
		"project": {"mybot"},
		"version": {"r1"},
		"egg":     {"egg bytes"},
	})

	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["spiders"])

	versions, err := f.eggs.List("mybot")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, versions)
}

func TestAddVersionMissingParams(t *testing.T) {
	f := newAPIFixture(t)

	body := decode(t, postForm(t, f.handler.AddVersion, url.Values{}))
	assertError(t, body, "'project' parameter is required")

	body = decode(t, postForm(t, f.handler.AddVersion, url.Values{"project": {"p"}}))
	assertError(t, body, "'version' parameter is required")

	body = decode(t, postForm(t, f.handler.AddVersion,
		url.Values{"project": {"p"}, "version": {"r1"}}))
	assertError(t, body, "'egg' parameter is required")
}

func TestAddVersionRejectsTraversal(t *testing.T) {
	f := newAPIFixture(t)

	body := decode(t, postForm(t, f.handler.AddVersion, url.Values{
		"project": {"../p"},
		"version": {"r1"},
		"egg":     {"egg bytes"},
	}))
	assertError(t, body, "DirectoryTraversalError: ../p")
	assert.Empty(t, f.events.events, "no event fires for a rejected upload")
}

func TestAddVersionSurfacesRunnerError(t *testing.T) {
	f := newAPIFixture(t)
	f.lister.err = &domain.RunnerError{Detail: "Exception: bad egg\n"}

	body := decode(t, postForm(t, f.handler.AddVersion, url.Values{
		"project": {"mybot"},
		"version": {"r1"},
		"egg":     {"egg bytes"},
	}))
	assertError(t, body, "RunnerError: Exception: bad egg\n")

	// The upload itself still happened.
	versions, err := f.eggs.List("mybot")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, versions)
}

func TestListProjects(t *testing.T) {
	f := newAPIFixture(t)
	f.putEgg(t, "beta", "r1")
	f.putEgg(t, "alpha", "r1")
	f.handler.settings = map[string]map[string]string{"gamma": {}}

	body := decode(t, getRequest(t, f.handler.ListProjects, nil))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []interface{}{"alpha", "beta", "gamma"}, body["projects"])
}

func TestListVersions(t *testing.T) {
	f := newAPIFixture(t)
	f.putEgg(t, "mybot", "r10")
	f.putEgg(t, "mybot", "r1")
	f.putEgg(t, "mybot", "r2")

	body := decode(t, getRequest(t, f.handler.ListVersions, url.Values{"project": {"mybot"}}))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []interface{}{"r1", "r2", "r10"}, body["versions"],
		"versions are ordered naturally, latest last")
}

func TestListVersionsUnknownProjectIsEmptyNotError(t *testing.T) {
	f := newAPIFixture(t)

	body := decode(t, getRequest(t, f.handler.ListVersions, url.Values{"project": {"ghost"}}))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []interface{}{}, body["versions"])
}

func TestListVersionsMissingProject(t *testing.T) {
	f := newAPIFixture(t)

	body := decode(t, getRequest(t, f.handler.ListVersions, nil))
	assertError(t, body, "'project' parameter is required")
}

func TestListSpiders(t *testing.T) {
	f := newAPIFixture(t)
	f.lister.spiders = []string{"spider1", "spider2"}

	body := decode(t, getRequest(t, f.handler.ListSpiders, url.Values{"project": {"mybot"}}))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []interface{}{"spider1", "spider2"}, body["spiders"])

	require.Len(t, f.lister.calls, 1)
	assert.Equal(t, listerCall{"mybot", ""}, f.lister.calls[0])
}

func TestListSpidersExplicitVersion(t *testing.T) {
	f := newAPIFixture(t)
	f.lister.spiders = []string{"spider1"}

	decode(t, getRequest(t, f.handler.ListSpiders,
		url.Values{"project": {"mybot"}, "_version": {"r1"}}))

	require.Len(t, f.lister.calls, 1)
	assert.Equal(t, listerCall{"mybot", "r1"}, f.lister.calls[0])
}

func TestListSpidersNotFound(t *testing.T) {
	f := newAPIFixture(t)
	f.lister.err = domain.NotFound("project", "ghost")

	body := decode(t, getRequest(t, f.handler.ListSpiders, url.Values{"project": {"ghost"}}))
	assertError(t, body, "project 'ghost' not found")
}

func TestDeleteVersion(t *testing.T) {
	f := newAPIFixture(t)
	f.putEgg(t, "mybot", "r1")
	f.putEgg(t, "mybot", "r2")

	body := decode(t, postForm(t, f.handler.DeleteVersion,
		url.Values{"project": {"mybot"}, "version": {"r1"}}))
	assert.Equal(t, "ok", body["status"])

	versions, err := f.eggs.List("mybot")
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, versions)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, events.TypeVersionDeleted, f.events.events[0].Type)
}

func TestDeleteVersionUnknown(t *testing.T) {
	f := newAPIFixture(t)
	f.putEgg(t, "mybot", "r1")

	body := decode(t, postForm(t, f.handler.DeleteVersion,
		url.Values{"project": {"mybot"}, "version": {"0.1"}}))
	assertError(t, body, "version '0.1' not found")
	assert.Empty(t, f.events.events)
}

func TestDeleteProject(t *testing.T) {
	f := newAPIFixture(t)
	f.putEgg(t, "mybot", "r1")
	f.putEgg(t, "mybot", "r2")

	body := decode(t, postForm(t, f.handler.DeleteProject, url.Values{"project": {"mybot"}}))
	assert.Equal(t, "ok", body["status"])

	projects, err := f.eggs.ListProjects()
	require.NoError(t, err)
	assert.Empty(t, projects)

	assert.Equal(t, []string{"mybot"}, f.scheduler.purged,
		"deleting a project drains its pending queue")
	require.Len(t, f.events.events, 1)
	assert.Equal(t, events.TypeVersionDeleted, f.events.events[0].Type)
}

func TestDeleteProjectUnknown(t *testing.T) {
	f := newAPIFixture(t)

	body := decode(t, postForm(t, f.handler.DeleteProject, url.Values{"project": {"ghost"}}))
	assertError(t, body, "project 'ghost' not found")
	assert.Empty(t, f.scheduler.purged)
}
