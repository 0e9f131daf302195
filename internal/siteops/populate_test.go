package siteops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/spsync/internal/auth"
	"github.com/tonimelisma/spsync/internal/pull"
	"github.com/tonimelisma/spsync/internal/spclient"
)

const populateConfig = `
site_url = "https://contoso.sharepoint.com/sites/team"
authentication_type = "Digest"
source_directory = "src"
remote_folders = ["/SiteAssets/app.js", "/Style%20Library/**/*"]

[[sub_sites]]
site_url = "https://contoso.sharepoint.com/sites/team/sub"
remote_folders = ["/Docs/**"]
`

func TestPopulateWorkspace_GathersFailures(t *testing.T) {
	f := newFixture(t, populateConfig)
	f.gw.downloadFn = func(req *pull.Request) ([]spclient.Transferred, error) {
		if strings.HasPrefix(req.Pattern, "/Style Library") {
			return nil, spclient.ErrForbidden
		}

		return transferred(req, 2), nil
	}

	report, err := f.orch.PopulateWorkspace(t.Context(), f.root)
	require.NoError(t, err)

	require.Len(t, report.Entries, 3)
	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, 4, report.Files())

	assert.Equal(t, testSiteURL, report.Entries[0].SiteURL)
	assert.Equal(t, "/SiteAssets/app.js", report.Entries[0].Pattern)
	assert.Equal(t, "/Style Library/**/*", report.Entries[1].Pattern)
	require.ErrorIs(t, report.Entries[1].Err, spclient.ErrForbidden)
	assert.Nil(t, report.Entries[1].Transferred)
	assert.Equal(t, testSubURL, report.Entries[2].SiteURL)

	assert.Equal(t, []string{
		testSiteURL + " /SiteAssets/app.js",
		testSiteURL + " /Style Library/**/*",
		testSubURL + " /Docs/**",
	}, sortedPatterns(f.gw.downloads))

	require.Len(t, f.notes.warns, 1)
	assert.Contains(t, f.notes.warns[0], "/Style Library/**/*")
	assert.Equal(t, []string{"File synchronization complete: 1 of 3 downloads failed."}, f.notes.statuses)
	assert.Empty(t, f.notes.errs)
}

func TestPopulateWorkspace_UnauthorizedInvalidatesCredentials(t *testing.T) {
	f := newFixture(t, populateConfig)
	f.gw.downloadFn = func(req *pull.Request) ([]spclient.Transferred, error) {
		if req.Pattern == "/Docs/**" {
			return nil, fmt.Errorf("HTTP 401: %w", spclient.ErrUnauthorized)
		}

		return transferred(req, 1), nil
	}

	report, err := f.orch.PopulateWorkspace(t.Context(), f.root)
	require.NoError(t, err, "results are still gathered")
	assert.Equal(t, 2, report.Succeeded())
	require.ErrorIs(t, report.Entries[2].Err, spclient.ErrUnauthorized)
	assert.Equal(t, 2, f.prompter.count())

	site, err := f.orch.cfg.Scopes.ForPath(f.root)
	require.NoError(t, err)

	state, _ := f.creds.State(site)
	assert.Equal(t, auth.StateEmpty, state)

	f.gw.downloadFn = nil
	_, err = f.orch.PopulateWorkspace(t.Context(), f.root)
	require.NoError(t, err)

	assert.Equal(t, 4, f.prompter.count(), "credentials are collected again")
	assert.Len(t, f.factoryRecords(), 2, "a new gateway is built after rejection")
}

func TestPopulateWorkspace_OtherFailuresKeepCredentials(t *testing.T) {
	f := newFixture(t, populateConfig)
	f.gw.downloadFn = func(*pull.Request) ([]spclient.Transferred, error) {
		return nil, spclient.ErrForbidden
	}

	_, err := f.orch.PopulateWorkspace(t.Context(), f.root)
	require.NoError(t, err)

	site, err := f.orch.cfg.Scopes.ForPath(f.root)
	require.NoError(t, err)

	state, _ := f.creds.State(site)
	assert.Equal(t, auth.StateReady, state)
	assert.Len(t, f.factoryRecords(), 1)
}

func TestPopulateWorkspace_FileEntryUsesPublishedVersion(t *testing.T) {
	f := newFixture(t, populateConfig)

	_, err := f.orch.PopulateWorkspace(t.Context(), f.root)
	require.NoError(t, err)

	var single *pull.Request

	for _, req := range f.gw.downloads {
		if req.Pattern == "/SiteAssets/app.js" {
			single = req
		}
	}

	require.NotNil(t, single)
	assert.True(t, single.MajorVersion)
	assert.Equal(t, []string{"/sites/team/SiteAssets/app.js"}, single.StrictObjects)
	assert.Equal(t, f.src, single.LocalRoot)
}

func TestPopulateWorkspace_PanicIsIsolated(t *testing.T) {
	f := newFixture(t, populateConfig)
	f.gw.downloadFn = func(req *pull.Request) ([]spclient.Transferred, error) {
		if req.Pattern == "/Docs/**" {
			panic("boom")
		}

		return transferred(req, 1), nil
	}

	report, err := f.orch.PopulateWorkspace(t.Context(), f.root)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Succeeded())
	require.Error(t, report.Entries[2].Err)
	assert.Contains(t, report.Entries[2].Err.Error(), "panic")
}

func TestPopulateWorkspace_AllSucceed(t *testing.T) {
	f := newFixture(t, populateConfig)
	f.gw.downloadFn = func(req *pull.Request) ([]spclient.Transferred, error) {
		return transferred(req, 1), nil
	}

	report, err := f.orch.PopulateWorkspace(t.Context(), f.root)
	require.NoError(t, err)

	assert.Zero(t, report.Failed())
	assert.Empty(t, f.notes.warns)
	assert.Equal(t, []string{"File synchronization complete."}, f.notes.statuses)
}

func TestPopulateWorkspace_NoRemoteFolders(t *testing.T) {
	f := newFixture(t, digestConfig)

	report, err := f.orch.PopulateWorkspace(t.Context(), f.root)
	require.ErrorIs(t, err, ErrNoRemoteFolders)
	assert.Nil(t, report)
	assert.Empty(t, f.gw.downloads)
	assert.Len(t, f.notes.errs, 1)
	assert.Empty(t, f.notes.statuses)
}

func TestPopulateJob_RunRecoversPanic(t *testing.T) {
	job := populateJob{siteURL: mustURL(t, testSiteURL), pattern: "/a/**"}

	entry := job.run(t.Context(), func(_ context.Context) ([]spclient.Transferred, error) {
		panic(errors.New("nil map"))
	})

	require.Error(t, entry.Err)
	assert.Contains(t, entry.Err.Error(), "/a/**")
	assert.Equal(t, testSiteURL, entry.SiteURL)
}

func TestDecodePattern(t *testing.T) {
	assert.Equal(t, "/Style Library/**", decodePattern("/Style%20Library/**"))
	assert.Equal(t, "/100%/x", decodePattern("/100%/x"))
	assert.Equal(t, "/a/b", decodePattern(`\a\b`))
}
