package siteops

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/spsync/internal/auth"
	"github.com/tonimelisma/spsync/internal/config"
	"github.com/tonimelisma/spsync/internal/pull"
	"github.com/tonimelisma/spsync/internal/spclient"
)

const (
	testSiteURL = "https://contoso.sharepoint.com/sites/team"
	testSubURL  = "https://contoso.sharepoint.com/sites/team/sub"
)

const digestConfig = `
site_url = "https://contoso.sharepoint.com/sites/team"
authentication_type = "Digest"
source_directory = "src"
`

// fakeGateway records every call and answers from canned values. Download
// and Upload delegate to optional functions.
type fakeGateway struct {
	mu    sync.Mutex
	calls []string

	checkOutErr error
	undoErr     error
	deleteErr   error
	info        *spclient.FileInfo
	infoErr     error
	user        string

	downloadFn func(req *pull.Request) ([]spclient.Transferred, error)
	uploadFn   func(req *spclient.UploadRequest) ([]spclient.Transferred, error)

	downloads []*pull.Request
	uploads   []*spclient.UploadRequest
}

func (g *fakeGateway) record(call string) {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	g.mu.Unlock()
}

func (g *fakeGateway) callList() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]string(nil), g.calls...)
}

func (g *fakeGateway) CheckOut(_ context.Context, _, serverRel string) error {
	g.record("CheckOut " + serverRel)
	return g.checkOutErr
}

func (g *fakeGateway) UndoCheckOut(_ context.Context, _, serverRel string) error {
	g.record("UndoCheckOut " + serverRel)
	return g.undoErr
}

func (g *fakeGateway) Delete(_ context.Context, _, serverRel string) error {
	g.record("Delete " + serverRel)
	return g.deleteErr
}

func (g *fakeGateway) FileInfo(_ context.Context, _, serverRel string) (*spclient.FileInfo, error) {
	g.record("FileInfo " + serverRel)

	if g.infoErr != nil {
		return nil, g.infoErr
	}

	fi := *g.info

	return &fi, nil
}

func (g *fakeGateway) CheckedOutBy(_ context.Context, _, serverRel string) (string, error) {
	g.record("CheckedOutBy " + serverRel)
	return g.user, nil
}

func (g *fakeGateway) Download(_ context.Context, req *pull.Request) ([]spclient.Transferred, error) {
	g.mu.Lock()
	g.calls = append(g.calls, "Download "+req.SiteURL.String()+" "+req.Pattern)
	g.downloads = append(g.downloads, req)
	fn := g.downloadFn
	g.mu.Unlock()

	if fn == nil {
		return nil, nil
	}

	return fn(req)
}

func (g *fakeGateway) Upload(_ context.Context, req *spclient.UploadRequest) ([]spclient.Transferred, error) {
	g.mu.Lock()
	g.calls = append(g.calls, "Upload "+req.SiteURL)
	g.uploads = append(g.uploads, req)
	fn := g.uploadFn
	g.mu.Unlock()

	if fn == nil {
		return nil, nil
	}

	return fn(req)
}

// recordingNotifier keeps every message it receives.
type recordingNotifier struct {
	mu       sync.Mutex
	infos    []string
	warns    []string
	errs     []error
	statuses []string
}

func (n *recordingNotifier) Info(msg string) {
	n.mu.Lock()
	n.infos = append(n.infos, msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) Warn(msg string) {
	n.mu.Lock()
	n.warns = append(n.warns, msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) Error(err error) {
	n.mu.Lock()
	n.errs = append(n.errs, err)
	n.mu.Unlock()
}

func (n *recordingNotifier) Status(msg string) {
	n.mu.Lock()
	n.statuses = append(n.statuses, msg)
	n.mu.Unlock()
}

// terminals returns the number of terminal notifications delivered.
func (n *recordingNotifier) terminals() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.errs) + len(n.statuses)
}

type scriptedConfirmer struct {
	answer    bool
	err       error
	questions []string
}

func (c *scriptedConfirmer) Confirm(_ context.Context, question string) (bool, error) {
	c.questions = append(c.questions, question)
	return c.answer, c.err
}

type recordingReviewer struct {
	seen []Comparison
}

func (r *recordingReviewer) Review(_ context.Context, cmp Comparison) error {
	r.seen = append(r.seen, cmp)
	return nil
}

// fieldPrompter answers every credential prompt from a map and counts
// the prompts.
type fieldPrompter struct {
	mu      sync.Mutex
	answers map[auth.Field]string
	asked   []auth.Field
}

func newFieldPrompter() *fieldPrompter {
	return &fieldPrompter{answers: map[auth.Field]string{
		auth.FieldUsername:     "alice@contoso.com",
		auth.FieldPassword:     "hunter2",
		auth.FieldClientID:     "client-id",
		auth.FieldClientSecret: "client-secret",
	}}
}

func (p *fieldPrompter) Ask(_ context.Context, spec auth.FieldSpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.asked = append(p.asked, spec.Field)

	return p.answers[spec.Field], nil
}

func (p *fieldPrompter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.asked)
}

type acceptValidator struct {
	err error
}

func (v acceptValidator) Validate(context.Context, string, auth.Record) error {
	return v.err
}

// fixture is one workspace on disk with an Orchestrator wired to fakes.
// The workspace configuration lives on the real filesystem; file contents
// touched by operations live in an in-memory filesystem at the same paths.
type fixture struct {
	root      string
	src       string
	fs        afero.Fs
	gw        *fakeGateway
	notes     *recordingNotifier
	confirmer *scriptedConfirmer
	reviewer  *recordingReviewer
	prompter  *fieldPrompter
	creds     *auth.Machine
	orch      *Orchestrator

	mu      sync.Mutex
	records []auth.Record
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, toml string) *fixture {
	t.Helper()

	root := t.TempDir()
	writeConfig(t, root, toml)

	f := &fixture{
		root:      root,
		src:       filepath.Join(root, "src"),
		fs:        afero.NewMemMapFs(),
		gw:        &fakeGateway{},
		notes:     &recordingNotifier{},
		confirmer: &scriptedConfirmer{answer: true},
		reviewer:  &recordingReviewer{},
		prompter:  newFieldPrompter(),
	}

	f.creds = auth.NewMachine(f.prompter, acceptValidator{}, nil, discardLogger())

	f.orch = NewOrchestrator(&OrchestratorConfig{
		Scopes:      config.NewScopes(discardLogger()),
		Credentials: f.creds,
		FS:          f.fs,
		Notifier:    f.notes,
		Confirmer:   f.confirmer,
		Reviewer:    f.reviewer,
		CompareDir:  filepath.Join(root, ".compare"),
		Logger:      discardLogger(),
	})

	f.orch.gatewayFactory = func(_ context.Context, _ *config.Site, rec auth.Record) (Gateway, error) {
		f.mu.Lock()
		f.records = append(f.records, rec)
		f.mu.Unlock()

		return f.gw, nil
	}

	return f
}

func writeConfig(t *testing.T, root, toml string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(root, config.FileName), []byte(toml), 0o600))
}

func (f *fixture) path(rel string) string {
	return filepath.Join(f.src, filepath.FromSlash(rel))
}

func (f *fixture) writeLocal(t *testing.T, rel, content string) string {
	t.Helper()

	p := f.path(rel)
	require.NoError(t, f.fs.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, afero.WriteFile(f.fs, p, []byte(content), 0o644))

	return p
}

func (f *fixture) factoryRecords() []auth.Record {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]auth.Record(nil), f.records...)
}

// serveContent makes downloads write content for every strict object of a
// request, the way the real gateway lays files out below LocalRoot.
func serveContent(fs afero.Fs, content string) func(req *pull.Request) ([]spclient.Transferred, error) {
	return func(req *pull.Request) ([]spclient.Transferred, error) {
		out := make([]spclient.Transferred, 0, len(req.StrictObjects))

		for _, obj := range req.StrictObjects {
			local, err := req.LocalFile(obj)
			if err != nil {
				return nil, err
			}

			if err := fs.MkdirAll(filepath.Dir(local), 0o755); err != nil {
				return nil, err
			}

			if err := afero.WriteFile(fs, local, []byte(content), 0o644); err != nil {
				return nil, err
			}

			out = append(out, spclient.Transferred{ServerRelativeURL: obj, LocalPath: local, Bytes: int64(len(content))})
		}

		return out, nil
	}
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)

	return u
}

// transferred fabricates n results for a request.
func transferred(req *pull.Request, n int) []spclient.Transferred {
	out := make([]spclient.Transferred, n)
	for i := range out {
		out[i] = spclient.Transferred{ServerRelativeURL: fmt.Sprintf("%s/f%d", req.BaseFolder, i)}
	}

	return out
}

func sortedPatterns(reqs []*pull.Request) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.SiteURL.String()+" "+r.Pattern)
	}

	sort.Strings(out)

	return out
}
