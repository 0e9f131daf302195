package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/spsync/internal/config"
)

// scriptedPrompter answers prompts from a fixed script and records every
// spec it was asked.
type scriptedPrompter struct {
	mu      sync.Mutex
	answers []string
	asked   []FieldSpec
	err     error
}

func (p *scriptedPrompter) Ask(_ context.Context, spec FieldSpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.asked = append(p.asked, spec)

	if p.err != nil {
		return "", p.err
	}

	if len(p.answers) == 0 {
		return "", nil
	}

	a := p.answers[0]
	p.answers = p.answers[1:]

	return a, nil
}

func (p *scriptedPrompter) fields() []Field {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Field, 0, len(p.asked))
	for _, s := range p.asked {
		out = append(out, s.Field)
	}

	return out
}

type fakeValidator struct {
	mu    sync.Mutex
	err   error
	calls []Record
}

func (v *fakeValidator) Validate(_ context.Context, _ string, rec Record) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.calls = append(v.calls, rec)

	return v.err
}

type memStore struct {
	records map[string]Record
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func (s *memStore) Get(_ context.Context, siteURL string) (Record, bool, error) {
	rec, ok := s.records[siteURL]
	return rec, ok, nil
}

func (s *memStore) Set(_ context.Context, siteURL string, rec Record) error {
	s.records[siteURL] = rec
	return nil
}

func (s *memStore) Delete(_ context.Context, siteURL string) error {
	delete(s.records, siteURL)
	s.deleted = append(s.deleted, siteURL)

	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func digestSite() *config.Site {
	return &config.Site{SiteURL: "https://contoso.sharepoint.com/sites/team", AuthType: config.AuthDigest}
}

func addInSite() *config.Site {
	return &config.Site{SiteURL: "https://contoso.sharepoint.com/sites/team", AuthType: config.AuthAddIn}
}

func TestEnsure_EmptyUsernameAbortsWithoutPasswordPrompt(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{""}}
	validator := &fakeValidator{}
	m := NewMachine(prompter, validator, nil, discardLogger())
	site := digestSite()

	_, err := m.Ensure(t.Context(), site)

	var missing *CredentialsMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, FieldUsername, missing.Field)
	assert.Equal(t, []Field{FieldUsername}, prompter.fields())
	assert.Empty(t, validator.calls)

	state, field := m.State(site)
	assert.Equal(t, StateAborted, state)
	assert.Equal(t, FieldUsername, field)

	_, err = m.Resume(site)
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestEnsure_EmptyPasswordAborts(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{"alice", ""}}
	m := NewMachine(prompter, &fakeValidator{}, nil, discardLogger())

	_, err := m.Ensure(t.Context(), digestSite())

	var missing *CredentialsMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, FieldPassword, missing.Field)
}

func TestEnsure_DigestSuccessPersists(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{"alice", "s3cret"}}
	validator := &fakeValidator{}
	store := newMemStore()
	m := NewMachine(prompter, validator, store, discardLogger())
	site := digestSite()
	site.StoreCredentials = true

	rec, err := m.Ensure(t.Context(), site)
	require.NoError(t, err)

	assert.Equal(t, Record{Scheme: config.AuthDigest, Username: "alice", Password: "s3cret"}, rec)
	assert.Equal(t, rec, store.records[Key(site)])
	require.Len(t, validator.calls, 1)

	state, _ := m.State(site)
	assert.Equal(t, StateReady, state)

	// Ready is a no-op: no new prompts, no new probe.
	again, err := m.Ensure(t.Context(), site)
	require.NoError(t, err)
	assert.Equal(t, rec, again)
	assert.Len(t, prompter.asked, 2)
	assert.Len(t, validator.calls, 1)

	resumed, err := m.Resume(site)
	require.NoError(t, err)
	assert.Equal(t, rec, resumed)
}

func TestEnsure_NotPersistedWithoutFlag(t *testing.T) {
	store := newMemStore()
	m := NewMachine(&scriptedPrompter{answers: []string{"alice", "pw"}}, &fakeValidator{}, store, discardLogger())

	_, err := m.Ensure(t.Context(), digestSite())
	require.NoError(t, err)
	assert.Empty(t, store.records)
}

func TestEnsure_AddInRealmOptional(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{"client-id", "client-secret", ""}}
	m := NewMachine(prompter, &fakeValidator{}, nil, discardLogger())

	rec, err := m.Ensure(t.Context(), addInSite())
	require.NoError(t, err)

	assert.Equal(t, []Field{FieldClientID, FieldClientSecret, FieldRealm}, prompter.fields())
	assert.Equal(t, "client-id", rec.ClientID)
	assert.Equal(t, "client-secret", rec.ClientSecret)
	assert.Empty(t, rec.Realm)
	assert.True(t, prompter.asked[1].Secret)
	assert.True(t, prompter.asked[2].Optional)
}

func TestEnsure_ValidationFailureClearsRecordButPrefillsRetry(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{"alice", "wrong"}}
	validator := &fakeValidator{err: errors.New("401 unauthorized")}
	m := NewMachine(prompter, validator, nil, discardLogger())
	site := digestSite()

	_, err := m.Ensure(t.Context(), site)

	var failed *AuthenticationFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, site.SiteURL, failed.SiteURL)
	assert.ErrorContains(t, err, "401 unauthorized")

	state, _ := m.State(site)
	assert.Equal(t, StateAborted, state)

	_, err = m.Resume(site)
	require.ErrorIs(t, err, ErrNoCredentials)

	// Retry: keep the username by answering blank, fix the password.
	validator.err = nil
	prompter.answers = []string{"", "right"}

	rec, err := m.Ensure(t.Context(), site)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, "right", rec.Password)

	require.Len(t, prompter.asked, 4)
	assert.Equal(t, "alice", prompter.asked[2].Default)
	assert.Equal(t, "wrong", prompter.asked[3].Default)
}

func TestEnsure_DraftNotSharedAcrossSites(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{"alice", "wrong"}}
	validator := &fakeValidator{err: errors.New("rejected")}
	m := NewMachine(prompter, validator, nil, discardLogger())

	_, err := m.Ensure(t.Context(), digestSite())
	require.Error(t, err)

	other := &config.Site{SiteURL: "https://fabrikam.sharepoint.com", AuthType: config.AuthDigest}
	prompter.answers = []string{""}

	_, err = m.Ensure(t.Context(), other)
	require.Error(t, err)
	assert.Empty(t, prompter.asked[2].Default)
}

func TestEnsure_PrompterErrorAborts(t *testing.T) {
	cancelled := errors.New("prompt cancelled")
	m := NewMachine(&scriptedPrompter{err: cancelled}, &fakeValidator{}, nil, discardLogger())
	site := digestSite()

	_, err := m.Ensure(t.Context(), site)
	require.ErrorIs(t, err, cancelled)

	state, _ := m.State(site)
	assert.Equal(t, StateAborted, state)
}

func TestEnsure_UsesStoredRecord(t *testing.T) {
	store := newMemStore()
	site := digestSite()
	site.StoreCredentials = true
	stored := Record{Scheme: config.AuthDigest, Username: "bob", Password: "pw"}
	store.records[Key(site)] = stored

	prompter := &scriptedPrompter{}
	validator := &fakeValidator{}
	m := NewMachine(prompter, validator, store, discardLogger())

	rec, err := m.Ensure(t.Context(), site)
	require.NoError(t, err)
	assert.Equal(t, stored, rec)
	assert.Empty(t, prompter.asked)
	assert.Empty(t, validator.calls)
}

func TestEnsure_IgnoresStoredRecordOfOtherScheme(t *testing.T) {
	store := newMemStore()
	site := addInSite()
	site.StoreCredentials = true
	store.records[Key(site)] = Record{Scheme: config.AuthDigest, Username: "bob", Password: "pw"}

	prompter := &scriptedPrompter{answers: []string{"id", "secret", "realm"}}
	m := NewMachine(prompter, &fakeValidator{}, store, discardLogger())

	rec, err := m.Ensure(t.Context(), site)
	require.NoError(t, err)
	assert.Equal(t, config.AuthAddIn, rec.Scheme)
	assert.Len(t, prompter.asked, 3)
	assert.Equal(t, rec, store.records[Key(site)])
}

func TestEnsure_SchemeChangeRecollects(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{"alice", "pw", "id", "secret", ""}}
	m := NewMachine(prompter, &fakeValidator{}, nil, discardLogger())

	_, err := m.Ensure(t.Context(), digestSite())
	require.NoError(t, err)

	rec, err := m.Ensure(t.Context(), addInSite())
	require.NoError(t, err)
	assert.Equal(t, config.AuthAddIn, rec.Scheme)
	assert.Equal(t, []Field{FieldUsername, FieldPassword, FieldClientID, FieldClientSecret, FieldRealm}, prompter.fields())
}

func TestClear_ReturnsToEmpty(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{"alice", "pw", "", ""}}
	m := NewMachine(prompter, &fakeValidator{}, nil, discardLogger())
	site := digestSite()

	_, err := m.Ensure(t.Context(), site)
	require.NoError(t, err)

	m.Clear(site)

	state, _ := m.State(site)
	assert.Equal(t, StateEmpty, state)

	_, err = m.Resume(site)
	require.ErrorIs(t, err, ErrNoCredentials)

	// The draft is gone too, so blank answers abort.
	_, err = m.Ensure(t.Context(), site)

	var missing *CredentialsMissingError
	require.ErrorAs(t, err, &missing)
}

func TestReset_DeletesStoredRecord(t *testing.T) {
	store := newMemStore()
	site := digestSite()
	site.StoreCredentials = true
	store.records[Key(site)] = Record{Scheme: config.AuthDigest, Username: "bob", Password: "pw"}

	m := NewMachine(&scriptedPrompter{}, &fakeValidator{}, store, discardLogger())

	_, err := m.Ensure(t.Context(), site)
	require.NoError(t, err)

	require.NoError(t, m.Reset(t.Context(), site))
	assert.Empty(t, store.records)
	assert.Equal(t, []string{Key(site)}, store.deleted)

	_, err = m.Resume(site)
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestInvalidate_KeepsDraft(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{"alice", "pw", "", ""}}
	m := NewMachine(prompter, &fakeValidator{}, nil, discardLogger())
	site := digestSite()

	_, err := m.Ensure(t.Context(), site)
	require.NoError(t, err)

	require.NoError(t, m.Invalidate(t.Context(), site))

	_, err = m.Resume(site)
	require.ErrorIs(t, err, ErrNoCredentials)

	rec, err := m.Ensure(t.Context(), site)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, "pw", rec.Password)
}

func TestEnsure_SubSitesShareParentRecord(t *testing.T) {
	site := digestSite()
	site.SubSites = []config.SubSite{{SiteURL: site.SiteURL + "/sub"}}

	assert.Equal(t, "https://contoso.sharepoint.com/sites/team", Key(site))
	assert.Equal(t, Key(site), Key(&config.Site{SiteURL: site.SiteURL + "/"}))
}

func TestEnsure_ConcurrentCallersPromptOnce(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{"alice", "pw"}}
	validator := &fakeValidator{}
	m := NewMachine(prompter, validator, nil, discardLogger())
	site := digestSite()

	var wg sync.WaitGroup

	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = m.Ensure(context.Background(), site)
		}()
	}

	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, prompter.fields(), 2)
	assert.Len(t, validator.calls, 1)
}

func TestRecord_StringHidesSecrets(t *testing.T) {
	rec := Record{Scheme: config.AuthDigest, Username: "alice", Password: "hunter2"}
	assert.NotContains(t, rec.String(), "hunter2")

	rec = Record{Scheme: config.AuthAddIn, ClientID: "id", ClientSecret: "topsecret"}
	assert.NotContains(t, rec.String(), "topsecret")
	assert.Equal(t, "empty", Record{}.String())
}

func TestRecord_Complete(t *testing.T) {
	assert.False(t, Record{}.Complete())
	assert.False(t, Record{Scheme: config.AuthDigest, Username: "a"}.Complete())
	assert.True(t, Record{Scheme: config.AuthDigest, Username: "a", Password: "b"}.Complete())
	assert.True(t, Record{Scheme: config.AuthAddIn, ClientID: "a", ClientSecret: "b"}.Complete())
}
