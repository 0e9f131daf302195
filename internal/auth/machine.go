// Package auth implements interactive credential acquisition for SharePoint
// sites. A Machine collects the fields required by a site's authentication
// type, validates them with a server probe, optionally persists them and
// hands them to callers once ready.
//
// Records are scoped to the top-level site URL of a workspace. Sub-sites
// share their parent's record.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tonimelisma/spsync/internal/config"
)

// State is the acquisition state of one site's record.
type State int

// Acquisition states.
const (
	StateEmpty State = iota
	StateCollecting
	StateValidating
	StateReady
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateCollecting:
		return "collecting"
	case StateValidating:
		return "validating"
	case StateReady:
		return "ready"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Prompter asks the user for one credential field. An empty answer means
// the user left the field blank; an error means the prompt was cancelled.
type Prompter interface {
	Ask(ctx context.Context, spec FieldSpec) (string, error)
}

// Validator probes the server with a candidate record.
type Validator interface {
	Validate(ctx context.Context, siteURL string, rec Record) error
}

// Store persists records keyed by site URL.
type Store interface {
	Get(ctx context.Context, siteURL string) (Record, bool, error)
	Set(ctx context.Context, siteURL string, rec Record) error
	Delete(ctx context.Context, siteURL string) error
}

// session is the acquisition state for one top-level site.
type session struct {
	state  State
	field  Field
	record Record
	// draft keeps entered values so a retry can pre-fill them.
	draft Record
}

// Machine drives credential acquisition. Acquisition is serialized: two
// operations that find a record empty never interleave prompts.
type Machine struct {
	mu        sync.Mutex
	prompter  Prompter
	validator Validator
	store     Store
	logger    *slog.Logger
	sessions  map[string]*session
}

// NewMachine creates a Machine. store may be nil when credentials are never
// persisted.
func NewMachine(prompter Prompter, validator Validator, store Store, logger *slog.Logger) *Machine {
	return &Machine{
		prompter:  prompter,
		validator: validator,
		store:     store,
		logger:    logger,
		sessions:  make(map[string]*session),
	}
}

// Key returns the record key for a site configuration.
func Key(site *config.Site) string {
	return strings.ToLower(strings.TrimRight(site.SiteURL, "/"))
}

func (m *Machine) session(site *config.Site) *session {
	key := Key(site)

	s, ok := m.sessions[key]
	if !ok {
		s = &session{}
		m.sessions[key] = s
	}

	return s
}

// Ensure returns a ready record for the site, collecting and validating one
// if needed. A ready record whose scheme no longer matches the site's
// authentication type is discarded first.
func (m *Machine) Ensure(ctx context.Context, site *config.Site) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session(site)

	if s.state == StateReady {
		if s.record.Scheme == site.AuthType {
			return s.record, nil
		}

		m.logger.Info("authentication type changed, discarding credentials",
			slog.String("site_url", site.SiteURL),
			slog.String("from", string(s.record.Scheme)),
			slog.String("to", string(site.AuthType)),
		)

		*s = session{}
	}

	if rec, ok := m.loadStored(ctx, site); ok {
		s.record = rec
		s.draft = rec
		s.state = StateReady

		return rec, nil
	}

	rec, err := m.collect(ctx, site, s)
	if err != nil {
		return Record{}, err
	}

	s.state = StateValidating
	m.logger.Debug("validating credentials", slog.String("site_url", site.SiteURL), slog.String("record", rec.String()))

	if err := m.validator.Validate(ctx, site.SiteURL, rec); err != nil {
		s.record = Record{}
		s.state = StateAborted

		m.logger.Warn("credential validation failed",
			slog.String("site_url", site.SiteURL),
			slog.String("error", err.Error()),
		)

		return Record{}, &AuthenticationFailedError{SiteURL: site.SiteURL, Err: err}
	}

	s.record = rec
	s.state = StateReady

	m.persist(ctx, site, rec)

	return rec, nil
}

// collect prompts for every field of the site's scheme in order. A blank
// answer falls back to the value entered previously for this site.
func (m *Machine) collect(ctx context.Context, site *config.Site, s *session) (Record, error) {
	if s.draft.Scheme != site.AuthType {
		s.draft = Record{}
	}

	rec := Record{Scheme: site.AuthType}
	s.record = Record{}

	for _, spec := range Fields(site.AuthType) {
		s.state = StateCollecting
		s.field = spec.Field
		spec.Default = s.draft.Value(spec.Field)

		answer, err := m.prompter.Ask(ctx, spec)
		if err != nil {
			s.state = StateAborted
			s.record = Record{}

			return Record{}, fmt.Errorf("auth: prompting for %s: %w", spec.Field, err)
		}

		if answer == "" {
			answer = spec.Default
		}

		if answer == "" && !spec.Optional {
			*s = session{state: StateAborted, field: spec.Field}

			return Record{}, &CredentialsMissingError{Field: spec.Field}
		}

		rec.set(spec.Field, answer)
		s.draft.Scheme = site.AuthType
		s.draft.set(spec.Field, answer)
	}

	s.field = ""

	return rec, nil
}

func (m *Machine) loadStored(ctx context.Context, site *config.Site) (Record, bool) {
	if !site.StoreCredentials || m.store == nil {
		return Record{}, false
	}

	rec, ok, err := m.store.Get(ctx, Key(site))
	if err != nil {
		m.logger.Warn("reading stored credentials failed",
			slog.String("site_url", site.SiteURL),
			slog.String("error", err.Error()),
		)

		return Record{}, false
	}

	if !ok || rec.Scheme != site.AuthType || !rec.Complete() {
		return Record{}, false
	}

	m.logger.Debug("using stored credentials", slog.String("site_url", site.SiteURL))

	return rec, true
}

func (m *Machine) persist(ctx context.Context, site *config.Site, rec Record) {
	if !site.StoreCredentials || m.store == nil {
		return
	}

	if err := m.store.Set(ctx, Key(site), rec); err != nil {
		m.logger.Warn("storing credentials failed",
			slog.String("site_url", site.SiteURL),
			slog.String("error", err.Error()),
		)
	}
}

// Resume returns the ready record for the site. It fails with
// ErrNoCredentials if the record was reset after Ensure returned.
func (m *Machine) Resume(site *config.Site) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[Key(site)]
	if !ok || s.state != StateReady || s.record.IsEmpty() {
		return Record{}, ErrNoCredentials
	}

	return s.record, nil
}

// State reports the acquisition state of the site's record and, while
// collecting or after an abort, the field involved.
func (m *Machine) State(site *config.Site) (State, Field) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[Key(site)]
	if !ok {
		return StateEmpty, ""
	}

	return s.state, s.field
}

// Clear forgets the in-memory record and draft for the site.
func (m *Machine) Clear(site *config.Site) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, Key(site))
	m.logger.Debug("cleared credentials", slog.String("site_url", site.SiteURL))
}

// Reset forgets the in-memory record and, when the site persists
// credentials, deletes the stored copy.
func (m *Machine) Reset(ctx context.Context, site *config.Site) error {
	m.Clear(site)

	return m.forgetStored(ctx, site)
}

// Invalidate discards a record the server rejected after it became ready.
// The draft is kept so the next acquisition pre-fills the prompts.
func (m *Machine) Invalidate(ctx context.Context, site *config.Site) error {
	m.mu.Lock()

	if s, ok := m.sessions[Key(site)]; ok {
		s.record = Record{}
		s.state = StateEmpty
		s.field = ""
	}

	m.mu.Unlock()

	m.logger.Info("server rejected credentials, resetting", slog.String("site_url", site.SiteURL))

	return m.forgetStored(ctx, site)
}

func (m *Machine) forgetStored(ctx context.Context, site *config.Site) error {
	if !site.StoreCredentials || m.store == nil {
		return nil
	}

	if err := m.store.Delete(ctx, Key(site)); err != nil {
		return fmt.Errorf("auth: deleting stored credentials for %s: %w", site.SiteURL, err)
	}

	return nil
}
