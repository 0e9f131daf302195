// Package siteops sequences the user-level file operations of spsync:
// checking files out and in, deleting, downloading, populating a workspace
// and publishing. Every operation resolves the workspace configuration,
// waits for ready credentials and then drives a Gateway, reporting its
// outcome exactly once through a Notifier.
package siteops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/tonimelisma/spsync/internal/auth"
	"github.com/tonimelisma/spsync/internal/config"
	"github.com/tonimelisma/spsync/internal/spclient"
	"github.com/tonimelisma/spsync/internal/sppath"
)

// Phase is the progress of one operation invocation.
type Phase int

// Invocation phases, in order. Succeeded and Failed are terminal.
const (
	PhaseInit Phase = iota
	PhaseConfigResolved
	PhaseCredentialsReady
	PhaseExecuting
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseConfigResolved:
		return "config-resolved"
	case PhaseCredentialsReady:
		return "credentials-ready"
	case PhaseExecuting:
		return "executing"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// OrchestratorConfig holds the collaborators of an Orchestrator. The CLI
// layer populates it from global settings.
type OrchestratorConfig struct {
	Scopes      *config.Scopes
	Credentials Credentials
	FS          afero.Fs
	Notifier    Notifier
	Confirmer   Confirmer
	Reviewer    Reviewer
	// CompareDir receives temporary server copies during check-out
	// comparison. Empty means os.TempDir().
	CompareDir  string
	HTTPTimeout time.Duration
	UserAgent   string
	Logger      *slog.Logger
}

// cachedGateway is a gateway together with the record it authenticates
// with. A different record for the same site builds a new gateway.
type cachedGateway struct {
	rec auth.Record
	gw  Gateway
}

// Orchestrator runs file operations for any number of workspaces. It is safe
// for concurrent use.
type Orchestrator struct {
	cfg            *OrchestratorConfig
	fs             afero.Fs
	logger         *slog.Logger
	gatewayFactory gatewayFactoryFunc // injectable for tests

	mu       sync.Mutex
	gateways map[string]cachedGateway // keyed by auth.Key
}

// NewOrchestrator creates an Orchestrator that talks to SharePoint through
// spclient. Tests override gatewayFactory after construction.
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fs := cfg.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}

	o := &Orchestrator{
		cfg:      cfg,
		fs:       fs,
		logger:   logger,
		gateways: make(map[string]cachedGateway),
	}
	o.gatewayFactory = o.newSPGateway

	return o
}

// newSPGateway builds the production gateway for a ready record.
func (o *Orchestrator) newSPGateway(ctx context.Context, site *config.Site, rec auth.Record) (Gateway, error) {
	httpClient, err := spclient.NewHTTPClient(ctx, rec, site.SiteURL, spclient.TransportOptions{
		Timeout: o.cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, err
	}

	client := spclient.NewClient(httpClient, o.cfg.UserAgent, o.logger)

	return spclient.NewGateway(client, o.fs, o.logger), nil
}

// gateway returns a cached gateway for the site and record, creating one
// when the record changed since the last call.
func (o *Orchestrator) gateway(ctx context.Context, site *config.Site, rec auth.Record) (Gateway, error) {
	key := auth.Key(site)

	o.mu.Lock()
	defer o.mu.Unlock()

	if c, ok := o.gateways[key]; ok && c.rec == rec {
		return c.gw, nil
	}

	gw, err := o.gatewayFactory(ctx, site, rec)
	if err != nil {
		return nil, fmt.Errorf("siteops: connecting to %s: %w", site.SiteURL, err)
	}

	o.gateways[key] = cachedGateway{rec: rec, gw: gw}

	return gw, nil
}

func (o *Orchestrator) dropGateway(site *config.Site) {
	o.mu.Lock()
	delete(o.gateways, auth.Key(site))
	o.mu.Unlock()
}

// invocation is the per-call state of one operation.
type invocation struct {
	op    string
	phase Phase
	site  *config.Site
	gw    Gateway
}

func (o *Orchestrator) advance(inv *invocation, p Phase) {
	inv.phase = p
	o.logger.Debug("operation phase",
		slog.String("op", inv.op),
		slog.String("phase", p.String()),
	)
}

// target describes what an operation acts on.
type target struct {
	// path resolves the workspace. It is a local file or directory for
	// file operations and the workspace root for workspace operations.
	path string
	// local requires path to lie under the source root.
	local bool
	// fileOnly rejects directories.
	fileOnly bool
}

// run executes the common preamble and then fn. fn returns the status
// message announced on success.
func (o *Orchestrator) run(ctx context.Context, op string, tgt target, fn func(ctx context.Context, inv *invocation) (string, error)) error {
	inv := &invocation{op: op}
	o.advance(inv, PhaseInit)

	site, err := o.cfg.Scopes.ForPath(tgt.path)
	if err != nil {
		return o.finish(ctx, inv, "", err)
	}

	inv.site = site
	o.advance(inv, PhaseConfigResolved)

	if err := o.checkTarget(site, tgt); err != nil {
		return o.finish(ctx, inv, "", err)
	}

	gw, err := o.ready(ctx, site)
	if err != nil {
		return o.finish(ctx, inv, "", err)
	}

	inv.gw = gw
	o.advance(inv, PhaseCredentialsReady)
	o.advance(inv, PhaseExecuting)

	status, err := fn(ctx, inv)

	return o.finish(ctx, inv, status, err)
}

// ready brings the site's credentials to Ready and returns a gateway
// authenticated with them.
func (o *Orchestrator) ready(ctx context.Context, site *config.Site) (Gateway, error) {
	if _, err := o.cfg.Credentials.Ensure(ctx, site); err != nil {
		return nil, err
	}

	rec, err := o.cfg.Credentials.Resume(site)
	if err != nil {
		return nil, err
	}

	return o.gateway(ctx, site, rec)
}

func (o *Orchestrator) checkTarget(site *config.Site, tgt target) error {
	if tgt.local {
		if _, err := sppath.RelativeToSource(tgt.path, site); err != nil {
			return fmt.Errorf("%w: %s", ErrNotUnderSourceRoot, tgt.path)
		}
	}

	if tgt.fileOnly {
		info, err := o.fs.Stat(tgt.path)
		if err == nil && info.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ErrUnsupportedOnDirectory, tgt.path)
		}
	}

	return nil
}

// finish records the terminal phase and delivers exactly one notification.
// A rejection by the server invalidates the credentials so the next
// operation collects them again.
func (o *Orchestrator) finish(ctx context.Context, inv *invocation, status string, err error) error {
	if err == nil {
		o.advance(inv, PhaseSucceeded)
		o.cfg.Notifier.Status(status)

		return nil
	}

	failedAt := inv.phase
	o.advance(inv, PhaseFailed)

	if inv.site != nil && errors.Is(err, spclient.ErrUnauthorized) {
		o.rejected(ctx, inv.site)
	}

	o.logger.Info("operation failed",
		slog.String("op", inv.op),
		slog.String("phase", failedAt.String()),
		slog.String("error", err.Error()),
	)

	o.cfg.Notifier.Error(err)

	return &reportedError{err: err}
}

// rejected drops the site's gateway and invalidates its credentials after
// the server refused them.
func (o *Orchestrator) rejected(ctx context.Context, site *config.Site) {
	o.dropGateway(site)

	if err := o.cfg.Credentials.Invalidate(ctx, site); err != nil {
		o.logger.Warn("invalidating credentials failed",
			slog.String("site_url", site.SiteURL),
			slog.String("error", err.Error()),
		)
	}
}

// compareDir returns the parent directory of temporary comparison copies.
func (o *Orchestrator) compareDir() string {
	if o.cfg.CompareDir != "" {
		return o.cfg.CompareDir
	}

	return filepath.Join(os.TempDir(), "spsync-compare")
}

// isDir reports whether path is an existing local directory.
func (o *Orchestrator) isDir(path string) bool {
	info, err := o.fs.Stat(path)
	return err == nil && info.IsDir()
}

// Workspace returns the configuration of the workspace enclosing path.
func (o *Orchestrator) Workspace(path string) (*config.Site, error) {
	return o.cfg.Scopes.ForPath(path)
}
