package siteops

import (
	"context"
	"log/slog"

	"github.com/tonimelisma/spsync/internal/config"
)

// ResetCredentials forgets the workspace's credentials, including the
// stored copy when the workspace persists them, and collects new ones.
func (o *Orchestrator) ResetCredentials(ctx context.Context, root string) error {
	inv := &invocation{op: "reset credentials"}
	o.advance(inv, PhaseInit)

	site, err := o.cfg.Scopes.ForPath(root)
	if err != nil {
		return o.finish(ctx, inv, "", err)
	}

	inv.site = site
	o.advance(inv, PhaseConfigResolved)

	o.dropGateway(site)

	if err := o.cfg.Credentials.Reset(ctx, site); err != nil {
		return o.finish(ctx, inv, "", err)
	}

	if _, err := o.ready(ctx, site); err != nil {
		return o.finish(ctx, inv, "", err)
	}

	o.advance(inv, PhaseCredentialsReady)

	return o.finish(ctx, inv, "User credentials reset.", nil)
}

// ReloadConfiguration re-reads the configuration of the workspace enclosing
// path. When the authentication type changed, the in-memory credentials of
// the workspace are discarded so the next operation collects new ones.
func (o *Orchestrator) ReloadConfiguration(ctx context.Context, path string) (*config.Site, error) {
	inv := &invocation{op: "reload configuration"}
	o.advance(inv, PhaseInit)

	root, err := config.FindWorkspaceRoot(path)
	if err != nil {
		return nil, o.finish(ctx, inv, "", err)
	}

	site, authChanged, err := o.cfg.Scopes.Reload(root)
	if err != nil {
		return nil, o.finish(ctx, inv, "", err)
	}

	inv.site = site
	o.advance(inv, PhaseConfigResolved)

	if authChanged {
		o.logger.Info("authentication type changed, clearing credentials",
			slog.String("site_url", site.SiteURL),
			slog.String("auth_type", string(site.AuthType)),
		)

		o.dropGateway(site)
		o.cfg.Credentials.Clear(site)
	}

	return site, o.finish(ctx, inv, "Configuration reloaded.", nil)
}
