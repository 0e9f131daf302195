package main

import (
	"context"
	"log/slog"

	"github.com/tonimelisma/spsync/internal/auth"
	"github.com/tonimelisma/spsync/internal/config"
	"github.com/tonimelisma/spsync/internal/credstore"
	"github.com/tonimelisma/spsync/internal/siteops"
	"github.com/tonimelisma/spsync/internal/spclient"
)

// Session wires the credential store, the credential state machine and the
// orchestrator for one CLI invocation.
type Session struct {
	Orchestrator *siteops.Orchestrator
	Credentials  *auth.Machine
	Store        *credstore.Store
}

// NewSession opens the credential database and builds an orchestrator that
// prompts through term and reports through notifier.
func NewSession(
	ctx context.Context, settings *config.Settings, term *terminal, notifier siteops.Notifier, logger *slog.Logger,
) (*Session, error) {
	store, err := credstore.Open(ctx, settings.CredentialsDB, logger)
	if err != nil {
		return nil, err
	}

	prober := &spclient.Prober{
		UserAgent: settings.UserAgent,
		Options:   spclient.TransportOptions{Timeout: settings.HTTPTimeout},
		Logger:    logger,
	}

	creds := auth.NewMachine(term, prober, store, logger)

	orch := siteops.NewOrchestrator(&siteops.OrchestratorConfig{
		Scopes:      config.NewScopes(logger),
		Credentials: creds,
		Notifier:    notifier,
		Confirmer:   term,
		Reviewer:    term,
		CompareDir:  settings.CompareDir,
		HTTPTimeout: settings.HTTPTimeout,
		UserAgent:   settings.UserAgent,
		Logger:      logger,
	})

	logger.Debug("session ready",
		slog.String("credentials_db", settings.CredentialsDB),
		slog.Duration("http_timeout", settings.HTTPTimeout),
	)

	return &Session{Orchestrator: orch, Credentials: creds, Store: store}, nil
}

// Close releases the credential database.
func (s *Session) Close() error {
	return s.Store.Close()
}
