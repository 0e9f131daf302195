package spclient

import (
	"context"
	"log/slog"

	"github.com/tonimelisma/spsync/internal/auth"
)

// Prober validates candidate credentials by requesting a form digest from
// the site with them. It implements auth.Validator.
type Prober struct {
	UserAgent string
	Options   TransportOptions
	Logger    *slog.Logger
}

// Validate builds an authenticated client for rec and requests a digest.
// Any failure, including a rejected token request, means the record is
// unusable.
func (p *Prober) Validate(ctx context.Context, siteURL string, rec auth.Record) error {
	httpClient, err := NewHTTPClient(ctx, rec, siteURL, p.Options)
	if err != nil {
		return err
	}

	client := NewClient(httpClient, p.UserAgent, p.Logger)

	_, err = client.RequestDigest(ctx, siteURL)

	return err
}

var _ auth.Validator = (*Prober)(nil)
