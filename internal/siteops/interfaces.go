package siteops

import (
	"context"

	"github.com/tonimelisma/spsync/internal/auth"
	"github.com/tonimelisma/spsync/internal/config"
	"github.com/tonimelisma/spsync/internal/pull"
	"github.com/tonimelisma/spsync/internal/spclient"
)

// Gateway is the remote file surface the orchestrator drives. Satisfied by
// *spclient.Gateway. Every method takes the URL of the site that owns the
// target.
type Gateway interface {
	CheckOut(ctx context.Context, siteURL, serverRelative string) error
	UndoCheckOut(ctx context.Context, siteURL, serverRelative string) error
	Delete(ctx context.Context, siteURL, serverRelative string) error
	FileInfo(ctx context.Context, siteURL, serverRelative string) (*spclient.FileInfo, error)
	CheckedOutBy(ctx context.Context, siteURL, serverRelative string) (string, error)
	Download(ctx context.Context, req *pull.Request) ([]spclient.Transferred, error)
	Upload(ctx context.Context, req *spclient.UploadRequest) ([]spclient.Transferred, error)
}

// gatewayFactoryFunc builds a gateway authenticated with rec for a
// workspace. The real implementation wires spclient; tests inject fakes.
type gatewayFactoryFunc func(ctx context.Context, site *config.Site, rec auth.Record) (Gateway, error)

// Credentials is the credential acquisition surface. Satisfied by
// *auth.Machine.
type Credentials interface {
	Ensure(ctx context.Context, site *config.Site) (auth.Record, error)
	Resume(site *config.Site) (auth.Record, error)
	Invalidate(ctx context.Context, site *config.Site) error
	Reset(ctx context.Context, site *config.Site) error
	Clear(site *config.Site)
}

// Notifier receives user-facing messages. Calls are fire-and-forget and
// never affect control flow. Every operation ends with exactly one Status
// on success or exactly one Error on failure.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
	Error(err error)
	Status(msg string)
}

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// Comparison describes a local file whose server copy differs.
type Comparison struct {
	LocalPath  string
	ServerPath string
	// Diff lists the changed lines, server lines prefixed with "-" and
	// local lines with "+".
	Diff string
}

// Reviewer offers the user a look at a Comparison. Its outcome never
// changes the result of the operation that produced the comparison.
type Reviewer interface {
	Review(ctx context.Context, cmp Comparison) error
}
