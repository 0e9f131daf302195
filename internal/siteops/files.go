package siteops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/tonimelisma/spsync/internal/config"
	"github.com/tonimelisma/spsync/internal/spclient"
	"github.com/tonimelisma/spsync/internal/sppath"
)

// locate maps a local path to its server-relative URL and the URL of the
// site that owns it.
func locate(site *config.Site, localPath string) (serverRel, siteURL string, err error) {
	serverRel, err = sppath.ServerRelativeURL(localPath, site)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrNotUnderSourceRoot, err)
	}

	return serverRel, sppath.SiteURLForPath(serverRel, site).String(), nil
}

// CheckOut locks a file on the server, then downloads the file's latest
// published version and compares it with the local copy. A difference is
// reported and offered for review; it never fails the check-out.
func (o *Orchestrator) CheckOut(ctx context.Context, path string) error {
	return o.run(ctx, "check out", target{path: path, local: true, fileOnly: true},
		func(ctx context.Context, inv *invocation) (string, error) {
			serverRel, siteURL, err := locate(inv.site, path)
			if err != nil {
				return "", err
			}

			if err := inv.gw.CheckOut(ctx, siteURL, serverRel); err != nil {
				return "", remoteErr("check out", serverRel, err)
			}

			o.cfg.Notifier.Info("Checked out " + serverRel)
			o.compareWithServer(ctx, inv, path)

			return "File checked out.", nil
		})
}

// DeleteFile removes a file from the server and then from the local
// workspace, after the user confirms. The local copy is only removed once
// the remote delete succeeded.
func (o *Orchestrator) DeleteFile(ctx context.Context, path string) error {
	return o.run(ctx, "delete", target{path: path, local: true, fileOnly: true},
		func(ctx context.Context, inv *invocation) (string, error) {
			serverRel, siteURL, err := locate(inv.site, path)
			if err != nil {
				return "", err
			}

			ok, err := o.confirm(ctx, fmt.Sprintf("Are you sure you want to delete %s from the server?", filepath.Base(path)))
			if err != nil {
				return "", err
			}

			if !ok {
				o.cfg.Notifier.Info("Delete operation cancelled.")

				return "File delete cancelled.", nil
			}

			if err := inv.gw.Delete(ctx, siteURL, serverRel); err != nil {
				return "", remoteErr("delete", serverRel, err)
			}

			o.cfg.Notifier.Info("Remote file delete complete.")

			if err := o.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("siteops: removing local copy %s: %w", path, err)
			}

			o.logger.Info("deleted file",
				slog.String("path", path),
				slog.String("url", serverRel),
			)

			return "File deletion complete.", nil
		})
}

func (o *Orchestrator) confirm(ctx context.Context, question string) (bool, error) {
	if o.cfg.Confirmer == nil {
		return false, nil
	}

	return o.cfg.Confirmer.Confirm(ctx, question)
}

// DiscardCheckOut releases the check-out lock on a file and discards the
// pending server-side changes. The local file is not touched.
func (o *Orchestrator) DiscardCheckOut(ctx context.Context, path string) error {
	return o.run(ctx, "discard check out", target{path: path, local: true, fileOnly: true},
		func(ctx context.Context, inv *invocation) (string, error) {
			serverRel, siteURL, err := locate(inv.site, path)
			if err != nil {
				return "", err
			}

			if err := inv.gw.UndoCheckOut(ctx, siteURL, serverRel); err != nil {
				return "", remoteErr("discard check out", serverRel, err)
			}

			return "Check out discarded.", nil
		})
}

// FileInformation returns a file's server metadata. The checking-out user
// is looked up only when the file is checked out.
func (o *Orchestrator) FileInformation(ctx context.Context, path string) (*spclient.FileInfo, error) {
	var info *spclient.FileInfo

	err := o.run(ctx, "file information", target{path: path, local: true, fileOnly: true},
		func(ctx context.Context, inv *invocation) (string, error) {
			serverRel, siteURL, err := locate(inv.site, path)
			if err != nil {
				return "", err
			}

			fi, err := inv.gw.FileInfo(ctx, siteURL, serverRel)
			if err != nil {
				return "", remoteErr("file information", serverRel, err)
			}

			if !fi.CheckOutType.IsCheckedOut() {
				info = fi
				o.cfg.Notifier.Info("Check out type: " + fi.CheckOutType.String())

				return "File is not checked out.", nil
			}

			user, err := inv.gw.CheckedOutBy(ctx, siteURL, serverRel)
			if err != nil {
				return "", remoteErr("file information", serverRel, err)
			}

			fi.CheckedOutBy = user
			info = fi
			o.cfg.Notifier.Info(fmt.Sprintf("Check out type: %s by user: %s", fi.CheckOutType, user))

			return "File checked out to user: " + user, nil
		})
	if err != nil {
		return nil, err
	}

	return info, nil
}
