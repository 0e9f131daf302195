package siteops

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tonimelisma/spsync/internal/config"
	"github.com/tonimelisma/spsync/internal/pull"
	"github.com/tonimelisma/spsync/internal/spclient"
	"github.com/tonimelisma/spsync/internal/sppath"
)

func (o *Orchestrator) download(ctx context.Context, inv *invocation, req *pull.Request) ([]spclient.Transferred, error) {
	got, err := inv.gw.Download(ctx, req)
	if err != nil {
		return got, remoteErr("download", req.SiteURL.String()+req.RootServerRelative(), err)
	}

	return got, nil
}

func downloadedStatus(n int, dest string) string {
	if n == 1 {
		return "Downloaded 1 file to " + dest
	}

	return fmt.Sprintf("Downloaded %d files to %s", n, dest)
}

// DownloadSingle downloads the latest published version of exactly one
// file into destRoot, at the position the file has below the source root.
// An empty destRoot means the source root itself.
func (o *Orchestrator) DownloadSingle(ctx context.Context, path, destRoot string) ([]spclient.Transferred, error) {
	var out []spclient.Transferred

	err := o.run(ctx, "download", target{path: path, local: true, fileOnly: true},
		func(ctx context.Context, inv *invocation) (string, error) {
			dest := destRoot
			if dest == "" {
				dest = inv.site.SourceRoot
			}

			req, err := pull.Single(path, dest, inv.site)
			if err != nil {
				return "", err
			}

			out, err = o.download(ctx, inv, req)
			if err != nil {
				return "", err
			}

			return downloadedStatus(len(out), dest), nil
		})

	return out, err
}

// DownloadMany downloads every file matching a site-relative pattern from
// siteURL, which must be the workspace's site or one of its sub-sites. An
// empty siteURL means the top-level site.
func (o *Orchestrator) DownloadMany(ctx context.Context, root, siteURL, pattern string) ([]spclient.Transferred, error) {
	var out []spclient.Transferred

	err := o.run(ctx, "download", target{path: root},
		func(ctx context.Context, inv *invocation) (string, error) {
			u := inv.site.URL()

			if siteURL != "" {
				parsed, err := url.Parse(siteURL)
				if err != nil {
					return "", fmt.Errorf("siteops: parsing site URL %s: %w", siteURL, err)
				}

				u = parsed
			}

			var err error

			out, err = o.downloadPattern(ctx, inv, u, pattern)
			if err != nil {
				return "", err
			}

			return downloadedStatus(len(out), inv.site.SourceRoot), nil
		})

	return out, err
}

func (o *Orchestrator) downloadPattern(ctx context.Context, inv *invocation, siteURL *url.URL, pattern string) ([]spclient.Transferred, error) {
	req, err := pull.Build(pattern, siteURL, inv.site)
	if err != nil {
		return nil, err
	}

	return o.download(ctx, inv, req)
}

// GetServerVersion replaces a local file with its latest published server
// version, or refreshes every file below a local folder.
func (o *Orchestrator) GetServerVersion(ctx context.Context, path string) ([]spclient.Transferred, error) {
	var out []spclient.Transferred

	err := o.run(ctx, "get server version", target{path: path, local: true},
		func(ctx context.Context, inv *invocation) (string, error) {
			var err error

			if o.isFile(path) {
				req, err := pull.Single(path, inv.site.SourceRoot, inv.site)
				if err != nil {
					return "", err
				}

				out, err = o.download(ctx, inv, req)
				if err != nil {
					return "", err
				}

				return "File download complete.", nil
			}

			out, err = o.downloadFolder(ctx, inv, path)
			if err != nil {
				return "", err
			}

			return downloadedStatus(len(out), path), nil
		})

	return out, err
}

// isFile decides whether a local path names a file. Paths that do not
// exist locally are judged by their extension.
func (o *Orchestrator) isFile(path string) bool {
	info, err := o.fs.Stat(path)
	if err == nil {
		return !info.IsDir()
	}

	return sppath.IsFilePath(path)
}

// downloadFolder refreshes every file below a local folder from the site
// that owns it.
func (o *Orchestrator) downloadFolder(ctx context.Context, inv *invocation, localDir string) ([]spclient.Transferred, error) {
	serverRel, err := sppath.ServerRelativeURL(localDir, inv.site)
	if err != nil {
		return nil, err
	}

	siteURL := sppath.SiteURLForPath(serverRel, inv.site)
	folder := sppath.SiteRelative(serverRel, siteURL)

	return o.downloadPattern(ctx, inv, siteURL, folder+"/"+sppath.Globstar+"/*")
}

// RetrieveFolder downloads an arbitrary site-relative folder or file of the
// workspace's site, or of a sub-site below it, into the workspace.
// Existing local files are overwritten.
func (o *Orchestrator) RetrieveFolder(ctx context.Context, root, sitePath string) ([]spclient.Transferred, error) {
	var out []spclient.Transferred

	err := o.run(ctx, "retrieve folder", target{path: root},
		func(ctx context.Context, inv *invocation) (string, error) {
			siteURL, pattern := resolveSitePath(inv.site, sitePath)

			var err error

			out, err = o.downloadPattern(ctx, inv, siteURL, pattern)
			if err != nil {
				return "", err
			}

			return downloadedStatus(len(out), inv.site.SourceRoot), nil
		})

	return out, err
}

// resolveSitePath splits a path relative to the top-level site into the
// owning site or sub-site and the path relative to it.
func resolveSitePath(site *config.Site, sitePath string) (*url.URL, string) {
	full := sppath.NormalizeSlashes(sppath.WebPath(site.URL()) + "/" + sitePath)
	siteURL := sppath.SiteURLForPath(full, site)

	return siteURL, sppath.SiteRelative(full, siteURL)
}
