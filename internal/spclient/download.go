package spclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tonimelisma/spsync/internal/pull"
	"github.com/tonimelisma/spsync/internal/sppath"
)

// formsFolder holds list forms in every document library and is never
// downloaded.
const formsFolder = "Forms"

// partialSuffix marks a download that has not completed yet.
const partialSuffix = ".partial"

// Directory and file permissions for downloaded content.
const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// Download fetches every remote file selected by req into req.LocalRoot and
// returns what was written. Each file is written to a temporary sibling and
// renamed into place, so an interrupted download never leaves a truncated
// file behind.
func (g *Gateway) Download(ctx context.Context, req *pull.Request) ([]Transferred, error) {
	siteURL := strings.TrimRight(req.SiteURL.String(), "/")

	g.logger.Info("downloading",
		slog.String("site_url", siteURL),
		slog.String("root", req.RootServerRelative()),
		slog.Bool("recursive", req.Recursive),
	)

	if len(req.StrictObjects) > 0 {
		return g.downloadStrict(ctx, siteURL, req)
	}

	var out []Transferred

	if err := g.walkFolder(ctx, siteURL, req, req.RootServerRelative(), &out); err != nil {
		return out, err
	}

	g.logger.Info("download complete",
		slog.String("site_url", siteURL),
		slog.Int("files", len(out)),
	)

	return out, nil
}

func (g *Gateway) downloadStrict(ctx context.Context, siteURL string, req *pull.Request) ([]Transferred, error) {
	out := make([]Transferred, 0, len(req.StrictObjects))

	for _, obj := range req.StrictObjects {
		info, err := g.FileInfo(ctx, siteURL, obj)
		if err != nil {
			return out, err
		}

		t, err := g.downloadFile(ctx, siteURL, req, info)
		if err != nil {
			return out, err
		}

		out = append(out, t)
	}

	return out, nil
}

// walkFolder downloads the matching files of one folder and, for recursive
// requests, of its subfolders.
func (g *Gateway) walkFolder(ctx context.Context, siteURL string, req *pull.Request, folder string, out *[]Transferred) error {
	var listing folderListing

	u := folderURL(siteURL, folder, "?$expand=Files,Folders")
	if err := g.client.doJSON(ctx, http.MethodGet, u, nil, nil, &listing); err != nil {
		return fmt.Errorf("spclient: listing %s: %w", folder, err)
	}

	for i := range listing.Files {
		f := &listing.Files[i]
		if !req.Matches(f.ServerRelativeURL) {
			continue
		}

		t, err := g.downloadFile(ctx, siteURL, req, f)
		if err != nil {
			return err
		}

		*out = append(*out, t)
	}

	if !req.Recursive {
		return nil
	}

	for _, sub := range listing.Folders {
		if strings.EqualFold(sub.Name, formsFolder) {
			continue
		}

		if err := g.walkFolder(ctx, siteURL, req, sub.ServerRelativeURL, out); err != nil {
			return err
		}
	}

	return nil
}

// downloadFile streams one file to its local path.
func (g *Gateway) downloadFile(ctx context.Context, siteURL string, req *pull.Request, info *FileInfo) (Transferred, error) {
	dest, err := req.LocalFile(info.ServerRelativeURL)
	if err != nil {
		return Transferred{}, err
	}

	dest = sppath.ExistingForm(g.fs, dest)

	contentURL := fileURL(siteURL, info.ServerRelativeURL, "/$value")

	if req.MajorVersion {
		contentURL, err = g.majorVersionURL(ctx, siteURL, info)
		if err != nil {
			return Transferred{}, err
		}
	}

	header := http.Header{}
	header.Set("Accept", "application/octet-stream")

	resp, err := g.client.Do(ctx, http.MethodGet, contentURL, header, nil)
	if err != nil {
		return Transferred{}, fmt.Errorf("spclient: downloading %s: %w", info.ServerRelativeURL, err)
	}
	defer resp.Body.Close()

	n, err := g.writeLocal(dest, resp.Body)
	if err != nil {
		return Transferred{}, err
	}

	if !info.TimeLastModified.IsZero() {
		if err := g.fs.Chtimes(dest, info.TimeLastModified, info.TimeLastModified); err != nil {
			g.logger.Debug("setting modification time failed",
				slog.String("path", dest),
				slog.String("error", err.Error()),
			)
		}
	}

	g.logger.Debug("downloaded file",
		slog.String("url", info.ServerRelativeURL),
		slog.String("path", dest),
		slog.Int64("bytes", n),
	)

	return Transferred{ServerRelativeURL: info.ServerRelativeURL, LocalPath: dest, Bytes: n}, nil
}

func (g *Gateway) writeLocal(dest string, r io.Reader) (int64, error) {
	if err := g.fs.MkdirAll(filepath.Dir(dest), dirPermissions); err != nil {
		return 0, fmt.Errorf("spclient: creating directory for %s: %w", dest, err)
	}

	partial := dest + partialSuffix

	f, err := g.fs.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions)
	if err != nil {
		return 0, fmt.Errorf("spclient: creating %s: %w", partial, err)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()

	if err := errors.Join(copyErr, closeErr); err != nil {
		g.removePartial(partial)

		return 0, fmt.Errorf("spclient: writing %s: %w", dest, err)
	}

	if err := g.fs.Rename(partial, dest); err != nil {
		g.removePartial(partial)

		return 0, fmt.Errorf("spclient: moving %s into place: %w", dest, err)
	}

	return n, nil
}

func (g *Gateway) removePartial(p string) {
	if err := g.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		g.logger.Debug("removing partial download failed", slog.String("path", p), slog.String("error", err.Error()))
	}
}

// majorVersionURL returns the content URL of the latest published version
// of a file. A file whose current version is published, or that has no
// published version at all, is read at its current version.
func (g *Gateway) majorVersionURL(ctx context.Context, siteURL string, info *FileInfo) (string, error) {
	current := fileURL(siteURL, info.ServerRelativeURL, "/$value")

	if info.UIVersionLabel == "" || isMajor(info.UIVersionLabel) {
		return current, nil
	}

	var versions versionsResponse

	u := fileURL(siteURL, info.ServerRelativeURL, "/Versions?$select=ID,VersionLabel")
	if err := g.client.doJSON(ctx, http.MethodGet, u, nil, nil, &versions); err != nil {
		return "", fmt.Errorf("spclient: listing versions of %s: %w", info.ServerRelativeURL, err)
	}

	best, ok := latestMajor(versions.Value)
	if !ok {
		g.logger.Debug("no published version, using current",
			slog.String("url", info.ServerRelativeURL),
			slog.String("version", info.UIVersionLabel),
		)

		return current, nil
	}

	return fileURL(siteURL, info.ServerRelativeURL, "/Versions("+strconv.Itoa(best.ID)+")/$value"), nil
}

// latestMajor picks the published version with the highest major number.
func latestMajor(versions []fileVersion) (fileVersion, bool) {
	var (
		best      fileVersion
		bestMajor = -1
	)

	for _, v := range versions {
		if !isMajor(v.VersionLabel) {
			continue
		}

		major, err := strconv.Atoi(strings.TrimSuffix(v.VersionLabel, ".0"))
		if err != nil {
			continue
		}

		if major > bestMajor {
			best, bestMajor = v, major
		}
	}

	return best, bestMajor >= 0
}
