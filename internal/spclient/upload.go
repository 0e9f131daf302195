package spclient

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"

	"github.com/tonimelisma/spsync/internal/sppath"
)

// ErrNothingToUpload is returned when no local file matches an upload's
// patterns.
var ErrNothingToUpload = errors.New("spclient: no local files match")

// UploadRequest describes a batch upload of local files to one site.
type UploadRequest struct {
	// SiteURL is the site or sub-site receiving the files.
	SiteURL string
	// Base is the local directory the patterns are resolved against. A
	// file's path below Base is its path below Folder on the server.
	Base string
	// Patterns are doublestar globs relative to Base, or absolute local
	// paths below it.
	Patterns []string
	// Folder is the site-relative destination folder.
	Folder string
	// CheckIn checks every uploaded file in with Message at CheckInType.
	// Without it the upload is a plain save.
	CheckIn     bool
	CheckInType CheckInType
	Message     string
}

// Upload sends every local file matched by req to the server, creating
// remote folders as needed, and checks the files in when requested.
func (g *Gateway) Upload(ctx context.Context, req *UploadRequest) ([]Transferred, error) {
	files, err := g.selectFiles(req)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingToUpload, strings.Join(req.Patterns, ", "))
	}

	siteURL := strings.TrimRight(req.SiteURL, "/")

	u, err := url.Parse(siteURL)
	if err != nil {
		return nil, fmt.Errorf("spclient: parsing site URL %s: %w", siteURL, err)
	}

	web := sppath.WebPath(u)
	ensured := make(map[string]bool)

	g.logger.Info("uploading",
		slog.String("site_url", siteURL),
		slog.String("folder", req.Folder),
		slog.Int("files", len(files)),
		slog.Bool("check_in", req.CheckIn),
	)

	out := make([]Transferred, 0, len(files))

	for _, rel := range files {
		remoteDir := sppath.NormalizeSlashes(req.Folder + "/" + path.Dir(rel))
		folderRel := sppath.NormalizeSlashes(web + "/" + remoteDir)

		if err := g.ensureFolder(ctx, siteURL, web, remoteDir, ensured); err != nil {
			return out, err
		}

		t, err := g.uploadFile(ctx, siteURL, folderRel, filepath.Join(req.Base, filepath.FromSlash(rel)))
		if err != nil {
			return out, err
		}

		if req.CheckIn {
			if err := g.CheckIn(ctx, siteURL, t.ServerRelativeURL, req.Message, req.CheckInType); err != nil {
				return out, err
			}
		}

		out = append(out, t)
	}

	return out, nil
}

// selectFiles expands the request's patterns to a sorted, de-duplicated
// list of forward-slash paths relative to Base.
func (g *Gateway) selectFiles(req *UploadRequest) ([]string, error) {
	fsys := afero.NewIOFS(afero.NewBasePathFs(g.fs, req.Base))
	seen := make(map[string]bool)

	for _, pattern := range req.Patterns {
		rel, err := relativePattern(req.Base, pattern)
		if err != nil {
			return nil, err
		}

		if !sppath.HasWildcard(rel) {
			info, err := g.fs.Stat(filepath.Join(req.Base, filepath.FromSlash(rel)))
			if err != nil {
				return nil, fmt.Errorf("spclient: reading %s: %w", pattern, err)
			}

			if !info.IsDir() {
				seen[rel] = true
			}

			continue
		}

		err = doublestar.GlobWalk(fsys, rel, func(p string, d fs.DirEntry) error {
			if !d.IsDir() {
				seen[p] = true
			}

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("spclient: expanding %s: %w", pattern, err)
		}
	}

	files := make([]string, 0, len(seen))
	for p := range seen {
		files = append(files, p)
	}

	sort.Strings(files)

	return files, nil
}

// relativePattern expresses pattern relative to base with forward slashes.
func relativePattern(base, pattern string) (string, error) {
	if !filepath.IsAbs(pattern) {
		return strings.TrimPrefix(filepath.ToSlash(pattern), "/"), nil
	}

	rel, err := filepath.Rel(base, pattern)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is not under %s", sppath.ErrInvalidPath, pattern, base)
	}

	return filepath.ToSlash(rel), nil
}

// EscapeGlob quotes every glob metacharacter in a literal path so it can be
// used as the prefix of an upload pattern.
func EscapeGlob(p string) string {
	var b strings.Builder

	for _, r := range filepath.ToSlash(p) {
		if strings.ContainsRune(`*?[]{}\`, r) {
			b.WriteByte('\\')
		}

		b.WriteRune(r)
	}

	return b.String()
}

// ensureFolder creates the site-relative folder dir and its ancestors on
// the server unless they already exist.
func (g *Gateway) ensureFolder(ctx context.Context, siteURL, web, dir string, ensured map[string]bool) error {
	if dir == "/" || ensured[strings.ToLower(dir)] {
		return nil
	}

	if parent := path.Dir(dir); parent != "/" {
		if err := g.ensureFolder(ctx, siteURL, web, parent, ensured); err != nil {
			return err
		}
	}

	serverRel := sppath.NormalizeSlashes(web + "/" + dir)

	var listing folderListing

	u := folderURL(siteURL, serverRel, "?$select=Exists")
	err := g.client.doJSON(ctx, http.MethodGet, u, nil, nil, &listing)

	switch {
	case err == nil && listing.Exists:
	case err == nil, errors.Is(err, ErrNotFound):
		g.logger.Info("creating remote folder", slog.String("url", serverRel))

		add := apiURL(siteURL, "web/folders/add('"+odataString(serverRel)+"')")
		if err := g.post(ctx, siteURL, add, nil, nil, nil); err != nil {
			return fmt.Errorf("spclient: creating folder %s: %w", serverRel, err)
		}
	default:
		return fmt.Errorf("spclient: checking folder %s: %w", serverRel, err)
	}

	ensured[strings.ToLower(dir)] = true

	return nil
}

// uploadFile writes one local file into a server-relative folder,
// overwriting any existing file of the same name.
func (g *Gateway) uploadFile(ctx context.Context, siteURL, folderRel, localPath string) (Transferred, error) {
	data, err := afero.ReadFile(g.fs, localPath)
	if err != nil {
		return Transferred{}, fmt.Errorf("spclient: reading %s: %w", localPath, err)
	}

	name := filepath.Base(localPath)
	u := folderURL(siteURL, folderRel, "/Files/add(url='"+odataString(name)+"',overwrite=true)")

	var added folderItem
	if err := g.post(ctx, siteURL, u, nil, data, &added); err != nil {
		return Transferred{}, fmt.Errorf("spclient: uploading %s: %w", localPath, err)
	}

	serverRel := added.ServerRelativeURL
	if serverRel == "" {
		serverRel = sppath.NormalizeSlashes(folderRel + "/" + name)
	}

	g.logger.Info("uploaded file",
		slog.String("path", localPath),
		slog.String("url", serverRel),
		slog.Int("bytes", len(data)),
	)

	return Transferred{ServerRelativeURL: serverRel, LocalPath: localPath, Bytes: int64(len(data))}, nil
}
