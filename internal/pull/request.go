// Package pull builds download request descriptors: which remote folder to
// walk, whether to recurse, which server-relative paths to keep and where
// the results land locally.
package pull

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tonimelisma/spsync/internal/config"
	"github.com/tonimelisma/spsync/internal/sppath"
)

// Request describes one bulk or single-object download against one site.
type Request struct {
	// SiteURL is the site or sub-site the request targets.
	SiteURL *url.URL
	// BaseFolder is the server-relative web path of SiteURL.
	BaseFolder string
	// RootFolder is the site-relative folder the download starts from: the
	// longest literal prefix of the pattern, with a trailing slash.
	RootFolder string
	// Recursive is true iff the pattern has a "**" segment.
	Recursive bool
	// Match accepts server-relative file paths. Nil for literal requests.
	Match *regexp.Regexp
	// StrictObjects, when set, restricts the download to exactly these
	// server-relative file URLs.
	StrictObjects []string
	// CreateEmptyFolders is always false: empty remote folders are never
	// created locally.
	CreateEmptyFolders bool
	// LocalRoot is the local directory mirroring BaseFolder.
	LocalRoot string
	// MajorVersion requests the latest published version of each object
	// instead of the current draft.
	MajorVersion bool
	// Pattern is the site-relative pattern the request was built from.
	Pattern string
}

// Build derives a request from a site-relative glob pattern. A pattern with
// no wildcard names a literal folder, downloaded flat, or a literal file.
func Build(pattern string, siteURL *url.URL, site *config.Site) (*Request, error) {
	pattern = sppath.NormalizeSlashes(pattern)
	base := sppath.WebPath(siteURL)

	localRoot, err := sppath.LocalPath(base, site)
	if err != nil {
		return nil, fmt.Errorf("pull: mapping site %s to the workspace: %w", siteURL, err)
	}

	req := &Request{
		SiteURL:    siteURL,
		BaseFolder: base,
		LocalRoot:  localRoot,
		Pattern:    pattern,
	}

	prefix, rest := splitLiteralPrefix(pattern)

	if rest == "" {
		if sppath.IsFilePath(pattern) {
			req.RootFolder = folderWithSlash(path.Dir(pattern))
			req.StrictObjects = []string{joinWeb(base, pattern)}
		} else {
			req.RootFolder = folderWithSlash(pattern)
		}

		return req, nil
	}

	full := pattern
	if base != "/" {
		full = base + pattern
	}

	re, err := Compile(full)
	if err != nil {
		return nil, err
	}

	req.RootFolder = folderWithSlash(prefix)
	req.Recursive = HasGlobstar(pattern)
	req.Match = re

	return req, nil
}

// Single builds the strict descriptor for exactly one local file's remote
// counterpart, requesting its latest major version. The file lands below
// destRoot at the same relative position it has below the source root.
func Single(localPath, destRoot string, site *config.Site) (*Request, error) {
	serverRel, err := sppath.ServerRelativeURL(localPath, site)
	if err != nil {
		return nil, err
	}

	siteURL := sppath.SiteURLForPath(serverRel, site)
	base := sppath.WebPath(siteURL)

	// Sub-site content lives below the sub-site's folder in the workspace.
	subPath, _ := sppath.TrimWebPrefix(base, sppath.WebPath(site.URL()))

	return &Request{
		SiteURL:       siteURL,
		BaseFolder:    base,
		RootFolder:    folderWithSlash(path.Dir(sppath.SiteRelative(serverRel, siteURL))),
		StrictObjects: []string{serverRel},
		LocalRoot:     filepath.Join(destRoot, filepath.FromSlash(subPath)),
		MajorVersion:  true,
		Pattern:       sppath.SiteRelative(serverRel, siteURL),
	}, nil
}

// Literal reports whether the request names objects without a predicate.
func (r *Request) Literal() bool {
	return r.Match == nil
}

// RootServerRelative returns the server-relative URL of RootFolder without
// the trailing slash.
func (r *Request) RootServerRelative() string {
	return joinWeb(r.BaseFolder, r.RootFolder)
}

// Matches reports whether the server-relative file path belongs to the
// request.
func (r *Request) Matches(serverRelative string) bool {
	p := sppath.NormalizeSlashes(serverRelative)

	if len(r.StrictObjects) > 0 {
		for _, o := range r.StrictObjects {
			if strings.EqualFold(sppath.NormalizeSlashes(o), p) {
				return true
			}
		}

		return false
	}

	if r.Match != nil {
		return r.Match.MatchString(p)
	}

	return strings.EqualFold(path.Dir(p), r.RootServerRelative())
}

// LocalFile returns where a downloaded server-relative file is written.
func (r *Request) LocalFile(serverRelative string) (string, error) {
	rel, ok := sppath.TrimWebPrefix(sppath.NormalizeSlashes(serverRelative), r.BaseFolder)
	if !ok || rel == "" {
		return "", fmt.Errorf("%w: %s is not below %s", sppath.ErrInvalidPath, serverRelative, r.BaseFolder)
	}

	return filepath.Join(r.LocalRoot, filepath.FromSlash(rel)), nil
}

// splitLiteralPrefix splits a normalized pattern at the first segment with
// a wildcard. rest is empty when there is no wildcard.
func splitLiteralPrefix(pattern string) (prefix, rest string) {
	segs := strings.Split(strings.TrimPrefix(pattern, "/"), "/")

	for i, seg := range segs {
		if sppath.HasWildcard(seg) {
			return "/" + strings.Join(segs[:i], "/"), strings.Join(segs[i:], "/")
		}
	}

	return pattern, ""
}

func folderWithSlash(p string) string {
	p = sppath.NormalizeSlashes(p)
	if p == "/" {
		return p
	}

	return p + "/"
}

func joinWeb(base, p string) string {
	return sppath.NormalizeSlashes(base + "/" + p)
}
