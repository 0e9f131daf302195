// Package sppath translates between local workspace paths, server-relative
// SharePoint URLs and site URLs. Nothing here touches the network. The only
// filesystem access is the lookup of names already present locally, so a
// name maps back to the normalization form it was created in.
package sppath

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/spsync/internal/config"
)

// ErrInvalidPath is returned when a path cannot be mapped because it lies
// outside the workspace source root or the site's web path.
var ErrInvalidPath = errors.New("sppath: path is outside the workspace source root")

// wildcardChars are the characters that make a path segment a glob segment.
const wildcardChars = "*?[{(|!"

// Globstar is the path segment matching any number of directories.
const Globstar = "**"

// NormalizeSlashes converts backslashes to forward slashes, collapses runs of
// slashes, ensures a single leading slash and drops any trailing slash. The
// empty path and the root both normalize to "/".
func NormalizeSlashes(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")

	var b strings.Builder

	b.Grow(len(p) + 1)
	b.WriteByte('/')

	prevSlash := true

	for i := range len(p) {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}

			prevSlash = true
		} else {
			prevSlash = false
		}

		b.WriteByte(c)
	}

	out := b.String()
	if len(out) > 1 {
		out = strings.TrimSuffix(out, "/")
	}

	return out
}

// WebPath returns the server-relative path of a site URL, "/" for a site at
// the host root.
func WebPath(u *url.URL) string {
	return NormalizeSlashes(u.Path)
}

// HasWildcard reports whether s contains a glob metacharacter.
func HasWildcard(s string) bool {
	return strings.ContainsAny(s, wildcardChars)
}

// IsFilePath reports whether the last segment of p names a file: it has an
// extension and no wildcard.
func IsFilePath(p string) bool {
	last := path.Base(strings.ReplaceAll(p, "\\", "/"))
	if HasWildcard(last) {
		return false
	}

	ext := path.Ext(last)

	return ext != "" && ext != last
}

// StripGlobstar removes trailing "/**" and "/**/*" markers so the remainder
// can be used as a literal folder path.
func StripGlobstar(p string) string {
	p = NormalizeSlashes(p)

	for {
		switch {
		case strings.HasSuffix(p, "/**/*"):
			p = strings.TrimSuffix(p, "/**/*")
		case strings.HasSuffix(p, "/"+Globstar):
			p = strings.TrimSuffix(p, "/"+Globstar)
		default:
			return NormalizeSlashes(p)
		}
	}
}

// ServerRelativeURL maps a local path under the site's source root to its
// server-relative URL below the top-level site's web path. The result uses
// forward slashes and NFC-normalized names.
func ServerRelativeURL(localPath string, site *config.Site) (string, error) {
	rel, err := relativeToSource(localPath, site)
	if err != nil {
		return "", err
	}

	web := WebPath(site.URL())
	if rel == "" {
		return web, nil
	}

	return NormalizeSlashes(web + "/" + norm.NFC.String(rel)), nil
}

// LocalPath maps a server-relative URL below the top-level site's web path
// back to a local path under the source root. Names that exist locally in
// another Unicode normalization form keep their local spelling.
func LocalPath(serverRelative string, site *config.Site) (string, error) {
	rel, ok := TrimWebPrefix(NormalizeSlashes(serverRelative), WebPath(site.URL()))
	if !ok {
		return "", fmt.Errorf("%w: %s is not below %s", ErrInvalidPath, serverRelative, site.SiteURL)
	}

	if rel == "" {
		return site.SourceRoot, nil
	}

	return ExistingForm(osFs, filepath.Join(site.SourceRoot, filepath.FromSlash(rel))), nil
}

// RelativeToSource returns the forward-slash path of localPath relative to
// the source root, or "" for the source root itself.
func RelativeToSource(localPath string, site *config.Site) (string, error) {
	return relativeToSource(localPath, site)
}

func relativeToSource(localPath string, site *config.Site) (string, error) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", localPath, err)
	}

	rel, err := filepath.Rel(site.SourceRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is not under %s", ErrInvalidPath, localPath, site.SourceRoot)
	}

	if rel == "." {
		return "", nil
	}

	return filepath.ToSlash(rel), nil
}

// TrimWebPrefix removes the web path prefix from a normalized
// server-relative path, matching case-insensitively on segment boundaries.
// The remainder has no leading slash; ok is false when p is not at or below
// prefix.
func TrimWebPrefix(p, prefix string) (rest string, ok bool) {
	if prefix == "/" {
		return strings.TrimPrefix(p, "/"), true
	}

	if len(p) < len(prefix) || !strings.EqualFold(p[:len(prefix)], prefix) {
		return "", false
	}

	rest = p[len(prefix):]
	if rest == "" {
		return "", true
	}

	if rest[0] != '/' {
		return "", false
	}

	return rest[1:], true
}

// SiteURLForPath returns the URL of the configured site or sub-site owning p,
// which may be a server-relative path or an absolute URL. The longest
// matching site path wins; the top-level site is the fallback.
func SiteURLForPath(p string, site *config.Site) *url.URL {
	if u, err := url.Parse(p); err == nil && u.IsAbs() {
		p = u.Path
	}

	p = NormalizeSlashes(p)
	best := site.URL()
	bestLen := -1

	for _, raw := range site.SiteURLs() {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}

		web := WebPath(u)
		if _, ok := TrimWebPrefix(p, web); ok && len(web) > bestLen {
			best = u
			bestLen = len(web)
		}
	}

	return best
}

// SiteRelative returns serverRelative expressed relative to the web path of
// siteURL, with a leading slash. It returns serverRelative unchanged when it
// is not below the site.
func SiteRelative(serverRelative string, siteURL *url.URL) string {
	p := NormalizeSlashes(serverRelative)

	rest, ok := TrimWebPrefix(p, WebPath(siteURL))
	if !ok {
		return p
	}

	return NormalizeSlashes(rest)
}
