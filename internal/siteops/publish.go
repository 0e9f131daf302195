package siteops

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/tonimelisma/spsync/internal/config"
	"github.com/tonimelisma/spsync/internal/spclient"
	"github.com/tonimelisma/spsync/internal/sppath"
)

// DefaultCheckInMessage is used when neither the caller nor the workspace
// supplies a check-in message.
const DefaultCheckInMessage = "Published with spsync"

// Scope selects the version level a publish checks files in at.
type Scope string

// Publishing scopes. ScopeNone uploads without checking in.
const (
	ScopeNone  Scope = ""
	ScopeMajor Scope = "major"
	ScopeMinor Scope = "minor"
)

// ParseScope converts a user-supplied scope name.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeNone, ScopeMajor, ScopeMinor:
		return Scope(s), nil
	default:
		return ScopeNone, fmt.Errorf("siteops: unknown publishing scope %q (want %q or %q)", s, ScopeMajor, ScopeMinor)
	}
}

// checkIn maps a scope to the check-in to perform after upload.
func (s Scope) checkIn() (bool, spclient.CheckInType) {
	switch s {
	case ScopeMajor:
		return true, spclient.CheckInMajor
	case ScopeMinor:
		return true, spclient.CheckInMinor
	default:
		return false, spclient.CheckInMinor
	}
}

// PublishingAction describes one publish: a local file or folder, the
// check-in scope and an optional message.
type PublishingAction struct {
	Path    string
	Scope   Scope
	Message string
}

// resolveMessage applies the message precedence: explicit, then the
// workspace default, then DefaultCheckInMessage.
func resolveMessage(explicit string, site *config.Site) string {
	switch {
	case explicit != "":
		return explicit
	case site.CheckInMessage != "":
		return site.CheckInMessage
	default:
		return DefaultCheckInMessage
	}
}

// Publish uploads a local file, or every file below a local folder, to the
// site that owns it and checks the files in at the action's scope.
func (o *Orchestrator) Publish(ctx context.Context, action PublishingAction) ([]spclient.Transferred, error) {
	var out []spclient.Transferred

	err := o.run(ctx, "publish", target{path: action.Path, local: true},
		func(ctx context.Context, inv *invocation) (string, error) {
			req, err := o.uploadRequest(inv.site, action)
			if err != nil {
				return "", err
			}

			o.cfg.Notifier.Info("Uploading " + action.Path)

			out, err = inv.gw.Upload(ctx, req)
			if err != nil {
				return "", remoteErr("publish", action.Path, err)
			}

			if action.Scope == ScopeNone {
				return "File saved.", nil
			}

			return fmt.Sprintf("Published %s version of %d file(s).", action.Scope, len(out)), nil
		})

	return out, err
}

// Save uploads a local file without checking it in.
func (o *Orchestrator) Save(ctx context.Context, path string) ([]spclient.Transferred, error) {
	return o.Publish(ctx, PublishingAction{Path: path, Scope: ScopeNone})
}

// uploadRequest builds the upload for a single file or folder. Paths are
// computed relative to the owning site's folder in the workspace, so files
// of a sub-site land below the sub-site and not below a repeated prefix.
func (o *Orchestrator) uploadRequest(site *config.Site, action PublishingAction) (*spclient.UploadRequest, error) {
	serverRel, siteURL, err := locate(site, action.Path)
	if err != nil {
		return nil, err
	}

	subPath, _ := sppath.TrimWebPrefix(sppath.WebPath(sppath.SiteURLForPath(serverRel, site)), sppath.WebPath(site.URL()))
	base := filepath.Join(site.SourceRoot, filepath.FromSlash(subPath))

	rel, err := filepath.Rel(base, action.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotUnderSourceRoot, action.Path)
	}

	pattern := spclientEscape(rel)
	if o.isDir(action.Path) {
		pattern = joinGlob(pattern, sppath.Globstar)
	}

	checkIn, kind := action.Scope.checkIn()

	return &spclient.UploadRequest{
		SiteURL:     siteURL,
		Base:        base,
		Patterns:    []string{pattern},
		Folder:      "/",
		CheckIn:     checkIn,
		CheckInType: kind,
		Message:     resolveMessage(action.Message, site),
	}, nil
}

// spclientEscape quotes a literal relative path for use in an upload
// pattern. The source root itself maps to the empty pattern.
func spclientEscape(rel string) string {
	if rel == "." {
		return ""
	}

	return spclient.EscapeGlob(rel)
}

func joinGlob(prefix, rest string) string {
	if prefix == "" {
		return rest
	}

	return prefix + "/" + rest
}

// PublishWorkspace uploads every file matched by the workspace's publish
// globs to the configured destination folder and checks them in as major
// versions.
func (o *Orchestrator) PublishWorkspace(ctx context.Context, root, message string) ([]spclient.Transferred, error) {
	var out []spclient.Transferred

	err := o.run(ctx, "publish workspace", target{path: root},
		func(ctx context.Context, inv *invocation) (string, error) {
			req, err := workspaceUploadRequest(inv.site, message)
			if err != nil {
				return "", err
			}

			o.cfg.Notifier.Info("Starting workspace publish...")

			for _, p := range inv.site.Publish.GlobPatterns {
				o.cfg.Notifier.Info("Publishing files: " + p)
			}

			out, err = inv.gw.Upload(ctx, req)
			if err != nil {
				return "", remoteErr("publish workspace", inv.site.Publish.DestinationFolder, err)
			}

			return fmt.Sprintf("Workspace publish complete: %d file(s).", len(out)), nil
		})

	return out, err
}

// workspaceUploadRequest builds the upload for the workspace publish
// options. Globs are relative to the workspace root; upload paths are
// relative to the publish local root.
func workspaceUploadRequest(site *config.Site, message string) (*spclient.UploadRequest, error) {
	if !site.HasPublishOptions() {
		return nil, ErrNoPublishOptions
	}

	dest := sppath.NormalizeSlashes(sppath.WebPath(site.URL()) + "/" + site.Publish.DestinationFolder)
	siteURL := sppath.SiteURLForPath(dest, site)

	patterns := make([]string, 0, len(site.Publish.GlobPatterns))
	for _, g := range site.Publish.GlobPatterns {
		if filepath.IsAbs(g) {
			patterns = append(patterns, g)
		} else {
			patterns = append(patterns, filepath.Join(site.WorkspaceRoot, g))
		}
	}

	checkIn, kind := ScopeMajor.checkIn()

	return &spclient.UploadRequest{
		SiteURL:     siteURL.String(),
		Base:        site.LocalPublishRoot(),
		Patterns:    patterns,
		Folder:      sppath.SiteRelative(dest, siteURL),
		CheckIn:     checkIn,
		CheckInType: kind,
		Message:     resolveMessage(message, site),
	}, nil
}
