// Package config implements workspace configuration for spsync: the
// spsync.toml file that binds a local workspace to a SharePoint site, the
// per-workspace cache that resolves which configuration applies to a local
// path, and the global settings that tune logging and transport.
//
// A workspace configuration describes one top-level site and, optionally,
// sub-sites that share the top-level site's authentication scope but declare
// their own remote folders.
package config

import (
	"net/url"
	"strings"
)

// FileName is the workspace configuration file name. Its directory is the
// workspace root.
const FileName = "spsync.toml"

// Default values applied when the workspace file leaves a field empty.
const (
	defaultSourceDirectory   = "src"
	defaultDestinationFolder = "/"
)

// AuthType selects how credentials are collected and presented to the server.
type AuthType string

// Supported authentication types.
const (
	// AuthDigest collects a username and password and negotiates NTLM or
	// basic authentication with the server.
	AuthDigest AuthType = "Digest"
	// AuthAddIn collects a SharePoint add-in client id, client secret and
	// optional realm and exchanges them for an app-only access token.
	AuthAddIn AuthType = "AddIn"
)

// Site is the parsed configuration of one workspace. Fields tagged toml are
// read from spsync.toml; WorkspaceRoot and SourceRoot are derived by Load.
type Site struct {
	SiteURL          string          `toml:"site_url"`
	AuthType         AuthType        `toml:"authentication_type"`
	SourceDirectory  string          `toml:"source_directory"`
	RemoteFolders    []string        `toml:"remote_folders"`
	CheckInMessage   string          `toml:"check_in_message"`
	StoreCredentials bool            `toml:"store_credentials"`
	Publish          *PublishOptions `toml:"publish"`
	SubSites         []SubSite       `toml:"sub_sites"`

	// WorkspaceRoot is the absolute directory holding spsync.toml.
	WorkspaceRoot string `toml:"-"`
	// SourceRoot is WorkspaceRoot joined with SourceDirectory. Every local
	// path an operation touches must live under it.
	SourceRoot string `toml:"-"`
}

// SubSite is a nested site below the top-level site. It reuses the parent's
// credentials and contributes its own remote folders to workspace population.
type SubSite struct {
	SiteURL       string   `toml:"site_url"`
	RemoteFolders []string `toml:"remote_folders"`
}

// PublishOptions drives workspace-wide publishing. GlobPatterns are relative
// to the workspace root; uploaded files keep their path relative to
// LocalRoot below DestinationFolder.
type PublishOptions struct {
	GlobPatterns      []string `toml:"glob_patterns"`
	DestinationFolder string   `toml:"destination_folder"`
	LocalRoot         string   `toml:"local_root"`
}

// SiteURLs returns the top-level site URL followed by every sub-site URL,
// each without a trailing slash.
func (s *Site) SiteURLs() []string {
	urls := make([]string, 0, len(s.SubSites)+1)
	urls = append(urls, strings.TrimRight(s.SiteURL, "/"))

	for i := range s.SubSites {
		urls = append(urls, strings.TrimRight(s.SubSites[i].SiteURL, "/"))
	}

	return urls
}

// URL returns the parsed top-level site URL. Load guarantees it parses, so
// callers holding a loaded Site can ignore the zero value case.
func (s *Site) URL() *url.URL {
	u, err := url.Parse(strings.TrimRight(s.SiteURL, "/"))
	if err != nil {
		return &url.URL{}
	}

	return u
}

// HasPublishOptions reports whether workspace publishing is configured.
func (s *Site) HasPublishOptions() bool {
	return s.Publish != nil && len(s.Publish.GlobPatterns) > 0
}
