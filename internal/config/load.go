package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Sentinel errors for workspace configuration loading.
var (
	ErrConfigNotFound = errors.New("config: workspace configuration not found")
	ErrConfigInvalid  = errors.New("config: workspace configuration invalid")
)

// Load reads and parses a workspace spsync.toml, applies defaults, validates
// it and derives the workspace and source roots. A missing file yields
// ErrConfigNotFound; malformed TOML, unknown keys and validation failures
// yield ErrConfigInvalid wrapping the details.
func Load(path string, logger *slog.Logger) (*Site, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, absPath)
		}

		return nil, fmt.Errorf("reading config file %s: %w", absPath, err)
	}

	site := &Site{}

	md, err := toml.Decode(string(data), site)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrConfigInvalid, absPath, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigInvalid, absPath, err)
	}

	applyDefaults(site, filepath.Dir(absPath))

	if err := Validate(site); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigInvalid, absPath, err)
	}

	logger.Debug("loaded workspace config",
		slog.String("path", absPath),
		slog.String("site_url", site.SiteURL),
		slog.String("auth_type", string(site.AuthType)),
		slog.Int("remote_folders", len(site.RemoteFolders)),
		slog.Int("sub_sites", len(site.SubSites)),
	)

	return site, nil
}

// applyDefaults fills optional fields and derives the absolute roots.
func applyDefaults(site *Site, workspaceRoot string) {
	site.WorkspaceRoot = workspaceRoot

	if site.SourceDirectory == "" {
		site.SourceDirectory = defaultSourceDirectory
	}

	if filepath.IsAbs(site.SourceDirectory) {
		site.SourceRoot = filepath.Clean(site.SourceDirectory)
	} else {
		site.SourceRoot = filepath.Join(workspaceRoot, site.SourceDirectory)
	}

	if site.Publish == nil {
		return
	}

	if site.Publish.DestinationFolder == "" {
		site.Publish.DestinationFolder = defaultDestinationFolder
	}

	if site.Publish.LocalRoot == "" {
		site.Publish.LocalRoot = site.SourceDirectory
	}
}

// LocalPublishRoot returns the absolute directory publish paths are computed
// relative to.
func (s *Site) LocalPublishRoot() string {
	if s.Publish == nil || s.Publish.LocalRoot == "" {
		return s.SourceRoot
	}

	if filepath.IsAbs(s.Publish.LocalRoot) {
		return filepath.Clean(s.Publish.LocalRoot)
	}

	return filepath.Join(s.WorkspaceRoot, s.Publish.LocalRoot)
}
