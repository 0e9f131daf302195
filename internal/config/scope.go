package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Scopes resolves which workspace configuration applies to a local path and
// caches one parsed Site per workspace root. Safe for concurrent use.
type Scopes struct {
	mu     sync.RWMutex
	sites  map[string]*Site
	logger *slog.Logger
}

// NewScopes creates an empty configuration cache.
func NewScopes(logger *slog.Logger) *Scopes {
	return &Scopes{
		sites:  make(map[string]*Site),
		logger: logger,
	}
}

// FindWorkspaceRoot walks up from path (a file or directory, which need not
// exist) until it finds a directory containing spsync.toml.
func FindWorkspaceRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}

	for dir := abs; ; {
		if info, statErr := os.Stat(filepath.Join(dir, FileName)); statErr == nil && !info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no %s in %s or any parent", ErrConfigNotFound, FileName, abs)
		}

		dir = parent
	}
}

// ForPath returns the configuration of the workspace enclosing path.
func (s *Scopes) ForPath(path string) (*Site, error) {
	root, err := FindWorkspaceRoot(path)
	if err != nil {
		return nil, err
	}

	return s.Site(root)
}

// Site returns the cached configuration for a workspace root, loading it on
// first use.
func (s *Scopes) Site(root string) (*Site, error) {
	root = filepath.Clean(root)

	s.mu.RLock()
	site, ok := s.sites[root]
	s.mu.RUnlock()

	if ok {
		return site, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if site, ok := s.sites[root]; ok {
		return site, nil
	}

	site, err := Load(filepath.Join(root, FileName), s.logger)
	if err != nil {
		return nil, err
	}

	s.sites[root] = site

	return site, nil
}

// Reload re-parses the configuration of a workspace root and replaces the
// cached entry. authChanged reports whether the authentication type differs
// from the previously cached configuration; it is false on first load. On
// error the cached entry is left untouched.
func (s *Scopes) Reload(root string) (site *Site, authChanged bool, err error) {
	root = filepath.Clean(root)

	site, err = Load(filepath.Join(root, FileName), s.logger)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.sites[root]; ok {
		authChanged = prev.AuthType != site.AuthType
	}

	s.sites[root] = site

	s.logger.Info("reloaded workspace config",
		slog.String("root", root),
		slog.Bool("auth_changed", authChanged),
	)

	return site, authChanged, nil
}
