package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// configFilePermissions is the permission mode for spsync.toml.
const configFilePermissions = 0o644

// configDirPermissions is the permission mode for created directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by CreateWorkspace when the workspace already
// has a configuration file.
var ErrConfigExists = errors.New("config: workspace configuration already exists")

// workspaceTemplate is the spsync.toml written by `spsync init`. Optional
// settings are present as commented-out examples.
const workspaceTemplate = `# spsync workspace configuration

site_url = %q

# "Digest" (username + password) or "AddIn" (client id + client secret).
authentication_type = %q

# Local directory mirrored against the site, relative to this file.
source_directory = "src"

# Remote folders or glob patterns fetched by 'spsync populate'.
remote_folders = [
  # "/Style Library/**/*",
  # "/SiteAssets/*.js",
]

# Default message used when publishing.
# check_in_message = "Published with spsync"

# Keep validated credentials in the local credential database.
store_credentials = false

# [publish]
# glob_patterns = ["src/**/*.js"]
# destination_folder = "/"
# local_root = "src"

# [[sub_sites]]
# site_url = "https://contoso.sharepoint.com/sites/team/sub"
# remote_folders = ["/SiteAssets/**/*"]
`

// CreateWorkspace writes a new spsync.toml into root and creates the default
// source directory. It refuses to overwrite an existing configuration.
func CreateWorkspace(root, siteURL string, authType AuthType, logger *slog.Logger) (string, error) {
	path := filepath.Join(root, FileName)

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%w: %s", ErrConfigExists, path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking %s: %w", path, err)
	}

	content := fmt.Sprintf(workspaceTemplate, siteURL, string(authType))
	if err := atomicWriteFile(path, []byte(content)); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Join(root, defaultSourceDirectory), configDirPermissions); err != nil {
		return "", fmt.Errorf("creating source directory: %w", err)
	}

	logger.Info("created workspace config",
		slog.String("path", path),
		slog.String("site_url", siteURL),
	)

	return path, nil
}

// atomicWriteFile writes data to a temp file in the target directory and
// renames it into place so readers never observe a partial file.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".spsync-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
