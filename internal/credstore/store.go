// Package credstore persists validated credentials in a local SQLite
// database, one row per site URL. The database file is created with owner
// only permissions because rows hold secrets.
package credstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/tonimelisma/spsync/internal/auth"
)

const (
	dirPermissions  = 0o700
	filePermissions = 0o600
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a SQLite-backed auth.Store.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

var _ auth.Store = (*Store)(nil)

// Open opens (creating if needed) the credential database at path and
// applies pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("credstore: creating directory for %s: %w", path, err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("credstore: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, filePermissions); err != nil {
		db.Close()
		return nil, fmt.Errorf("credstore: restricting permissions on %s: %w", path, err)
	}

	logger.Debug("credential store ready", slog.String("path", path))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// runMigrations applies all pending schema migrations with the goose v3
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("credstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("credstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("credstore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored record for siteURL. ok is false when none exists.
func (s *Store) Get(ctx context.Context, siteURL string) (auth.Record, bool, error) {
	var payload string

	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM credentials WHERE site_url = ?`, siteURL,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Record{}, false, nil
	}

	if err != nil {
		return auth.Record{}, false, fmt.Errorf("credstore: reading %s: %w", siteURL, err)
	}

	var rec auth.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return auth.Record{}, false, fmt.Errorf("credstore: decoding %s: %w", siteURL, err)
	}

	return rec, true, nil
}

// Set stores rec for siteURL, replacing any previous record.
func (s *Store) Set(ctx context.Context, siteURL string, rec auth.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("credstore: encoding %s: %w", siteURL, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO credentials (site_url, scheme, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(site_url) DO UPDATE SET
		   scheme = excluded.scheme,
		   payload = excluded.payload,
		   updated_at = excluded.updated_at`,
		siteURL, string(rec.Scheme), string(payload), s.nowFunc().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("credstore: writing %s: %w", siteURL, err)
	}

	s.logger.Debug("stored credentials",
		slog.String("site_url", siteURL),
		slog.String("scheme", string(rec.Scheme)),
	)

	return nil
}

// Delete removes the record for siteURL. Deleting a missing record is not
// an error.
func (s *Store) Delete(ctx context.Context, siteURL string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE site_url = ?`, siteURL); err != nil {
		return fmt.Errorf("credstore: deleting %s: %w", siteURL, err)
	}

	s.logger.Debug("deleted stored credentials", slog.String("site_url", siteURL))

	return nil
}

// Sites lists every site URL with stored credentials, most recently updated
// first.
func (s *Store) Sites(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT site_url FROM credentials ORDER BY updated_at DESC, site_url`)
	if err != nil {
		return nil, fmt.Errorf("credstore: listing sites: %w", err)
	}
	defer rows.Close()

	var sites []string

	for rows.Next() {
		var site string
		if err := rows.Scan(&site); err != nil {
			return nil, fmt.Errorf("credstore: scanning site: %w", err)
		}

		sites = append(sites, site)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credstore: listing sites: %w", err)
	}

	return sites, nil
}
