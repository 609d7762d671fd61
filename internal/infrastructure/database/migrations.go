package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
)

// upSuffix marks a forward migration file: YYYYMMDD_HHMMSS_name.up.sql.
// Files with any other suffix are ignored.
const upSuffix = ".up.sql"

// versionLen is the length of the YYYYMMDD_HHMMSS prefix.
const versionLen = len("20060102_150405")

// MigrationsFS holds the .up.sql files at its root. The migrations
// package sets it from an embed.FS; nil means there is nothing to apply.
var MigrationsFS fs.FS

// ErrBadMigrationName is returned for an .up.sql file whose name does
// not start with a YYYYMMDD_HHMMSS version.
var ErrBadMigrationName = errors.New("malformed migration filename")

type migration struct {
	version string
	name    string
	sql     string
}

// Migrate applies every migration in MigrationsFS that is not yet in
// schema_migrations, oldest first. Each one runs in its own transaction
// together with its bookkeeping row, so a failure leaves it unapplied.
func (db *DB) Migrate(ctx context.Context) error {
	pending, err := loadMigrations(MigrationsFS)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		) STRICT`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if applied[m.version] {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %s_%s: %w", m.version, m.name, err)
		}
	}
	return nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after Commit

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("executing: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
		return fmt.Errorf("recording: %w", err)
	}
	return tx.Commit()
}

// loadMigrations reads the .up.sql files at the root of fsys, sorted by
// version.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), upSuffix) {
			continue
		}
		version, name, err := parseMigrationFilename(e.Name())
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		out = append(out, migration{version: version, name: name, sql: string(body)})
	}

	slices.SortFunc(out, func(a, b migration) int { return strings.Compare(a.version, b.version) })
	return out, nil
}

// parseMigrationFilename splits "20261019_120000_action_log.up.sql" into
// its version and name.
func parseMigrationFilename(filename string) (version, name string, err error) {
	base := strings.TrimSuffix(filename, upSuffix)
	if len(base) < versionLen+2 || base[versionLen] != '_' || !isVersion(base[:versionLen]) {
		return "", "", fmt.Errorf("%w: %s", ErrBadMigrationName, filename)
	}
	return base[:versionLen], base[versionLen+1:], nil
}

func isVersion(s string) bool {
	for i, r := range s {
		if i == 8 {
			if r != '_' {
				return false
			}
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
