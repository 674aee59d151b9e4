// Package state persists run history and the source-to-target ID map in a
// local SQLite file. The ID map is what makes re-imports idempotent across
// tool invocations: a card created by an earlier run is found again by its
// source ID instead of being duplicated.
package state

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite state database.
type Store struct {
	*sql.DB
	path string
}

// Open opens the state database at the given path, applies pragmas and runs
// pending migrations.
func Open(path string) (*Store, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma %q: %w", pragma, err)
		}
	}

	s := &Store{DB: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrations = append(migrations, entry.Name())
		}
	}
	sort.Strings(migrations)

	_, err = s.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, migration := range migrations {
		var count int
		err := s.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", migration).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", migration, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", migration))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", migration, err)
		}

		tx, err := s.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for %s: %w", migration, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", migration, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", migration, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", migration, err)
		}
	}

	return nil
}

// Run is one export or import invocation.
type Run struct {
	ID          string
	Kind        string
	BundleDir   string
	ManifestRev string
	Status      string
	StartedAt   string
	FinishedAt  string
	Detail      string
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// BeginRun records the start of a run and returns its generated ID.
func (s *Store) BeginRun(kind, bundleDir, manifestRev string) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		Kind:        kind,
		BundleDir:   bundleDir,
		ManifestRev: manifestRev,
		Status:      "running",
		StartedAt:   formatTimestamp(time.Now()),
	}
	_, err := s.Exec(`
		INSERT INTO runs (id, kind, bundle_dir, manifest_rev, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.Kind, run.BundleDir, run.ManifestRev, run.Status, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record run start: %w", err)
	}
	return run, nil
}

// FinishRun marks a run completed or failed. Detail carries a short human
// summary, e.g. item counts or the fatal error.
func (s *Store) FinishRun(id, status, detail string) error {
	res, err := s.Exec(`
		UPDATE runs SET status = ?, finished_at = ?, detail = ? WHERE id = ?
	`, status, formatTimestamp(time.Now()), detail, id)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("unknown run %s", id)
	}
	return nil
}

// GetRun loads one run by ID.
func (s *Store) GetRun(id string) (*Run, error) {
	var run Run
	var manifestRev, finishedAt, detail sql.NullString
	err := s.QueryRow(`
		SELECT id, kind, bundle_dir, manifest_rev, status, started_at, finished_at, detail
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Kind, &run.BundleDir, &manifestRev, &run.Status, &run.StartedAt, &finishedAt, &detail)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	run.ManifestRev = manifestRev.String
	run.FinishedAt = finishedAt.String
	run.Detail = detail.String
	return &run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.Query(`
		SELECT id, kind, bundle_dir, manifest_rev, status, started_at, finished_at, detail
		FROM runs ORDER BY started_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var manifestRev, finishedAt, detail sql.NullString
		if err := rows.Scan(&run.ID, &run.Kind, &run.BundleDir, &manifestRev, &run.Status, &run.StartedAt, &finishedAt, &detail); err != nil {
			return nil, err
		}
		run.ManifestRev = manifestRev.String
		run.FinishedAt = finishedAt.String
		run.Detail = detail.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveMapping upserts one source-to-target ID pair for the given target
// instance. Re-saving an existing pair overwrites the target ID.
func (s *Store) SaveMapping(targetURL, entityType string, sourceID, targetID int, runID string) error {
	_, err := s.Exec(`
		INSERT INTO id_map (target_url, entity_type, source_id, target_id, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (target_url, entity_type, source_id)
		DO UPDATE SET target_id = excluded.target_id, run_id = excluded.run_id, updated_at = excluded.updated_at
	`, targetURL, entityType, sourceID, targetID, runID, formatTimestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save %s mapping %d: %w", entityType, sourceID, err)
	}
	return nil
}

// LookupMapping finds a previously saved target ID.
func (s *Store) LookupMapping(targetURL, entityType string, sourceID int) (int, bool, error) {
	var targetID int
	err := s.QueryRow(`
		SELECT target_id FROM id_map
		WHERE target_url = ? AND entity_type = ? AND source_id = ?
	`, targetURL, entityType, sourceID).Scan(&targetID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up %s mapping %d: %w", entityType, sourceID, err)
	}
	return targetID, true, nil
}

// Mappings returns all saved pairs of one entity type for a target instance.
func (s *Store) Mappings(targetURL, entityType string) (map[int]int, error) {
	rows, err := s.Query(`
		SELECT source_id, target_id FROM id_map
		WHERE target_url = ? AND entity_type = ?
	`, targetURL, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s mappings: %w", entityType, err)
	}
	defer rows.Close()

	out := make(map[int]int)
	for rows.Next() {
		var src, tgt int
		if err := rows.Scan(&src, &tgt); err != nil {
			return nil, err
		}
		out[src] = tgt
	}
	return out, rows.Err()
}
