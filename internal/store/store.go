package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/longlee218/goclass-editor/internal/scene"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema (scenes, library_items, files, version_markers)
const currentSchemaVersion = 1

// Category names a storage compartment with its own version marker.
type Category string

const (
	CategoryScene   Category = "scene"
	CategoryLibrary Category = "library"
	CategoryFiles   Category = "files"
)

// Categories lists every storage category in a fixed order.
var Categories = []Category{CategoryScene, CategoryLibrary, CategoryFiles}

// Marker is the persisted freshness counter for one category.
type Marker struct {
	Category  Category
	Counter   int64
	UpdatedAt int64
}

// FileRecord is one stored binary asset row. The id is content-derived
// (scene.FileIDFor), so identical payloads share a row.
type FileRecord struct {
	ID              scene.FileID
	MimeType        string
	Data            []byte
	CreatedAt       int64
	LastRetrievedAt int64
}

// Store is the durable local workspace storage.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path. Pass
// ":memory:" for an ephemeral store (tests use this). Applies required
// pragmas and migrations automatically; safe to call multiple times on
// the same path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries. Prefer Store
// methods; the inspect command uses this for ad-hoc reads.
func (s *Store) DB() *sql.DB {
	return s.db
}

// MarkerFor returns the current marker for one category. found is
// false when the category has never been written.
func (s *Store) MarkerFor(ctx context.Context, category Category) (Marker, bool, error) {
	var m Marker
	m.Category = category
	err := s.db.QueryRowContext(ctx, `
		SELECT counter, updated_at FROM version_markers WHERE category = ?
	`, string(category)).Scan(&m.Counter, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return Marker{Category: category}, false, nil
	}
	if err != nil {
		return Marker{}, false, fmt.Errorf("read marker %s: %w", category, err)
	}
	return m, true, nil
}

// Markers returns the markers of every category that has been written.
func (s *Store) Markers(ctx context.Context) (map[Category]Marker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, counter, updated_at
		FROM version_markers
		ORDER BY category COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read markers: %w", err)
	}
	defer rows.Close()

	out := make(map[Category]Marker)
	for rows.Next() {
		var m Marker
		var cat string
		if err := rows.Scan(&cat, &m.Counter, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		m.Category = Category(cat)
		out[m.Category] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate markers: %w", err)
	}
	return out, nil
}

// bumpMarker increments a category's counter inside tx and returns the
// new value. Creates the marker at 1 on first write.
func bumpMarker(ctx context.Context, tx *sql.Tx, category Category, now int64) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO version_markers (category, counter, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT(category) DO UPDATE SET
			counter = counter + 1,
			updated_at = excluded.updated_at
	`, string(category), now)
	if err != nil {
		return 0, fmt.Errorf("bump marker %s: %w", category, err)
	}

	var counter int64
	err = tx.QueryRowContext(ctx, `
		SELECT counter FROM version_markers WHERE category = ?
	`, string(category)).Scan(&counter)
	if err != nil {
		return 0, fmt.Errorf("read bumped marker %s: %w", category, err)
	}
	return counter, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on
// user_version. Version 1 is the initial schema; future migrations
// slot in here.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version >= currentSchemaVersion {
		return nil
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}
