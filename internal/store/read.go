package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/longlee218/goclass-editor/internal/scene"
)

// LoadScene reads a stored scene snapshot. found is false when no
// snapshot exists for the id.
func (s *Store) LoadScene(ctx context.Context, id string) (scene.Document, bool, error) {
	var elementsJSON, appStateJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT elements, app_state FROM scenes WHERE id = ?
	`, id).Scan(&elementsJSON, &appStateJSON)
	if err == sql.ErrNoRows {
		return scene.Document{}, false, nil
	}
	if err != nil {
		return scene.Document{}, false, fmt.Errorf("load scene %s: %w", id, err)
	}

	elements, err := unmarshalElements(elementsJSON)
	if err != nil {
		return scene.Document{}, false, fmt.Errorf("load scene %s: %w", id, err)
	}
	appState, err := unmarshalAppState(appStateJSON)
	if err != nil {
		return scene.Document{}, false, fmt.Errorf("load scene %s: %w", id, err)
	}

	return scene.Document{Elements: elements, AppState: appState}, true, nil
}

// LoadLibrary returns all stored library items in deterministic order.
// Returns an empty slice (not nil) when the library is empty.
func (s *Store) LoadLibrary(ctx context.Context) ([]scene.LibraryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, elements, created_at
		FROM library_items
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}
	defer rows.Close()

	items := []scene.LibraryItem{}
	for rows.Next() {
		var item scene.LibraryItem
		var elementsJSON string
		if err := rows.Scan(&item.ID, &elementsJSON, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan library item: %w", err)
		}
		item.Elements, err = unmarshalElements(elementsJSON)
		if err != nil {
			return nil, fmt.Errorf("load library item %s: %w", item.ID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate library: %w", err)
	}
	return items, nil
}

// GetFile reads one stored binary asset. found is false when the id is
// not stored.
func (s *Store) GetFile(ctx context.Context, id scene.FileID) (FileRecord, bool, error) {
	var rec FileRecord
	var rawID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mime_type, data, created_at, last_retrieved_at
		FROM files WHERE id = ?
	`, string(id)).Scan(&rawID, &rec.MimeType, &rec.Data, &rec.CreatedAt, &rec.LastRetrievedAt)
	if err == sql.ErrNoRows {
		return FileRecord{}, false, nil
	}
	if err != nil {
		return FileRecord{}, false, fmt.Errorf("get file %s: %w", id, err)
	}
	rec.ID = scene.FileID(rawID)
	return rec, true, nil
}

// ListFileIDs returns the ids of all stored assets in deterministic
// order.
func (s *Store) ListFileIDs(ctx context.Context) ([]scene.FileID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM files ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	ids := []scene.FileID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan file id: %w", err)
		}
		ids = append(ids, scene.FileID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file ids: %w", err)
	}
	return ids, nil
}
