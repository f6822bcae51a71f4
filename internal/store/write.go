package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/longlee218/goclass-editor/internal/scene"
)

// SaveScene durably writes a scene snapshot and bumps the scene marker
// in the same transaction. Returns the new marker counter, which the
// writing tab records as its last-seen value for freshness checks.
func (s *Store) SaveScene(ctx context.Context, id string, doc scene.Document, now int64) (int64, error) {
	elementsJSON, err := marshalElements(doc.Elements)
	if err != nil {
		return 0, fmt.Errorf("save scene: %w", err)
	}
	appStateJSON, err := marshalAppState(doc.AppState)
	if err != nil {
		return 0, fmt.Errorf("save scene: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save scene: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scenes (id, elements, app_state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			elements = excluded.elements,
			app_state = excluded.app_state,
			updated_at = excluded.updated_at
	`, id, elementsJSON, appStateJSON, now)
	if err != nil {
		return 0, fmt.Errorf("save scene: %w", err)
	}

	counter, err := bumpMarker(ctx, tx, CategoryScene, now)
	if err != nil {
		return 0, fmt.Errorf("save scene: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save scene: commit: %w", err)
	}
	return counter, nil
}

// SaveLibrary replaces the stored library with items and bumps the
// library marker. The library is small and replace-all keeps removal
// semantics trivial (an item absent from items is deleted).
func (s *Store) SaveLibrary(ctx context.Context, items []scene.LibraryItem, now int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save library: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM library_items`); err != nil {
		return 0, fmt.Errorf("save library: clear: %w", err)
	}

	for _, item := range items {
		elementsJSON, err := marshalElements(item.Elements)
		if err != nil {
			return 0, fmt.Errorf("save library item %s: %w", item.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO library_items (id, elements, created_at)
			VALUES (?, ?, ?)
		`, item.ID, elementsJSON, item.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("save library item %s: %w", item.ID, err)
		}
	}

	counter, err := bumpMarker(ctx, tx, CategoryLibrary, now)
	if err != nil {
		return 0, fmt.Errorf("save library: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save library: commit: %w", err)
	}
	return counter, nil
}

// PutFile stores a binary asset. Uses ON CONFLICT(id) DO NOTHING for
// idempotency: the id is content-derived, so a duplicate insert means
// the identical payload is already present. The files marker is bumped
// only when a row was actually inserted.
func (s *Store) PutFile(ctx context.Context, rec FileRecord) (inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("put file: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO files (id, mime_type, data, created_at, last_retrieved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		string(rec.ID),
		rec.MimeType,
		rec.Data,
		rec.CreatedAt,
		rec.LastRetrievedAt,
	)
	if err != nil {
		return false, fmt.Errorf("put file: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put file: rows affected: %w", err)
	}

	if rowsAffected > 0 {
		if _, err := bumpMarker(ctx, tx, CategoryFiles, rec.CreatedAt); err != nil {
			return false, fmt.Errorf("put file: %w", err)
		}
		inserted = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("put file: commit: %w", err)
	}
	return inserted, nil
}

// TouchFile records that an asset was served from storage. Retrieval
// feeds the retention policy only; it is not a content change, so the
// files marker stays put.
func (s *Store) TouchFile(ctx context.Context, id scene.FileID, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE files SET last_retrieved_at = ? WHERE id = ?
	`, now, string(id))
	if err != nil {
		return fmt.Errorf("touch file %s: %w", id, err)
	}
	return nil
}

// DeleteFilesExcept removes every stored asset whose id is not in
// keep. Returns the number of rows removed; the files marker is bumped
// only when something was deleted.
func (s *Store) DeleteFilesExcept(ctx context.Context, keep []scene.FileID, now int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete files: begin tx: %w", err)
	}
	defer tx.Rollback()

	var result interface {
		RowsAffected() (int64, error)
	}
	if len(keep) == 0 {
		result, err = tx.ExecContext(ctx, `DELETE FROM files`)
	} else {
		placeholders := strings.Repeat("?,", len(keep)-1) + "?"
		args := make([]any, len(keep))
		for i, id := range keep {
			args[i] = string(id)
		}
		result, err = tx.ExecContext(ctx,
			`DELETE FROM files WHERE id NOT IN (`+placeholders+`)`, args...)
	}
	if err != nil {
		return 0, fmt.Errorf("delete files: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete files: rows affected: %w", err)
	}

	if removed > 0 {
		if _, err := bumpMarker(ctx, tx, CategoryFiles, now); err != nil {
			return 0, fmt.Errorf("delete files: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete files: commit: %w", err)
	}
	return removed, nil
}
