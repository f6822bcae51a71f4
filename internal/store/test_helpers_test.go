package store

import (
	"path/filepath"
	"testing"

	"github.com/longlee218/goclass-editor/internal/scene"
)

// createTestStore creates a file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testElement creates an element with minimal required fields.
func testElement(id string, version int64) scene.Element {
	return scene.Element{
		ID:              id,
		Type:            scene.TypeRectangle,
		StrokeColor:     "#1e1e1e",
		BackgroundColor: "transparent",
		StrokeWidth:     2,
		Opacity:         100,
		Version:         version,
		VersionNonce:    version * 10,
		UpdatedAt:       1700000000000,
	}
}

// testDocument creates a two-element document.
func testDocument() scene.Document {
	return scene.Document{
		Elements: []scene.Element{testElement("a", 1), testElement("b", 2)},
		AppState: scene.AppState{Zoom: 1, ScrollX: 10, Name: "board"},
	}
}

// testFile creates a file record whose id is derived from data.
func testFile(data []byte, now int64) FileRecord {
	return FileRecord{
		ID:              scene.FileIDFor(data),
		MimeType:        "image/png",
		Data:            data,
		CreatedAt:       now,
		LastRetrievedAt: now,
	}
}
