package store

import (
	"context"
	"reflect"
	"testing"

	"github.com/longlee218/goclass-editor/internal/scene"
)

func TestSaveScene_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	doc := testDocument()
	if _, err := s.SaveScene(ctx, "default", doc, 1000); err != nil {
		t.Fatalf("SaveScene() failed: %v", err)
	}

	loaded, found, err := s.LoadScene(ctx, "default")
	if err != nil {
		t.Fatalf("LoadScene() failed: %v", err)
	}
	if !found {
		t.Fatal("saved scene not found")
	}
	if !reflect.DeepEqual(doc.Elements, loaded.Elements) {
		t.Errorf("elements round trip mismatch:\ngot  %+v\nwant %+v", loaded.Elements, doc.Elements)
	}
	if !reflect.DeepEqual(doc.AppState, loaded.AppState) {
		t.Errorf("app state round trip mismatch: got %+v want %+v", loaded.AppState, doc.AppState)
	}
}

func TestSaveScene_BumpsOnlySceneMarker(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c1, err := s.SaveScene(ctx, "default", testDocument(), 1000)
	if err != nil {
		t.Fatalf("SaveScene() failed: %v", err)
	}
	if c1 != 1 {
		t.Errorf("first save marker = %d, want 1", c1)
	}

	c2, err := s.SaveScene(ctx, "default", testDocument(), 2000)
	if err != nil {
		t.Fatalf("second SaveScene() failed: %v", err)
	}
	if c2 != 2 {
		t.Errorf("second save marker = %d, want 2", c2)
	}

	if _, found, _ := s.MarkerFor(ctx, CategoryLibrary); found {
		t.Error("scene writes must not create the library marker")
	}
	if _, found, _ := s.MarkerFor(ctx, CategoryFiles); found {
		t.Error("scene writes must not create the files marker")
	}
}

func TestSaveScene_Overwrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveScene(ctx, "default", testDocument(), 1000); err != nil {
		t.Fatalf("SaveScene() failed: %v", err)
	}

	updated := scene.Document{
		Elements: []scene.Element{testElement("c", 7)},
		AppState: scene.AppState{Zoom: 2},
	}
	if _, err := s.SaveScene(ctx, "default", updated, 2000); err != nil {
		t.Fatalf("overwrite SaveScene() failed: %v", err)
	}

	loaded, _, err := s.LoadScene(ctx, "default")
	if err != nil {
		t.Fatalf("LoadScene() failed: %v", err)
	}
	if len(loaded.Elements) != 1 || loaded.Elements[0].ID != "c" {
		t.Errorf("overwrite not applied, got %+v", loaded.Elements)
	}
}

func TestSaveScene_EmptyDocument(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveScene(ctx, "default", scene.EmptyDocument(), 1000); err != nil {
		t.Fatalf("SaveScene() of empty document failed: %v", err)
	}

	loaded, found, err := s.LoadScene(ctx, "default")
	if err != nil {
		t.Fatalf("LoadScene() failed: %v", err)
	}
	if !found {
		t.Fatal("empty scene not found after save")
	}
	if loaded.Elements == nil {
		t.Error("elements must round trip as empty slice, not nil")
	}
}

func TestSaveLibrary_ReplaceAll(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := []scene.LibraryItem{
		{ID: "item-1", Elements: []scene.Element{testElement("a", 1)}, CreatedAt: 100},
		{ID: "item-2", Elements: []scene.Element{testElement("b", 1)}, CreatedAt: 200},
	}
	if _, err := s.SaveLibrary(ctx, first, 1000); err != nil {
		t.Fatalf("SaveLibrary() failed: %v", err)
	}

	second := []scene.LibraryItem{
		{ID: "item-2", Elements: []scene.Element{testElement("b", 1)}, CreatedAt: 200},
	}
	c, err := s.SaveLibrary(ctx, second, 2000)
	if err != nil {
		t.Fatalf("second SaveLibrary() failed: %v", err)
	}
	if c != 2 {
		t.Errorf("library marker = %d, want 2", c)
	}

	items, err := s.LoadLibrary(ctx)
	if err != nil {
		t.Fatalf("LoadLibrary() failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != "item-2" {
		t.Errorf("replace-all semantics violated, got %+v", items)
	}
}

func TestPutFile_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := testFile([]byte{0x89, 'P', 'N', 'G'}, 1000)

	inserted, err := s.PutFile(ctx, rec)
	if err != nil {
		t.Fatalf("PutFile() failed: %v", err)
	}
	if !inserted {
		t.Error("first PutFile() must insert")
	}

	inserted, err = s.PutFile(ctx, rec)
	if err != nil {
		t.Fatalf("duplicate PutFile() failed: %v", err)
	}
	if inserted {
		t.Error("duplicate PutFile() must be a no-op")
	}

	m, _, err := s.MarkerFor(ctx, CategoryFiles)
	if err != nil {
		t.Fatalf("MarkerFor() failed: %v", err)
	}
	if m.Counter != 1 {
		t.Errorf("files marker = %d, want 1 (duplicate must not bump)", m.Counter)
	}
}

func TestTouchFile_NoMarkerBump(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := testFile([]byte("asset"), 1000)
	if _, err := s.PutFile(ctx, rec); err != nil {
		t.Fatalf("PutFile() failed: %v", err)
	}

	if err := s.TouchFile(ctx, rec.ID, 5000); err != nil {
		t.Fatalf("TouchFile() failed: %v", err)
	}

	got, _, err := s.GetFile(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetFile() failed: %v", err)
	}
	if got.LastRetrievedAt != 5000 {
		t.Errorf("last_retrieved_at = %d, want 5000", got.LastRetrievedAt)
	}

	m, _, _ := s.MarkerFor(ctx, CategoryFiles)
	if m.Counter != 1 {
		t.Errorf("files marker = %d, want 1 (touch is not a content change)", m.Counter)
	}
}

func TestDeleteFilesExcept_KeepsReferenced(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	kept := testFile([]byte("kept"), 1000)
	dropped := testFile([]byte("dropped"), 1000)
	for _, rec := range []FileRecord{kept, dropped} {
		if _, err := s.PutFile(ctx, rec); err != nil {
			t.Fatalf("PutFile() failed: %v", err)
		}
	}

	removed, err := s.DeleteFilesExcept(ctx, []scene.FileID{kept.ID}, 2000)
	if err != nil {
		t.Fatalf("DeleteFilesExcept() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	ids, err := s.ListFileIDs(ctx)
	if err != nil {
		t.Fatalf("ListFileIDs() failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != kept.ID {
		t.Errorf("wrong survivors: %v", ids)
	}

	// Second pass removes nothing and must not bump the marker again.
	before, _, _ := s.MarkerFor(ctx, CategoryFiles)
	removed, err = s.DeleteFilesExcept(ctx, []scene.FileID{kept.ID}, 3000)
	if err != nil {
		t.Fatalf("second DeleteFilesExcept() failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("second pass removed = %d, want 0", removed)
	}
	after, _, _ := s.MarkerFor(ctx, CategoryFiles)
	if after.Counter != before.Counter {
		t.Errorf("marker bumped on no-op delete: %d -> %d", before.Counter, after.Counter)
	}
}

func TestDeleteFilesExcept_EmptyKeepRemovesAll(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, data := range [][]byte{[]byte("one"), []byte("two")} {
		if _, err := s.PutFile(ctx, testFile(data, 1000)); err != nil {
			t.Fatalf("PutFile() failed: %v", err)
		}
	}

	removed, err := s.DeleteFilesExcept(ctx, nil, 2000)
	if err != nil {
		t.Fatalf("DeleteFilesExcept() failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
}
