package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longlee218/goclass-editor/internal/persist"
	"github.com/longlee218/goclass-editor/internal/scene"
	"github.com/longlee218/goclass-editor/internal/store"
)

// seedInspectStore writes a scene with one tombstone, a library item
// and one asset, then closes the store.
func seedInspectStore(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "inspect.db")

	db, err := store.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	doc := scene.Document{Elements: []scene.Element{
		{ID: "a", Type: scene.TypeRectangle, Version: 2, VersionNonce: 7, UpdatedAt: 1700000000000},
		{ID: "b", Type: scene.TypeEllipse, Version: 3, VersionNonce: 8, UpdatedAt: 1700000000000},
		{ID: "c", Type: scene.TypeRectangle, Version: 1, VersionNonce: 9, UpdatedAt: 1700000000000, Deleted: true},
	}}
	_, err = db.SaveScene(ctx, persist.DefaultSceneID, doc, 1700000000000)
	require.NoError(t, err)

	_, err = db.SaveLibrary(ctx, []scene.LibraryItem{
		{ID: "lib1", Elements: []scene.Element{{ID: "l1", Type: scene.TypeDiamond, Version: 1}}, CreatedAt: 1700000000000},
	}, 1700000000000)
	require.NoError(t, err)

	data := []byte("png-bytes")
	_, err = db.PutFile(ctx, store.FileRecord{
		ID:        scene.FileIDFor(data),
		MimeType:  "image/png",
		Data:      data,
		CreatedAt: 1700000000000,
	})
	require.NoError(t, err)

	return dbPath
}

func TestInspectMissingStore(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--store", filepath.Join(t.TempDir(), "missing.db")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInspectTextReport(t *testing.T) {
	dbPath := seedInspectStore(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--store", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "=== Scene ===")
	assert.Contains(t, output, "2 live, 1 deleted")
	assert.Contains(t, output, "Version:  6")
	assert.Contains(t, output, "=== Library ===")
	assert.Contains(t, output, "Items: 1")
	assert.Contains(t, output, "=== Markers ===")
	assert.Contains(t, output, "scene")
	assert.Contains(t, output, "library")
	assert.Contains(t, output, "files")
	assert.Contains(t, output, "=== Files ===")
	assert.Contains(t, output, "image/png")
}

func TestInspectJSONReport(t *testing.T) {
	dbPath := seedInspectStore(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--store", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)

	var response struct {
		Status string        `json:"status"`
		Data   InspectReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))

	assert.Equal(t, "ok", response.Status)
	assert.True(t, response.Data.Scene.Found)
	assert.Equal(t, 2, response.Data.Scene.Elements)
	assert.Equal(t, 1, response.Data.Scene.Deleted)
	assert.Equal(t, int64(6), response.Data.Scene.Version)
	assert.Equal(t, 1, response.Data.Library)
	assert.Len(t, response.Data.Markers, 3)
	require.Len(t, response.Data.Files, 1)
	assert.Equal(t, "image/png", response.Data.Files[0].MimeType)
	assert.Equal(t, len("png-bytes"), response.Data.Files[0].Size)
}

func TestInspectEmptyStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	db, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewInspectCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--store", dbPath})

	err = cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "(no stored scene)")
	assert.Contains(t, output, "(no markers)")
	assert.Contains(t, output, "(no stored assets)")
}
