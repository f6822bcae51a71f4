package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSceneJSON(t *testing.T) []byte {
	t.Helper()
	doc := Document{
		Elements: []Element{{
			ID: "a", Type: TypeRectangle,
			X: 1, Y: 2, Width: 10, Height: 10,
			StrokeColor: "#000000", BackgroundColor: "transparent",
			StrokeWidth: 1, Opacity: 100,
			Version: 1, VersionNonce: 5, UpdatedAt: 1700000000000,
		}},
		AppState: DefaultAppState(),
	}
	data, err := EncodeDocument(doc, "goclass-test")
	require.NoError(t, err)
	return data
}

func TestValidateSceneBytes_AcceptsEncodedDocument(t *testing.T) {
	assert.NoError(t, ValidateSceneBytes(validSceneJSON(t)))
}

func TestValidateSceneBytes_RejectsUnknownElementType(t *testing.T) {
	data := []byte(`{
		"type": "goclass/scene", "version": 2,
		"elements": [{
			"id": "a", "type": "hologram",
			"x": 0, "y": 0, "width": 1, "height": 1, "angle": 0,
			"strokeColor": "#000", "backgroundColor": "transparent",
			"strokeWidth": 1, "opacity": 100, "locked": false,
			"version": 1, "versionNonce": 1, "updatedAt": 0, "isDeleted": false
		}],
		"appState": {"scrollX": 0, "scrollY": 0, "zoom": 1}
	}`)

	assert.ErrorContains(t, ValidateSceneBytes(data), "rejected by schema")
}

func TestValidateSceneBytes_RejectsNegativeVersion(t *testing.T) {
	data := []byte(`{
		"type": "goclass/scene", "version": 2,
		"elements": [{
			"id": "a", "type": "rectangle",
			"x": 0, "y": 0, "width": 1, "height": 1, "angle": 0,
			"strokeColor": "#000", "backgroundColor": "transparent",
			"strokeWidth": 1, "opacity": 100, "locked": false,
			"version": -1, "versionNonce": 1, "updatedAt": 0, "isDeleted": false
		}],
		"appState": {"scrollX": 0, "scrollY": 0, "zoom": 1}
	}`)

	assert.Error(t, ValidateSceneBytes(data))
}

func TestValidateSceneBytes_RejectsMissingAppState(t *testing.T) {
	data := []byte(`{"type": "goclass/scene", "version": 2, "elements": []}`)

	assert.Error(t, ValidateSceneBytes(data))
}

func TestValidateSceneBytes_RejectsWrongEnvelopeType(t *testing.T) {
	data := []byte(`{"type": "sketchpad/board", "version": 2, "elements": [], "appState": {"scrollX": 0, "scrollY": 0, "zoom": 1}}`)

	assert.Error(t, ValidateSceneBytes(data))
}

func TestValidateSceneBytes_AllowsUnknownElementFields(t *testing.T) {
	data := []byte(`{
		"type": "goclass/scene", "version": 2,
		"elements": [{
			"id": "a", "type": "rectangle",
			"x": 0, "y": 0, "width": 1, "height": 1, "angle": 0,
			"strokeColor": "#000", "backgroundColor": "transparent",
			"strokeWidth": 1, "opacity": 100, "locked": false,
			"version": 1, "versionNonce": 1, "updatedAt": 0, "isDeleted": false,
			"roundness": {"type": 3}
		}],
		"appState": {"scrollX": 0, "scrollY": 0, "zoom": 1}
	}`)

	assert.NoError(t, ValidateSceneBytes(data), "fields from newer producers must pass")
}

func TestValidateSceneBytes_RejectsNonJSON(t *testing.T) {
	assert.Error(t, ValidateSceneBytes([]byte("not json")))
}
