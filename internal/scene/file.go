package scene

import (
	"encoding/json"
	"fmt"
)

const (
	// FileType tags exported scene files.
	FileType = "goclass/scene"
	// FileVersion is the current envelope version. Decoding accepts
	// older versions; encoding always writes the current one.
	FileVersion = 2
)

// SceneFile is the envelope for a document exported to disk or
// published to shareable storage.
type SceneFile struct {
	Type     string    `json:"type"`
	Version  int       `json:"version"`
	Source   string    `json:"source,omitempty"`
	Elements []Element `json:"elements"`
	AppState AppState  `json:"appState"`
}

// EncodeDocument renders doc as an indented scene file. source names
// the producing application and is informational only.
func EncodeDocument(doc Document, source string) ([]byte, error) {
	f := SceneFile{
		Type:     FileType,
		Version:  FileVersion,
		Source:   source,
		Elements: doc.Elements,
		AppState: doc.AppState,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode scene file: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeDocument parses a scene file envelope. It checks the type tag
// and version but performs no structural validation of the elements;
// callers handling untrusted bytes should run ValidateSceneBytes
// first.
func DecodeDocument(data []byte) (Document, error) {
	var f SceneFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Document{}, fmt.Errorf("decode scene file: %w", err)
	}
	if f.Type != FileType {
		return Document{}, fmt.Errorf("decode scene file: unexpected type %q", f.Type)
	}
	if f.Version < 1 || f.Version > FileVersion {
		return Document{}, fmt.Errorf("decode scene file: unsupported version %d", f.Version)
	}
	doc := Document{Elements: f.Elements, AppState: f.AppState}
	if doc.Elements == nil {
		doc.Elements = []Element{}
	}
	return doc, nil
}
