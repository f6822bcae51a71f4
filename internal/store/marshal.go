package store

import (
	"encoding/json"
	"fmt"

	"github.com/longlee218/goclass-editor/internal/scene"
)

// Storage uses the plain JSON codec: struct tags give a stable field
// layout and readback fidelity is all that matters here. Canonical
// serialization stays in the scene package where hashing needs it.

func marshalElements(elements []scene.Element) (string, error) {
	if elements == nil {
		elements = []scene.Element{}
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return "", fmt.Errorf("marshal elements: %w", err)
	}
	return string(data), nil
}

func unmarshalElements(data string) ([]scene.Element, error) {
	var elements []scene.Element
	if err := json.Unmarshal([]byte(data), &elements); err != nil {
		return nil, fmt.Errorf("unmarshal elements: %w", err)
	}
	if elements == nil {
		elements = []scene.Element{}
	}
	return elements, nil
}

func marshalAppState(s scene.AppState) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal app state: %w", err)
	}
	return string(data), nil
}

func unmarshalAppState(data string) (scene.AppState, error) {
	var s scene.AppState
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return scene.AppState{}, fmt.Errorf("unmarshal app state: %w", err)
	}
	return s, nil
}
