package scene

// AppState carries per-replica view state. It is persisted alongside the
// document but never takes part in reconciliation: scroll position,
// zoom and selection belong to one replica, not to the shared scene.
type AppState struct {
	ScrollX        float64  `json:"scrollX"`
	ScrollY        float64  `json:"scrollY"`
	Zoom           float64  `json:"zoom"`
	ViewBackground string   `json:"viewBackgroundColor,omitempty"`
	SelectedIDs    []string `json:"selectedElementIds,omitempty"`
	Name           string   `json:"name,omitempty"`
}

// DefaultAppState returns the view state for a fresh document.
func DefaultAppState() AppState {
	return AppState{Zoom: 1}
}

// Clone returns a deep copy of the app state.
func (s AppState) Clone() AppState {
	out := s
	if s.SelectedIDs != nil {
		out.SelectedIDs = make([]string, len(s.SelectedIDs))
		copy(out.SelectedIDs, s.SelectedIDs)
	}
	return out
}

// Document is an ordered scene: elements in paint order plus the view
// state that never reconciles. The element order is semantically
// meaningful (stacking order), so operations that rewrite the sequence
// must preserve relative order for untouched elements.
type Document struct {
	Elements []Element
	AppState AppState
}

// EmptyDocument returns a document with no elements and default view state.
func EmptyDocument() Document {
	return Document{Elements: []Element{}, AppState: DefaultAppState()}
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := Document{
		Elements: make([]Element, len(d.Elements)),
		AppState: d.AppState.Clone(),
	}
	for i, e := range d.Elements {
		out.Elements[i] = e.Clone()
	}
	return out
}

// IsEmpty reports whether the document has no live (non-tombstone)
// elements. Tombstones alone do not make a document worth keeping when
// deciding whether an external scene may overwrite local state.
func (d Document) IsEmpty() bool {
	for _, e := range d.Elements {
		if !e.Deleted {
			return false
		}
	}
	return true
}

// FileIDs returns the set of asset ids referenced by live elements, in
// first-reference order. Tombstoned elements do not pin assets.
func (d Document) FileIDs() []FileID {
	seen := make(map[FileID]bool)
	var ids []FileID
	for _, e := range d.Elements {
		if e.Deleted || e.FileID == "" {
			continue
		}
		if !seen[e.FileID] {
			seen[e.FileID] = true
			ids = append(ids, e.FileID)
		}
	}
	return ids
}

// SceneVersion returns the sum of all element versions. The sum grows
// monotonically under local edits and merges, making it a cheap change
// detector for save scheduling and broadcast coalescing. Equal sums do
// not guarantee equal scenes; use SceneHash when identity matters.
func SceneVersion(elements []Element) int64 {
	var v int64
	for _, e := range elements {
		v += e.Version
	}
	return v
}
