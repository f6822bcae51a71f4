package scene

// ElementType identifies the visual kind of an element.
type ElementType string

const (
	TypeRectangle ElementType = "rectangle"
	TypeEllipse   ElementType = "ellipse"
	TypeDiamond   ElementType = "diamond"
	TypeArrow     ElementType = "arrow"
	TypeLine      ElementType = "line"
	TypeFreedraw  ElementType = "freedraw"
	TypeText      ElementType = "text"
	TypeImage     ElementType = "image"
)

// ValidElementTypes defines the allowed element kinds.
var ValidElementTypes = map[ElementType]bool{
	TypeRectangle: true,
	TypeEllipse:   true,
	TypeDiamond:   true,
	TypeArrow:     true,
	TypeLine:      true,
	TypeFreedraw:  true,
	TypeText:      true,
	TypeImage:     true,
}

// FileID references a binary asset attached to an element (image
// payloads). Empty means the element carries no attachment. File ids are
// content-addressed; see FileIDFor.
type FileID string

// Point is a vertex in an element's local coordinate space, used by
// line-like and freedraw elements.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Element is one visual object in a scene.
//
// ID is stable and unique within a document. Version, VersionNonce and
// UpdatedAt follow the versioning model described in the package
// documentation. Deleted marks a tombstone; tombstones stay in the
// element sequence so concurrent replicas cannot resurrect them.
type Element struct {
	ID   string      `json:"id"`
	Type ElementType `json:"type"`

	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Angle  float64 `json:"angle"`

	StrokeColor     string  `json:"strokeColor"`
	BackgroundColor string  `json:"backgroundColor"`
	StrokeWidth     float64 `json:"strokeWidth"`
	Opacity         float64 `json:"opacity"`

	// Points is populated for arrow, line and freedraw elements.
	Points []Point `json:"points,omitempty"`

	// Text and FontSize are populated for text elements.
	Text     string  `json:"text,omitempty"`
	FontSize float64 `json:"fontSize,omitempty"`

	// FileID is populated for image elements.
	FileID FileID `json:"fileId,omitempty"`

	Locked bool `json:"locked"`

	Version      int64 `json:"version"`
	VersionNonce int64 `json:"versionNonce"`
	UpdatedAt    int64 `json:"updatedAt"` // unix milliseconds, advisory only
	Deleted      bool  `json:"isDeleted"`
}

// Clone returns a deep copy of the element.
func (e Element) Clone() Element {
	out := e
	if e.Points != nil {
		out.Points = make([]Point, len(e.Points))
		copy(out.Points, e.Points)
	}
	return out
}

// Precedence orders two revisions of the same element id.
//
// Returns >0 if a takes precedence over b, <0 if b takes precedence,
// and 0 if the pair is indistinguishable by version data alone.
//
// Higher Version wins. On equal Version the lower VersionNonce wins.
// Wall-clock UpdatedAt is deliberately never consulted. Callers that
// need a total order (reconciliation does) break the remaining 0 case
// with the element content hash; see reconcile.
func Precedence(a, b Element) int {
	switch {
	case a.Version > b.Version:
		return 1
	case a.Version < b.Version:
		return -1
	case a.VersionNonce < b.VersionNonce:
		return 1
	case a.VersionNonce > b.VersionNonce:
		return -1
	default:
		return 0
	}
}
