package scene

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces deterministic JSON for hashing and golden
// comparison. This is the only serialization that may feed content
// hashes.
//
// Rules:
//  1. Object keys sorted (all keys emitted here are ASCII, so byte
//     order and UTF-16 order agree)
//  2. No HTML escaping (< > & stay literal)
//  3. Strings are NFC normalized at the serialization boundary
//  4. Numbers use the shortest form that round-trips; integral values
//     print without a fraction, and -0 collapses to 0
//  5. No nulls: optional fields are omitted, never emitted as null
func MarshalCanonical(v any) ([]byte, error) {
	return appendCanonical(nil, v)
}

func appendCanonical(b []byte, v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return appendCanonicalString(b, val), nil
	case ElementType:
		return appendCanonicalString(b, string(val)), nil
	case FileID:
		return appendCanonicalString(b, string(val)), nil
	case bool:
		if val {
			return append(b, "true"...), nil
		}
		return append(b, "false"...), nil
	case int:
		return strconv.AppendInt(b, int64(val), 10), nil
	case int64:
		return strconv.AppendInt(b, val, 10), nil
	case float64:
		return appendCanonicalFloat(b, val)
	case Point:
		return appendCanonical(b, map[string]any{"x": val.X, "y": val.Y})
	case []Point:
		arr := make([]any, len(val))
		for i, p := range val {
			arr[i] = p
		}
		return appendCanonicalArray(b, arr)
	case []string:
		arr := make([]any, len(val))
		for i, s := range val {
			arr[i] = s
		}
		return appendCanonicalArray(b, arr)
	case Element:
		return appendCanonical(b, val.canonicalMap())
	case []Element:
		arr := make([]any, len(val))
		for i, e := range val {
			arr[i] = e
		}
		return appendCanonicalArray(b, arr)
	case AppState:
		return appendCanonical(b, val.canonicalMap())
	case Document:
		return appendCanonical(b, map[string]any{
			"appState": val.AppState,
			"elements": val.Elements,
		})
	case []any:
		return appendCanonicalArray(b, val)
	case map[string]any:
		return appendCanonicalObject(b, val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

func appendCanonicalArray(b []byte, arr []any) ([]byte, error) {
	b = append(b, '[')
	for i, elem := range arr {
		if i > 0 {
			b = append(b, ',')
		}
		var err error
		b, err = appendCanonical(b, elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
	}
	return append(b, ']'), nil
}

func appendCanonicalObject(b []byte, obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b = append(b, '{')
	for i, k := range keys {
		if i > 0 {
			b = append(b, ',')
		}
		b = appendCanonicalString(b, k)
		b = append(b, ':')
		var err error
		b, err = appendCanonical(b, obj[k])
		if err != nil {
			return nil, fmt.Errorf("object[%q]: %w", k, err)
		}
	}
	return append(b, '}'), nil
}

// appendCanonicalString writes s NFC-normalized with minimal escaping:
// quote, backslash and control characters only. HTML-significant runes
// and U+2028/U+2029 stay literal, which is why this writer exists
// instead of encoding/json (whose encoder escapes both).
func appendCanonicalString(b []byte, s string) []byte {
	s = norm.NFC.String(s)
	b = append(b, '"')
	for _, r := range s {
		switch r {
		case '"':
			b = append(b, '\\', '"')
		case '\\':
			b = append(b, '\\', '\\')
		case '\b':
			b = append(b, '\\', 'b')
		case '\f':
			b = append(b, '\\', 'f')
		case '\n':
			b = append(b, '\\', 'n')
		case '\r':
			b = append(b, '\\', 'r')
		case '\t':
			b = append(b, '\\', 't')
		default:
			if r < 0x20 {
				b = append(b, fmt.Sprintf(`\u%04x`, r)...)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	return append(b, '"')
}

// appendCanonicalFloat writes f in its shortest round-trip form.
// Integral values inside the safe conversion range print as integers,
// so 2.0 and 2 hash identically and -0 collapses to 0. NaN and
// infinities have no JSON rendering and are rejected.
func appendCanonicalFloat(b []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite float is forbidden in canonical JSON: %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(b, int64(f), 10), nil
	}
	return strconv.AppendFloat(b, f, 'g', -1, 64), nil
}

// canonicalMap renders the element as a key/value map for canonical
// serialization. Optional fields are omitted when empty rather than
// emitted as zero values, matching the wire format in file.go.
func (e Element) canonicalMap() map[string]any {
	m := map[string]any{
		"id":              e.ID,
		"type":            e.Type,
		"x":               e.X,
		"y":               e.Y,
		"width":           e.Width,
		"height":          e.Height,
		"angle":           e.Angle,
		"strokeColor":     e.StrokeColor,
		"backgroundColor": e.BackgroundColor,
		"strokeWidth":     e.StrokeWidth,
		"opacity":         e.Opacity,
		"locked":          e.Locked,
		"version":         e.Version,
		"versionNonce":    e.VersionNonce,
		"updatedAt":       e.UpdatedAt,
		"isDeleted":       e.Deleted,
	}
	if len(e.Points) > 0 {
		m["points"] = e.Points
	}
	if e.Text != "" {
		m["text"] = e.Text
	}
	if e.FontSize != 0 {
		m["fontSize"] = e.FontSize
	}
	if e.FileID != "" {
		m["fileId"] = e.FileID
	}
	return m
}

// canonicalMap renders the app state for canonical serialization.
func (s AppState) canonicalMap() map[string]any {
	m := map[string]any{
		"scrollX": s.ScrollX,
		"scrollY": s.ScrollY,
		"zoom":    s.Zoom,
	}
	if s.ViewBackground != "" {
		m["viewBackgroundColor"] = s.ViewBackground
	}
	if len(s.SelectedIDs) > 0 {
		m["selectedElementIds"] = s.SelectedIDs
	}
	if s.Name != "" {
		m["name"] = s.Name
	}
	return m
}
