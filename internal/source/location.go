package source

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind says where a resolved document came from.
type Kind int

const (
	// KindEmpty: nothing matched and nothing was stored.
	KindEmpty Kind = iota
	// KindLocal: the locally persisted scene.
	KindLocal
	// KindShareID: an external document fetched by share id.
	KindShareID
	// KindInline: an inline token, sealed payload plus key.
	KindInline
	// KindExternalURL: a scene fetched from an arbitrary URL.
	KindExternalURL
	// KindRoom: a live collaboration room.
	KindRoom
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindLocal:
		return "local"
	case KindShareID:
		return "share-id"
	case KindInline:
		return "inline"
	case KindExternalURL:
		return "external-url"
	case KindRoom:
		return "room"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// RoomLink identifies a collaboration session. Immutable once parsed
// from the location.
type RoomLink struct {
	RoomID    string
	RoomKey   string
	SessionID string
	UserID    string
}

// Fragment renders the link back into location-fragment form.
func (l RoomLink) Fragment() string {
	parts := []string{l.RoomID, l.RoomKey}
	if l.SessionID != "" || l.UserID != "" {
		parts = append(parts, l.SessionID, l.UserID)
	}
	return "room=" + strings.Join(parts, ",")
}

// InlineRef is an encoded-document token: the backend document id plus
// the key that opens the sealed payload.
type InlineRef struct {
	DocID string
	Key   string
}

// Reference is everything one location names.
type Reference struct {
	ShareID string
	Inline  *InlineRef
	URL     string
	Room    *RoomLink
}

// External reports whether the reference names a destructive external
// document source. Room links are additive and deliberately excluded.
func (r Reference) External() bool {
	return r.ShareID != "" || r.Inline != nil || r.URL != ""
}

// externalKind picks the highest-priority external source present.
func (r Reference) externalKind() Kind {
	switch {
	case r.ShareID != "":
		return KindShareID
	case r.Inline != nil:
		return KindInline
	case r.URL != "":
		return KindExternalURL
	default:
		return KindEmpty
	}
}

// ParseLocation reads the addressable-location grammar:
//
//	?id=<shareID>
//	#json=<docID>,<key>
//	#url=<https-url>
//	#room=<roomID>,<roomKey>[,<sessionID>,<userID>]
//
// Unknown parameters and malformed fragments are ignored rather than
// rejected, matching how shared links degrade in practice.
func ParseLocation(location string) Reference {
	u, err := url.Parse(location)
	if err != nil {
		return Reference{}
	}

	var ref Reference
	ref.ShareID = u.Query().Get("id")

	name, value, found := strings.Cut(u.Fragment, "=")
	if !found {
		return ref
	}
	switch name {
	case "json":
		docID, key, ok := strings.Cut(value, ",")
		if ok && docID != "" && key != "" {
			ref.Inline = &InlineRef{DocID: docID, Key: key}
		}
	case "url":
		if value != "" {
			ref.URL = value
		}
	case "room":
		if link, ok := parseRoomLink(value); ok {
			ref.Room = &link
		}
	}
	return ref
}

func parseRoomLink(s string) (RoomLink, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 && len(parts) != 4 {
		return RoomLink{}, false
	}
	for _, p := range parts {
		if p == "" {
			return RoomLink{}, false
		}
	}
	link := RoomLink{RoomID: parts[0], RoomKey: parts[1]}
	if len(parts) == 4 {
		link.SessionID = parts[2]
		link.UserID = parts[3]
	}
	return link, true
}

// StripExternalMarkers returns the location with query and fragment
// removed. Installed after the user declines an external import, so a
// reload does not re-prompt.
func StripExternalMarkers(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
