package scene

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash domains. The domain string plus a zero byte prefixes the hashed
// payload so an element hash can never collide with a scene hash of
// the same bytes. Bump the version suffix if the canonical form ever
// changes.
const (
	domainElement = "goclass/element/v1"
	domainScene   = "goclass/scene/v1"
	domainFile    = "goclass/file/v1"
)

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ElementHash returns the content hash of a single element over its
// canonical serialization. Two elements with identical content hash
// identically regardless of field ordering at the call site.
func ElementHash(e Element) (string, error) {
	data, err := MarshalCanonical(e)
	if err != nil {
		return "", fmt.Errorf("canonicalize element %s: %w", e.ID, err)
	}
	return hashWithDomain(domainElement, data), nil
}

// SceneHash returns the content hash of an element list in order.
// Tombstones are included; reordering or reviving an element changes
// the hash.
func SceneHash(elements []Element) (string, error) {
	data, err := MarshalCanonical(elements)
	if err != nil {
		return "", fmt.Errorf("canonicalize scene: %w", err)
	}
	return hashWithDomain(domainScene, data), nil
}

// FileIDFor derives the asset id for a blob from its bytes. The id is
// stable across sessions, so re-importing the same image dedupes
// instead of storing a second copy.
func FileIDFor(data []byte) FileID {
	return FileID(hashWithDomain(domainFile, data))
}
