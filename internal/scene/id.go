package scene

import "github.com/google/uuid"

// IDSource mints element identifiers. Production code uses
// RandomIDSource; tests substitute a fixed source for reproducible
// output.
type IDSource interface {
	NewID() string
}

// RandomIDSource issues UUIDv7 identifiers. The embedded timestamp
// keeps ids of elements created in sequence sortable, which makes
// scene dumps easier to read.
type RandomIDSource struct{}

func (RandomIDSource) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
