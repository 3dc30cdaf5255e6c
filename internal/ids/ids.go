// Package ids generates opaque identifiers for participants, transactions
// and sessions.
package ids

import "github.com/google/uuid"

// Generator produces identifiers that are unique for the lifetime of the store.
type Generator interface {
	New() string
}

// UUID generates random (version 4) UUIDs. Collisions are not checked.
type UUID struct{}

func (UUID) New() string {
	return uuid.NewString()
}

// Func adapts a plain function to a Generator.
type Func func() string

func (f Func) New() string {
	return f()
}
