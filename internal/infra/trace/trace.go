// Package trace provides connection trace identifiers.
package trace

import "github.com/google/uuid"

// ID represents a unique trace identifier. The server assigns one per
// accepted connection and attaches it to every log entry for that
// connection's lifetime.
type ID string

// NewID generates a new unique trace ID.
func NewID() ID {
	return ID(uuid.New().String())
}

// String returns the string representation of the trace ID.
func (id ID) String() string {
	return string(id)
}
