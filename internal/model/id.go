package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as an invocation identifier.
// IDs sort by creation time.
func NewID() string {
	return ulid.Make().String()
}

// ValidID reports whether id is a well-formed invocation identifier.
func ValidID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
