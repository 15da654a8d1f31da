package kg

import "github.com/google/uuid"

// Ids are UUIDv4 with a short kind prefix for debuggability. Uniqueness holds
// for the store's lifetime without coordination.

// NewEntityID returns a fresh entity id.
func NewEntityID() string {
	return "ent-" + uuid.NewString()
}

// NewRelationID returns a fresh relation id.
func NewRelationID() string {
	return "rel-" + uuid.NewString()
}
