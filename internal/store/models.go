// Package store provides SQLite-backed persistence for the knowledge graph.
// This is the durable data layer; the engine in pkg/kg sits on top of it.
package store

// Document is an open key-value attribute map carried by entities and
// relations. Shapes are caller-defined and may evolve; values round-trip
// through JSON when persisted.
type Document map[string]any

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Entity represents a typed, named node in the graph.
type Entity struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	Data      Document `json:"data"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
	Version   int      `json:"version"`
}

// Relation represents a typed, directed edge between two entities.
type Relation struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	FromID     string   `json:"fromId"`
	ToID       string   `json:"toId"`
	Properties Document `json:"properties"`
	CreatedAt  int64    `json:"createdAt"`
}

// Direction selects which incident relations of an entity to consider.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// EntityFilter narrows ListEntities results. Zero values mean "no filter".
// NameContains is case-sensitive substring containment; callers wanting
// case-insensitive matching should go through the search engine instead.
type EntityFilter struct {
	Type         string
	NameContains string
	CreatedAfter int64 // epoch-ms, exclusive
	UpdatedAfter int64 // epoch-ms, exclusive
}

// BidirectionalPair records a direct A→B / B→A relation pair between two
// entities. EntityA < EntityB lexicographically.
type BidirectionalPair struct {
	EntityA string `json:"entityA"`
	EntityB string `json:"entityB"`
	Forward string `json:"forward"` // relation id A→B
	Reverse string `json:"reverse"` // relation id B→A
}

// Storer defines the interface for graph persistence.
// This allows swapping between MemStore (testing) and SQLiteStore (production).
type Storer interface {
	// Entities
	PutEntity(e *Entity) error
	UpdateEntity(e *Entity) error
	GetEntity(id string) (*Entity, error)
	GetEntityByName(name string) (*Entity, error)
	ListEntities(f EntityFilter, limit, offset int) ([]*Entity, error)
	CountEntities() (int, error)

	// Relations
	PutRelation(r *Relation) error
	GetRelation(id string) (*Relation, error)
	DeleteRelation(id string) error
	ListRelationsForEntity(entityID string, dir Direction) ([]*Relation, error)
	CountRelations() (int, error)

	// DeleteEntityCascade removes the entity row together with every relation
	// where it is either endpoint, as one atomic unit. It returns the ids of
	// the removed relations so callers can reconcile derived state.
	DeleteEntityCascade(id string) ([]string, error)

	// Aggregates for analytics
	EntityTypeCounts() (map[string]int, error)
	RelationTypeCounts() (map[string]int, error)
	DegreeCounts() (map[string]int, error)
	OrphanEntityIDs() ([]string, error)
	BidirectionalPairs() ([]BidirectionalPair, error)

	// Lifecycle
	Close() error
}
