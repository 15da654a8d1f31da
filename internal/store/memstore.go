// Package store provides persistence for the knowledge graph.
// This file contains the in-memory implementation used for testing.
package store

import (
	"database/sql"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory implementation of Storer for testing.
// It mirrors SQLiteStore semantics, including not-found signaling via
// sql.ErrNoRows, so the same test suite runs against both.
type MemStore struct {
	mu        sync.RWMutex
	entities  map[string]*Entity
	relations map[string]*Relation
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		entities:  make(map[string]*Entity),
		relations: make(map[string]*Relation),
	}
}

// Close is a no-op for MemStore.
func (s *MemStore) Close() error {
	return nil
}

// =============================================================================
// Entity CRUD
// =============================================================================

func (s *MemStore) PutEntity(e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities[e.ID] = copyEntity(e)
	return nil
}

func (s *MemStore) UpdateEntity(e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[e.ID]; !ok {
		return sql.ErrNoRows
	}
	s.entities[e.ID] = copyEntity(e)
	return nil
}

func (s *MemStore) GetEntity(id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entities[id]; ok {
		return copyEntity(e), nil
	}
	return nil, nil
}

func (s *MemStore) GetEntityByName(name string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lower := strings.ToLower(name)
	var best *Entity
	for _, e := range s.entities {
		if strings.ToLower(e.Name) != lower {
			continue
		}
		if best == nil || e.UpdatedAt > best.UpdatedAt ||
			(e.UpdatedAt == best.UpdatedAt && e.ID < best.ID) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	return copyEntity(best), nil
}

func (s *MemStore) ListEntities(f EntityFilter, limit, offset int) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Entity
	for _, e := range s.entities {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.NameContains != "" && !strings.Contains(e.Name, f.NameContains) {
			continue
		}
		if f.CreatedAfter > 0 && e.CreatedAt <= f.CreatedAfter {
			continue
		}
		if f.UpdatedAfter > 0 && e.UpdatedAt <= f.UpdatedAfter {
			continue
		}
		result = append(result, copyEntity(e))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt != result[j].UpdatedAt {
			return result[i].UpdatedAt > result[j].UpdatedAt
		}
		return result[i].ID < result[j].ID
	})

	// SQLite treats a negative OFFSET as zero; mirror that.
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemStore) CountEntities() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), nil
}

func (s *MemStore) DeleteEntityCascade(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return nil, sql.ErrNoRows
	}

	var removed []string
	for rid, r := range s.relations {
		if r.FromID == id || r.ToID == id {
			removed = append(removed, rid)
			delete(s.relations, rid)
		}
	}
	sort.Strings(removed)

	delete(s.entities, id)
	return removed, nil
}

// =============================================================================
// Relation CRUD
// =============================================================================

func (s *MemStore) PutRelation(r *Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.relations[r.ID] = copyRelation(r)
	return nil
}

func (s *MemStore) GetRelation(id string) (*Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.relations[id]; ok {
		return copyRelation(r), nil
	}
	return nil, nil
}

func (s *MemStore) DeleteRelation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.relations[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.relations, id)
	return nil
}

func (s *MemStore) ListRelationsForEntity(entityID string, dir Direction) ([]*Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Relation
	for _, r := range s.relations {
		var match bool
		switch dir {
		case DirectionOutgoing:
			match = r.FromID == entityID
		case DirectionIncoming:
			match = r.ToID == entityID
		default:
			match = r.FromID == entityID || r.ToID == entityID
		}
		if match {
			result = append(result, copyRelation(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

func (s *MemStore) CountRelations() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.relations), nil
}

// =============================================================================
// Aggregates
// =============================================================================

func (s *MemStore) EntityTypeCounts() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range s.entities {
		counts[e.Type]++
	}
	return counts, nil
}

func (s *MemStore) RelationTypeCounts() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, r := range s.relations {
		counts[r.Type]++
	}
	return counts, nil
}

func (s *MemStore) DegreeCounts() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	degrees := make(map[string]int)
	for _, r := range s.relations {
		degrees[r.FromID]++
		degrees[r.ToID]++
	}
	return degrees, nil
}

func (s *MemStore) OrphanEntityIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	connected := make(map[string]bool)
	for _, r := range s.relations {
		connected[r.FromID] = true
		connected[r.ToID] = true
	}

	var ids []string
	for id := range s.entities {
		if !connected[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemStore) BidirectionalPairs() ([]BidirectionalPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// pair key "a|b" with a < b
	forward := make(map[string]string)
	reverse := make(map[string]string)

	for _, r := range s.relations {
		if r.FromID == r.ToID {
			continue
		}
		a, b := r.FromID, r.ToID
		if a < b {
			key := a + "|" + b
			if cur, ok := forward[key]; !ok || r.ID < cur {
				forward[key] = r.ID
			}
		} else {
			key := b + "|" + a
			if cur, ok := reverse[key]; !ok || r.ID < cur {
				reverse[key] = r.ID
			}
		}
	}

	var pairs []BidirectionalPair
	for key, fid := range forward {
		rid, ok := reverse[key]
		if !ok {
			continue
		}
		a, b, _ := strings.Cut(key, "|")
		pairs = append(pairs, BidirectionalPair{
			EntityA: a,
			EntityB: b,
			Forward: fid,
			Reverse: rid,
		})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].EntityA != pairs[j].EntityA {
			return pairs[i].EntityA < pairs[j].EntityA
		}
		return pairs[i].EntityB < pairs[j].EntityB
	})
	return pairs, nil
}

// =============================================================================
// Helpers
// =============================================================================

// Deep copies keep callers from mutating stored state through returned maps.

func copyEntity(e *Entity) *Entity {
	c := *e
	c.Data = e.Data.Clone()
	return &c
}

func copyRelation(r *Relation) *Relation {
	c := *r
	c.Properties = r.Properties.Clone()
	return &c
}

// Compile-time interface check
var _ Storer = (*MemStore)(nil)
