// Package store provides SQLite-backed persistence for the knowledge graph.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLiteStore is the SQLite-backed data store.
// Thread-safe; a single writer is assumed at the storage-file level.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// schema defines the durable row shapes. These are a compatibility contract:
// other implementations must preserve them to read the same file.
const schema = `
-- Entities (graph nodes)
-- name_lower is the Unicode-folded name, computed in Go on every write.
-- SQLite's LOWER() only folds ASCII, so lookups go through this column.
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    name TEXT NOT NULL,
    name_lower TEXT NOT NULL DEFAULT '',
    data TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);
CREATE INDEX IF NOT EXISTS idx_entities_name_lower ON entities(name_lower);
CREATE INDEX IF NOT EXISTS idx_entities_updated ON entities(updated_at);

-- Relations (directed edges)
-- No foreign keys: referential integrity is enforced by the engine at
-- creation time and by cascading deletes afterward.
CREATE TABLE IF NOT EXISTS relations (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    from_id TEXT NOT NULL,
    to_id TEXT NOT NULL,
    properties TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_id);
CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_id);
`

// NewSQLiteStore creates a new in-memory SQLite store.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// NewSQLiteStoreWithDSN creates a store with a specific data source name.
// Use ":memory:" for in-memory or a file path for persistent storage.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// Entity CRUD
// =============================================================================

// PutEntity inserts an entity row. The id must not already exist.
func (s *SQLiteStore) PutEntity(e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataJSON, err := marshalDocument(e.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO entities (id, type, name, name_lower, data, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Type, e.Name, strings.ToLower(e.Name), dataJSON, e.CreatedAt, e.UpdatedAt, e.Version)

	return err
}

// UpdateEntity replaces the full row for an existing entity.
// Returns sql.ErrNoRows if the entity does not exist.
func (s *SQLiteStore) UpdateEntity(e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataJSON, err := marshalDocument(e.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	res, err := s.db.Exec(`
		UPDATE entities SET type = ?, name = ?, name_lower = ?, data = ?, updated_at = ?, version = ?
		WHERE id = ?
	`, e.Type, e.Name, strings.ToLower(e.Name), dataJSON, e.UpdatedAt, e.Version, e.ID)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetEntity retrieves an entity by ID. Returns nil if absent.
func (s *SQLiteStore) GetEntity(id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanEntity(s.db.QueryRow(`
		SELECT id, type, name, data, created_at, updated_at, version
		FROM entities WHERE id = ?
	`, id))
}

// GetEntityByName finds an entity by its name, case-insensitively with full
// Unicode folding. If several entities share the name, the most recently
// updated wins.
func (s *SQLiteStore) GetEntityByName(name string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanEntity(s.db.QueryRow(`
		SELECT id, type, name, data, created_at, updated_at, version
		FROM entities WHERE name_lower = ?
		ORDER BY updated_at DESC, id LIMIT 1
	`, strings.ToLower(name)))
}

// ListEntities returns entities matching the filter, most recently updated
// first. limit <= 0 means no limit.
func (s *SQLiteStore) ListEntities(f EntityFilter, limit, offset int) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any

	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.NameContains != "" {
		// instr is byte-wise, so this containment check is case-sensitive.
		where = append(where, "instr(name, ?) > 0")
		args = append(args, f.NameContains)
	}
	if f.CreatedAfter > 0 {
		where = append(where, "created_at > ?")
		args = append(args, f.CreatedAfter)
	}
	if f.UpdatedAfter > 0 {
		where = append(where, "updated_at > ?")
		args = append(args, f.UpdatedAfter)
	}

	query := `SELECT id, type, name, data, created_at, updated_at, version FROM entities`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id LIMIT ? OFFSET ?"

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		e, err := scanEntityRow(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}

	return entities, rows.Err()
}

// CountEntities returns the total number of entities.
func (s *SQLiteStore) CountEntities() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM entities").Scan(&count)
	return count, err
}

// DeleteEntityCascade removes the entity and every relation touching it in
// one transaction. Either all rows go or none do.
// Returns sql.ErrNoRows if the entity does not exist.
func (s *SQLiteStore) DeleteEntityCascade(id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id FROM relations WHERE from_id = ? OR to_id = ?`, id, id)
	if err != nil {
		return nil, err
	}
	var removed []string
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil {
			rows.Close()
			return nil, err
		}
		removed = append(removed, rid)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.Exec(`DELETE FROM relations WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
		return nil, err
	}

	res, err := tx.Exec(`DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return removed, nil
}

// =============================================================================
// Relation CRUD
// =============================================================================

// PutRelation inserts a relation row. Endpoint existence is the engine's job.
func (s *SQLiteStore) PutRelation(r *Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	propsJSON, err := marshalDocument(r.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO relations (id, type, from_id, to_id, properties, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.Type, r.FromID, r.ToID, propsJSON, r.CreatedAt)

	return err
}

// GetRelation retrieves a relation by ID. Returns nil if absent.
func (s *SQLiteStore) GetRelation(id string) (*Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r Relation
	var propsJSON sql.NullString

	err := s.db.QueryRow(`
		SELECT id, type, from_id, to_id, properties, created_at
		FROM relations WHERE id = ?
	`, id).Scan(&r.ID, &r.Type, &r.FromID, &r.ToID, &propsJSON, &r.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.Properties = unmarshalDocument(propsJSON.String)
	return &r, nil
}

// DeleteRelation removes a relation by ID.
// Returns sql.ErrNoRows if the relation does not exist.
func (s *SQLiteStore) DeleteRelation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM relations WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListRelationsForEntity returns relations incident to an entity, newest
// first. Direction is relative to the entity: outgoing means from_id matches.
func (s *SQLiteStore) ListRelationsForEntity(entityID string, dir Direction) ([]*Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where string
	var args []any

	switch dir {
	case DirectionOutgoing:
		where = "from_id = ?"
		args = []any{entityID}
	case DirectionIncoming:
		where = "to_id = ?"
		args = []any{entityID}
	default:
		where = "from_id = ? OR to_id = ?"
		args = []any{entityID, entityID}
	}

	rows, err := s.db.Query(`
		SELECT id, type, from_id, to_id, properties, created_at
		FROM relations WHERE `+where+`
		ORDER BY created_at DESC, id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []*Relation
	for rows.Next() {
		var r Relation
		var propsJSON sql.NullString

		if err := rows.Scan(&r.ID, &r.Type, &r.FromID, &r.ToID, &propsJSON, &r.CreatedAt); err != nil {
			return nil, err
		}

		r.Properties = unmarshalDocument(propsJSON.String)
		relations = append(relations, &r)
	}

	return relations, rows.Err()
}

// CountRelations returns the total number of relations.
func (s *SQLiteStore) CountRelations() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM relations").Scan(&count)
	return count, err
}

// =============================================================================
// Aggregates
// =============================================================================

// EntityTypeCounts returns entity counts grouped by type.
func (s *SQLiteStore) EntityTypeCounts() (map[string]int, error) {
	return s.typeCounts("entities")
}

// RelationTypeCounts returns relation counts grouped by type.
func (s *SQLiteStore) RelationTypeCounts() (map[string]int, error) {
	return s.typeCounts("relations")
}

func (s *SQLiteStore) typeCounts(table string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT type, COUNT(*) FROM ` + table + ` GROUP BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// DegreeCounts returns the incident-relation degree per entity id.
// Entities with zero relations are absent from the map. Self-loops count
// twice, once per endpoint.
func (s *SQLiteStore) DegreeCounts() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT eid, COUNT(*) FROM (
			SELECT from_id AS eid FROM relations
			UNION ALL
			SELECT to_id AS eid FROM relations
		) GROUP BY eid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	degrees := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		degrees[id] = n
	}
	return degrees, rows.Err()
}

// OrphanEntityIDs returns ids of entities with no incident relations, sorted.
func (s *SQLiteStore) OrphanEntityIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id FROM entities
		WHERE id NOT IN (SELECT from_id FROM relations)
		  AND id NOT IN (SELECT to_id FROM relations)
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BidirectionalPairs returns entity pairs joined by relations in both
// directions. One row per pair, smallest relation ids reported.
func (s *SQLiteStore) BidirectionalPairs() ([]BidirectionalPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT r1.from_id, r1.to_id, MIN(r1.id), MIN(r2.id)
		FROM relations r1
		JOIN relations r2 ON r1.from_id = r2.to_id AND r1.to_id = r2.from_id
		WHERE r1.from_id < r1.to_id
		GROUP BY r1.from_id, r1.to_id
		ORDER BY r1.from_id, r1.to_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []BidirectionalPair
	for rows.Next() {
		var p BidirectionalPair
		if err := rows.Scan(&p.EntityA, &p.EntityB, &p.Forward, &p.Reverse); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// =============================================================================
// Helpers
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row *sql.Row) (*Entity, error) {
	e, err := scanEntityRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func scanEntityRow(row rowScanner) (*Entity, error) {
	var e Entity
	var dataJSON sql.NullString

	if err := row.Scan(&e.ID, &e.Type, &e.Name, &dataJSON, &e.CreatedAt, &e.UpdatedAt, &e.Version); err != nil {
		return nil, err
	}

	e.Data = unmarshalDocument(dataJSON.String)
	return &e, nil
}

func marshalDocument(d Document) (string, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalDocument(raw string) Document {
	d := Document{}
	if raw == "" {
		return d
	}
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Document{}
	}
	return d
}

// Compile-time interface check
var _ Storer = (*SQLiteStore)(nil)
