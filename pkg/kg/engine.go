// Package kg is the knowledge graph engine: a persisted entity/relation
// store with search indexing, bounded traversal, and structural analytics.
// It is an embedded, single-writer engine consumed via in-process calls.
package kg

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kittclouds/kgraph/internal/store"
	"github.com/kittclouds/kgraph/pkg/search"
)

// Re-exported storage types so callers outside the module can name them.
type (
	Entity            = store.Entity
	Relation          = store.Relation
	Document          = store.Document
	Direction         = store.Direction
	EntityFilter      = store.EntityFilter
	BidirectionalPair = store.BidirectionalPair
)

const (
	DirectionOutgoing = store.DirectionOutgoing
	DirectionIncoming = store.DirectionIncoming
	DirectionBoth     = store.DirectionBoth
)

// Engine wires the persistent store to the search index and exposes the
// graph operations. Writes are serialized by the store; index maintenance
// runs on the writer's call stack unless Config.AsyncIndexing is set.
type Engine struct {
	store store.Storer
	index *search.Index
	cfg   Config
	log   *slog.Logger

	// indexHealthy goes false when an index write fails; the durable
	// mutation still commits. RebuildIndex resets it.
	indexHealthy atomic.Bool

	jobs      chan indexJob
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

type indexJob struct {
	upsert *search.Doc
	remove string
	flush  chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithConfig sets the engine configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg.withDefaults() }
}

// New creates an engine on top of an existing store.
func New(st store.Storer, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		index: search.NewIndex(),
		cfg:   DefaultConfig(),
		log:   slog.Default(),
	}
	e.indexHealthy.Store(true)

	for _, opt := range opts {
		opt(e)
	}

	if e.cfg.AsyncIndexing {
		e.jobs = make(chan indexJob, e.cfg.IndexQueueSize)
		e.wg.Add(1)
		go e.indexWorker()
	}
	return e
}

// Open creates an engine backed by SQLite at cfg.DBPath.
func Open(cfg Config, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	st, err := store.NewSQLiteStoreWithDSN(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return New(st, append([]Option{WithConfig(cfg)}, opts...)...), nil
}

// Close stops the indexing worker (if any) and closes the store.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		if e.jobs != nil {
			close(e.jobs)
			e.wg.Wait()
		}
		err = e.store.Close()
	})
	return err
}

// =============================================================================
// Entity operations
// =============================================================================

// EntityPatch is a partial entity update. Empty fields are left unchanged;
// Data is shallow-merged into the existing document.
type EntityPatch struct {
	Type string
	Name string
	Data Document
}

// CreateEntity persists a new entity with version 1 and equal timestamps,
// then indexes it.
func (e *Engine) CreateEntity(entityType, name string, data Document) (*Entity, error) {
	if entityType == "" {
		return nil, &ValidationError{Field: "type", Reason: "must not be empty"}
	}
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	now := time.Now().UnixMilli()
	ent := &Entity{
		ID:        NewEntityID(),
		Type:      entityType,
		Name:      name,
		Data:      data.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if ent.Data == nil {
		ent.Data = Document{}
	}

	if err := e.store.PutEntity(ent); err != nil {
		return nil, fmt.Errorf("create entity: %w", err)
	}

	e.indexEntity(ent)
	return ent, nil
}

// GetEntity retrieves an entity by id.
func (e *Engine) GetEntity(id string) (*Entity, error) {
	ent, err := e.store.GetEntity(id)
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	if ent == nil {
		return nil, &NotFoundError{Kind: "entity", ID: id}
	}
	return ent, nil
}

// GetEntityByName finds an entity by exact name, case-insensitively. When
// several entities share the name, the most recently updated one wins.
func (e *Engine) GetEntityByName(name string) (*Entity, error) {
	ent, err := e.store.GetEntityByName(name)
	if err != nil {
		return nil, fmt.Errorf("get entity by name: %w", err)
	}
	if ent == nil {
		return nil, &NotFoundError{Kind: "entity", ID: name}
	}
	return ent, nil
}

// UpdateEntity applies a partial update: data is shallow-merged, the version
// increments by one, and updated_at advances strictly.
func (e *Engine) UpdateEntity(id string, patch EntityPatch) (*Entity, error) {
	cur, err := e.store.GetEntity(id)
	if err != nil {
		return nil, fmt.Errorf("update entity: %w", err)
	}
	if cur == nil {
		return nil, &NotFoundError{Kind: "entity", ID: id}
	}

	if patch.Type != "" {
		cur.Type = patch.Type
	}
	if patch.Name != "" {
		cur.Name = patch.Name
	}
	if len(patch.Data) > 0 {
		if cur.Data == nil {
			cur.Data = Document{}
		}
		for k, v := range patch.Data {
			cur.Data[k] = v
		}
	}

	now := time.Now().UnixMilli()
	if now <= cur.UpdatedAt {
		// Clock granularity: keep updated_at strictly advancing per update.
		now = cur.UpdatedAt + 1
	}
	cur.UpdatedAt = now
	cur.Version++

	if err := e.store.UpdateEntity(cur); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Kind: "entity", ID: id}
		}
		return nil, fmt.Errorf("update entity: %w", err)
	}

	e.indexEntity(cur)
	return cur, nil
}

// DeleteEntity removes the entity, every relation where it is an endpoint,
// and its index entries. The row deletes are one atomic transaction; index
// removal follows the commit and degrades to the health flag on failure.
func (e *Engine) DeleteEntity(id string) error {
	removed, err := e.store.DeleteEntityCascade(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{Kind: "entity", ID: id}
		}
		return fmt.Errorf("delete entity: %w", err)
	}

	e.log.Debug("entity deleted", "id", id, "relations_removed", len(removed))
	e.removeFromIndex(id)
	return nil
}

// ListEntities returns entities matching the filter, most recently updated
// first. limit <= 0 means no limit.
func (e *Engine) ListEntities(f EntityFilter, limit, offset int) ([]*Entity, error) {
	return e.store.ListEntities(f, limit, offset)
}

// =============================================================================
// Relation operations
// =============================================================================

// CreateRelation persists a typed directed edge. Both endpoints must exist;
// on failure nothing is written.
func (e *Engine) CreateRelation(relType, fromID, toID string, props Document) (*Relation, error) {
	if relType == "" {
		return nil, &ValidationError{Field: "type", Reason: "must not be empty"}
	}

	for _, endpoint := range []string{fromID, toID} {
		ent, err := e.store.GetEntity(endpoint)
		if err != nil {
			return nil, fmt.Errorf("create relation: %w", err)
		}
		if ent == nil {
			return nil, &NotFoundError{Kind: "entity", ID: endpoint}
		}
	}

	rel := &Relation{
		ID:         NewRelationID(),
		Type:       relType,
		FromID:     fromID,
		ToID:       toID,
		Properties: props.Clone(),
		CreatedAt:  time.Now().UnixMilli(),
	}
	if rel.Properties == nil {
		rel.Properties = Document{}
	}

	if err := e.store.PutRelation(rel); err != nil {
		return nil, fmt.Errorf("create relation: %w", err)
	}
	return rel, nil
}

// GetRelation retrieves a relation by id.
func (e *Engine) GetRelation(id string) (*Relation, error) {
	rel, err := e.store.GetRelation(id)
	if err != nil {
		return nil, fmt.Errorf("get relation: %w", err)
	}
	if rel == nil {
		return nil, &NotFoundError{Kind: "relation", ID: id}
	}
	return rel, nil
}

// ListRelationsForEntity returns relations incident to an entity, newest
// first.
func (e *Engine) ListRelationsForEntity(entityID string, dir Direction) ([]*Relation, error) {
	return e.store.ListRelationsForEntity(entityID, dir)
}

// DeleteRelation removes a single relation.
func (e *Engine) DeleteRelation(id string) error {
	if err := e.store.DeleteRelation(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{Kind: "relation", ID: id}
		}
		return fmt.Errorf("delete relation: %w", err)
	}
	return nil
}

// =============================================================================
// Search
// =============================================================================

// SearchResult pairs a live entity with its match score.
type SearchResult struct {
	Entity *Entity `json:"entity"`
	Score  float64 `json:"score"`
}

// Search runs a query against the index and resolves hits through the store.
// Hits whose entity has vanished are silently skipped, so a stale index
// yields best-effort results rather than errors.
func (e *Engine) Search(query string, opts search.Options) ([]SearchResult, error) {
	hits, err := e.index.Search(query, opts)
	if err != nil {
		return nil, &ValidationError{Field: "query", Reason: err.Error()}
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		ent, err := e.store.GetEntity(h.ID)
		if err != nil || ent == nil {
			continue
		}
		results = append(results, SearchResult{Entity: ent, Score: h.Score})
	}
	return results, nil
}

// Suggest returns entity names starting with prefix, for autocomplete.
// limit <= 0 uses Config.SuggestLimit.
func (e *Engine) Suggest(prefix string, limit int) []string {
	if limit <= 0 {
		limit = e.cfg.SuggestLimit
	}
	return e.index.Suggest(prefix, limit)
}

// RebuildIndex recomputes the whole index from current store contents. Used
// for recovery or after bulk external mutation; readers see either the old
// or the new index, never a partially rebuilt one.
func (e *Engine) RebuildIndex() error {
	ents, err := e.store.ListEntities(EntityFilter{}, 0, 0)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	docs := make([]search.Doc, 0, len(ents))
	for _, ent := range ents {
		docs = append(docs, docForEntity(ent))
	}

	if err := e.index.Rebuild(docs); err != nil {
		e.indexHealthy.Store(false)
		return &IndexError{Op: "rebuild", Err: err}
	}
	e.indexHealthy.Store(true)
	return nil
}

// OptimizeIndex compacts index storage without changing query results.
func (e *Engine) OptimizeIndex() {
	e.index.Optimize()
}

// ReindexNow drains any pending async index work and rebuilds from the
// store, giving callers immediate index consistency.
func (e *Engine) ReindexNow() error {
	e.flushIndexQueue()
	return e.RebuildIndex()
}

// =============================================================================
// Index maintenance internals
// =============================================================================

func docForEntity(ent *Entity) search.Doc {
	return search.DocFromFields(ent.ID, ent.Name, search.FieldsFromDocument(ent.Data), ent.UpdatedAt)
}

func (e *Engine) indexEntity(ent *Entity) {
	doc := docForEntity(ent)
	if e.queueActive() {
		e.jobs <- indexJob{upsert: &doc}
		return
	}
	e.applyIndexUpsert(doc)
}

func (e *Engine) removeFromIndex(id string) {
	if e.queueActive() {
		e.jobs <- indexJob{remove: id}
		return
	}
	e.index.Remove(id)
}

// queueActive reports whether index work should go through the async queue.
// After Close the queue channel is closed, so late calls fall back to the
// synchronous path instead of panicking on the send.
func (e *Engine) queueActive() bool {
	return e.jobs != nil && !e.closed.Load()
}

func (e *Engine) applyIndexUpsert(doc search.Doc) {
	if err := e.index.Upsert(doc); err != nil {
		// The durable write already committed; record the inconsistency
		// instead of failing the call.
		e.indexHealthy.Store(false)
		e.log.Warn("index update failed", "entity", doc.ID, "error", err)
	}
}

func (e *Engine) indexWorker() {
	defer e.wg.Done()
	for job := range e.jobs {
		switch {
		case job.upsert != nil:
			e.applyIndexUpsert(*job.upsert)
		case job.remove != "":
			e.index.Remove(job.remove)
		}
		if job.flush != nil {
			close(job.flush)
		}
	}
}

func (e *Engine) flushIndexQueue() {
	if !e.queueActive() {
		return
	}
	done := make(chan struct{})
	e.jobs <- indexJob{flush: done}
	<-done
}
