package kg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/kgraph/internal/store"
	"github.com/kittclouds/kgraph/pkg/search"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New(store.NewMemStore(), opts...)
	t.Cleanup(func() { e.Close() })
	return e
}

func mustCreate(t *testing.T, e *Engine, typ, name string, data Document) *Entity {
	t.Helper()
	ent, err := e.CreateEntity(typ, name, data)
	require.NoError(t, err)
	return ent
}

// =============================================================================
// Entity lifecycle
// =============================================================================

func TestCreateEntity(t *testing.T) {
	e := newTestEngine(t)

	ent := mustCreate(t, e, "file", "main.ts", Document{"path": "src/main.ts"})

	assert.NotEmpty(t, ent.ID)
	assert.Equal(t, "file", ent.Type)
	assert.Equal(t, "main.ts", ent.Name)
	assert.Equal(t, 1, ent.Version)
	assert.Equal(t, ent.CreatedAt, ent.UpdatedAt)
	assert.Positive(t, ent.CreatedAt)

	got, err := e.GetEntity(ent.ID)
	require.NoError(t, err)
	assert.Equal(t, ent.ID, got.ID)
	assert.Equal(t, "src/main.ts", got.Data["path"])
}

func TestCreateEntityValidation(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.CreateEntity("", "main.ts", nil)
	assert.True(t, IsValidation(err))

	_, err = e.CreateEntity("file", "", nil)
	assert.True(t, IsValidation(err))
}

func TestCreateEntityClonesData(t *testing.T) {
	e := newTestEngine(t)

	data := Document{"path": "a"}
	ent := mustCreate(t, e, "file", "main.ts", data)

	// Mutating the caller's map must not leak into the stored entity.
	data["path"] = "b"

	got, err := e.GetEntity(ent.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Data["path"])
}

func TestGetEntityNotFound(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.GetEntity("ent-missing")
	assert.True(t, IsNotFound(err))
}

func TestGetEntityByName(t *testing.T) {
	e := newTestEngine(t)
	ent := mustCreate(t, e, "file", "Main.ts", nil)

	got, err := e.GetEntityByName("main.ts")
	require.NoError(t, err)
	assert.Equal(t, ent.ID, got.ID)

	_, err = e.GetEntityByName("missing")
	assert.True(t, IsNotFound(err))
}

func TestUpdateEntity(t *testing.T) {
	e := newTestEngine(t)
	ent := mustCreate(t, e, "file", "main.ts", Document{"path": "src/main.ts", "lines": 10})

	updated, err := e.UpdateEntity(ent.ID, EntityPatch{
		Name: "index.ts",
		Data: Document{"lines": 20, "lang": "ts"},
	})
	require.NoError(t, err)

	assert.Equal(t, "index.ts", updated.Name)
	assert.Equal(t, "file", updated.Type, "unset patch fields stay unchanged")
	assert.Equal(t, 2, updated.Version)
	assert.Greater(t, updated.UpdatedAt, ent.UpdatedAt)
	assert.Equal(t, ent.CreatedAt, updated.CreatedAt)

	// Shallow merge: untouched keys survive, patched keys win, new keys land.
	assert.Equal(t, "src/main.ts", updated.Data["path"])
	assert.Equal(t, 20, updated.Data["lines"])
	assert.Equal(t, "ts", updated.Data["lang"])
}

func TestUpdateEntityAdvancesUpdatedAt(t *testing.T) {
	e := newTestEngine(t)
	ent := mustCreate(t, e, "file", "main.ts", nil)

	// Several updates inside one clock millisecond must still advance.
	prev := ent.UpdatedAt
	for i := 0; i < 5; i++ {
		updated, err := e.UpdateEntity(ent.ID, EntityPatch{Name: "n"})
		require.NoError(t, err)
		assert.Greater(t, updated.UpdatedAt, prev)
		prev = updated.UpdatedAt
	}
}

func TestUpdateEntityNotFound(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.UpdateEntity("ent-missing", EntityPatch{Name: "x"})
	assert.True(t, IsNotFound(err))
}

func TestDeleteEntityNotFound(t *testing.T) {
	e := newTestEngine(t)

	err := e.DeleteEntity("ent-missing")
	assert.True(t, IsNotFound(err))
}

func TestDeleteEntityCascades(t *testing.T) {
	e := newTestEngine(t)
	a := mustCreate(t, e, "file", "a.ts", nil)
	b := mustCreate(t, e, "file", "b.ts", nil)

	_, err := e.CreateRelation("imports", a.ID, b.ID, nil)
	require.NoError(t, err)
	_, err = e.CreateRelation("refs", b.ID, a.ID, nil)
	require.NoError(t, err)

	require.NoError(t, e.DeleteEntity(a.ID))

	_, err = e.GetEntity(a.ID)
	assert.True(t, IsNotFound(err))

	rels, err := e.ListRelationsForEntity(b.ID, DirectionBoth)
	require.NoError(t, err)
	assert.Empty(t, rels)

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EntityCount)
	assert.Equal(t, 0, stats.RelationCount)
}

func TestListEntities(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, "file", "a.ts", nil)
	mustCreate(t, e, "file", "b.ts", nil)
	mustCreate(t, e, "module", "core", nil)

	all, err := e.ListEntities(EntityFilter{}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	files, err := e.ListEntities(EntityFilter{Type: "file"}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

// =============================================================================
// Relations
// =============================================================================

func TestCreateRelation(t *testing.T) {
	e := newTestEngine(t)
	a := mustCreate(t, e, "file", "a.ts", nil)
	b := mustCreate(t, e, "file", "b.ts", nil)

	rel, err := e.CreateRelation("imports", a.ID, b.ID, Document{"weight": 1})
	require.NoError(t, err)
	assert.NotEmpty(t, rel.ID)
	assert.Equal(t, "imports", rel.Type)
	assert.Equal(t, a.ID, rel.FromID)
	assert.Equal(t, b.ID, rel.ToID)

	got, err := e.GetRelation(rel.ID)
	require.NoError(t, err)
	assert.Equal(t, rel.ID, got.ID)
}

func TestCreateRelationValidation(t *testing.T) {
	e := newTestEngine(t)
	a := mustCreate(t, e, "file", "a.ts", nil)
	b := mustCreate(t, e, "file", "b.ts", nil)

	_, err := e.CreateRelation("", a.ID, b.ID, nil)
	assert.True(t, IsValidation(err))
}

func TestCreateRelationMissingEndpoint(t *testing.T) {
	e := newTestEngine(t)
	a := mustCreate(t, e, "file", "a.ts", nil)

	_, err := e.CreateRelation("imports", a.ID, "ent-ghost", nil)
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ent-ghost", nf.ID)

	// Failed creation writes nothing.
	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RelationCount)
}

func TestDeleteRelation(t *testing.T) {
	e := newTestEngine(t)
	a := mustCreate(t, e, "file", "a.ts", nil)
	b := mustCreate(t, e, "file", "b.ts", nil)
	rel, err := e.CreateRelation("imports", a.ID, b.ID, nil)
	require.NoError(t, err)

	require.NoError(t, e.DeleteRelation(rel.ID))

	_, err = e.GetRelation(rel.ID)
	assert.True(t, IsNotFound(err))

	assert.True(t, IsNotFound(e.DeleteRelation(rel.ID)))
}

// =============================================================================
// Search through the engine
// =============================================================================

func TestSearchFindsCreatedEntity(t *testing.T) {
	e := newTestEngine(t)
	ent := mustCreate(t, e, "file", "main.ts", Document{"summary": "application entrypoint"})

	results, err := e.Search("entrypoint", search.Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ent.ID, results[0].Entity.ID)
	assert.Positive(t, results[0].Score)
}

func TestSearchReflectsRename(t *testing.T) {
	e := newTestEngine(t)
	ent := mustCreate(t, e, "file", "main.ts", nil)

	_, err := e.UpdateEntity(ent.ID, EntityPatch{Name: "index.ts"})
	require.NoError(t, err)

	results, err := e.Search("main", search.Options{})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = e.Search("index", search.Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ent.ID, results[0].Entity.ID)
}

func TestSearchAfterDelete(t *testing.T) {
	e := newTestEngine(t)
	ent := mustCreate(t, e, "file", "main.ts", nil)

	require.NoError(t, e.DeleteEntity(ent.ID))

	results, err := e.Search("main", search.Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSkipsVanishedEntities(t *testing.T) {
	st := store.NewMemStore()
	e := New(st)
	defer e.Close()

	ent, err := e.CreateEntity("file", "main.ts", nil)
	require.NoError(t, err)

	// Delete behind the engine's back so the index still holds the entry.
	_, err = st.DeleteEntityCascade(ent.ID)
	require.NoError(t, err)

	results, err := e.Search("main", search.Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchInvalidRegex(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, "file", "main.ts", nil)

	_, err := e.Search("[unclosed", search.Options{Mode: search.ModeRegex})
	assert.True(t, IsValidation(err))
}

func TestSuggest(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, "file", "main.ts", nil)
	mustCreate(t, e, "file", "mainframe", nil)

	assert.Equal(t, []string{"main.ts", "mainframe"}, e.Suggest("main", 0))
	assert.Equal(t, []string{"main.ts"}, e.Suggest("main", 1))
}

func TestRebuildIndexFromStore(t *testing.T) {
	st := store.NewMemStore()
	e := New(st)
	defer e.Close()

	// Rows written behind the engine's back are invisible until a rebuild.
	require.NoError(t, st.PutEntity(&Entity{
		ID: "ent-raw", Type: "file", Name: "raw.ts", Data: Document{}, CreatedAt: 1, UpdatedAt: 1, Version: 1,
	}))

	results, err := e.Search("raw", search.Options{})
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, e.RebuildIndex())

	results, err = e.Search("raw", search.Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ent-raw", results[0].Entity.ID)
}

func TestOptimizeIndexKeepsResults(t *testing.T) {
	e := newTestEngine(t)
	ent := mustCreate(t, e, "file", "main.ts", nil)

	e.OptimizeIndex()

	results, err := e.Search("main", search.Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ent.ID, results[0].Entity.ID)
}

// =============================================================================
// Async indexing
// =============================================================================

func TestAsyncIndexingWithReindexNow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AsyncIndexing = true
	e := newTestEngine(t, WithConfig(cfg))

	ent := mustCreate(t, e, "file", "main.ts", nil)

	// ReindexNow drains the queue and rebuilds, so the entity is visible
	// regardless of worker scheduling.
	require.NoError(t, e.ReindexNow())

	results, err := e.Search("main", search.Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ent.ID, results[0].Entity.ID)
}

func TestAsyncIndexingDelete(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AsyncIndexing = true
	e := newTestEngine(t, WithConfig(cfg))

	ent := mustCreate(t, e, "file", "main.ts", nil)
	require.NoError(t, e.DeleteEntity(ent.ID))
	require.NoError(t, e.ReindexNow())

	results, err := e.Search("main", search.Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAsyncIndexingAfterClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AsyncIndexing = true
	st := store.NewMemStore()
	e := New(st, WithConfig(cfg))

	ent, err := e.CreateEntity("file", "main.ts", nil)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	// Index maintenance after Close falls back to the synchronous path
	// instead of sending on the drained queue.
	require.NoError(t, e.DeleteEntity(ent.ID))
	require.NoError(t, e.ReindexNow())

	results, err := e.Search("main", search.Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCloseIdempotent(t *testing.T) {
	e := New(store.NewMemStore())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}
