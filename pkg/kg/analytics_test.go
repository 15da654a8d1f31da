package kg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyticsEmptyGraph(t *testing.T) {
	e := newTestEngine(t)

	report, err := e.Analytics()
	require.NoError(t, err)

	assert.Equal(t, 0, report.EntityCount)
	assert.Equal(t, 0, report.RelationCount)
	assert.Zero(t, report.AverageConnections)
	assert.Empty(t, report.TopConnected)
	assert.Empty(t, report.OrphanedEntities)
	assert.Empty(t, report.HeuristicCycles)
}

func TestAnalytics(t *testing.T) {
	e := newTestEngine(t)
	hub := mustCreate(t, e, "file", "hub.ts", nil)
	x := mustCreate(t, e, "file", "x.ts", nil)
	y := mustCreate(t, e, "module", "y", nil)
	lonely := mustCreate(t, e, "file", "lonely.ts", nil)

	_, err := e.CreateRelation("imports", hub.ID, x.ID, nil)
	require.NoError(t, err)
	_, err = e.CreateRelation("imports", hub.ID, y.ID, nil)
	require.NoError(t, err)
	_, err = e.CreateRelation("refs", y.ID, hub.ID, nil)
	require.NoError(t, err)

	report, err := e.Analytics()
	require.NoError(t, err)

	assert.Equal(t, 4, report.EntityCount)
	assert.Equal(t, 3, report.RelationCount)
	// Each relation contributes a degree to both endpoints.
	assert.InDelta(t, 1.5, report.AverageConnections, 1e-9)

	assert.Equal(t, map[string]int{"file": 3, "module": 1}, report.EntityTypeCounts)
	assert.Equal(t, map[string]int{"imports": 2, "refs": 1}, report.RelationTypeCounts)

	require.NotEmpty(t, report.TopConnected)
	assert.Equal(t, hub.ID, report.TopConnected[0].Entity.ID)
	assert.Equal(t, 3, report.TopConnected[0].Degree)
	assert.Len(t, report.TopConnected, 3, "unconnected entities are not ranked")

	require.Len(t, report.OrphanedEntities, 1)
	assert.Equal(t, lonely.ID, report.OrphanedEntities[0].ID)

	// hub <-> y is the only reciprocal pair.
	require.Len(t, report.HeuristicCycles, 1)
	pair := report.HeuristicCycles[0]
	assert.ElementsMatch(t, []string{hub.ID, y.ID}, []string{pair.EntityA, pair.EntityB})
}

func TestAnalyticsTopConnectedBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopConnected = 2
	e := newTestEngine(t, WithConfig(cfg))

	hub := mustCreate(t, e, "file", "hub.ts", nil)
	for _, name := range []string{"a.ts", "b.ts", "c.ts"} {
		leaf := mustCreate(t, e, "file", name, nil)
		_, err := e.CreateRelation("imports", hub.ID, leaf.ID, nil)
		require.NoError(t, err)
	}

	report, err := e.Analytics()
	require.NoError(t, err)
	require.Len(t, report.TopConnected, 2)
	assert.Equal(t, hub.ID, report.TopConnected[0].Entity.ID)
	assert.Equal(t, 3, report.TopConnected[0].Degree)
	assert.Equal(t, 1, report.TopConnected[1].Degree)
}

func TestStats(t *testing.T) {
	e := newTestEngine(t)
	a := mustCreate(t, e, "file", "a.ts", nil)
	b := mustCreate(t, e, "file", "b.ts", nil)
	_, err := e.CreateRelation("imports", a.ID, b.ID, nil)
	require.NoError(t, err)

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EntityCount)
	assert.Equal(t, 1, stats.RelationCount)
	assert.Equal(t, 2, stats.IndexedDocs)
	assert.Positive(t, stats.IndexTokens)
}

func TestHealthCheck(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, "file", "a.ts", nil)

	h := e.HealthCheck()
	assert.True(t, h.Healthy)
	assert.True(t, h.IndexHealthy)
	assert.Empty(t, h.Detail)
}

func TestHealthCheckDegradedIndex(t *testing.T) {
	e := newTestEngine(t)
	e.indexHealthy.Store(false)

	h := e.HealthCheck()
	assert.False(t, h.Healthy)
	assert.False(t, h.IndexHealthy)
	assert.NotEmpty(t, h.Detail)

	// A rebuild reconciles the index and clears the flag.
	require.NoError(t, e.RebuildIndex())
	h = e.HealthCheck()
	assert.True(t, h.Healthy)
}
