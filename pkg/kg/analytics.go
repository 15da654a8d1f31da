package kg

import (
	"fmt"
	"sort"
)

// ConnectedEntity pairs an entity with its incident-relation degree.
type ConnectedEntity struct {
	Entity *Entity `json:"entity"`
	Degree int     `json:"degree"`
}

// Analytics aggregates structural statistics over the whole graph.
//
// HeuristicCycles detects only direct bidirectional pairs (A→B and B→A); it
// is not a general cycle or SCC detector, so longer cycles go unreported.
type Analytics struct {
	EntityCount        int                 `json:"entityCount"`
	RelationCount      int                 `json:"relationCount"`
	AverageConnections float64             `json:"averageConnections"`
	TopConnected       []ConnectedEntity   `json:"topConnected"`
	EntityTypeCounts   map[string]int      `json:"entityTypeCounts"`
	RelationTypeCounts map[string]int      `json:"relationTypeCounts"`
	OrphanedEntities   []*Entity           `json:"orphanedEntities"`
	HeuristicCycles    []BidirectionalPair `json:"heuristicCycles"`
}

// Analytics computes the full structural report from aggregate queries.
func (e *Engine) Analytics() (*Analytics, error) {
	entityCount, err := e.store.CountEntities()
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	relationCount, err := e.store.CountRelations()
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}

	report := &Analytics{
		EntityCount:   entityCount,
		RelationCount: relationCount,
	}
	if entityCount > 0 {
		report.AverageConnections = float64(2*relationCount) / float64(entityCount)
	}

	if report.EntityTypeCounts, err = e.store.EntityTypeCounts(); err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	if report.RelationTypeCounts, err = e.store.RelationTypeCounts(); err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}

	degrees, err := e.store.DegreeCounts()
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	report.TopConnected, err = e.topConnected(degrees)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}

	orphanIDs, err := e.store.OrphanEntityIDs()
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	for _, id := range orphanIDs {
		ent, err := e.store.GetEntity(id)
		if err != nil {
			return nil, fmt.Errorf("analytics: %w", err)
		}
		if ent != nil {
			report.OrphanedEntities = append(report.OrphanedEntities, ent)
		}
	}

	if report.HeuristicCycles, err = e.store.BidirectionalPairs(); err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}

	return report, nil
}

// topConnected ranks entities by degree descending, ties by id, top N.
func (e *Engine) topConnected(degrees map[string]int) ([]ConnectedEntity, error) {
	type idDegree struct {
		id     string
		degree int
	}
	ranked := make([]idDegree, 0, len(degrees))
	for id, d := range degrees {
		ranked = append(ranked, idDegree{id, d})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].degree != ranked[j].degree {
			return ranked[i].degree > ranked[j].degree
		}
		return ranked[i].id < ranked[j].id
	})

	n := e.cfg.TopConnected
	if n > len(ranked) {
		n = len(ranked)
	}

	top := make([]ConnectedEntity, 0, n)
	for _, rd := range ranked[:n] {
		ent, err := e.store.GetEntity(rd.id)
		if err != nil {
			return nil, err
		}
		if ent == nil {
			continue
		}
		top = append(top, ConnectedEntity{Entity: ent, Degree: rd.degree})
	}
	return top, nil
}

// =============================================================================
// Cheap summaries
// =============================================================================

// Stats is the cheap counts summary.
type Stats struct {
	EntityCount   int `json:"entityCount"`
	RelationCount int `json:"relationCount"`
	IndexedDocs   int `json:"indexedDocs"`
	IndexTokens   int `json:"indexTokens"`
}

// Stats returns entity/relation counts plus index size.
func (e *Engine) Stats() (*Stats, error) {
	entityCount, err := e.store.CountEntities()
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	relationCount, err := e.store.CountRelations()
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &Stats{
		EntityCount:   entityCount,
		RelationCount: relationCount,
		IndexedDocs:   e.index.DocCount(),
		IndexTokens:   e.index.TokenCount(),
	}, nil
}

// Health reports whether the engine's aggregate queries succeed and whether
// the search index has fallen out of sync with the store.
type Health struct {
	Healthy      bool   `json:"healthy"`
	IndexHealthy bool   `json:"indexHealthy"`
	Detail       string `json:"detail,omitempty"`
}

// HealthCheck probes the store with cheap aggregate queries and folds in the
// index health flag set by failed index writes.
func (e *Engine) HealthCheck() *Health {
	h := &Health{IndexHealthy: e.indexHealthy.Load()}

	if _, err := e.store.CountEntities(); err != nil {
		h.Detail = err.Error()
		return h
	}
	if _, err := e.store.CountRelations(); err != nil {
		h.Detail = err.Error()
		return h
	}

	h.Healthy = h.IndexHealthy
	if !h.IndexHealthy {
		h.Detail = "search index degraded; run RebuildIndex"
	}
	return h
}
