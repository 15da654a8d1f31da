package kg

// TraverseOptions bounds a graph walk.
type TraverseOptions struct {
	// MaxDepth < 0 uses Config.MaxTraversalDepth. MaxDepth == 0 returns only
	// the start entity with no relations.
	MaxDepth int

	// RelationTypes, when non-empty, restricts which relations are followed.
	RelationTypes []string

	// Direction defaults to both.
	Direction Direction
}

// TraverseResult is the subgraph reached by a bounded walk.
type TraverseResult struct {
	Entities  []*Entity   `json:"entities"`
	Relations []*Relation `json:"relations"`
	Depth     int         `json:"depth"` // maximum path length actually reached
	Path      []string    `json:"path"`  // entity ids in visitation order
}

// Traverse performs an iterative breadth-first walk from startID, bounded by
// MaxDepth. A visited set guarantees each entity is expanded at most once,
// so the walk terminates on arbitrarily cyclic graphs.
func (e *Engine) Traverse(startID string, opts TraverseOptions) (*TraverseResult, error) {
	maxDepth := opts.MaxDepth
	if maxDepth < 0 {
		maxDepth = e.cfg.MaxTraversalDepth
	}

	dir := opts.Direction
	if dir == "" {
		dir = DirectionBoth
	}

	var typeFilter map[string]bool
	if len(opts.RelationTypes) > 0 {
		typeFilter = make(map[string]bool, len(opts.RelationTypes))
		for _, t := range opts.RelationTypes {
			typeFilter[t] = true
		}
	}

	start, err := e.store.GetEntity(startID)
	if err != nil {
		return nil, &TraversalError{StartID: startID, Err: err}
	}
	if start == nil {
		return nil, &NotFoundError{Kind: "entity", ID: startID}
	}

	res := &TraverseResult{
		Entities:  []*Entity{start},
		Relations: []*Relation{},
		Path:      []string{startID},
	}

	visited := map[string]bool{startID: true}
	seenRel := make(map[string]bool)

	type frontierItem struct {
		id    string
		depth int
	}
	frontier := []frontierItem{{startID, 0}}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]

		if cur.depth > res.Depth {
			res.Depth = cur.depth
		}
		if cur.depth >= maxDepth {
			continue
		}

		rels, err := e.store.ListRelationsForEntity(cur.id, dir)
		if err != nil {
			return nil, &TraversalError{StartID: startID, Err: err}
		}

		for _, r := range rels {
			if typeFilter != nil && !typeFilter[r.Type] {
				continue
			}

			far := r.ToID
			if far == cur.id {
				far = r.FromID
			}

			if !visited[far] {
				ent, err := e.store.GetEntity(far)
				if err != nil {
					return nil, &TraversalError{StartID: startID, Err: err}
				}
				if ent == nil {
					// Endpoint vanished under a concurrent delete; the
					// relation row goes with it, so skip.
					continue
				}
				visited[far] = true
				res.Entities = append(res.Entities, ent)
				res.Path = append(res.Path, far)
				frontier = append(frontier, frontierItem{far, cur.depth + 1})
			}

			if !seenRel[r.ID] {
				seenRel[r.ID] = true
				res.Relations = append(res.Relations, r)
			}
		}
	}

	return res, nil
}
