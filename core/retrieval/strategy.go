package retrieval

import "github.com/siherrmann/newsgraph/model"

// Plan holds the retrieval parameters of one query.
type Plan struct {
	TopKEntities int
	TopKChunks   int
	Hops         int
}

// PlanFor tunes the configured defaults to the intent. Explicit query options
// always win.
func PlanFor(intent model.Intent, config model.RetrievalConfig, opts model.QueryOptions) Plan {
	plan := Plan{
		TopKEntities: config.TopKEntities,
		TopKChunks:   config.TopKChunks,
		Hops:         config.NeighborHops,
	}

	switch intent {
	case model.IntentRelationship:
		plan.Hops = max(plan.Hops, 1)
	case model.IntentPath, model.IntentMultiHop:
		plan.Hops = max(plan.Hops, 2)
	case model.IntentAggregation:
		plan.TopKEntities *= 2
	case model.IntentSemantic:
		plan.TopKChunks *= 2
	}

	if opts.TopKEntities > 0 {
		plan.TopKEntities = opts.TopKEntities
	}
	if opts.TopKChunks > 0 {
		plan.TopKChunks = opts.TopKChunks
	}
	if opts.NeighborHops > 0 {
		plan.Hops = opts.NeighborHops
	}
	return plan
}
