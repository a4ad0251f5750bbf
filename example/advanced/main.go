package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"

	"github.com/siherrmann/newsgraph"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// This example runs against the stores configured in the environment:
// NEWSGRAPH_NEO4J_URI selects Neo4j, otherwise GRAPHER_DB_* points at
// Postgres. NEWSGRAPH_REDIS_ADDR enables the shared answer cache.
func main() {
	ctx := context.Background()

	config, err := model.LoadEngineConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.Resolver.Threshold = 0.8

	g, err := newsgraph.Open(ctx, config, helper.NewLogger(slog.LevelInfo))
	if err != nil {
		log.Fatalf("Failed to open newsgraph: %v", err)
	}
	defer g.Close()

	// Two articles name the same company differently.
	batch := &model.Batch{
		Entities: []model.EntityInput{
			{Name: "Acme Corp", Type: "Company", Description: "AI infrastructure startup", SourceDocumentID: "news-1", Mentions: 4},
			{Name: "Acme Corporation", Type: "Company", Description: "Maker of inference chips", SourceDocumentID: "news-2"},
			{Name: "Sequoia Capital", Type: "Investor", SourceDocumentID: "news-1"},
			{Name: "Orbit Systems", Type: "Company", Description: "Satellite operator", SourceDocumentID: "news-3"},
			{Name: "Jane Doe", Type: "Person", SourceDocumentID: "news-3"},
		},
		Relationships: []model.RelationshipInput{
			{Source: "Acme Corp", Target: "Sequoia Capital", Type: "FUNDED_BY", SourceDocumentID: "news-1"},
			{Source: "Acme Corporation", Target: "Sequoia Capital", Type: "FUNDED_BY", SourceDocumentID: "news-2", DirectQuote: true},
			{Source: "Jane Doe", Target: "Acme Corporation", Type: "ADVISES", SourceDocumentID: "news-2"},
			{Source: "Jane Doe", Target: "Orbit Systems", Type: "WORKS_AT", SourceDocumentID: "news-3"},
		},
		Documents: []model.DocumentInput{
			{DocumentID: "news-1", Text: "Acme Corp closed a round led by Sequoia Capital."},
			{DocumentID: "news-2", Text: "Acme Corporation hired Jane Doe as an adviser. Sequoia Capital doubled down."},
			{DocumentID: "news-3", Text: "Orbit Systems named Jane Doe its chief engineer."},
		},
	}
	if _, err := g.Ingest(ctx, batch); err != nil {
		log.Fatalf("Failed to ingest: %v", err)
	}

	// Preview, then merge duplicate entities.
	preview, err := g.ResolveEntities(ctx, 0, true)
	if errors.Is(err, model.ErrMaintenanceRunning) {
		log.Fatalf("Another maintenance job is running, try again later")
	} else if err != nil {
		log.Fatalf("Failed to preview merges: %v", err)
	}
	fmt.Printf("Dry run: %d candidate pairs, %d merges\n", preview.Candidates, preview.EntitiesMerged)
	for _, p := range preview.Pairs {
		fmt.Printf("  %s ~ %s (%.2f)\n", p.A.Name, p.B.Name, p.Similarity)
	}

	merged, err := g.ResolveEntities(ctx, 0, false)
	if err != nil {
		log.Fatalf("Failed to merge: %v", err)
	}
	fmt.Printf("Merged %d entities, collapsed %d relationships\n", merged.EntitiesMerged, merged.RelationshipsCollapsed)

	scoring, err := g.RescoreRelationships(ctx)
	if err != nil {
		log.Fatalf("Failed to rescore: %v", err)
	}
	fmt.Printf("Rescored %d relationships, %d changed\n", scoring.Scanned, scoring.Updated)

	if _, err := g.BuildIndex(ctx, true); err != nil {
		log.Fatalf("Failed to build index: %v", err)
	}

	result, err := g.MultiHopReasoning(ctx, "How is Orbit Systems connected to Sequoia Capital?", 3)
	if err != nil {
		log.Fatalf("Failed multi-hop reasoning: %v", err)
	}
	fmt.Printf("\nFound %d paths (status %s)\n", len(result.Paths), result.Status)
	for _, p := range result.Paths {
		fmt.Printf("  %s\n", p.Text())
	}
	fmt.Printf("Answer: %s\n", result.Answer)

	comparison, err := g.CompareEntities(ctx, "Acme Corp", "Orbit Systems")
	if err != nil {
		log.Fatalf("Failed to compare: %v", err)
	}
	fmt.Printf("\nComparison (%s): %s\n", comparison.Status, comparison.Answer)
}
