package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/siherrmann/newsgraph"
	"github.com/siherrmann/newsgraph/core/embedding"
	"github.com/siherrmann/newsgraph/core/llm"
	"github.com/siherrmann/newsgraph/database"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

func main() {
	ctx := context.Background()

	// Start a test PostgreSQL container
	teardown, dbPort, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer teardown(ctx)

	dbConfig := &helper.DatabaseConfiguration{
		Host:               "localhost",
		Port:               dbPort,
		Database:           "database",
		Username:           "user",
		Password:           "password",
		Schema:             "public",
		SSLMode:            "disable",
		EmbeddingDimension: 384,
	}

	logger := helper.NewLogger(slog.LevelInfo)
	db, err := helper.NewDatabase("example", dbConfig, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	store, err := database.NewStore(db, true)
	if err != nil {
		log.Fatalf("Failed to create store: %v", err)
	}

	// Local MiniLM embeddings and an Ollama chat model
	providers, err := helper.NewProviderConfiguration()
	if err != nil {
		log.Fatalf("Failed to read provider configuration: %v", err)
	}
	embedder, err := embedding.NewProvider(ctx, providers)
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}
	completer, err := llm.NewProvider(ctx, providers)
	if err != nil {
		log.Fatalf("Failed to create LLM provider: %v", err)
	}

	g, err := newsgraph.New(newsgraph.Options{
		Config:     model.DefaultEngineConfig(),
		Store:      store,
		Embedder:   embedder,
		LLM:        completer,
		Guard:      database.NewAdvisoryGuard(db, database.MaintenanceLockKey),
		Checkpoint: store.Checkpoints,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("Failed to create newsgraph: %v", err)
	}
	defer g.Close()
	defer store.Close()

	published := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	batch := &model.Batch{
		Entities: []model.EntityInput{
			{Name: "Acme Corp", Type: "Company", Description: "AI infrastructure startup building inference chips", SourceDocumentID: "techwire-101"},
			{Name: "Sequoia Capital", Type: "Investor", Description: "Venture capital firm", SourceDocumentID: "techwire-101"},
			{Name: "Jane Doe", Type: "Person", Description: "Co-founder and CEO of Acme Corp", SourceDocumentID: "techwire-101"},
			{Name: "Beta Labs", Type: "Company", Description: "Chip design startup", SourceDocumentID: "techwire-102"},
		},
		Relationships: []model.RelationshipInput{
			{Source: "Acme Corp", Target: "Sequoia Capital", Type: "FUNDED_BY", Description: "Led the $50M Series B", SourceDocumentID: "techwire-101", DirectQuote: true},
			{Source: "Acme Corp", Target: "Jane Doe", Type: "FOUNDED_BY", SourceDocumentID: "techwire-101"},
			{Source: "Beta Labs", Target: "Acme Corp", Type: "COMPETES_WITH", SourceDocumentID: "techwire-102"},
		},
		Documents: []model.DocumentInput{
			{
				DocumentID:  "techwire-101",
				Title:       "Acme Corp raises $50M Series B",
				PublishedAt: &published,
				Text: `Acme Corp raised $50 million in a Series B round led by Sequoia Capital.
The company, founded by Jane Doe, builds inference chips for AI workloads.
"We will triple the team this year," Doe said.`,
			},
			{
				DocumentID:  "techwire-102",
				Title:       "Beta Labs enters the inference market",
				PublishedAt: &published,
				Text:        `Beta Labs announced a chip that competes directly with Acme Corp's first product.`,
			},
		},
	}

	fmt.Println("Ingesting batch...")
	stats, err := g.Ingest(ctx, batch)
	if err != nil {
		log.Fatalf("Failed to ingest batch: %v", err)
	}
	fmt.Printf("Created %d entities, %d relationships and %d chunks\n", stats.EntitiesCreated, stats.RelationshipsCreated, stats.ChunksInserted)

	fmt.Println("Building embedding index...")
	if _, err := g.BuildIndex(ctx, true); err != nil {
		log.Fatalf("Failed to build index: %v", err)
	}

	sessionID := "example-session"
	for _, question := range []string{"Who funded Acme Corp?", "What about its competitors?"} {
		resp := g.Query(ctx, question, sessionID, model.QueryOptions{})
		fmt.Printf("\nQ: %s\n", question)
		fmt.Printf("Resolved: %s (intent %s, status %s)\n", resp.ResolvedQuestion, resp.Intent, resp.Status)
		fmt.Printf("A: %s\n", resp.Answer)
		for _, s := range resp.Sources {
			fmt.Printf("  [%s] %s\n", s.Ref, s.Text)
		}
	}

	fmt.Println("\nBasic example completed successfully!")
}
