package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/siherrmann/newsgraph"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
	"github.com/spf13/cobra"
)

type cliOptions struct {
	configFile string
	verbose    bool
}

// openFunc opens the engine for a command. Tests replace it.
type openFunc func(ctx context.Context, config model.EngineConfig, logger *slog.Logger) (*newsgraph.Grapher, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newsgraph.Open).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(open openFunc) *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "newsgraph",
		Short: "Question answering over a news knowledge graph",
		Long: `newsgraph ingests entities, relationships and articles extracted from news,
keeps the graph consistent and answers questions from graph facts and article text.

Storage is Postgres (GRAPHER_DB_*) or Neo4j (NEWSGRAPH_NEO4J_URI). Providers are
selected with NEWSGRAPH_EMBEDDER and NEWSGRAPH_LLM.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "engine config YAML file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	withGrapher := func(fn func(cmd *cobra.Command, g *newsgraph.Grapher, args []string) error) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			config, err := model.LoadEngineConfig(opts.configFile)
			if err != nil {
				return err
			}
			level := slog.LevelInfo
			if opts.verbose {
				level = slog.LevelDebug
			}
			g, err := open(cmd.Context(), config, helper.NewLogger(level))
			if err != nil {
				return err
			}
			defer g.Close()
			return fn(cmd, g, args)
		}
	}

	root.AddCommand(
		newIngestCmd(withGrapher),
		newIndexCmd(withGrapher),
		newResolveCmd(withGrapher),
		newRescoreCmd(withGrapher),
		newQueryCmd(withGrapher),
		newSearchCmd(withGrapher),
		newCompareCmd(withGrapher),
		newMultiHopCmd(withGrapher),
	)
	return root
}

type grapherRunner func(fn func(cmd *cobra.Command, g *newsgraph.Grapher, args []string) error) func(cmd *cobra.Command, args []string) error

func newIngestCmd(run grapherRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <batch.json>...",
		Short: "Ingest extracted entities, relationships and documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: run(func(cmd *cobra.Command, g *newsgraph.Grapher, args []string) error {
			for _, path := range args {
				batch, err := model.NewBatchFromFile(path)
				if err != nil {
					return err
				}
				stats, err := g.Ingest(cmd.Context(), batch)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), stats); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}

func newIndexCmd(run grapherRunner) *cobra.Command {
	var resume, reset bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed every entity and chunk",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, g *newsgraph.Grapher, args []string) error {
			if reset {
				if err := g.ResetIndex(cmd.Context()); err != nil {
					return err
				}
			}
			stats, err := g.BuildIndex(cmd.Context(), resume)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		}),
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "skip items embedded by an earlier build")
	cmd.Flags().BoolVar(&reset, "reset", false, "forget earlier builds first")
	return cmd
}

func newResolveCmd(run grapherRunner) *cobra.Command {
	var dryRun bool
	var threshold float64
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Merge duplicate entities",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, g *newsgraph.Grapher, args []string) error {
			stats, err := g.ResolveEntities(cmd.Context(), threshold, dryRun)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		}),
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report merges without changing the graph")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "name similarity threshold (default from config)")
	return cmd
}

func newRescoreCmd(run grapherRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "rescore",
		Short: "Recompute every relationship strength",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, g *newsgraph.Grapher, args []string) error {
			stats, err := g.RescoreRelationships(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		}),
	}
}

func newQueryCmd(run grapherRunner) *cobra.Command {
	var sessionID string
	var options model.QueryOptions
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: run(func(cmd *cobra.Command, g *newsgraph.Grapher, args []string) error {
			resp := g.Query(cmd.Context(), strings.Join(args, " "), sessionID, options)
			return printJSON(cmd.OutOrStdout(), resp)
		}),
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id for follow-up questions")
	cmd.Flags().IntVar(&options.TopKEntities, "top-k-entities", 0, "entities seeding the graph channel")
	cmd.Flags().IntVar(&options.TopKChunks, "top-k-chunks", 0, "chunks of the vector channel")
	cmd.Flags().IntVar(&options.NeighborHops, "hops", 0, "relationship hops around seed entities")
	cmd.Flags().IntVar(&options.TokenBudget, "token-budget", 0, "context token budget")
	cmd.Flags().BoolVar(&options.IncludeContext, "context", false, "include the fused context")
	cmd.Flags().BoolVar(&options.SkipCache, "no-cache", false, "bypass the answer cache")
	return cmd
}

func newSearchCmd(run grapherRunner) *cobra.Command {
	var topK int
	var entityType string
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find entities similar to a text",
		Args:  cobra.MinimumNArgs(1),
		RunE: run(func(cmd *cobra.Command, g *newsgraph.Grapher, args []string) error {
			var filter *model.EntityType
			if entityType != "" {
				t, err := model.ParseEntityType(entityType)
				if err != nil {
					return err
				}
				filter = &t
			}
			found, err := g.SemanticSearch(cmd.Context(), strings.Join(args, " "), topK, filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), found)
		}),
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "number of entities")
	cmd.Flags().StringVarP(&entityType, "type", "t", "", "entity type filter, e.g. Company")
	return cmd
}

func newCompareCmd(run grapherRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <entity> <entity>",
		Short: "Compare two entities",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(cmd *cobra.Command, g *newsgraph.Grapher, args []string) error {
			comparison, err := g.CompareEntities(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), comparison)
		}),
	}
}

func newMultiHopCmd(run grapherRunner) *cobra.Command {
	var maxHops int
	cmd := &cobra.Command{
		Use:   "multihop <question>",
		Short: "Answer a question by connecting entities through relationship paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: run(func(cmd *cobra.Command, g *newsgraph.Grapher, args []string) error {
			result, err := g.MultiHopReasoning(cmd.Context(), strings.Join(args, " "), maxHops)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		}),
	}
	cmd.Flags().IntVar(&maxHops, "max-hops", 3, "maximum path length")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
