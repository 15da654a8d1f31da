// Package main provides the kgraph CLI entry point: thin glue over the
// embedded knowledge graph engine for inspection and maintenance.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kittclouds/kgraph/pkg/kg"
	"github.com/kittclouds/kgraph/pkg/search"
)

var (
	dbPath     string
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kgraph",
		Short: "kgraph - embedded knowledge graph engine",
		Long: `kgraph is an embedded entity/relation graph store with full-text and
fuzzy search, bounded traversal, and structural analytics, persisted in a
single SQLite file.`,
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "kgraph.db", "SQLite database file")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print structural analytics for the graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e *kg.Engine) error {
				report, err := e.Analytics()
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
	rootCmd.AddCommand(statsCmd)

	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search entities by name and content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")
			limit, _ := cmd.Flags().GetInt("limit")
			opts := search.Options{Limit: limit}
			switch mode {
			case "exact":
				opts.Mode = search.ModeExact
			case "fuzzy":
				opts.Mode = search.ModeFuzzy
			case "regex":
				opts.Mode = search.ModeRegex
			case "", "auto":
				opts.Mode = search.ModeAuto
			default:
				return fmt.Errorf("unknown mode %q (want exact, fuzzy, regex, or auto)", mode)
			}
			return withEngine(func(e *kg.Engine) error {
				results, err := e.Search(args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(results)
			})
		},
	}
	searchCmd.Flags().String("mode", "auto", "Query mode: auto, exact, fuzzy, regex")
	searchCmd.Flags().Int("limit", 0, "Maximum results (0 = engine default)")
	rootCmd.AddCommand(searchCmd)

	suggestCmd := &cobra.Command{
		Use:   "suggest [prefix]",
		Short: "Suggest entity names for a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withEngine(func(e *kg.Engine) error {
				return printJSON(e.Suggest(args[0], limit))
			})
		},
	}
	suggestCmd.Flags().Int("limit", 0, "Maximum suggestions (0 = engine default)")
	rootCmd.AddCommand(suggestCmd)

	traverseCmd := &cobra.Command{
		Use:   "traverse [entity-id]",
		Short: "Walk the graph from an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			depth, _ := cmd.Flags().GetInt("depth")
			direction, _ := cmd.Flags().GetString("direction")
			types, _ := cmd.Flags().GetString("types")

			opts := kg.TraverseOptions{MaxDepth: depth, Direction: kg.Direction(direction)}
			if types != "" {
				opts.RelationTypes = strings.Split(types, ",")
			}
			return withEngine(func(e *kg.Engine) error {
				result, err := e.Traverse(args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}
	traverseCmd.Flags().Int("depth", -1, "Maximum depth (-1 = engine default, 0 = start only)")
	traverseCmd.Flags().String("direction", "both", "Relation direction: outgoing, incoming, both")
	traverseCmd.Flags().String("types", "", "Comma-separated relation type filter")
	rootCmd.AddCommand(traverseCmd)

	rebuildCmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the search index from store contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e *kg.Engine) error {
				if err := e.RebuildIndex(); err != nil {
					return err
				}
				stats, err := e.Stats()
				if err != nil {
					return err
				}
				fmt.Printf("index rebuilt: %d docs, %d tokens\n", stats.IndexedDocs, stats.IndexTokens)
				return nil
			})
		},
	}
	rootCmd.AddCommand(rebuildCmd)

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Report engine health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e *kg.Engine) error {
				return printJSON(e.HealthCheck())
			})
		},
	}
	rootCmd.AddCommand(healthCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withEngine opens the engine from flags, rebuilds the in-memory index from
// the on-disk rows, runs fn, and closes cleanly.
func withEngine(fn func(*kg.Engine) error) error {
	cfg := kg.DefaultConfig()
	if configPath != "" {
		loaded, err := kg.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	engine, err := kg.Open(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	// The index lives in memory; repopulate it from the durable rows.
	if err := engine.RebuildIndex(); err != nil {
		return err
	}

	return fn(engine)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
