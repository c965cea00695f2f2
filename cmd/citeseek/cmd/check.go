package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/citeseek/citeseek/internal/config"
	"github.com/citeseek/citeseek/internal/embed"
	"github.com/citeseek/citeseek/internal/preflight"
	"github.com/citeseek/citeseek/internal/vector"
)

func newCheckCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and dependency reachability",
		Long: `Check loads the configuration, verifies the data directory, and
probes the vector store and embedding service. The command exits
nonzero when a required check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			opts := []preflight.Option{
				preflight.WithOutput(cmd.OutOrStdout()),
				preflight.WithVerbose(verbose),
			}

			vectors, err := vector.NewQdrantStore(cfg.Vector.URL)
			if err != nil {
				return err
			}
			opts = append(opts, preflight.WithVectorStore(vectors))

			embedder, err := embed.NewHTTPEmbedder(cfg.Embedding)
			if err != nil {
				return err
			}
			opts = append(opts, preflight.WithEmbedder(embedder))

			checker := preflight.New(opts...)
			results := checker.RunAll(cmd.Context(), cfg.Data.Dir)
			checker.PrintResults(results)

			if checker.HasCriticalFailures(results) {
				return fmt.Errorf("preflight checks failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")
	return cmd
}
