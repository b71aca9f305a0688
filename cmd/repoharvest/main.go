// Command repoharvest is the operational entry point for the pipeline. Each
// subcommand is one schedulable unit of work: the external scheduler decides
// when to invoke it, the command reports a complete summary and exits.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"repoharvest/analysis"
	"repoharvest/config"
	"repoharvest/db"
	"repoharvest/github"
	"repoharvest/ingest"
	"repoharvest/logger"
	"repoharvest/models"
	"repoharvest/qualitygate"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg   *config.Config
	store *db.DB
}

// setup loads configuration, initializes logging and connects to the store.
func setup() (*app, error) {
	cfg := config.NewConfig()
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	store, err := db.New()
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, store: store}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		logger.Error("Failed to close database", zap.Error(err))
	}
	logger.Sync()
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "repoharvest",
		Short:         "GitHub repository ingestion and analysis pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		initDBCmd(),
		resetCmd(),
		seedCmd(),
		ingestCmd(),
		analyzeCmd(),
		qualityGateCmd(),
		statusCmd(),
	)
	return root
}

func initDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Create all tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()
			return a.store.InitSchema(cmd.Context())
		},
	}
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and recreate all tables (destructive)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()
			return a.store.ResetSchema(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the destructive reset")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <owner/repo>...",
		Short: "Register projects for tracking",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			for _, fullName := range args {
				project, err := models.ProjectFromFullName(fullName)
				if err != nil {
					return err
				}
				id, err := a.store.UpsertProject(cmd.Context(), project)
				if err != nil {
					return err
				}
				fmt.Printf("seeded %s (id=%d)\n", project.FullName, id)
			}
			return nil
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch metadata and head commits for all active projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			pool := github.NewPool(a.cfg.GitHubTokens)
			client, err := github.NewClient(pool, a.cfg.GitHubAPIBase, a.cfg.APIMaxRetries, a.cfg.APIRetryBackoff)
			if err != nil {
				return err
			}

			coordinator := ingest.NewCoordinator(a.store, client)
			return runUnit(cmd.Context(), coordinator.HasPendingWork, func(ctx context.Context) (any, error) {
				return coordinator.Run(ctx)
			})
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Run static analysis over all versions pending analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			manager := analysis.NewManager(a.store, analysis.NewToolRunner(a.cfg))
			return runUnit(cmd.Context(), manager.HasPendingWork, func(ctx context.Context) (any, error) {
				return manager.Run(ctx)
			})
		},
	}
}

func qualityGateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quality-gate",
		Short: "Evaluate quality dimensions for projects not yet gated",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			token := ""
			if len(a.cfg.GitHubTokens) > 0 {
				token = a.cfg.GitHubTokens[0]
			}
			runner := qualitygate.NewRunner(a.store, a.cfg.QualityGateDir, token)
			return runUnit(cmd.Context(), runner.HasPendingWork, func(ctx context.Context) (any, error) {
				return runner.Run(ctx)
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print pipeline work counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			active, err := a.store.GetActiveProjects(ctx)
			if err != nil {
				return err
			}
			pending, err := a.store.GetVersionsPendingAnalysis(ctx)
			if err != nil {
				return err
			}
			ungated, err := a.store.GetProjectsWithoutQualityGate(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("active projects:            %d\n", len(active))
			fmt.Printf("versions pending analysis:  %d\n", len(pending))
			fmt.Printf("projects pending gate:      %d\n", len(ungated))
			return nil
		},
	}
}

// runUnit is the inbound contract for the scheduler: a pending-work check
// that short-circuits empty runs, and a unit of work that always produces a
// summary.
func runUnit(ctx context.Context, pending func(context.Context) (bool, error), run func(context.Context) (any, error)) error {
	ok, err := pending(ctx)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("No pending work, skipping run")
		return nil
	}
	summary, err := run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%+v\n", summary)
	return nil
}
