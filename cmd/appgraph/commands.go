package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/prrao87/application-graph/internal/app"
)

var (
	resumeFlag bool
	dryRunFlag bool

	rootCmd = &cobra.Command{
		Use:           "appgraph",
		Short:         "Clean application landscape exports and load them into a Neo4j graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	normalizeCmd = &cobra.Command{
		Use:   "normalize",
		Short: "Rewrite raw CSV exports into cleaned partitions with canonical int64 keys",
		RunE:  runNormalize,
	}

	materializeCmd = &cobra.Command{
		Use:   "materialize",
		Short: "Load the cleaned partitions into Neo4j in batched, idempotent stages",
		RunE:  runMaterialize,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Normalize then materialize in one pass",
		RunE:  runPipeline,
	}
)

func init() {
	rootCmd.AddCommand(normalizeCmd)

	rootCmd.AddCommand(materializeCmd)
	materializeCmd.Flags().BoolVar(&resumeFlag, "resume", false, "Skip stages the run ledger shows as completed by the most recent failed run")
	materializeCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Load into an in-memory store and write nothing to Neo4j")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&resumeFlag, "resume", false, "Skip stages the run ledger shows as completed by the most recent failed run")
	runCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Load into an in-memory store and write nothing to Neo4j")
}

func runNormalize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	_, err = a.RunNormalize(ctx)
	return err
}

func runMaterialize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	_, err = a.RunMaterialize(ctx, app.MaterializeOptions{Resume: resumeFlag, DryRun: dryRunFlag})
	return err
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	if _, err := a.RunNormalize(ctx); err != nil {
		return err
	}
	_, err = a.RunMaterialize(ctx, app.MaterializeOptions{Resume: resumeFlag, DryRun: dryRunFlag})
	return err
}
