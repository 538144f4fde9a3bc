package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Priya8975/payment-webhook-pipeline/internal/app"
	"github.com/Priya8975/payment-webhook-pipeline/internal/config"
	"github.com/spf13/cobra"
)

var Version = "dev"

// opener connects to the pipeline's storage. Tests swap it out.
type opener func(ctx context.Context) (*app.App, error)

func openFromEnv(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.StorageBackend == "memory" {
		return nil, errors.New("pipelinectl needs a shared backend; STORAGE_BACKEND=memory is process-local")
	}
	return app.New(ctx, cfg, app.NewLogger(cfg.LogLevel))
}

func main() {
	if err := newRootCmd(openFromEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "pipelinectl",
		Short:         "Operator tool for the payment webhook pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(migrateCmd(open))
	root.AddCommand(deadLettersCmd(open))
	root.AddCommand(reconcileCmd(open))
	root.AddCommand(statusCmd(open))
	return root
}

func migrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
