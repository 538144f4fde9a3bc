package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func reconcileCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile stale payments against their gateways",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "once",
		Short: "Run a single reconciliation pass and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.Reconciler().RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("reconciling: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	})
	return cmd
}

func statusCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, event states and dead-letter count",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.Store.Metrics(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading metrics: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		},
	}
}
