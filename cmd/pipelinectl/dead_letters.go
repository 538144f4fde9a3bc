package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
	"github.com/spf13/cobra"
)

func deadLettersCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dead-letters",
		Aliases: []string{"dlq"},
		Short:   "Inspect and requeue dead-lettered events",
	}
	cmd.AddCommand(deadLettersListCmd(open))
	cmd.AddCommand(deadLettersRequeueCmd(open))
	return cmd
}

func deadLettersListCmd(open opener) *cobra.Command {
	var (
		gateway string
		limit   int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			letters, err := a.Store.ListDeadLetters(cmd.Context(), domain.Gateway(gateway).Normalize(), limit)
			if err != nil {
				return fmt.Errorf("listing dead letters: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(letters)
			}
			return printDeadLetters(cmd.OutOrStdout(), letters)
		},
	}

	cmd.Flags().StringVarP(&gateway, "gateway", "g", "", "only this gateway")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum results")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func printDeadLetters(w io.Writer, letters []domain.WebhookEvent) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tGATEWAY\tREFERENCE\tSTATUS\tATTEMPTS\tKIND\tRECEIVED\tERROR")
	for _, e := range letters {
		kind, reason := "-", ""
		if e.LastErrorKind != nil {
			kind = string(*e.LastErrorKind)
		}
		if e.LastError != nil {
			reason = *e.LastError
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			e.IdempotencyKey,
			e.Gateway,
			e.PaymentReference,
			e.ReportedStatus,
			e.AttemptCount,
			kind,
			e.ReceivedAt.Format(time.RFC3339),
			reason,
		)
	}
	return tw.Flush()
}

func deadLettersRequeueCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue KEY [KEY...]",
		Short: "Put dead-lettered events back on the queue with a fresh attempt budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var failed int
			for _, key := range args {
				if err := a.Store.RequeueDeadLetter(cmd.Context(), key); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", key, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: requeued\n", key)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d dead letters not requeued", failed, len(args))
			}
			return nil
		},
	}
}
