package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"crosspost/internal/api"
)

func newOutboxCommand(ctx *commandContext) *cobra.Command {
	outboxCmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and requeue outbox events",
	}
	outboxCmd.AddCommand(newOutboxListCommand(ctx))
	outboxCmd.AddCommand(newOutboxRetryCommand(ctx))
	return outboxCmd
}

func newOutboxListCommand(ctx *commandContext) *cobra.Command {
	var (
		status  string
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List outbox events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				events, err := client.Outbox(cmd.Context(), status, limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, events)
				}
				out := cmd.OutOrStdout()
				if len(events) == 0 {
					fmt.Fprintln(out, "No outbox events")
					return nil
				}
				rows := make([][]string, 0, len(events))
				for _, ev := range events {
					rows = append(rows, []string{
						ev.ID,
						ev.EventType,
						valueOrDash(ev.Platform),
						ev.Status,
						strconv.Itoa(ev.RetryCount),
						strconv.Itoa(ev.ThrottleCount),
						valueOrDash(ev.NextRetryAt),
						valueOrDash(ev.LastError),
					})
				}
				writeTable(out,
					[]string{"ID", "Type", "Platform", "Status", "Retries", "Throttles", "Next Retry", "Last Error"},
					rows, 4, 5)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status (pending, processing, processed, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum events to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newOutboxRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [event-id...]",
		Short: "Requeue failed outbox events (all failed events when no IDs are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				n, err := client.Retry(cmd.Context(), args...)
				if err != nil {
					return err
				}
				switch n {
				case 0:
					fmt.Fprintln(cmd.OutOrStdout(), "No failed events to requeue")
				case 1:
					fmt.Fprintln(cmd.OutOrStdout(), "Requeued 1 event")
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d events\n", n)
				}
				return nil
			})
		},
	}
}
