package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"crosspost/internal/api"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect and cancel pipeline runs",
	}
	runCmd.AddCommand(newRunShowCommand(ctx))
	runCmd.AddCommand(newRunCancelCommand(ctx))
	return runCmd
}

func newRunShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var history bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show run status and per-platform outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				run, err := client.Run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, run)
				}
				renderRun(cmd, run, history)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&history, "history", false, "Include the state transition log")
	return cmd
}

func renderRun(cmd *cobra.Command, run api.Run, history bool) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	printLines(out, renderSectionHeader("Run "+run.ID, colorize))
	fmt.Fprintf(out, "Content:   %s\n", run.ContentID)
	fmt.Fprintf(out, "Status:    %s\n", run.Status)
	fmt.Fprintf(out, "Stage:     %s\n", run.Stage)
	if run.CancelRequested {
		fmt.Fprintln(out, "Cancel:    requested")
	}
	fmt.Fprintf(out, "Summary:   %d total, %d published, %d rejected, %d failed\n",
		run.Summary.Total, run.Summary.Published, run.Summary.Rejected, run.Summary.Failed)
	if run.FinishedAt != "" {
		fmt.Fprintf(out, "Finished:  %s\n", run.FinishedAt)
	}
	fmt.Fprintln(out)

	if len(run.Posts) > 0 {
		rows := make([][]string, 0, len(run.Posts))
		for _, post := range run.Posts {
			detail := post.URL
			if post.LastError != "" {
				detail = post.LastError
			} else if len(post.Violations) > 0 {
				detail = post.Violations[0].Type + ": " + post.Violations[0].Message
			}
			status := post.Status
			if colorize {
				status = paint(postStatusKind(post.Status), status)
			}
			rows = append(rows, []string{
				post.Platform,
				valueOrDash(post.Target),
				status,
				post.State,
				strconv.Itoa(post.Attempts),
				valueOrDash(detail),
			})
		}
		writeTable(out, []string{"Platform", "Target", "Status", "State", "Attempts", "Detail"}, rows, 4)
	}

	if history && len(run.Transitions) > 0 {
		fmt.Fprintln(out)
		printLines(out, renderSectionHeader("History", colorize))
		rows := make([][]string, 0, len(run.Transitions))
		for _, tr := range run.Transitions {
			rows = append(rows, []string{tr.At, valueOrDash(tr.Platform), tr.State})
		}
		writeTable(out, []string{"At", "Platform", "State"}, rows)
	}
}

func newRunCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Request cancellation of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Cancelled {
					fmt.Fprintf(out, "Cancellation requested for run %s\n", resp.RunID)
				} else {
					fmt.Fprintf(out, "Run %s is already finished or cancelling\n", resp.RunID)
				}
				return nil
			})
		},
	}
}
