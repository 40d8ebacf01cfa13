package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crosspost/internal/api"
	"crosspost/internal/daemonctl"
	"crosspost/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the crosspost daemon",
	}

	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the crosspost daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), client, exe, daemonLaunchOptions(ctx, startLogLevel), 10*time.Second)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(out, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(out, "Daemon already running")
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override the configured log level")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the crosspost daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(cmd.Context(), client, ctx.configValue(), 10*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "Daemon did not exit in time; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(out, "Daemon stopped")
			return nil
		},
	}

	var restartLogLevel string
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the crosspost daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := daemonctl.Restart(cmd.Context(), client, ctx.configValue(), exe,
				daemonLaunchOptions(ctx, restartLogLevel), 10*time.Second, 10*time.Second)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result.WasRunning {
				fmt.Fprintln(out, "Daemon stopped")
			}
			fmt.Fprintf(out, "Daemon restarted (pid %d)\n", result.Start.PID)
			return nil
		},
	}
	restartCmd.Flags().StringVar(&restartLogLevel, "log-level", "", "Override the configured log level")

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon health, outbox counters, and breaker states",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				var apiErr *api.Error
				if err != nil && !errors.As(err, &apiErr) {
					return err
				}
				if statusJSON {
					return writeJSON(cmd, status)
				}
				renderDaemonStatus(cmd, status)
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")

	var runLogLevel string
	var runDevelopment bool
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    runLogLevel,
				Development: runDevelopment,
			})
		},
	}
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "Override the configured log level")
	runCmd.Flags().BoolVar(&runDevelopment, "dev", false, "Use development log formatting")

	daemonCmd.AddCommand(startCmd, stopCmd, restartCmd, statusCmd, runCmd)
	return daemonCmd
}

func renderDaemonStatus(cmd *cobra.Command, status api.DaemonStatus) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	printLines(out, renderSectionHeader("Daemon", colorize))
	overall := "healthy"
	if !status.Healthy {
		overall = "degraded"
	}
	fmt.Fprintln(out, renderStatusLine("Health", boolKind(status.Healthy), overall, colorize))
	fmt.Fprintln(out, renderStatusLine("Workflow running", boolKind(status.Workflow.Running), yesNo(status.Workflow.Running), colorize))
	fmt.Fprintln(out, renderStatusLine("PID", statusInfo, fmt.Sprintf("%d", status.PID), colorize))
	if status.DatabasePath != "" {
		fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	}
	if status.Workflow.LastSweep != "" {
		fmt.Fprintln(out, renderStatusLine("Last sweep", statusInfo, status.Workflow.LastSweep, colorize))
	}
	if status.Workflow.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, status.Workflow.LastError, colorize))
	}
	fmt.Fprintln(out)

	if len(status.Checks) > 0 {
		printLines(out, renderSectionHeader("Checks", colorize))
		for _, check := range status.Checks {
			fmt.Fprintln(out, renderStatusLine(check.Name, boolKind(check.Passed), check.Detail, colorize))
		}
		fmt.Fprintln(out)
	}

	if len(status.Workflow.StageHealth) > 0 {
		printLines(out, renderSectionHeader("Stages", colorize))
		for _, h := range status.Workflow.StageHealth {
			detail := h.Detail
			if detail == "" && h.Ready {
				detail = "ready"
			}
			fmt.Fprintln(out, renderStatusLine(h.Name, boolKind(h.Ready), detail, colorize))
		}
		fmt.Fprintln(out)
	}

	if len(status.Workflow.Breakers) > 0 {
		printLines(out, renderSectionHeader("Circuit Breakers", colorize))
		for _, platform := range sortedKeys(status.Workflow.Breakers) {
			state := status.Workflow.Breakers[platform]
			kind := statusOK
			switch state {
			case "open":
				kind = statusError
			case "half-open":
				kind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine(platform, kind, state, colorize))
		}
		fmt.Fprintln(out)
	}

	printLines(out, renderSectionHeader("Outbox", colorize))
	if status.Workflow.OutboxError != "" {
		fmt.Fprintln(out, renderStatusLine("Outbox", statusError, status.Workflow.OutboxError, colorize))
		return
	}
	stats := status.Workflow.Outbox
	rows := [][]string{
		{"pending", fmt.Sprintf("%d", stats.Pending)},
		{"processing", fmt.Sprintf("%d", stats.Processing)},
		{"processed", fmt.Sprintf("%d", stats.Processed)},
		{"failed", fmt.Sprintf("%d", stats.Failed)},
	}
	writeTable(out, []string{"Status", "Count"}, rows, 1)
	if stats.OldestPending != "" {
		fmt.Fprintf(out, "Oldest pending: %s\n", stats.OldestPending)
	}
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, logLevel string) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: ctx.configPath(),
		LogLevel:   strings.TrimSpace(logLevel),
	}
}
