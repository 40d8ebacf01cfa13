package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"crosspost/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := resolveInitTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				_, statErr := os.Stat(target)
				switch {
				case statErr == nil:
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				case !errors.Is(statErr, fs.ErrNotExist):
					return fmt.Errorf("check config path: %w", statErr)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Add a [publishers.<platform>] section for each platform before starting the daemon.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing configuration file")
	return cmd
}

func resolveInitTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return path, nil
	}
	path, err := config.ExpandPath(raw)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return path, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the configuration and summarise each subsystem",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintln(out)
			renderConfigSummary(out, cfg, shouldColorize(out))
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

// renderConfigSummary prints one status line per subsystem. Optional
// infrastructure that is switched off shows as INFO, default platforms
// without a publisher section show as WARN.
func renderConfigSummary(out io.Writer, cfg *config.Config, colorize bool) {
	lines := []string{
		renderStatusLine("Database", statusOK, cfg.Database.Driver, colorize),
		renderStatusLine("Rate limiter", statusOK, cfg.RateLimiter.Backend, colorize),
		renderStatusLine("Storage", statusOK, cfg.Storage.Backend, colorize),
		optionalLine("Redis", cfg.Redis.Addr, colorize),
		optionalLine("Kafka", strings.Join(cfg.Kafka.Brokers, ","), colorize),
		optionalLine("Notifications", cfg.Notifications.NtfyTopic, colorize),
		renderStatusLine("Captions", statusOK, valueOrDash(cfg.Caption.Provider), colorize),
		renderStatusLine("API", statusOK, cfg.API.URL, colorize),
	}

	publishers := sortedKeys(cfg.Publishers)
	kind := statusOK
	if len(publishers) == 0 {
		kind = statusWarn
	}
	lines = append(lines, renderStatusLine("Publishers", kind, valueOrDash(strings.Join(publishers, ", ")), colorize))

	for _, platform := range cfg.Workflow.DefaultPlatforms {
		if _, ok := cfg.Publishers[platform]; !ok {
			lines = append(lines, renderStatusLine("Default platform", statusWarn,
				fmt.Sprintf("%s has no [publishers.%s] section", platform, platform), colorize))
		}
	}
	printLines(out, lines)
}

func optionalLine(label, value string, colorize bool) string {
	if strings.TrimSpace(value) == "" {
		return renderStatusLine(label, statusInfo, "disabled", colorize)
	}
	return renderStatusLine(label, statusOK, value, colorize)
}
