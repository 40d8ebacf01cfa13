package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"crosspost/internal/api"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var (
		text      string
		media     []string
		platforms []string
		hashtags  []string
		mentions  []string
		links     []string
		jsonOut   bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a draft against platform rules without submitting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(platforms) == 0 {
				return fmt.Errorf("validate requires at least one --platform")
			}
			req := api.ValidateRequest{
				Text:      text,
				Hashtags:  hashtags,
				Mentions:  mentions,
				Links:     links,
				Platforms: platforms,
			}
			for _, raw := range media {
				ref, err := parseMediaFlag(raw)
				if err != nil {
					return err
				}
				req.Media = append(req.Media, ref)
			}
			return ctx.withClient(func(client *api.Client) error {
				results, err := client.Validate(cmd.Context(), req)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, results)
				}
				renderValidation(cmd, results)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&text, "text", "t", "", "Draft text")
	cmd.Flags().StringArrayVarP(&media, "media", "m", nil, "Media attachment as KIND=URL or URL (repeatable)")
	cmd.Flags().StringSliceVarP(&platforms, "platform", "p", nil, "Platform to validate against (repeatable)")
	cmd.Flags().StringSliceVar(&hashtags, "hashtag", nil, "Hashtag (repeatable)")
	cmd.Flags().StringSliceVar(&mentions, "mention", nil, "Mention (repeatable)")
	cmd.Flags().StringSliceVar(&links, "link", nil, "Link (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func renderValidation(cmd *cobra.Command, results []api.ValidationResult) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, res := range results {
		detail := "valid"
		if !res.Valid {
			detail = fmt.Sprintf("%d violation(s)", len(res.Violations))
		}
		if res.RulesVersion != "" {
			detail += " (rules " + res.RulesVersion + ")"
		}
		fmt.Fprintln(out, renderStatusLine(res.Platform, boolKind(res.Valid), detail, colorize))
		for _, v := range res.Violations {
			line := fmt.Sprintf("%s    - %s [%s] %s", statusIndent, v.Type, v.Severity, v.Message)
			if s := strings.TrimSpace(v.Suggestion); s != "" {
				line += " (" + s + ")"
			}
			fmt.Fprintln(out, line)
		}
	}
}
