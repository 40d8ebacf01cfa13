package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"crosspost/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		contentID string
		text      string
		media     []string
		platforms []string
		targets   []string
		fromFile  string
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit content for crossposting",
		Long: `Submit content for crossposting.

Media is given as KIND=URL (kind is image, video, or document) or as a bare URL,
in which case the kind is inferred from the file extension. Targets map a
platform to a channel or account, e.g. --target telegram=-1001234.
A full request body can be loaded with --file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildSubmitRequest(fromFile, contentID, text, media, platforms, targets)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Submit(cmd.Context(), req)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted run %s\n", resp.RunID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&contentID, "id", "", "Content ID (generated when empty)")
	cmd.Flags().StringVarP(&text, "text", "t", "", "Post text")
	cmd.Flags().StringArrayVarP(&media, "media", "m", nil, "Media attachment as KIND=URL or URL (repeatable)")
	cmd.Flags().StringSliceVarP(&platforms, "platform", "p", nil, "Target platform (repeatable; defaults to config)")
	cmd.Flags().StringArrayVar(&targets, "target", nil, "Platform target as PLATFORM=ID (repeatable)")
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "Read the submit request from a JSON file (- for stdin)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func buildSubmitRequest(fromFile, contentID, text string, media, platforms, targets []string) (api.SubmitRequest, error) {
	var req api.SubmitRequest
	if fromFile != "" {
		data, err := readInput(fromFile)
		if err != nil {
			return req, err
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("parse submit request %s: %w", fromFile, err)
		}
	}
	if contentID != "" {
		req.ContentID = contentID
	}
	if text != "" {
		req.Text = text
	}
	if len(platforms) > 0 {
		req.Platforms = platforms
	}
	for _, raw := range media {
		ref, err := parseMediaFlag(raw)
		if err != nil {
			return req, err
		}
		req.Media = append(req.Media, ref)
	}
	for _, raw := range targets {
		platform, id, ok := strings.Cut(raw, "=")
		platform = strings.TrimSpace(platform)
		if !ok || platform == "" || strings.TrimSpace(id) == "" {
			return req, fmt.Errorf("invalid --target %q: expected PLATFORM=ID", raw)
		}
		if req.Targets == nil {
			req.Targets = make(map[string]string)
		}
		req.Targets[platform] = strings.TrimSpace(id)
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Media) == 0 {
		return req, fmt.Errorf("submit requires --text or --media")
	}
	return req, nil
}

func parseMediaFlag(raw string) (api.MediaRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return api.MediaRef{}, fmt.Errorf("empty --media value")
	}
	kind, url, ok := strings.Cut(raw, "=")
	if ok && isMediaKind(kind) {
		if strings.TrimSpace(url) == "" {
			return api.MediaRef{}, fmt.Errorf("invalid --media %q: missing URL", raw)
		}
		return api.MediaRef{Kind: kind, URL: strings.TrimSpace(url), Format: mediaFormat(url)}, nil
	}
	return api.MediaRef{Kind: inferMediaKind(raw), URL: raw, Format: mediaFormat(raw)}, nil
}

func isMediaKind(value string) bool {
	switch value {
	case "image", "video", "document":
		return true
	}
	return false
}

func mediaFormat(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(url)), ".")
}

func inferMediaKind(url string) string {
	switch mediaFormat(url) {
	case "mp4", "mov", "webm", "mkv", "avi", "m4v":
		return "video"
	case "pdf", "doc", "docx", "txt", "zip":
		return "document"
	default:
		return "image"
	}
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
