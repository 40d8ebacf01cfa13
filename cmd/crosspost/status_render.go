package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var statusStyles = map[statusKind]struct {
	label  string
	colors text.Colors
}{
	statusInfo:  {"INFO", text.Colors{text.FgBlue}},
	statusOK:    {"OK", text.Colors{text.FgGreen}},
	statusWarn:  {"WARN", text.Colors{text.FgYellow}},
	statusError: {"ERROR", text.Colors{text.FgRed, text.Bold}},
}

// paint wraps s in the colour for kind.
func paint(kind statusKind, s string) string {
	style, ok := statusStyles[kind]
	if !ok {
		return s
	}
	return style.colors.Sprint(s)
}

// renderStatusLine formats "  label:   [KIND] message" with the label padded
// so a block of lines lines up.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	tag := "INFO"
	if style, ok := statusStyles[kind]; ok {
		tag = style.label
	}
	status := "[" + tag + "]"
	if message != "" {
		status += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", status)
	if colorize {
		return paint(kind, line)
	}
	return line
}

func renderSectionHeader(title string, colorize bool) []string {
	title = "== " + strings.TrimSpace(title) + " =="
	rule := strings.Repeat("-", len(title))
	if colorize {
		return []string{paint(statusInfo, title), paint(statusInfo, rule)}
	}
	return []string{title, rule}
}

func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// postStatusKind maps a post status to a display severity.
func postStatusKind(status string) statusKind {
	switch status {
	case "published":
		return statusOK
	case "rejected":
		return statusWarn
	case "failed":
		return statusError
	default:
		return statusInfo
	}
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

func printLines(w io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}
