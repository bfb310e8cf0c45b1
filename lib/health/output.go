// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ErrChecksFailed is returned by PrintChecklist when any check failed.
var ErrChecksFailed = errors.New("some checks failed")

var statusColors = map[Status]lipgloss.Color{
	StatusPass:  "2",
	StatusFail:  "1",
	StatusWarn:  "3",
	StatusFixed: "6",
}

// Line formats one result as a checklist row.
func Line(result Result) string {
	return formatLine(statusTag(result.Status), result)
}

func formatLine(tag string, result Result) string {
	return fmt.Sprintf("[%s]  %-40s  %s", tag, result.Name, result.Message)
}

// statusTag pads before styling so escape codes do not skew columns.
func statusTag(status Status) string {
	return fmt.Sprintf("%-5s", strings.ToUpper(string(status)))
}

// PrintChecklist writes report as a checklist followed by a summary.
// fixMode changes the guidance for fixable failures.
func PrintChecklist(w io.Writer, report Report, fixMode bool) error {
	// The renderer detects the color profile of w; anything but a
	// terminal gets plain text.
	renderer := lipgloss.NewRenderer(w)
	fixable := 0
	for _, result := range report.Results {
		tag := statusTag(result.Status)
		if color, ok := statusColors[result.Status]; ok {
			tag = renderer.NewStyle().Foreground(color).Render(tag)
		}
		fmt.Fprintln(w, formatLine(tag, result))
		if result.Status == StatusFail && result.FixHint != "" {
			fmt.Fprintf(w, "         %-40s  fix: %s\n", "", result.FixHint)
			if result.HasFix() {
				fixable++
			}
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d passed, %d failed, %d warnings", report.Passed, report.Failed, report.Warned)
	if report.Skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", report.Skipped)
	}
	if report.Fixed > 0 {
		fmt.Fprintf(w, ", %d fixed", report.Fixed)
	}
	fmt.Fprintln(w)

	if !report.OK() {
		if !fixMode && fixable > 0 {
			fmt.Fprintf(w, "Run \"credboot doctor --fix\" to repair %d issue(s).\n", fixable)
		}
		return ErrChecksFailed
	}
	return nil
}
