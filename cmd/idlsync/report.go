// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/idlsync/idlsync/internal/aggregate"
	"github.com/idlsync/idlsync/internal/engine"
)

// writeReport prints r as styled text, or as indented JSON when asJSON is set.
func writeReport(w io.Writer, r *engine.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	_, err := io.WriteString(w, renderReport(r))
	return err
}

func renderReport(r *engine.Report) string {
	var sb strings.Builder

	took := SubtitleStyle.Render(fmt.Sprintf(" (%s)", r.Duration().Round(time.Millisecond)))
	if r.Succeeded() {
		sb.WriteString(SuccessStyle.Render("✓ ") + TitleStyle.Render("Sync published") + took + "\n")
		sb.WriteString(reportLabelStyle.Render("commit") + commitSummary(r) + "\n")
	} else {
		sb.WriteString(ErrorStyle.Render("✗ ") + TitleStyle.Render("Sync failed at "+r.FailedStage.String()) + took + "\n")
	}

	if len(r.Sources) > 0 {
		sb.WriteString("\n" + TitleStyle.Render("Sources") + "\n")
		width := 0
		for _, s := range r.Sources {
			width = max(width, len(s.Name))
		}
		for _, s := range r.Sources {
			sb.WriteString(sourceLine(s, width))
		}
	}

	if len(r.Collisions) > 0 {
		sb.WriteString("\n" + TitleStyle.Render("Collisions") + "\n")
		for _, c := range r.Collisions {
			sb.WriteString(collisionLine(c))
		}
	}

	return sb.String()
}

func commitSummary(r *engine.Report) string {
	commit := CmdStyle.Render(r.Commit.Short())
	if !r.Changed {
		return commit + SubtitleStyle.Render("  no changes")
	}
	summary := fmt.Sprintf("%s  #%d", commit, r.Sequence)
	if r.Pushed {
		summary += SuccessStyle.Render("  pushed")
	}
	return summary
}

func sourceLine(s engine.SourceReport, width int) string {
	var marker string
	switch s.Status {
	case engine.SourceOK:
		marker = SuccessStyle.Render("✓")
	case engine.SourceStale:
		marker = WarningStyle.Render("~")
	default:
		marker = ErrorStyle.Render("✗")
	}

	name := CmdStyle.Render(fmt.Sprintf("%-*s", width, s.Name))
	line := fmt.Sprintf("  %s %s  %-6s", marker, name, s.Status)
	if s.Commit != "" {
		line += "  " + s.Commit.Short()
	}
	line += SubtitleStyle.Render(fmt.Sprintf("  %s", pluralFiles(len(s.Files)))) + "\n"

	if s.Error != "" {
		detail := s.Error
		if s.Stage != "" {
			detail = fmt.Sprintf("%s: %s", s.Stage, s.Error)
		}
		line += "      " + VerboseStyle.Render(detail) + "\n"
	}
	return line
}

func collisionLine(c aggregate.Collision) string {
	names := make([]string, 0, len(c.Contenders))
	for i, contender := range c.Contenders {
		label := string(contender.Source)
		if contender.Stale {
			label += " (stale)"
		}
		if i == 0 {
			label += " (kept)"
		}
		names = append(names, label)
	}
	return fmt.Sprintf("  %s %s  %s\n", WarningStyle.Render("!"), CmdStyle.Render(c.Filename), strings.Join(names, ", "))
}

func pluralFiles(n int) string {
	if n == 1 {
		return "1 file"
	}
	return fmt.Sprintf("%d files", n)
}
