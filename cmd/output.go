// SPDX-License-Identifier: MIT
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"moodtap/internal/mood"
	"moodtap/internal/session"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	titleCaser = cases.Title(language.English)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E05252")).
			Padding(0, 1)
)

// moodLabel is the display form of a mood, e.g. "Melancholic".
func moodLabel(m mood.Mood) string {
	return titleCaser.String(m.String())
}

// reportLine is the JSON form of one analyzed source.
type reportLine struct {
	session.Report
	Label   string `json:"label"`
	Error   string `json:"error,omitempty"`
	Elapsed string `json:"elapsed,omitempty"`
}

// writeJSON writes one report per line.
func writeJSON(w io.Writer, rep session.Report, err error, elapsed time.Duration) error {
	line := reportLine{Report: rep, Label: moodLabel(rep.Mood)}
	if err != nil {
		line.Error = err.Error()
	}
	if elapsed > 0 {
		line.Elapsed = elapsed.Round(time.Millisecond).String()
	}
	return json.NewEncoder(w).Encode(line)
}

// resultRow is one line of the batch summary table.
type resultRow struct {
	path   string
	report session.Report
	err    error
}

// renderTable formats the batch results sorted by path.
func renderTable(rows []resultRow) string {
	sort.Slice(rows, func(i, j int) bool { return rows[i].path < rows[j].path })

	errRows := make(map[int]bool)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("File", "Mood", "Confidence", "Stable", "Tempo", "Energy", "Valence", "Dance", "Cached")
	for i, r := range rows {
		name := filepath.Base(r.path)
		if r.err != nil {
			errRows[i] = true
			t.Row(name, "error", truncate(r.err.Error(), 48), "", "", "", "", "", "")
			continue
		}
		f := r.report.Features
		cached := ""
		if r.report.Cached {
			cached = "yes"
		}
		t.Row(
			name,
			moodLabel(r.report.Mood),
			fmt.Sprintf("%.2f", r.report.Confidence),
			moodLabel(r.report.Committed),
			fmt.Sprintf("%.0f", f.Tempo),
			fmt.Sprintf("%.2f", f.Energy),
			fmt.Sprintf("%.2f", f.Valence),
			fmt.Sprintf("%.2f", f.Danceability),
			cached,
		)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case errRows[row]:
			return errorStyle
		default:
			return cellStyle
		}
	})
	return t.String()
}

// renderSummary describes the session after a batch or live run. The
// distribution is over the stable mood of each report.
func renderSummary(sum session.Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s\n", sum.ID)
	fmt.Fprintf(&sb, "  Current mood: %s (%.2f)\n", moodLabel(sum.Current), sum.Confidence)
	fmt.Fprintf(&sb, "  Reports: %d, mood changes: %d\n", sum.Reports, sum.Changes)

	moods := make([]mood.Mood, 0, len(sum.Distribution))
	for m := range sum.Distribution {
		moods = append(moods, m)
	}
	sort.Slice(moods, func(i, j int) bool {
		if sum.Distribution[moods[i]] != sum.Distribution[moods[j]] {
			return sum.Distribution[moods[i]] > sum.Distribution[moods[j]]
		}
		return moods[i] < moods[j]
	})
	for _, m := range moods {
		share := float64(sum.Distribution[m]) / float64(sum.Reports)
		fmt.Fprintf(&sb, "  %-12s %3d  %5.1f%%\n", moodLabel(m), sum.Distribution[m], share*100)
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
