package output

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/demote/pkg/demote/types"
)

// TableFormatter writes results and history as bordered tables.
type TableFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *TableFormatter) Format(w *bytes.Buffer, r *Result) error {
	if r.Daemon != nil {
		writeDaemon(w, r.Daemon)
		w.WriteString("\n")
	}

	if len(r.Results) > 0 {
		classes := make([]types.Class, 0, len(r.Results))
		t := newTable("TARGET", "STATUS", "PID", "PRIORITY", "AFFINITY", "CHECKED")
		for _, res := range r.Results {
			classes = append(classes, res.Outcome.Class())
			t.Row(
				res.Name,
				res.Outcome.String(),
				pidCell(res.PID),
				priorityCell(res.Report),
				affinityCell(res.Report),
				agoCell(res.Checked.IsZero(), humanize.Time(res.Checked)),
			)
		}
		t.StyleFunc(statusStyle(classes, 1))
		w.WriteString(t.Render())
		w.WriteString("\n")
	}

	if len(r.History) > 0 {
		classes := make([]types.Class, 0, len(r.History))
		t := newTable("TIME", "TARGET", "PREVIOUS", "OUTCOME", "PID", "SOURCE")
		for _, rec := range r.History {
			classes = append(classes, rec.Outcome.Class())
			t.Row(
				rec.Time.Local().Format("2006-01-02 15:04:05"),
				rec.Name,
				rec.Previous,
				rec.Outcome.String(),
				pidCell(rec.PID),
				string(rec.Source),
			)
		}
		t.StyleFunc(statusStyle(classes, 3))
		w.WriteString(t.Render())
		w.WriteString("\n")
	}
	return nil
}

// FormatEvent writes one fixed-width row per event.
func (f *TableFormatter) FormatEvent(w *bytes.Buffer, ev types.StatusEvent) error {
	_, err := fmt.Fprintf(w, "%-8s  %-20s  %-11s  %-6s  %s\n",
		ev.Time.Local().Format("15:04:05"),
		ev.Name,
		ev.Outcome.String(),
		pidCell(ev.PID),
		ev.Source,
	)
	return err
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(MutedStyle).
		Headers(headers...)
}

// statusStyle colors the given column by each row's class.
func statusStyle(classes []types.Class, col int) table.StyleFunc {
	return func(row, c int) lipgloss.Style {
		if row == table.HeaderRow {
			return TableHeaderStyle
		}
		if c == col && row >= 0 && row < len(classes) {
			return ClassStyle(classes[row]).PaddingRight(2)
		}
		return TableCellStyle
	}
}

func pidCell(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}

func priorityCell(rep types.Report) string {
	if !rep.PriorityRead || rep.PriorityBefore == "" {
		return "-"
	}
	return rep.PriorityBefore
}

func affinityCell(rep types.Report) string {
	if !rep.AffinityRead {
		return "-"
	}
	if rep.AffinityBefore == rep.TargetMask {
		return Mask(rep.TargetMask)
	}
	return Mask(rep.AffinityBefore) + " -> " + Mask(rep.TargetMask)
}

func agoCell(zero bool, ago string) string {
	if zero {
		return "-"
	}
	return ago
}

func init() {
	Register("table", func() Formatter {
		return &TableFormatter{}
	})
}

var _ Formatter = (*TableFormatter)(nil)
