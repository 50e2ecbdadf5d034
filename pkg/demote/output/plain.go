package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/demote/pkg/demote/types"
)

// PlainFormatter writes colored, human-oriented lines. Colors follow the
// status class and drop out automatically when stdout is not a terminal.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	if r.Daemon != nil {
		writeDaemon(w, r.Daemon)
		if len(r.Results) > 0 || len(r.History) > 0 {
			w.WriteString("\n")
		}
	}

	for _, res := range r.Results {
		w.WriteString(resultLine(res))
		w.WriteString("\n")
	}

	if len(r.History) > 0 && len(r.Results) > 0 {
		w.WriteString("\n")
	}
	for _, rec := range r.History {
		w.WriteString(historyLine(rec))
		w.WriteString("\n")
	}
	return nil
}

// FormatEvent writes one event as a single line.
func (f *PlainFormatter) FormatEvent(w *bytes.Buffer, ev types.StatusEvent) error {
	w.WriteString(eventLine(ev))
	w.WriteString("\n")
	return nil
}

func writeDaemon(w *bytes.Buffer, d *Daemon) {
	row := func(label, value string) {
		fmt.Fprintf(w, "%s %s\n", LabelStyle.Render(fmt.Sprintf("%-10s", label)), ValueStyle.Render(value))
	}

	w.WriteString(TitleStyle.Render("demoted"))
	w.WriteString("\n")
	row("State", d.State)
	row("PID", fmt.Sprintf("%d", d.PID))
	if d.Version != "" {
		row("Version", d.Version)
	}
	if !d.StartedAt.IsZero() {
		row("Started", humanize.Time(d.StartedAt))
	}
	row("Interval", fmt.Sprintf("%ds", d.Interval))
	row("Priority", d.Priority)
	row("Targets", strings.Join(d.Targets, ", "))
	row("Ticks", humanize.Comma(int64(d.Ticks)))
	row("Watchers", fmt.Sprintf("%d", d.Subscribers))
	if !d.Elevated {
		row("Elevated", WarningStyle.Render("no"))
	}
	if !d.History {
		row("History", MutedStyle.Render("disabled"))
	}
}

func resultLine(res types.CheckResult) string {
	parts := []string{ClassStyle(res.Outcome.Class()).Render(res.Status)}
	if res.PID > 0 {
		parts = append(parts, MutedStyle.Render(fmt.Sprintf("pid %d", res.PID)))
	}
	if detail := reportDetail(res.Report); detail != "" {
		parts = append(parts, MutedStyle.Render(detail))
	}
	if !res.Checked.IsZero() {
		parts = append(parts, MutedStyle.Render("checked "+humanize.Time(res.Checked)))
	}
	return strings.Join(parts, "  ")
}

func reportDetail(rep types.Report) string {
	var parts []string
	if rep.PriorityRead && rep.PriorityBefore != "" {
		s := "priority " + rep.PriorityBefore
		if rep.PrioritySet && rep.PriorityFixed {
			s += " (fixed)"
		}
		parts = append(parts, s)
	}
	if rep.AffinityRead {
		s := "affinity " + Mask(rep.AffinityBefore)
		if rep.AffinityBefore != rep.TargetMask {
			s += " -> " + Mask(rep.TargetMask)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

func historyLine(rec types.HistoryRecord) string {
	change := rec.Outcome.String()
	if rec.Previous != "" && rec.Previous != change {
		change = rec.Previous + " -> " + change
	}
	parts := []string{
		MutedStyle.Render(rec.Time.Local().Format("2006-01-02 15:04:05")),
		rec.Name,
		ClassStyle(rec.Outcome.Class()).Render(change),
	}
	if rec.PID > 0 {
		parts = append(parts, MutedStyle.Render(fmt.Sprintf("pid %d", rec.PID)))
	}
	if rec.Source == types.SourceManual {
		parts = append(parts, MutedStyle.Render("manual"))
	}
	return strings.Join(parts, "  ")
}

func eventLine(ev types.StatusEvent) string {
	parts := []string{
		MutedStyle.Render(ev.Time.Local().Format("15:04:05")),
		ClassStyle(ev.Class).Render(ev.Status),
	}
	if ev.PID > 0 {
		parts = append(parts, MutedStyle.Render(fmt.Sprintf("pid %d", ev.PID)))
	}
	if ev.Source == types.SourceManual {
		parts = append(parts, MutedStyle.Render("manual"))
	}
	return strings.Join(parts, "  ")
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

var _ Formatter = (*PlainFormatter)(nil)
