package main

import (
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"deck-updater/pkg/scheduler"
)

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderRunTable prints one row per page followed by the failed articles.
func renderRunTable(run *scheduler.RunResult) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("Run %s (%d articles, page size %d)", run.RunID, run.Total, run.PageSize)
	tw.AppendHeader(table.Row{"Page", "Skip", "Updated", "Unchanged", "Failed", "Slide failures", "Persisted", "Error"})

	for _, p := range run.Pages {
		tw.AppendRow(table.Row{
			p.Index,
			p.Skip,
			p.Count(scheduler.StatusUpdated),
			p.Count(scheduler.StatusUnchanged),
			p.Count(scheduler.StatusFailed),
			p.SynthesisFailures(),
			strconv.FormatBool(p.Persisted),
			p.Error,
		})
	}
	tw.AppendFooter(table.Row{
		"", "Total",
		run.Count(scheduler.StatusUpdated),
		run.Count(scheduler.StatusUnchanged),
		run.Count(scheduler.StatusFailed),
		"", "", "",
	})

	columnConfigs := make([]table.ColumnConfig, 0, 6)
	for i := 1; i <= 6; i++ {
		columnConfigs = append(columnConfigs, table.ColumnConfig{Number: i, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(columnConfigs)

	out := tw.Render()

	failures := table.NewWriter()
	failures.SetStyle(table.StyleRounded)
	failures.AppendHeader(table.Row{"Page", "Article", "Reason"})
	n := 0
	for _, p := range run.Pages {
		for _, o := range p.Outcomes {
			if o.Status == scheduler.StatusFailed {
				failures.AppendRow(table.Row{p.Index, o.Title, o.Error})
				n++
			}
		}
	}
	if n > 0 {
		out += "\n" + failures.Render()
	}
	return out
}
