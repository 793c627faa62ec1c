package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/John-Robertt/coverfetch/internal/domain"
)

// maxFailedNames 是终端摘要中最多列出的失败名称数。
const maxFailedNames = 20

// renderSummary 输出 downloaded/exists/failed 计数表，以及（最多 20 个）失败条目名称。
func renderSummary(w io.Writer, rr domain.RunReport) {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"status", "count"})
	tw.AppendRow(table.Row{domain.StatusDownloaded, strconv.Itoa(rr.Summary.Downloaded)})
	tw.AppendRow(table.Row{domain.StatusExists, strconv.Itoa(rr.Summary.Exists)})
	tw.AppendRow(table.Row{domain.StatusFailed, strconv.Itoa(rr.Summary.Failed)})
	if rr.Summary.Interrupted > 0 {
		tw.AppendRow(table.Row{domain.StatusInterrupted, strconv.Itoa(rr.Summary.Interrupted)})
	}
	tw.AppendFooter(table.Row{"total", strconv.Itoa(rr.Summary.Total)})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignFooter: text.AlignLeft},
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})

	title := "完成"
	if rr.DryRun {
		title = "完成（dry-run）"
	}
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, tw.Render())

	if rr.Aborted != "" {
		fmt.Fprintf(w, "已提前停止：%s\n", rr.Aborted)
	}

	names := rr.FailedNames()
	if len(names) == 0 {
		return
	}
	fmt.Fprintln(w, "失败：")
	for i, n := range names {
		if i == maxFailedNames {
			fmt.Fprintf(w, "  ... and %d more\n", len(names)-maxFailedNames)
			break
		}
		fmt.Fprintf(w, "  - %s\n", n)
	}
}
