package main

import (
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"tomoprep/internal/orchestrator"
	"tomoprep/internal/store"
)

var statusHeader = []string{"POSITION", "STAGE", "STATUS", "ATTEMPTS", "LAST FAILURE"}

// statusTable renders the per-position report as a rounded table for
// interactive terminals.
func statusTable(rows []orchestrator.ReportRow) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(statusHeader))
	for i, cell := range statusHeader {
		header[i] = cell
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		tw.AppendRow(table.Row{
			row.Position,
			row.Stage,
			statusLabel(row.Status),
			row.Attempts,
			row.Failure,
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

// statusPlain renders the same report tab-separated for pipes and scripts.
func statusPlain(rows []orchestrator.ReportRow) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(statusHeader, "\t"))
	for _, row := range rows {
		sb.WriteByte('\n')
		sb.WriteString(row.Position)
		sb.WriteByte('\t')
		sb.WriteString(row.Stage)
		sb.WriteByte('\t')
		sb.WriteString(statusLabel(row.Status))
		sb.WriteByte('\t')
		sb.WriteString(strconv.Itoa(row.Attempts))
		sb.WriteByte('\t')
		sb.WriteString(row.Failure)
	}
	return sb.String()
}

// statusLabel turns the zero value into the implicit pending state so a
// position with no persisted rows still reads sensibly.
func statusLabel(status store.Status) string {
	if status == "" {
		return string(store.StatusPending)
	}
	return string(status)
}
