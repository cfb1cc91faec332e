package utils

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"assetdl/internal/models"
)

// RenderStatusTable renders one row per transfer item.
func RenderStatusTable(items []models.TransferItem) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(table.Row{"File", "Status", "Progress", "Size", "Error"})

	for _, item := range items {
		tw.AppendRow(table.Row{
			item.RelativePath,
			item.Status.String(),
			fmt.Sprintf("%d%%", item.Progress),
			FormatBytes(item.Size),
			item.Error,
		})
	}

	stats := models.ComputeStats(items)
	tw.AppendFooter(table.Row{
		fmt.Sprintf("%d files", stats.Total),
		fmt.Sprintf("%d ok / %d failed", stats.Completed, stats.Failed),
		"", "", "",
	})

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 5, WidthMax: 60},
	})

	return tw.Render()
}
