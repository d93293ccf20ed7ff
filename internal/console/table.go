package console

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/MrWong99/livetranslate/pkg/types"
)

// renderHistory renders lines newest first.
func renderHistory(lines []types.TranslationLine) string {
	if len(lines) == 0 {
		return "no lines yet"
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Time", "Lang", "Original", "Translation"})
	for i := len(lines) - 1; i >= 0; i-- {
		l := lines[i]
		tw.AppendRow(table.Row{
			strconv.FormatUint(l.Sequence, 10),
			l.Timestamp.Format(timeLayout),
			l.SourceLang + "→" + l.TargetLang,
			l.Original,
			l.Translated,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 4, WidthMax: 48},
		{Number: 5, WidthMax: 48},
	})
	return tw.Render()
}
