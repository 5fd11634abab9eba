package cli

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/matzehuels/vpmlisting/pkg/vpm"
)

// writeSummary prints one row per package with its newest version.
func writeSummary(w io.Writer, l *vpm.Listing) {
	if len(l.Packages) == 0 {
		printWarning(w, "listing %s has no packages", l.ID)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Package", "Name", "Latest", "Versions"})
	for _, id := range l.PackageIDs() {
		pv := l.Packages[id]
		latest := pv.Latest()
		if latest == nil {
			continue
		}
		t.AppendRow(table.Row{id, latest.DisplayName, latest.Version, len(pv.Versions)})
	}
	t.AppendFooter(table.Row{"", "", "Total", l.VersionCount()})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
}
