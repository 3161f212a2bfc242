package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"tilefeed/pkg/dataset"
	"tilefeed/pkg/labelstats"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row < 0:
				return headerRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

// labelTable lists every label value with its occurrence statistics.
func labelTable(summary []labelstats.LabelSummary) string {
	t := newPlainTable(lipgloss.Right).
		Headers("Label", "Voxels", "Images", "Share", "Mean/image", "Weight")
	for _, s := range summary {
		t.Row(
			strconv.Itoa(s.Value),
			humanize.Comma(s.Total),
			strconv.Itoa(s.Images),
			fmt.Sprintf("%.1f%%", 100*s.Fraction),
			humanize.CommafWithDigits(s.MeanPerImage, 1),
			fmt.Sprintf("%.4g", s.Weight),
		)
	}
	if len(summary) == 0 {
		t.Row("-", "0", "0", "-", "-", "-")
	}
	return t.String()
}

// imageTable lists every image with its shape and the number of tiles drawn
// from it.
func imageTable(ds *dataset.Dataset, drawn map[int]int) string {
	t := newPlainTable(lipgloss.Right, lipgloss.Left, lipgloss.Right).
		Headers("Image", "Shape (C,Z,X,Y)", "Labelled voxels", "Tiles")
	counts := ds.LabelStats().ImageCounts()
	for i := 0; i < ds.ImageCount(); i++ {
		shape, err := ds.ImageDimensions(i)
		shapeStr := fmt.Sprint(shape)
		if err != nil {
			shapeStr = "?"
		}
		var labelled int64
		if i < len(counts) {
			labelled = counts[i]
		}
		t.Row(strconv.Itoa(i), shapeStr, humanize.Comma(labelled), humanize.Comma(int64(drawn[i])))
	}
	return t.String()
}
