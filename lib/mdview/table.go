// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package mdview

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
)

const cellGap = "  "

func (w *walker) table(table *extast.Table) {
	var header []string
	var rows [][]string
	for child := table.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.Kind() {
		case extast.KindTableHeader:
			header = w.tableCells(child)
		case extast.KindTableRow:
			rows = append(rows, w.tableCells(child))
		}
	}

	columns := len(header)
	if columns == 0 && len(rows) > 0 {
		columns = len(rows[0])
	}
	if columns == 0 {
		return
	}

	widths := make([]int, columns)
	measure := func(cells []string) {
		for i, cell := range cells {
			if i < columns && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	measure(header)
	for _, row := range rows {
		measure(row)
	}

	// When the natural widths overflow the terminal, cap every column
	// at an equal share and let padCell truncate the content.
	available := w.wrapWidth() - len(cellGap)*(columns-1)
	total := 0
	for _, width := range widths {
		total += width
	}
	if total > available {
		share := available / columns
		if share < 3 {
			share = 3
		}
		for i, width := range widths {
			if width > share {
				widths[i] = share
			}
		}
	}

	w.blankLine()
	if len(header) > 0 {
		bold := w.style().Bold(true).Foreground(w.pal.text)
		w.emit(w.takePrefix() + w.tableRow(header, widths, table.Alignments, bold))
		w.endLine()

		divider := make([]string, columns)
		for i, width := range widths {
			divider[i] = strings.Repeat("─", width)
		}
		ruled := w.style().Foreground(w.pal.rule)
		w.emit(w.linePrefix + ruled.Render(strings.Join(divider, cellGap)))
		w.endLine()
	}
	for _, row := range rows {
		w.emit(w.linePrefix + w.tableRow(row, widths, table.Alignments, w.style()))
		w.endLine()
	}
	w.blankLine()
}

func (w *walker) tableCells(row ast.Node) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if cell.Kind() == extast.KindTableCell {
			cells = append(cells, w.inlineText(cell))
		}
	}
	return cells
}

func (w *walker) tableRow(cells []string, widths []int, alignments []extast.Alignment, style lipgloss.Style) string {
	parts := make([]string, len(widths))
	for i, width := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		var alignment extast.Alignment
		if i < len(alignments) {
			alignment = alignments[i]
		}
		parts[i] = padCell(cell, width, alignment)
	}
	return style.Render(strings.Join(parts, cellGap))
}

// padCell fits a cell to its column: overlong content is truncated
// with an ellipsis, the remainder padded per the column alignment.
func padCell(cell string, width int, alignment extast.Alignment) string {
	if lipgloss.Width(cell) > width {
		cell = ansi.Truncate(cell, width, "…")
	}
	pad := width - lipgloss.Width(cell)
	if pad < 0 {
		pad = 0
	}
	switch alignment {
	case extast.AlignRight:
		return strings.Repeat(" ", pad) + cell
	case extast.AlignCenter:
		left := pad / 2
		return strings.Repeat(" ", left) + cell + strings.Repeat(" ", pad-left)
	default:
		return cell + strings.Repeat(" ", pad)
	}
}
