// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package mdview

import (
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
)

func (w *walker) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node.Kind() {

	case ast.KindDocument:
		// Nothing to do at either boundary.

	case ast.KindParagraph, ast.KindTextBlock:
		if entering {
			w.span.Reset()
		} else if flushed := w.flushSpan(); flushed != "" {
			w.emit(flushed)
			w.endLine()
			if !w.inTightList() {
				w.blankLine()
			}
		}

	case ast.KindHeading:
		if entering {
			w.span.Reset()
		} else {
			w.heading(node.(*ast.Heading))
		}

	case ast.KindFencedCodeBlock:
		if entering {
			block := node.(*ast.FencedCodeBlock)
			w.codeLines(w.highlight(nodeText(block, w.source), string(block.Language(w.source))))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindCodeBlock:
		if entering {
			w.codeLines(w.highlight(nodeText(node, w.source), ""))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindBlockquote:
		if entering {
			w.push("│ ", 2)
		} else {
			w.pop()
			w.blankLine()
		}

	case ast.KindList:
		if entering {
			list := node.(*ast.List)
			start := 0
			if list.IsOrdered() {
				start = list.Start
			}
			w.lists = append(w.lists, listLevel{
				ordered: list.IsOrdered(),
				next:    start,
				tight:   list.IsTight,
			})
		} else {
			if len(w.lists) > 0 {
				w.lists = w.lists[:len(w.lists)-1]
			}
			if !w.inTightList() {
				w.blankLine()
			}
		}

	case ast.KindListItem:
		if entering {
			w.openItem()
		} else {
			w.pop()
			if w.inTightList() {
				w.endLine()
			} else {
				w.blankLine()
			}
		}

	case ast.KindThematicBreak:
		if entering {
			w.horizontalRule()
		}

	case ast.KindHTMLBlock:
		if entering {
			w.htmlBlock(node.(*ast.HTMLBlock))
			return ast.WalkSkipChildren, nil
		}

	// Inline nodes.
	case ast.KindText:
		if entering {
			t := node.(*ast.Text)
			w.span.WriteString(w.styled(string(t.Segment.Value(w.source))))
			if t.SoftLineBreak() {
				// A soft break is a space: text hard-wrapped in the
				// source reflows at the terminal's width.
				w.span.WriteString(" ")
			}
			if t.HardLineBreak() {
				w.span.WriteString("\n")
			}
		}

	case ast.KindString:
		if entering {
			w.span.WriteString(w.styled(string(node.(*ast.String).Value)))
		}

	case ast.KindEmphasis:
		delta := 1
		if !entering {
			delta = -1
		}
		if node.(*ast.Emphasis).Level >= 2 {
			w.bold += delta
		} else {
			w.italic += delta
		}

	case ast.KindCodeSpan:
		if entering {
			w.codeSpan(node)
			return ast.WalkSkipChildren, nil
		}

	case ast.KindLink:
		if entering {
			w.link(node.(*ast.Link))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindAutoLink:
		if entering {
			url := string(node.(*ast.AutoLink).URL(w.source))
			w.span.WriteString(w.style().Foreground(w.pal.faint).Render(url))
		}

	case ast.KindImage:
		if entering {
			w.image(node.(*ast.Image))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindRawHTML:
		if entering {
			w.rawHTML(node.(*ast.RawHTML))
		}

	// GFM extension nodes.
	case extast.KindStrikethrough:
		if entering {
			w.strike++
		} else {
			w.strike--
		}

	case extast.KindTable:
		if entering {
			w.table(node.(*extast.Table))
			return ast.WalkSkipChildren, nil
		}

	case extast.KindTaskCheckBox:
		if entering {
			if node.(*extast.TaskCheckBox).IsChecked {
				done := w.style().Foreground(w.pal.accent)
				w.span.WriteString(done.Render("[x]") + " ")
			} else {
				w.span.WriteString(w.styled("[ ] "))
			}
		}
	}

	return ast.WalkContinue, nil
}

// --- Block handlers ---

func (w *walker) heading(h *ast.Heading) {
	// Headings carry their own style; drop whatever inline styling
	// the children applied.
	content := ansi.Strip(w.span.String())
	w.span.Reset()
	if content == "" {
		return
	}
	style := w.style().Bold(true).Foreground(w.pal.text)
	if h.Level <= 2 {
		style = style.Foreground(w.pal.heading)
	}
	wrapped := ansi.Wrap(style.Render(content), w.wrapWidth(), " ,.;-")
	w.blankLine()
	w.emit(w.prefixed(wrapped))
	w.endLine()
	w.blankLine()
}

// codeLines emits pre-styled code verbatim, one output line per code
// line, never reflowed.
func (w *walker) codeLines(code string) {
	w.blankLine()
	for _, line := range strings.Split(strings.TrimRight(code, "\n"), "\n") {
		w.emit(w.takePrefix() + line)
		w.endLine()
	}
	w.blankLine()
}

// highlight runs chroma over fenced code. Code with no language tag,
// and highlighter failures, fall back to faint plain text styled per
// line so container prefixes do not split escape sequences.
func (w *walker) highlight(code, language string) string {
	if language != "" {
		var b strings.Builder
		if err := quick.Highlight(&b, code, language, "terminal256", "native"); err == nil {
			return b.String()
		}
	}
	faint := w.style().Foreground(w.pal.faint)
	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	for i, line := range lines {
		lines[i] = faint.Render(line)
	}
	return strings.Join(lines, "\n")
}

func (w *walker) openItem() {
	if len(w.lists) == 0 {
		return
	}
	level := &w.lists[len(w.lists)-1]
	var marker string
	if level.ordered {
		marker = fmt.Sprintf("%d. ", level.next)
		level.next++
	} else {
		marker = "• "
	}
	markerWidth := lipgloss.Width(marker)

	// The armed bullet carries the full current prefix so it replaces
	// the whole prefix on the item's first line; continuation lines
	// indent under the marker.
	w.bullet = w.linePrefix + marker
	w.push(strings.Repeat(" ", markerWidth), markerWidth)
}

func (w *walker) horizontalRule() {
	line := strings.Repeat("─", w.wrapWidth())
	w.blankLine()
	w.emit(w.prefixed(w.style().Foreground(w.pal.rule).Render(line)))
	w.endLine()
	w.blankLine()
}

func (w *walker) htmlBlock(block *ast.HTMLBlock) {
	content := strings.TrimSpace(stripTags(nodeText(block, w.source)))
	if content == "" {
		return
	}
	w.emit(w.prefixed(w.style().Foreground(w.pal.faint).Render(content)))
	w.endLine()
	w.blankLine()
}

// --- Inline handlers ---

func (w *walker) codeSpan(node ast.Node) {
	var code strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.Text:
			code.Write(c.Segment.Value(w.source))
		case *ast.String:
			code.Write(c.Value)
		}
	}
	w.span.WriteString(w.style().Foreground(w.pal.faint).Render(code.String()))
}

func (w *walker) link(node *ast.Link) {
	// inlineText applies the active styles already; write it as-is.
	w.span.WriteString(w.inlineText(node))
	if url := string(node.Destination); url != "" {
		w.span.WriteString(" " + w.style().Foreground(w.pal.faint).Render("("+url+")"))
	}
}

func (w *walker) image(node *ast.Image) {
	faint := w.style().Foreground(w.pal.faint)
	w.span.WriteString(faint.Render("[" + w.inlineText(node) + "]"))
	if url := string(node.Destination); url != "" {
		w.span.WriteString(" " + faint.Render("("+url+")"))
	}
}

func (w *walker) rawHTML(node *ast.RawHTML) {
	var html strings.Builder
	for i := 0; i < node.Segments.Len(); i++ {
		seg := node.Segments.At(i)
		html.Write(seg.Value(w.source))
	}
	if content := stripTags(html.String()); content != "" {
		w.span.WriteString(w.style().Foreground(w.pal.faint).Render(content))
	}
}

// --- Utilities ---

// nodeText concatenates the raw source segments of a block node.
func nodeText(node ast.Node, source []byte) string {
	var b strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}

// stripTags drops anything between < and >, keeping text content.
func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
