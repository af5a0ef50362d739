// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package mdview renders markdown as ANSI-styled text for terminal
// display. Paragraphs hard-wrapped in the source reflow to the target
// width, fenced code blocks are syntax-highlighted, and GFM tables,
// task lists, and blockquotes get plain-text affordances. The
// changelog command uses it to show the app repository's release
// notes.
package mdview

import (
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// palette is the fixed dark-terminal color scheme, in ANSI 256-color
// codes for broad terminal compatibility.
type palette struct {
	text    lipgloss.Color
	faint   lipgloss.Color
	heading lipgloss.Color
	rule    lipgloss.Color
	accent  lipgloss.Color
}

var defaultPalette = palette{
	text:    lipgloss.Color("252"),
	faint:   lipgloss.Color("244"),
	heading: lipgloss.Color("81"),
	rule:    lipgloss.Color("240"),
	accent:  lipgloss.Color("114"),
}

// The parser configuration never changes and a goldmark parser is safe
// to share; per-call parse state lives in the text.Reader.
var (
	parserOnce sync.Once
	parserInst goldmark.Markdown
)

func parser() goldmark.Markdown {
	parserOnce.Do(func() {
		parserInst = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return parserInst
}

// Render parses markdown and returns ANSI-styled text wrapped to the
// given width. Soft line breaks inside paragraphs become spaces, so
// source text hard-wrapped at one width reflows cleanly at another.
func Render(input string, width int) string {
	if input == "" {
		return ""
	}
	source := []byte(input)
	document := parser().Parser().Parse(text.NewReader(source))

	// Output always targets a terminal, so force the color profile
	// instead of auto-detecting: detection yields uncolored output
	// when stdout is not a TTY. SetColorProfile is needed on top of
	// the constructor option because lipgloss re-detects from the
	// environment unless the profile is set explicitly.
	styles := lipgloss.NewRenderer(os.Stderr, termenv.WithProfile(termenv.ANSI256))
	styles.SetColorProfile(termenv.ANSI256)

	w := &walker{
		source: source,
		pal:    defaultPalette,
		width:  width,
		styles: styles,
	}
	ast.Walk(document, w.walk)
	return strings.TrimRight(w.out.String(), "\n")
}

// walker turns a goldmark AST into styled terminal text. Inline
// content accumulates in the span buffer and is word-wrapped as a unit
// when its enclosing block closes; goldmark's streaming renderer
// interface cannot express accumulate-then-wrap without intermediate
// buffers, so blocks are handled with a direct ast.Walk instead.
type walker struct {
	source []byte
	pal    palette
	width  int
	styles *lipgloss.Renderer

	out strings.Builder

	// span collects styled inline fragments within the current
	// paragraph, heading, or list item.
	span strings.Builder

	// Prefix stack for nested containers (blockquotes, list items).
	stack       []prefix
	linePrefix  string
	prefixWidth int

	// bullet, when armed, replaces the line prefix for the next
	// emitted line. Cleared after use.
	bullet string

	// Nesting counters for inline styles; counters rather than flags
	// so nested emphasis unwinds correctly.
	bold   int
	italic int
	strike int

	lists []listLevel

	// Trailing newline count at the end of out, for spacing control.
	tail int
}

type prefix struct {
	text  string
	width int
}

type listLevel struct {
	ordered bool
	next    int
	tight   bool
}

func (w *walker) style() lipgloss.Style { return w.styles.NewStyle() }

// wrapWidth is the content width left after nesting prefixes, clamped
// so deep nesting cannot degenerate into one-character columns.
func (w *walker) wrapWidth() int {
	width := w.width - w.prefixWidth
	if width < 10 {
		width = 10
	}
	return width
}

func (w *walker) push(text string, width int) {
	w.stack = append(w.stack, prefix{text: text, width: width})
	w.linePrefix += text
	w.prefixWidth += width
}

func (w *walker) pop() {
	if len(w.stack) == 0 {
		return
	}
	top := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	w.linePrefix = w.linePrefix[:len(w.linePrefix)-len(top.text)]
	w.prefixWidth -= top.width
}

func (w *walker) inTightList() bool {
	if len(w.lists) == 0 {
		return false
	}
	return w.lists[len(w.lists)-1].tight
}

// emit appends rendered text to the output, tracking how many
// newlines now trail it.
func (w *walker) emit(s string) {
	if s == "" {
		return
	}
	w.out.WriteString(s)
	count := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\n'; i-- {
		count++
	}
	if count == len(s) {
		w.tail += count
	} else {
		w.tail = count
	}
}

func (w *walker) endLine() {
	if w.tail < 1 {
		w.emit("\n")
	}
}

func (w *walker) blankLine() {
	for w.tail < 2 {
		w.emit("\n")
	}
}

// takePrefix returns the prefix for the next emitted line: the armed
// list bullet if one is pending, otherwise the container prefix.
func (w *walker) takePrefix() string {
	if w.bullet != "" {
		b := w.bullet
		w.bullet = ""
		return b
	}
	return w.linePrefix
}

// prefixed prepends the line prefix to every line of content. The
// first line may consume a pending bullet.
func (w *walker) prefixed(content string) string {
	lines := strings.Split(content, "\n")
	var b strings.Builder
	for i, line := range lines {
		if i == 0 {
			b.WriteString(w.takePrefix())
		} else {
			b.WriteString(w.linePrefix)
		}
		b.WriteString(line)
		if i < len(lines)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// flushSpan word-wraps the accumulated inline content and applies line
// prefixes. Resets the span buffer.
func (w *walker) flushSpan() string {
	content := w.span.String()
	w.span.Reset()
	if content == "" {
		return ""
	}
	return w.prefixed(ansi.Wrap(content, w.wrapWidth(), " ,.;-"))
}

// styled renders text with the active inline styles.
func (w *walker) styled(content string) string {
	style := w.style().Foreground(w.pal.text)
	if w.bold > 0 {
		style = style.Bold(true)
	}
	if w.italic > 0 {
		style = style.Italic(true)
	}
	if w.strike > 0 {
		style = style.Strikethrough(true)
	}
	return style.Render(content)
}

// inlineText renders a node's children to a string without disturbing
// the caller's span buffer or style counters.
func (w *walker) inlineText(node ast.Node) string {
	savedSpan := w.span.String()
	savedBold, savedItalic, savedStrike := w.bold, w.italic, w.strike

	w.span.Reset()
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		ast.Walk(child, w.walk)
	}
	result := w.span.String()

	w.span.Reset()
	w.span.WriteString(savedSpan)
	w.bold, w.italic, w.strike = savedBold, savedItalic, savedStrike
	return result
}
