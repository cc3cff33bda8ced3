package display

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment of a column's cells
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignCenter
	AlignRight
)

// BorderStyle holds the glyphs of a table frame. Each edge is left, junction, right.
type BorderStyle struct {
	Top, Separator, Bottom [3]string
	Horizontal, Vertical   string
}

func (b BorderStyle) framed() bool { return b.Horizontal != "" }

// TableStyle is the look of a table
type TableStyle struct {
	Name            string
	Border          BorderStyle
	HeaderSeparator bool
	Padding         int
	// MaxWidth clamps the table; 0 means the terminal width, -1 means unlimited
	MaxWidth int
}

var (
	ASCIIBorder = BorderStyle{
		Top:        [3]string{"+", "+", "+"},
		Separator:  [3]string{"+", "+", "+"},
		Bottom:     [3]string{"+", "+", "+"},
		Horizontal: "-",
		Vertical:   "|",
	}
	RoundedBorder = BorderStyle{
		Top:        [3]string{"╭", "┬", "╮"},
		Separator:  [3]string{"├", "┼", "┤"},
		Bottom:     [3]string{"╰", "┴", "╯"},
		Horizontal: "─",
		Vertical:   "│",
	}

	DefaultTableStyle = TableStyle{Name: "default", Border: ASCIIBorder, HeaderSeparator: true, Padding: 1}
	RoundedTableStyle = TableStyle{Name: "rounded", Border: RoundedBorder, HeaderSeparator: true, Padding: 1}
	// CompactTableStyle has no frame, for piping into other tools
	CompactTableStyle = TableStyle{Name: "compact", Padding: 1, MaxWidth: -1}
)

var tableStyles = map[string]TableStyle{
	"default": DefaultTableStyle,
	"rounded": RoundedTableStyle,
	"compact": CompactTableStyle,
}

// GetTableStyle returns a table style by name, the default when unknown
func GetTableStyle(name string) TableStyle {
	if style, ok := tableStyles[name]; ok {
		return style
	}
	return DefaultTableStyle
}

// Table accumulates rows and renders them in a TableStyle
type Table struct {
	headers       []string
	rows          [][]string
	alignments    map[int]Alignment
	style         TableStyle
	colors        ColorSystem
	terminalWidth int
}

// NewTable creates a table whose headers use the theme's primary color
func NewTable(colors ColorSystem, headers ...string) *Table {
	return &Table{
		headers:       headers,
		alignments:    make(map[int]Alignment),
		style:         DefaultTableStyle,
		colors:        colors,
		terminalWidth: terminalWidth(),
	}
}

func (t *Table) AddRow(row []string) {
	t.rows = append(t.rows, row)
}

func (t *Table) SetColumnAlignment(column int, alignment Alignment) {
	t.alignments[column] = alignment
}

func (t *Table) SetStyle(style TableStyle) {
	t.style = style
}

// Render returns the table text, or "" when there are no headers and no rows
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}

	widths := t.fit(t.naturalWidths())
	border := t.style.Border
	var b strings.Builder

	if border.framed() {
		t.writeRule(&b, widths, border.Top)
	}
	if len(t.headers) > 0 {
		t.writeRow(&b, t.headers, widths, true)
		if t.style.HeaderSeparator && border.framed() {
			t.writeRule(&b, widths, border.Separator)
		}
	}
	for _, row := range t.rows {
		t.writeRow(&b, row, widths, false)
	}
	if border.framed() {
		t.writeRule(&b, widths, border.Bottom)
	}
	return b.String()
}

// WriteTo writes the rendered table to w
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, t.Render())
	return int64(n), err
}

// naturalWidths is the widest cell of each column plus padding
func (t *Table) naturalWidths() []int {
	cols := len(t.headers)
	for _, row := range t.rows {
		cols = max(cols, len(row))
	}

	widths := make([]int, cols)
	for _, row := range append([][]string{t.headers}, t.rows...) {
		for i, cell := range row {
			widths[i] = max(widths[i], visibleWidth(cell))
		}
	}
	for i := range widths {
		widths[i] += t.style.Padding * 2
	}
	return widths
}

// fit narrows the widest column one cell at a time until the table fits the
// max width or every column is at its minimum, so short columns such as IDs
// and statuses keep their full text
func (t *Table) fit(widths []int) []int {
	limit := t.style.MaxWidth
	if limit == 0 {
		limit = t.terminalWidth
	}
	if limit <= 0 || len(widths) == 0 {
		return widths
	}

	frame := 0
	if t.style.Border.Vertical != "" {
		frame = len(widths) + 1
	}
	total := frame
	for _, w := range widths {
		total += w
	}

	minWidth := t.style.Padding*2 + 3
	for total > limit {
		widest := 0
		for i, w := range widths {
			if w > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= minWidth {
			break
		}
		widths[widest]--
		total--
	}
	return widths
}

func (t *Table) writeRule(b *strings.Builder, widths []int, glyphs [3]string) {
	b.WriteString(glyphs[0])
	for i, width := range widths {
		if i > 0 {
			b.WriteString(glyphs[1])
		}
		b.WriteString(strings.Repeat(t.style.Border.Horizontal, width))
	}
	b.WriteString(glyphs[2])
	b.WriteByte('\n')
}

func (t *Table) writeRow(b *strings.Builder, row []string, widths []int, header bool) {
	var line strings.Builder
	line.WriteString(t.style.Border.Vertical)
	for i, width := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		line.WriteString(t.cell(cell, width, t.alignments[i], header))
		line.WriteString(t.style.Border.Vertical)
	}
	b.WriteString(strings.TrimRight(line.String(), " "))
	b.WriteByte('\n')
}

func (t *Table) cell(content string, width int, alignment Alignment, header bool) string {
	room := max(width-t.style.Padding*2, 0)
	content = truncate(content, room)
	gap := room - visibleWidth(content)

	if header && t.colors != nil {
		content = t.colors.Colorize(content, t.colors.GetTheme().Primary)
	}

	left, right := 0, gap
	switch alignment {
	case AlignCenter:
		left = gap / 2
		right = gap - left
	case AlignRight:
		left, right = gap, 0
	}

	pad := t.style.Padding
	return strings.Repeat(" ", left+pad) + content + strings.Repeat(" ", right+pad)
}

// truncate shortens s to width visible runes, ending in "..." when there is room
func truncate(s string, width int) string {
	if visibleWidth(s) <= width {
		return s
	}
	runes := []rune(stripANSI(s))
	if width > 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

// visibleWidth counts runes, ignoring ANSI color sequences
func visibleWidth(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

func stripANSI(s string) string {
	if !strings.Contains(s, "\x1b[") {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			escaped = true
		case escaped:
			escaped = r != 'm'
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return -1
	}
	return width
}
