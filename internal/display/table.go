package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// TableFormatter builds and renders a text table
type TableFormatter interface {
	SetHeaders(headers []string)
	AddRow(row []string)
	SetColumnAlignment(column int, alignment Alignment)
	SetCellColor(row, column int, color Color)
	SetStyle(style TableStyle)
	SetMaxWidth(width int)
	Render() string
	RenderTo(writer io.Writer)
}

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// TableStyle defines the border characters of a table. An empty Vertical
// renders a borderless table.
type TableStyle struct {
	Name       string
	Corner     string
	Horizontal string
	Vertical   string
	Padding    int
}

var (
	// DefaultTableStyle is a simple ASCII table
	DefaultTableStyle = TableStyle{Name: "default", Corner: "+", Horizontal: "-", Vertical: "|", Padding: 1}

	// CompactTableStyle has no borders
	CompactTableStyle = TableStyle{Name: "compact", Padding: 1}
)

type cellKey struct{ row, col int }

type tableFormatter struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	cellColors map[cellKey]Color
	style      TableStyle
	maxWidth   int
	colors     ColorSystem
	theme      ColorTheme
}

// NewTableFormatter creates a table formatter. colors may be nil for plain output.
func NewTableFormatter(colors ColorSystem, theme ColorTheme) TableFormatter {
	return &tableFormatter{
		alignments: make(map[int]Alignment),
		cellColors: make(map[cellKey]Color),
		style:      DefaultTableStyle,
		maxWidth:   getTerminalWidth(),
		colors:     colors,
		theme:      theme,
	}
}

func (tf *tableFormatter) SetHeaders(headers []string) {
	tf.headers = headers
}

func (tf *tableFormatter) AddRow(row []string) {
	tf.rows = append(tf.rows, row)
}

func (tf *tableFormatter) SetColumnAlignment(column int, alignment Alignment) {
	tf.alignments[column] = alignment
}

func (tf *tableFormatter) SetCellColor(row, column int, color Color) {
	tf.cellColors[cellKey{row, column}] = color
}

func (tf *tableFormatter) SetStyle(style TableStyle) {
	tf.style = style
}

// SetMaxWidth caps the rendered width; 0 disables the cap
func (tf *tableFormatter) SetMaxWidth(width int) {
	tf.maxWidth = width
}

// Render returns the formatted table as a string
func (tf *tableFormatter) Render() string {
	if len(tf.headers) == 0 && len(tf.rows) == 0 {
		return ""
	}

	widths := tf.fitWidths(tf.columnWidths())

	var b strings.Builder
	border := tf.border(widths)

	if border != "" {
		b.WriteString(border + "\n")
	}
	if len(tf.headers) > 0 {
		b.WriteString(tf.renderRow(-1, tf.headers, widths) + "\n")
		if border != "" {
			b.WriteString(border + "\n")
		}
	}
	for i, row := range tf.rows {
		b.WriteString(tf.renderRow(i, row, widths) + "\n")
	}
	if border != "" {
		b.WriteString(border + "\n")
	}

	return b.String()
}

func (tf *tableFormatter) RenderTo(writer io.Writer) {
	fmt.Fprint(writer, tf.Render())
}

// columnWidths returns the content width of every column
func (tf *tableFormatter) columnWidths() []int {
	n := len(tf.headers)
	for _, row := range tf.rows {
		if len(row) > n {
			n = len(row)
		}
	}

	widths := make([]int, n)
	measure := func(row []string) {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(tf.headers)
	for _, row := range tf.rows {
		measure(row)
	}
	return widths
}

// fitWidths shrinks the widest columns until the table fits maxWidth
func (tf *tableFormatter) fitWidths(widths []int) []int {
	if tf.maxWidth <= 0 || len(widths) == 0 {
		return widths
	}

	const minColumn = 4
	for tf.totalWidth(widths) > tf.maxWidth {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= minColumn {
			break
		}
		widths[widest]--
	}
	return widths
}

func (tf *tableFormatter) totalWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w + tf.style.Padding*2
	}
	if tf.style.Vertical != "" {
		total += len(widths) + 1
	} else if len(widths) > 1 {
		total += len(widths) - 1
	}
	return total
}

func (tf *tableFormatter) border(widths []int) string {
	if tf.style.Horizontal == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString(tf.style.Corner)
	for _, w := range widths {
		b.WriteString(strings.Repeat(tf.style.Horizontal, w+tf.style.Padding*2))
		b.WriteString(tf.style.Corner)
	}
	return b.String()
}

// renderRow renders row index i; -1 is the header row
func (tf *tableFormatter) renderRow(i int, row []string, widths []int) string {
	sep := tf.style.Vertical
	if sep == "" {
		sep = " "
	}

	cells := make([]string, len(widths))
	for col, width := range widths {
		var cell string
		if col < len(row) {
			cell = row[col]
		}
		cells[col] = tf.formatCell(i, col, cell, width)
	}

	line := strings.Join(cells, sep)
	if tf.style.Vertical != "" {
		line = sep + line + sep
	}
	return strings.TrimRight(line, " ")
}

func (tf *tableFormatter) formatCell(row, col int, content string, width int) string {
	if utf8.RuneCountInString(content) > width {
		runes := []rune(content)
		if width > 3 {
			content = string(runes[:width-3]) + "..."
		} else {
			content = string(runes[:width])
		}
	}

	pad := strings.Repeat(" ", width-utf8.RuneCountInString(content))

	// color after measuring so escape codes do not count towards the width
	if tf.colors != nil && tf.colors.IsColorSupported() {
		if row < 0 {
			content = tf.colors.Colorize(content, tf.theme.Primary)
		} else if c, ok := tf.cellColors[cellKey{row, col}]; ok {
			content = tf.colors.Colorize(content, c)
		}
	}

	padding := strings.Repeat(" ", tf.style.Padding)
	if tf.alignments[col] == AlignRight {
		return padding + pad + content + padding
	}
	return padding + content + pad + padding
}

// getTerminalWidth returns the width of stdout, or 0 when it is not a terminal
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}
