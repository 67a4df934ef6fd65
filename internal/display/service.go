package display

import (
	"io"
)

// DisplayService renders command results for the terminal or for scripts
type DisplayService interface {
	// Output formatting
	PrintHeader(title string)
	PrintFields(title string, fields []Field)
	PrintTable(headers []string, rows [][]string)
	PrintValue(value interface{})

	// Status messages
	Success(message string)
	Warning(message string)
	Error(message string)
	Info(message string)

	// Table formatting
	NewTableFormatter() TableFormatter

	// Configuration
	SetOutput(writer io.Writer)
	GetConfig() *DisplayConfig
	SetConfig(config *DisplayConfig)
}

// Field is one labelled value of a detail view
type Field struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// OutputFormat represents different output format options
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// Color represents terminal color options
type Color int

const (
	ColorReset Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
	ColorBrightRed
	ColorBrightGreen
	ColorBrightYellow
	ColorBrightBlue
	ColorBrightCyan
)

// ColorTheme defines color scheme for different message types
type ColorTheme struct {
	Primary   Color
	Success   Color
	Warning   Color
	Error     Color
	Info      Color
	Muted     Color
	Highlight Color
}
