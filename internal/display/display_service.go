package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

type displayService struct {
	config      *DisplayConfig
	colorSystem ColorSystem
	writer      io.Writer
}

// NewDisplayService creates a new display service with the given configuration
func NewDisplayService(config *DisplayConfig) DisplayService {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()

	supported := false
	if config.IsColorEnabled() {
		if f, ok := config.Writer.(*os.File); ok {
			supported = detectColorSupport(f)
		}
	}

	return &displayService{
		config:      config,
		colorSystem: newColorSystem(config.GetColorTheme(), supported),
		writer:      config.Writer,
	}
}

// PrintHeader prints a formatted header
func (ds *displayService) PrintHeader(title string) {
	if ds.config.QuietMode || ds.config.IsStructured() {
		return
	}

	separator := strings.Repeat("=", utf8.RuneCountInString(title)+4)
	text := fmt.Sprintf("%s\n  %s\n%s", separator, title, separator)
	fmt.Fprintln(ds.writer, ds.colorSystem.Colorize(text, ds.theme().Primary))
}

// PrintFields prints a detail view of labelled values
func (ds *displayService) PrintFields(title string, fields []Field) {
	if ds.config.IsStructured() {
		ds.writeStructured(func(w *OutputWriter) error { return w.WriteFields(title, fields) })
		return
	}

	if title != "" {
		fmt.Fprintln(ds.writer, ds.colorSystem.Colorize(fmt.Sprintf("--- %s ---", title), ds.theme().Highlight))
	}

	width := 0
	for _, f := range fields {
		if n := utf8.RuneCountInString(f.Name); n > width {
			width = n
		}
	}

	for _, f := range fields {
		value := f.Value
		if strings.EqualFold(f.Name, "state") {
			value = ds.colorSystem.Colorize(value, StateColor(ds.theme(), value))
		}
		fmt.Fprintf(ds.writer, "%-*s  %s\n", width+1, f.Name+":", value)
	}
}

// PrintTable prints a formatted table
func (ds *displayService) PrintTable(headers []string, rows [][]string) {
	if ds.config.IsStructured() {
		ds.writeStructured(func(w *OutputWriter) error { return w.WriteTable(headers, rows) })
		return
	}

	formatter := ds.NewTableFormatter()
	formatter.SetHeaders(headers)

	stateColumn := -1
	for i, h := range headers {
		if strings.EqualFold(h, "state") {
			stateColumn = i
		}
	}

	for i, row := range rows {
		formatter.AddRow(row)
		if stateColumn >= 0 && stateColumn < len(row) {
			formatter.SetCellColor(i, stateColumn, StateColor(ds.theme(), row[stateColumn]))
		}
	}

	formatter.RenderTo(ds.writer)
}

// PrintValue prints an arbitrary value, encoded when the output is structured
func (ds *displayService) PrintValue(value interface{}) {
	if ds.config.IsStructured() {
		ds.writeStructured(func(w *OutputWriter) error { return w.WriteValue(value) })
		return
	}
	fmt.Fprintf(ds.writer, "%v\n", value)
}

// Success prints a success message
func (ds *displayService) Success(message string) {
	ds.printStatusMessage("SUCCESS", message, ds.theme().Success)
}

// Warning prints a warning message
func (ds *displayService) Warning(message string) {
	ds.printStatusMessage("WARNING", message, ds.theme().Warning)
}

// Error prints an error message
func (ds *displayService) Error(message string) {
	ds.printStatusMessage("ERROR", message, ds.theme().Error)
}

// Info prints an info message
func (ds *displayService) Info(message string) {
	if ds.config.QuietMode {
		return
	}
	ds.printStatusMessage("INFO", message, ds.theme().Info)
}

// NewTableFormatter returns a formatter using the service's colors and width
func (ds *displayService) NewTableFormatter() TableFormatter {
	formatter := NewTableFormatter(ds.colorSystem, ds.theme())
	if ds.config.MaxTableWidth > 0 {
		formatter.SetMaxWidth(ds.config.MaxTableWidth)
	}
	return formatter
}

// SetOutput sets the output writer
func (ds *displayService) SetOutput(writer io.Writer) {
	ds.writer = writer
	ds.config.Writer = writer
}

// GetConfig returns the current configuration
func (ds *displayService) GetConfig() *DisplayConfig {
	return ds.config
}

// SetConfig updates the configuration
func (ds *displayService) SetConfig(config *DisplayConfig) {
	ds.config = config
	if config.Writer != nil {
		ds.writer = config.Writer
	}
	ds.colorSystem.SetTheme(config.GetColorTheme())
}

func (ds *displayService) theme() ColorTheme {
	return ds.colorSystem.GetTheme()
}

func (ds *displayService) printStatusMessage(level, message string, color Color) {
	// status lines stay out of JSON/YAML stdout so the output remains parseable
	if ds.config.IsStructured() {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", level, message)
		return
	}

	prefix := ds.colorSystem.Colorize(fmt.Sprintf("[%s]", level), color)
	fmt.Fprintf(ds.writer, "%s %s\n", prefix, message)
}

func (ds *displayService) writeStructured(write func(w *OutputWriter) error) {
	if err := write(NewOutputWriter(OutputFormat(ds.config.OutputFormat), ds.writer)); err != nil {
		fmt.Fprintf(ds.writer, "Error formatting output: %v\n", err)
	}
}
