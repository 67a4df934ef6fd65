package display

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// OutputWriter encodes values for scripts
type OutputWriter struct {
	format OutputFormat
	writer io.Writer
}

// NewOutputWriter creates an output writer for a structured format
func NewOutputWriter(format OutputFormat, writer io.Writer) *OutputWriter {
	return &OutputWriter{format: format, writer: writer}
}

// WriteValue encodes value as JSON or YAML
func (w *OutputWriter) WriteValue(value interface{}) error {
	switch w.format {
	case FormatJSON:
		encoder := json.NewEncoder(w.writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	case FormatYAML:
		encoder := yaml.NewEncoder(w.writer)
		encoder.SetIndent(2)
		if err := encoder.Encode(value); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported output format: %s", w.format)
	}
}

// WriteTable encodes rows as a list of header-keyed objects
func (w *OutputWriter) WriteTable(headers []string, rows [][]string) error {
	return w.WriteValue(tableRecords(headers, rows))
}

// WriteFields encodes fields as one object, keeping their order for YAML
func (w *OutputWriter) WriteFields(title string, fields []Field) error {
	if w.format == FormatYAML {
		node := &yaml.Node{Kind: yaml.MappingNode}
		for _, f := range fields {
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: f.Name},
				&yaml.Node{Kind: yaml.ScalarNode, Value: f.Value})
		}
		return w.WriteValue(node)
	}

	obj := make(map[string]string, len(fields))
	for _, f := range fields {
		obj[f.Name] = f.Value
	}
	return w.WriteValue(obj)
}

// WriteStatus encodes a status message
func (w *OutputWriter) WriteStatus(level, message string) error {
	return w.WriteValue(map[string]string{"level": level, "message": message})
}

func tableRecords(headers []string, rows [][]string) []map[string]string {
	records := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		record := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				record[header] = row[i]
			}
		}
		records = append(records, record)
	}
	return records
}
