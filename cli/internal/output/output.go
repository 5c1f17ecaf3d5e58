// Package output provides output formatting for the CLI.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// DefaultMaxCellWidth caps table cells, measured in terminal columns.
const DefaultMaxCellWidth = 48

// Writer handles formatted output.
type Writer struct {
	format       Format
	out          io.Writer
	maxCellWidth int
}

// NewWriterTo creates a writer to out. Unknown formats print tables.
func NewWriterTo(format string, out io.Writer) *Writer {
	f := Format(strings.ToLower(format))
	if f != FormatJSON && f != FormatYAML {
		f = FormatTable
	}
	return &Writer{
		format:       f,
		out:          out,
		maxCellWidth: DefaultMaxCellWidth,
	}
}

// Structured reports whether the writer prints JSON or YAML.
func (w *Writer) Structured() bool {
	return w.format != FormatTable
}

// Print outputs data in the configured format.
func (w *Writer) Print(data interface{}) error {
	switch w.format {
	case FormatJSON:
		return w.printJSON(data)
	case FormatYAML:
		return w.printYAML(data)
	default:
		return w.printTable(data)
	}
}

// PrintTable prints t as a table in table mode and structured otherwise,
// where structured is the value JSON and YAML output encode.
func (w *Writer) PrintTable(t Table, structured interface{}) error {
	if w.Structured() {
		return w.Print(structured)
	}
	return w.writeTable(t)
}

func (w *Writer) printJSON(data interface{}) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (w *Writer) printYAML(data interface{}) error {
	// Round trip through JSON so json tags name the YAML keys.
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(b, &generic); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w.out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func (w *Writer) printTable(data interface{}) error {
	switch v := data.(type) {
	case Table:
		return w.writeTable(v)
	case *Table:
		return w.writeTable(*v)
	default:
		// Fall back to JSON for complex types
		return w.printJSON(data)
	}
}

// Table represents tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
	// Footer is printed below the table when set.
	Footer string
}

func (w *Writer) writeTable(t Table) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w.out)
	tw.SetStyle(table.StyleLight)
	// dataset columns are case-sensitive template variables
	tw.Style().Format.Header = text.FormatDefault

	header := make(table.Row, len(t.Headers))
	for i, h := range t.Headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, r := range t.Rows {
		row := make(table.Row, len(r))
		for i, cell := range r {
			row[i] = Truncate(cell, w.maxCellWidth)
		}
		tw.AppendRow(row)
	}

	tw.Render()
	if t.Footer != "" {
		_, err := fmt.Fprintln(w.out, t.Footer)
		return err
	}
	return nil
}

var flatten = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ")

// Truncate shortens s to at most width terminal columns, marking the cut
// with an ellipsis. Line breaks are flattened first.
func Truncate(s string, width int) string {
	s = flatten.Replace(s)
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// Success prints a success message.
func Success(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "✓ "+format+"\n", args...)
}

// Error prints an error message.
func Error(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "✗ "+format+"\n", args...)
}

// Info prints an info message.
func Info(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "→ "+format+"\n", args...)
}

// Warn prints a warning.
func Warn(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "! "+format+"\n", args...)
}
