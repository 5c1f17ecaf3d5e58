package datasets

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/parquet-go/parquet-go"
)

// Writer writes a dataset in a specific format.
type Writer interface {
	Write(w io.Writer, ds *Dataset) error
}

// NewWriter creates a writer for the given format.
func NewWriter(format DataFormat) (Writer, error) {
	switch format {
	case DataFormatCSV:
		return &CSVWriter{}, nil
	case DataFormatJSONL:
		return &JSONLWriter{}, nil
	case DataFormatJSON:
		return &JSONWriter{}, nil
	case DataFormatParquet:
		return &ParquetWriter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// CSVWriter writes RFC 4180 CSV with the header row in dataset order. Values
// that need quoting are quoted, so the output is stricter than what
// ParseCSV reads back.
type CSVWriter struct {
	// Delimiter defaults to a comma.
	Delimiter rune
}

// Write writes the dataset as CSV.
func (w *CSVWriter) Write(wr io.Writer, ds *Dataset) error {
	writer := csv.NewWriter(wr)
	if w.Delimiter != 0 {
		writer.Comma = w.Delimiter
	}

	if err := writer.Write(ds.Headers); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	record := make([]string, len(ds.Headers))
	for i, row := range ds.Rows {
		for j, h := range ds.Headers {
			record[j] = row[h]
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// JSONLWriter writes one JSON object per row.
type JSONLWriter struct{}

// Write writes the dataset as JSON Lines.
func (w *JSONLWriter) Write(wr io.Writer, ds *Dataset) error {
	encoder := json.NewEncoder(wr)
	for i, row := range ds.Rows {
		if err := encoder.Encode(row); err != nil {
			return fmt.Errorf("failed to encode row %d: %w", i, err)
		}
	}
	return nil
}

// JSONWriter writes the dataset object (headers, rows and row count).
type JSONWriter struct{}

// Write writes the dataset as indented JSON.
func (w *JSONWriter) Write(wr io.Writer, ds *Dataset) error {
	encoder := json.NewEncoder(wr)
	encoder.SetIndent("", "  ")
	return encoder.Encode(ds)
}

// ParquetWriter writes one required string column per distinct header.
// Parquet orders group fields by name, so columns are sorted.
type ParquetWriter struct{}

// Write writes the dataset as Parquet.
func (w *ParquetWriter) Write(wr io.Writer, ds *Dataset) error {
	columns := parquetColumns(ds.Headers)

	group := make(parquet.Group, len(columns))
	for _, c := range columns {
		group[c] = parquet.String()
	}
	schema := parquet.NewSchema("dataset", group)

	writer := parquet.NewWriter(wr, schema)

	rows := make([]parquet.Row, len(ds.Rows))
	for i, r := range ds.Rows {
		row := make(parquet.Row, len(columns))
		for j, c := range columns {
			row[j] = parquet.ByteArrayValue([]byte(r[c])).Level(0, 0, j)
		}
		rows[i] = row
	}

	if _, err := writer.WriteRows(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

// parquetColumns returns the distinct non-empty headers in sorted order.
func parquetColumns(headers []string) []string {
	seen := make(map[string]bool, len(headers))
	columns := make([]string, 0, len(headers))
	for _, h := range headers {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		columns = append(columns, h)
	}
	sort.Strings(columns)
	return columns
}
