package datasets

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
)

func sampleDataset() *Dataset {
	return &Dataset{
		Headers: []string{"question", "answer", "id"},
		Rows: []Row{
			{"question": "What is 2+2?", "answer": "4", "id": "1"},
			{"question": "Capital of France, please", "answer": "Paris", "id": "2"},
		},
		RowCount: 2,
	}
}

func TestParseDataFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    DataFormat
		wantErr bool
	}{
		{"", DataFormatCSV, false},
		{"csv", DataFormatCSV, false},
		{"JSONL", DataFormatJSONL, false},
		{" json ", DataFormatJSON, false},
		{"parquet", DataFormatParquet, false},
		{"xlsx", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDataFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDataFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("error = %v, want %v", err, ErrUnsupportedFormat)
			}
			if got != tt.want {
				t.Errorf("ParseDataFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewWriter_Unsupported(t *testing.T) {
	if _, err := NewWriter("xml"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("NewWriter(xml) error = %v, want %v", err, ErrUnsupportedFormat)
	}
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&CSVWriter{}).Write(&buf, sampleDataset()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}

	want := [][]string{
		{"question", "answer", "id"},
		{"What is 2+2?", "4", "1"},
		{"Capital of France, please", "Paris", "2"},
	}
	if !reflect.DeepEqual(records, want) {
		t.Errorf("records = %q, want %q", records, want)
	}
}

func TestCSVWriter_RoundTripsThroughParseCSV(t *testing.T) {
	ds, err := ParseCSV("b,a\n2,1\n4,3")
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}

	var buf bytes.Buffer
	if err := (&CSVWriter{}).Write(&buf, ds); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if buf.String() != "b,a\n2,1\n4,3\n" {
		t.Errorf("Write() = %q, want header order kept", buf.String())
	}
}

func TestJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONLWriter{}).Write(&buf, sampleDataset()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	var rows []Row
	for scanner.Scan() {
		var row Row
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("line %q is not JSON: %v", scanner.Text(), err)
		}
		rows = append(rows, row)
	}
	if !reflect.DeepEqual(rows, sampleDataset().Rows) {
		t.Errorf("rows = %v, want %v", rows, sampleDataset().Rows)
	}
}

func TestJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONWriter{}).Write(&buf, sampleDataset()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var got Dataset
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if !reflect.DeepEqual(got.Headers, sampleDataset().Headers) {
		t.Errorf("Headers = %v, want %v", got.Headers, sampleDataset().Headers)
	}
	if got.RowCount != 2 {
		t.Errorf("RowCount = %v, want 2", got.RowCount)
	}
}

func TestParquetWriter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&ParquetWriter{}).Write(&buf, sampleDataset()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data := buf.Bytes()
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}

	if file.NumRows() != 2 {
		t.Errorf("NumRows() = %v, want 2", file.NumRows())
	}

	var names []string
	for _, f := range file.Schema().Fields() {
		names = append(names, f.Name())
	}
	if want := []string{"answer", "id", "question"}; !reflect.DeepEqual(names, want) {
		t.Errorf("columns = %v, want %v", names, want)
	}

	rows := file.RowGroups()[0].Rows()
	defer rows.Close()

	buffer := make([]parquet.Row, 2)
	n, err := rows.ReadRows(buffer)
	if err != nil && err != io.EOF {
		t.Fatalf("ReadRows() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("ReadRows() = %d rows, want 2", n)
	}
	if got := buffer[1][2].String(); !strings.HasPrefix(got, "Capital of France") {
		t.Errorf("row 1 question = %q", got)
	}
}

func TestParquetColumns(t *testing.T) {
	got := parquetColumns([]string{"b", "", "a", "b"})
	if want := []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("parquetColumns() = %v, want %v", got, want)
	}
}
