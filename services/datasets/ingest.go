package datasets

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CheckFileName rejects names without a .csv extension (any letter case).
func CheckFileName(name string) error {
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return ErrInvalidFileType
	}
	return nil
}

// Decode turns raw upload bytes into text. A UTF-8 byte order mark is
// removed (UTF-16 input with a BOM is transcoded) and CRLF or lone CR line
// endings become LF. No other encoding detection is attempted.
func Decode(data []byte) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return "", fmt.Errorf("failed to decode dataset: %w", err)
	}

	text := strings.ReplaceAll(string(out), "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n"), nil
}

// ParseCSV splits text into a header line and data lines.
//
// Every line is split on ",", so quoted fields containing commas are split
// too and quoted fields cannot span lines. Values are trimmed and every
// double quote is removed. Missing trailing fields become "" and extra
// fields are dropped. All values stay strings.
func ParseCSV(text string) (*Dataset, error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) < 2 {
		return nil, ErrTooFewLines
	}

	headers := splitLine(lines[0])

	rows := make([]Row, 0, len(lines)-1)
	for _, line := range lines[1:] {
		values := splitLine(line)
		row := make(Row, len(headers))
		for i, h := range headers {
			if i < len(values) {
				row[h] = values[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}

	return &Dataset{
		Headers:  headers,
		Rows:     rows,
		RowCount: len(rows),
	}, nil
}

func splitLine(line string) []string {
	fields := strings.Split(line, ",")
	for i, f := range fields {
		fields[i] = strings.ReplaceAll(strings.TrimSpace(f), `"`, "")
	}
	return fields
}

// Validate reports problems with a parsed dataset. A header row whose names
// are all empty has no columns. Missing columns or rows are errors; empty
// cells are a single warning counting every empty (header, row) pair.
func Validate(ds *Dataset) []ValidationIssue {
	var issues []ValidationIssue

	if !hasNamedColumn(ds.Headers) {
		issues = append(issues, ValidationIssue{Severity: SeverityError, Message: ErrNoColumns.Error(), Err: ErrNoColumns})
	}
	if len(ds.Rows) == 0 {
		issues = append(issues, ValidationIssue{Severity: SeverityError, Message: ErrNoRows.Error(), Err: ErrNoRows})
	}

	empty := 0
	for _, row := range ds.Rows {
		for _, h := range ds.Headers {
			if strings.TrimSpace(row[h]) == "" {
				empty++
			}
		}
	}
	if empty > 0 {
		issues = append(issues, ValidationIssue{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Found %d empty cell(s) in the dataset", empty),
		})
	}

	return issues
}

func hasNamedColumn(headers []string) bool {
	for _, h := range headers {
		if h != "" {
			return true
		}
	}
	return false
}

// Ingest checks the file name, decodes, parses and validates data. It fails
// when any error-level issue is found, joining every error; otherwise it
// returns the dataset and the warning messages.
func Ingest(fileName string, data []byte) (*Dataset, []string, error) {
	if err := CheckFileName(fileName); err != nil {
		return nil, nil, err
	}

	text, err := Decode(data)
	if err != nil {
		return nil, nil, err
	}

	ds, err := ParseCSV(text)
	if err != nil {
		return nil, nil, err
	}
	ds.FileName = fileName

	var (
		errs     []error
		warnings []string
	)
	for _, issue := range Validate(ds) {
		if issue.Severity == SeverityError {
			errs = append(errs, issue.Err)
		} else {
			warnings = append(warnings, issue.Message)
		}
	}
	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}

	return ds, warnings, nil
}
