// Package datasets ingests CSV datasets into a session and exports them.
package datasets

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidFileType is returned for uploads without a .csv extension.
	ErrInvalidFileType = errors.New("Invalid file type: please upload a CSV file")
	// ErrTooFewLines is returned when the text lacks a header or data row.
	ErrTooFewLines = errors.New("CSV must have at least a header row and one data row")
	// ErrNoColumns is returned when the header row names no column.
	ErrNoColumns = errors.New("No columns found in the dataset")
	// ErrNoRows is returned when there is no data row.
	ErrNoRows = errors.New("No data rows found in the dataset")
	// ErrTooLarge is returned when the upload exceeds the size limit.
	ErrTooLarge = errors.New("dataset exceeds the maximum upload size")
	// ErrNoDataset is returned when the session has no dataset loaded.
	ErrNoDataset = errors.New("no dataset loaded")
	// ErrNoSource is returned when an upload names no data source.
	ErrNoSource = errors.New("no data source specified")
	// ErrSourceDisabled is returned for a source kind the server does not allow.
	ErrSourceDisabled = errors.New("data source is disabled on this server")
	// ErrUnsupportedFormat is returned for unknown export formats.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// Row maps a header name to the row's value for that column.
type Row map[string]string

// Dataset is a parsed CSV file. Headers keep file order and may repeat; when
// they do, a row holds the value of the last column with that name.
type Dataset struct {
	Headers    []string  `json:"headers"`
	Rows       []Row     `json:"rows"`
	RowCount   int       `json:"row_count"`
	FileName   string    `json:"file_name,omitempty"`
	UploadedAt time.Time `json:"uploaded_at,omitzero"`
}

// HasHeader reports whether name is one of the dataset's headers.
func (d *Dataset) HasHeader(name string) bool {
	for _, h := range d.Headers {
		if h == name {
			return true
		}
	}
	return false
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ValidationIssue is one finding of Validate.
type ValidationIssue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Err      error    `json:"-"`
}

// UploadInput contains input for uploading a dataset.
type UploadInput struct {
	SessionID string
	FileName  string
	Source    DataSource
}

// UploadResult is the stored dataset and the warnings it was accepted with.
type UploadResult struct {
	Dataset  *Dataset `json:"dataset"`
	Warnings []string `json:"warnings,omitempty"`
}

// PreviewResult is the first rows of a dataset.
type PreviewResult struct {
	Headers  []string `json:"headers"`
	Rows     []Row    `json:"rows"`
	RowCount int      `json:"row_count"`
}

// DataFormat names an export format.
type DataFormat string

const (
	DataFormatCSV     DataFormat = "csv"
	DataFormatJSONL   DataFormat = "jsonl"
	DataFormatJSON    DataFormat = "json"
	DataFormatParquet DataFormat = "parquet"
)

// ParseDataFormat parses a format name, defaulting to CSV when empty.
func ParseDataFormat(s string) (DataFormat, error) {
	switch f := DataFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return DataFormatCSV, nil
	case DataFormatCSV, DataFormatJSONL, DataFormatJSON, DataFormatParquet:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// ContentType returns the MIME type of the format.
func (f DataFormat) ContentType() string {
	switch f {
	case DataFormatJSONL:
		return "application/x-ndjson"
	case DataFormatJSON:
		return "application/json"
	case DataFormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "text/csv"
	}
}

// DataSource specifies where upload data is located. Exactly one field is set.
type DataSource struct {
	LocalFile *LocalFileSource `json:"local_file,omitempty"`
	S3        *S3Source        `json:"s3,omitempty"`
	URL       *URLSource       `json:"url,omitempty"`
	Inline    *InlineSource    `json:"inline,omitempty"`
}

// FileName returns the file name implied by the source, used when the
// upload does not name one.
func (ds DataSource) FileName() string {
	switch {
	case ds.LocalFile != nil:
		return baseName(ds.LocalFile.Path)
	case ds.S3 != nil:
		return baseName(ds.S3.Key)
	case ds.URL != nil:
		u := ds.URL.URL
		if i := strings.IndexAny(u, "?#"); i >= 0 {
			u = u[:i]
		}
		return baseName(u)
	}
	return ""
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

// LocalFileSource reads from the server's filesystem.
type LocalFileSource struct {
	Path string `json:"path"`
}

// S3Source reads from Amazon S3 or an S3-compatible store.
type S3Source struct {
	Bucket          string `json:"bucket"`
	Key             string `json:"key"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"` // custom endpoint for S3-compatible stores
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
}

// URLSource reads from an HTTP(S) URL.
type URLSource struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// InlineSource provides data directly.
type InlineSource struct {
	Data []byte `json:"data"`
}
