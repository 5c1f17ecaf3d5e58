// Package prompt provides the session's prompt template library.
package prompt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultVersion is the version given to templates created without one.
const DefaultVersion = "1.0"

var (
	// ErrNameRequired is returned when a template has no name.
	ErrNameRequired = errors.New("Name is required")
	// ErrTemplateRequired is returned when a template has no body.
	ErrTemplateRequired = errors.New("Template is required")
	// ErrTemplateInvalid is returned when a body uses variables the dataset lacks.
	ErrTemplateInvalid = errors.New("template references unknown variables")
	// ErrNotFound is returned for unknown template IDs.
	ErrNotFound = errors.New("prompt template not found")
	// ErrRowOutOfRange is returned when a preview names a row the dataset lacks.
	ErrRowOutOfRange = errors.New("row index out of range")
	// ErrInvalidLibrary is returned when an imported library fails validation.
	ErrInvalidLibrary = errors.New("invalid prompt library")
	// ErrUnsupportedFormat is returned for unknown library formats.
	ErrUnsupportedFormat = errors.New("unsupported library format")
)

// Template is a named prompt body with {{variable}} placeholders.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Body        string    `json:"template"`
	Version     string    `json:"version"`
	Variables   []string  `json:"variables"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Library is the ordered set of templates of one session.
type Library struct {
	Templates []Template `json:"templates"`
}

// Find returns the index of the template with the given ID, or -1.
func (l *Library) Find(id string) int {
	for i := range l.Templates {
		if l.Templates[i].ID == id {
			return i
		}
	}
	return -1
}

// clone copies the template slice so a stored library is never mutated.
func (l Library) clone() Library {
	out := Library{Templates: make([]Template, len(l.Templates))}
	copy(out.Templates, l.Templates)
	return out
}

// TemplateInput holds the user-editable fields of a template.
type TemplateInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Body        string `json:"template"`
	Version     string `json:"version,omitempty"`
}

// normalize trims the input and fills in the default version.
func (in TemplateInput) normalize() TemplateInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Version = strings.TrimSpace(in.Version)
	if in.Version == "" {
		in.Version = DefaultVersion
	}
	return in
}

// check reports missing required fields.
func (in TemplateInput) check() error {
	var errs []error
	if in.Name == "" {
		errs = append(errs, ErrNameRequired)
	}
	if strings.TrimSpace(in.Body) == "" {
		errs = append(errs, ErrTemplateRequired)
	}
	return errors.Join(errs...)
}

// PreviewResult is a template body rendered against one dataset row.
type PreviewResult struct {
	Rendered  string            `json:"rendered"`
	RowIndex  int               `json:"row_index"`
	Row       map[string]string `json:"row,omitempty"`
	Variables []string          `json:"variables"`
	// DatasetLoaded is false when the body was returned unrendered.
	DatasetLoaded bool `json:"dataset_loaded"`
}

// LibraryFormat names a library file encoding.
type LibraryFormat string

const (
	LibraryFormatYAML LibraryFormat = "yaml"
	LibraryFormatJSON LibraryFormat = "json"
)

// ParseLibraryFormat parses a format name, defaulting to YAML when empty.
func ParseLibraryFormat(s string) (LibraryFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "yaml", "yml":
		return LibraryFormatYAML, nil
	case "json":
		return LibraryFormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// FormatFromFileName guesses the library format from a file extension.
func FormatFromFileName(name string) LibraryFormat {
	if strings.HasSuffix(strings.ToLower(name), ".json") {
		return LibraryFormatJSON
	}
	return LibraryFormatYAML
}

// GenerateID creates a new template ID.
func GenerateID() string {
	return "pmt_" + uuid.NewString()
}
