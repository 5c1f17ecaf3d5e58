package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/qri-io/jsonschema"
	"gopkg.in/yaml.v3"
)

// librarySchema describes an importable library file.
const librarySchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "evalbench prompt library",
	"type": "object",
	"required": ["templates"],
	"properties": {
		"templates": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "template"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"description": {"type": "string"},
					"template": {"type": "string", "minLength": 1},
					"version": {"type": "string"}
				}
			}
		}
	}
}`

var compiledLibrarySchema = mustCompileSchema(librarySchema)

func mustCompileSchema(src string) *jsonschema.Schema {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(src), rs); err != nil {
		panic(fmt.Sprintf("prompt: invalid library schema: %v", err))
	}
	return rs
}

// LibraryFile is the on-disk form of a library. IDs and timestamps are not
// carried; they are assigned on import.
type LibraryFile struct {
	Templates []LibraryEntry `json:"templates" yaml:"templates"`
}

// LibraryEntry is one template in a library file.
type LibraryEntry struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Template    string `json:"template" yaml:"template"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
}

// ParseLibrary decodes and schema-checks a library file.
func ParseLibrary(ctx context.Context, data []byte, format LibraryFormat) (*LibraryFile, error) {
	doc, err := toJSON(data, format)
	if err != nil {
		return nil, err
	}

	verrs, err := compiledLibrarySchema.ValidateBytes(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLibrary, err)
	}
	if len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, v := range verrs {
			msgs[i] = strings.TrimSpace(v.PropertyPath + " " + v.Message)
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidLibrary, strings.Join(msgs, "; "))
	}

	var file LibraryFile
	if err := json.Unmarshal(doc, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLibrary, err)
	}
	return &file, nil
}

// toJSON converts a library document to JSON for schema validation.
func toJSON(data []byte, format LibraryFormat) ([]byte, error) {
	switch format {
	case LibraryFormatJSON:
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidLibrary)
		}
		return data, nil
	case LibraryFormatYAML:
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidLibrary, err)
		}
		doc, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidLibrary, err)
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// MarshalLibrary encodes templates as a library file.
func MarshalLibrary(templates []Template, format LibraryFormat) ([]byte, error) {
	file := LibraryFile{Templates: make([]LibraryEntry, len(templates))}
	for i, t := range templates {
		file.Templates[i] = LibraryEntry{
			Name:        t.Name,
			Description: t.Description,
			Template:    t.Body,
			Version:     t.Version,
		}
	}

	switch format {
	case LibraryFormatJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(file); err != nil {
			return nil, fmt.Errorf("failed to encode library: %w", err)
		}
		return buf.Bytes(), nil
	case LibraryFormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(file); err != nil {
			return nil, fmt.Errorf("failed to encode library: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode library: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
