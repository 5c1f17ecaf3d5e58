package prompt

import (
	"fmt"
	"regexp"

	"github.com/sahilm/fuzzy"
)

// MaxSuggestions caps the candidates Suggest returns.
const MaxSuggestions = 3

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// ValidationResult is the outcome of checking a template body against the
// columns of a dataset.
type ValidationResult struct {
	Valid            bool                `json:"valid"`
	Variables        []string            `json:"variables"`
	InvalidVariables []string            `json:"invalid_variables,omitempty"`
	Suggestions      map[string][]string `json:"suggestions,omitempty"`
	Errors           []string            `json:"errors,omitempty"`
	// DatasetLoaded is false when there was no dataset to check against.
	DatasetLoaded bool `json:"dataset_loaded"`
}

// ExtractVariables returns the distinct placeholder names in body, in order
// of first appearance.
func ExtractVariables(body string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(body, -1)

	seen := make(map[string]bool, len(matches))
	vars := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		vars = append(vars, m[1])
	}
	return vars
}

// ValidateTemplate checks that every placeholder in body names one of the
// headers. Unknown names are reported once each, in order of appearance,
// with fuzzy suggestions drawn from the headers.
func ValidateTemplate(body string, headers []string) ValidationResult {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}

	result := ValidationResult{
		Valid:         true,
		Variables:     ExtractVariables(body),
		DatasetLoaded: true,
	}
	for _, v := range result.Variables {
		if known[v] {
			continue
		}
		result.Valid = false
		result.InvalidVariables = append(result.InvalidVariables, v)
		result.Errors = append(result.Errors, fmt.Sprintf("Variable \"{{%s}}\" not found in dataset columns", v))

		if s := Suggest(v, headers); len(s) > 0 {
			if result.Suggestions == nil {
				result.Suggestions = make(map[string][]string)
			}
			result.Suggestions[v] = s
		}
	}
	return result
}

// Render substitutes every placeholder whose name is a key of row. Missing
// keys leave the placeholder as written. Substituted values are not scanned
// again, so a value containing "{{x}}" is copied literally.
func Render(body string, row map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(body, func(m string) string {
		name := m[2 : len(m)-2]
		if v, ok := row[name]; ok {
			return v
		}
		return m
	})
}

// Suggest returns up to MaxSuggestions headers that fuzzily match variable,
// best match first.
func Suggest(variable string, headers []string) []string {
	if variable == "" || len(headers) == 0 {
		return nil
	}

	matches := fuzzy.Find(variable, headers)
	out := make([]string, 0, min(len(matches), MaxSuggestions))
	for _, m := range matches {
		if len(out) == MaxSuggestions {
			break
		}
		out = append(out, m.Str)
	}
	return out
}
