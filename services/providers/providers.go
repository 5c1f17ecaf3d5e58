// Package providers holds the per-session LLM provider settings: which
// providers are enabled, their credentials and models, and the judge.
//
// Credentials never leave the process except in masked form, and no request
// is ever sent to a provider.
package providers

import (
	"errors"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrUnknownProvider is returned for names missing from the catalog.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrUnknownModel is returned for models the provider does not offer.
	ErrUnknownModel = errors.New("unknown model")
	// ErrAPIKeyRequired is returned when testing a provider without a key.
	ErrAPIKeyRequired = errors.New("API Key Required")
)

// ProviderInfo describes a provider offered by the catalog.
type ProviderInfo struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	Description  string   `json:"description"`
	Models       []string `json:"models"`
	DefaultModel string   `json:"default_model"`
}

// HasModel reports whether the provider offers model.
func (p ProviderInfo) HasModel(model string) bool {
	return slices.Contains(p.Models, model)
}

var catalog = []ProviderInfo{
	{
		Name:         "groq",
		DisplayName:  "Groq",
		Description:  "Ultra-fast inference with open-source models",
		Models:       []string{"llama3-8b-8192", "llama3-70b-8192", "mixtral-8x7b-32768"},
		DefaultModel: "llama3-8b-8192",
	},
	{
		Name:         "gemini",
		DisplayName:  "Google Gemini",
		Description:  "Advanced AI model from Google",
		Models:       []string{"gemini-pro", "gemini-pro-vision"},
		DefaultModel: "gemini-pro",
	},
}

// Catalog returns the supported providers in display order.
func Catalog() []ProviderInfo {
	out := make([]ProviderInfo, len(catalog))
	for i, p := range catalog {
		p.Models = slices.Clone(p.Models)
		out[i] = p
	}
	return out
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (ProviderInfo, bool) {
	for _, p := range catalog {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderInfo{}, false
}

// Config is one provider's settings in a session.
type Config struct {
	Enabled   bool   `json:"enabled"`
	APIKey    string `json:"api_key,omitempty"`
	Model     string `json:"model"`
	Connected bool   `json:"connected"`
}

// JudgeConfig selects the provider that would score results automatically.
type JudgeConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Enabled  bool   `json:"enabled"`
}

// Settings are the provider settings of one session.
type Settings struct {
	Providers map[string]Config `json:"providers"`
	Judge     JudgeConfig       `json:"judge"`
}

// DefaultSettings returns every catalog provider disabled with its default
// model, and the judge enabled on Groq.
func DefaultSettings() Settings {
	s := Settings{
		Providers: make(map[string]Config, len(catalog)),
		Judge:     JudgeConfig{Provider: "groq", Model: "llama3-8b-8192", Enabled: true},
	}
	for _, p := range catalog {
		s.Providers[p.Name] = Config{Model: p.DefaultModel}
	}
	return s
}

func (s Settings) clone() Settings {
	s.Providers = maps.Clone(s.Providers)
	return s
}

// Masked returns a copy with every API key masked.
func (s Settings) Masked() Settings {
	out := s.clone()
	for name, c := range out.Providers {
		c.APIKey = MaskKey(c.APIKey)
		out.Providers[name] = c
	}
	return out
}

// MaskKey hides all but the last four characters of a key. Short keys are
// hidden completely.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

// ConfigInput is a partial update of a provider's settings. Nil fields are
// left unchanged.
type ConfigInput struct {
	Enabled *bool   `json:"enabled,omitempty"`
	APIKey  *string `json:"api_key,omitempty"`
	Model   *string `json:"model,omitempty"`
}

// Lane is an enabled provider and its model, one axis of an evaluation run.
type Lane struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// EnabledProviders returns the enabled providers in catalog order.
func EnabledProviders(s Settings) []Lane {
	var lanes []Lane
	for _, p := range catalog {
		if c, ok := s.Providers[p.Name]; ok && c.Enabled {
			lanes = append(lanes, Lane{Provider: p.Name, Model: c.Model})
		}
	}
	return lanes
}
