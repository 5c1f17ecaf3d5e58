package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/instantcocoa/evalbench/pkg/session"
	"github.com/instantcocoa/evalbench/services/datasets"
)

// DatasetSource returns the dataset loaded for a session.
type DatasetSource interface {
	Get(ctx context.Context, sessionID string) (*datasets.Dataset, error)
}

// PromptService manages the template library of each session.
type PromptService struct {
	mu       sync.Mutex
	store    session.Store[Library]
	datasets DatasetSource
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
}

// NewPromptService creates a new prompt service.
func NewPromptService(store session.Store[Library], ds DatasetSource, logger *slog.Logger) *PromptService {
	return &PromptService{
		store:    store,
		datasets: ds,
		logger:   logger.With("component", "prompt"),
		tracer:   otel.Tracer("evalbench/prompt"),
		now:      time.Now,
		newID:    GenerateID,
	}
}

// headers returns the session's dataset headers, or false when no dataset
// is loaded.
func (s *PromptService) headers(ctx context.Context, sessionID string) ([]string, bool, error) {
	ds, err := s.dataset(ctx, sessionID)
	if err != nil || ds == nil {
		return nil, false, err
	}
	return ds.Headers, true, nil
}

func (s *PromptService) dataset(ctx context.Context, sessionID string) (*datasets.Dataset, error) {
	if s.datasets == nil {
		return nil, nil
	}
	ds, err := s.datasets.Get(ctx, sessionID)
	if errors.Is(err, datasets.ErrNoDataset) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	return ds, nil
}

// checkBody validates body against the dataset when one is loaded.
func checkBody(body string, headers []string, loaded bool) error {
	if !loaded {
		return nil
	}
	result := ValidateTemplate(body, headers)
	if result.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrTemplateInvalid, strings.Join(result.Errors, "; "))
}

func (s *PromptService) load(ctx context.Context, sessionID string) (Library, error) {
	lib, _, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Library{}, fmt.Errorf("failed to load prompt library: %w", err)
	}
	return lib, nil
}

func (s *PromptService) save(ctx context.Context, sessionID string, lib Library) error {
	if err := s.store.Put(ctx, sessionID, lib); err != nil {
		return fmt.Errorf("failed to save prompt library: %w", err)
	}
	return nil
}

// Create adds a template to the session's library. When a dataset is loaded
// every placeholder must name one of its columns.
func (s *PromptService) Create(ctx context.Context, sessionID string, input TemplateInput) (*Template, error) {
	ctx, span := s.tracer.Start(ctx, "prompt.Create")
	defer span.End()

	input = input.normalize()
	if err := input.check(); err != nil {
		return nil, err
	}

	headers, loaded, err := s.headers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkBody(input.Body, headers, loaded); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t := Template{
		ID:          s.newID(),
		Name:        input.Name,
		Description: input.Description,
		Body:        input.Body,
		Version:     input.Version,
		Variables:   ExtractVariables(input.Body),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	lib = lib.clone()
	lib.Templates = append(lib.Templates, t)
	if err := s.save(ctx, sessionID, lib); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("prompt.id", t.ID), attribute.Int("prompt.variables", len(t.Variables)))
	s.logger.InfoContext(ctx, "prompt created", "session", sessionID, "id", t.ID, "name", t.Name)
	return &t, nil
}

// Update replaces the editable fields of a template, keeping its ID and
// creation time.
func (s *PromptService) Update(ctx context.Context, sessionID, id string, input TemplateInput) (*Template, error) {
	ctx, span := s.tracer.Start(ctx, "prompt.Update", trace.WithAttributes(attribute.String("prompt.id", id)))
	defer span.End()

	input = input.normalize()
	if err := input.check(); err != nil {
		return nil, err
	}

	headers, loaded, err := s.headers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkBody(input.Body, headers, loaded); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	i := lib.Find(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	lib = lib.clone()
	t := &lib.Templates[i]
	t.Name = input.Name
	t.Description = input.Description
	t.Body = input.Body
	t.Version = input.Version
	t.Variables = ExtractVariables(input.Body)
	t.UpdatedAt = s.now().UTC()

	if err := s.save(ctx, sessionID, lib); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "prompt updated", "session", sessionID, "id", id, "version", t.Version)
	updated := *t
	return &updated, nil
}

// Delete removes a template from the library.
func (s *PromptService) Delete(ctx context.Context, sessionID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	i := lib.Find(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	templates := make([]Template, 0, len(lib.Templates)-1)
	templates = append(templates, lib.Templates[:i]...)
	templates = append(templates, lib.Templates[i+1:]...)
	if err := s.save(ctx, sessionID, Library{Templates: templates}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "prompt deleted", "session", sessionID, "id", id)
	return nil
}

// Get returns one template.
func (s *PromptService) Get(ctx context.Context, sessionID, id string) (*Template, error) {
	lib, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	i := lib.Find(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t := lib.Templates[i]
	return &t, nil
}

// List returns the session's templates in creation order.
func (s *PromptService) List(ctx context.Context, sessionID string) ([]Template, error) {
	lib, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return lib.clone().Templates, nil
}

// Validate checks body against the session's dataset. Without a dataset the
// result lists the variables and is valid.
func (s *PromptService) Validate(ctx context.Context, sessionID, body string) (*ValidationResult, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	headers, loaded, err := s.headers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !loaded {
		return &ValidationResult{Valid: true, Variables: ExtractVariables(body)}, nil
	}
	result := ValidateTemplate(body, headers)
	return &result, nil
}

// Preview renders body against row rowIndex of the session's dataset. With
// no dataset loaded the body is returned unchanged.
func (s *PromptService) Preview(ctx context.Context, sessionID, body string, rowIndex int) (*PreviewResult, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	ds, err := s.dataset(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{Rendered: body, RowIndex: rowIndex, Variables: ExtractVariables(body)}
	if ds == nil {
		return result, nil
	}
	if rowIndex < 0 || rowIndex >= len(ds.Rows) {
		return nil, fmt.Errorf("%w: %d of %d rows", ErrRowOutOfRange, rowIndex, len(ds.Rows))
	}

	row := ds.Rows[rowIndex]
	result.Rendered = Render(body, row)
	result.Row = row
	result.DatasetLoaded = true
	return result, nil
}

// ImportLibrary appends the templates of a library file. Every entry is
// checked before any is added.
func (s *PromptService) ImportLibrary(ctx context.Context, sessionID string, data []byte, format LibraryFormat) ([]Template, error) {
	ctx, span := s.tracer.Start(ctx, "prompt.ImportLibrary")
	defer span.End()

	if err := checkSession(sessionID); err != nil {
		return nil, err
	}

	file, err := ParseLibrary(ctx, data, format)
	if err != nil {
		return nil, err
	}

	headers, loaded, err := s.headers(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	imported := make([]Template, 0, len(file.Templates))
	for i, e := range file.Templates {
		input := TemplateInput{Name: e.Name, Description: e.Description, Body: e.Template, Version: e.Version}.normalize()
		if err := input.check(); err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
		if err := checkBody(input.Body, headers, loaded); err != nil {
			return nil, fmt.Errorf("template %q: %w", input.Name, err)
		}
		imported = append(imported, Template{
			ID:          s.newID(),
			Name:        input.Name,
			Description: input.Description,
			Body:        input.Body,
			Version:     input.Version,
			Variables:   ExtractVariables(input.Body),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lib, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	lib = lib.clone()
	lib.Templates = append(lib.Templates, imported...)
	if err := s.save(ctx, sessionID, lib); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("prompt.imported", len(imported)))
	s.logger.InfoContext(ctx, "prompt library imported", "session", sessionID, "count", len(imported))
	return imported, nil
}

// ExportLibrary encodes the session's templates as a library file.
func (s *PromptService) ExportLibrary(ctx context.Context, sessionID string, format LibraryFormat) ([]byte, error) {
	lib, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return MarshalLibrary(lib.Templates, format)
}

func checkSession(sessionID string) error {
	if sessionID == "" {
		return session.ErrNoSession
	}
	return nil
}
