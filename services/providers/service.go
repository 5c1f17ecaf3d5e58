package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/instantcocoa/evalbench/pkg/session"
)

// ProvidersService manages provider settings per session.
type ProvidersService struct {
	mu      sync.Mutex
	store   session.Store[Settings]
	latency time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewProvidersService creates a new providers service. latency is how long a
// simulated connection test takes.
func NewProvidersService(store session.Store[Settings], latency time.Duration, logger *slog.Logger) *ProvidersService {
	return &ProvidersService{
		store:   store,
		latency: latency,
		logger:  logger.With("component", "providers"),
		tracer:  otel.Tracer("evalbench/providers"),
	}
}

// load returns the session's settings, or the defaults for a new session.
func (s *ProvidersService) load(ctx context.Context, sessionID string) (Settings, error) {
	settings, found, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load provider settings: %w", err)
	}
	if !found {
		return DefaultSettings(), nil
	}
	return settings, nil
}

func (s *ProvidersService) save(ctx context.Context, sessionID string, settings Settings) error {
	if err := s.store.Put(ctx, sessionID, settings); err != nil {
		return fmt.Errorf("failed to save provider settings: %w", err)
	}
	return nil
}

// Get returns the session's settings with API keys masked.
func (s *ProvidersService) Get(ctx context.Context, sessionID string) (*Settings, error) {
	settings, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	masked := settings.Masked()
	return &masked, nil
}

// Enabled returns the session's enabled providers in catalog order.
func (s *ProvidersService) Enabled(ctx context.Context, sessionID string) ([]Lane, error) {
	settings, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return EnabledProviders(settings), nil
}

// Configure applies a partial update to one provider. Changing the key or
// the model clears the connected flag.
func (s *ProvidersService) Configure(ctx context.Context, sessionID, name string, input ConfigInput) (*Config, error) {
	info, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	if input.Model != nil && !info.HasModel(*input.Model) {
		return nil, fmt.Errorf("%w: %q for %s", ErrUnknownModel, *input.Model, info.DisplayName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	settings = settings.clone()

	c := settings.Providers[name]
	if input.Enabled != nil {
		c.Enabled = *input.Enabled
	}
	if input.APIKey != nil {
		key := strings.TrimSpace(*input.APIKey)
		if key != c.APIKey {
			c.APIKey = key
			c.Connected = false
		}
	}
	if input.Model != nil && *input.Model != c.Model {
		c.Model = *input.Model
		c.Connected = false
	}
	settings.Providers[name] = c

	if err := s.save(ctx, sessionID, settings); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "provider configured",
		"session", sessionID,
		"provider", name,
		"enabled", c.Enabled,
		"model", c.Model,
		"has_key", c.APIKey != "",
	)

	c.APIKey = MaskKey(c.APIKey)
	return &c, nil
}

// SetJudge selects the judge provider and model.
func (s *ProvidersService) SetJudge(ctx context.Context, sessionID string, judge JudgeConfig) (*JudgeConfig, error) {
	info, ok := Lookup(judge.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, judge.Provider)
	}
	if judge.Model == "" {
		judge.Model = info.DefaultModel
	}
	if !info.HasModel(judge.Model) {
		return nil, fmt.Errorf("%w: %q for %s", ErrUnknownModel, judge.Model, info.DisplayName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	settings = settings.clone()
	settings.Judge = judge

	if err := s.save(ctx, sessionID, settings); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "judge configured", "session", sessionID, "provider", judge.Provider, "model", judge.Model, "enabled", judge.Enabled)
	return &judge, nil
}

// TestConnection simulates a connection check. It fails without an API key;
// otherwise it waits for the configured latency and marks the provider
// connected, unless the key or model changed in the meantime.
func (s *ProvidersService) TestConnection(ctx context.Context, sessionID, name string) (*Config, error) {
	ctx, span := s.tracer.Start(ctx, "providers.TestConnection", trace.WithAttributes(attribute.String("provider", name)))
	defer span.End()

	if _, ok := Lookup(name); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	before, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	tested := before.Providers[name]
	if tested.APIKey == "" {
		return nil, fmt.Errorf("%w: please enter your %s API key first", ErrAPIKeyRequired, strings.ToUpper(name))
	}

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	settings = settings.clone()

	c := settings.Providers[name]
	if c.APIKey == tested.APIKey && c.Model == tested.Model {
		c.Connected = true
		settings.Providers[name] = c
		if err := s.save(ctx, sessionID, settings); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "provider connection test passed", "session", sessionID, "provider", name)
	}

	c.APIKey = MaskKey(c.APIKey)
	return &c, nil
}
