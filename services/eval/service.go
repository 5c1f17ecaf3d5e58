package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/instantcocoa/evalbench/pkg/session"
	"github.com/instantcocoa/evalbench/services/datasets"
	"github.com/instantcocoa/evalbench/services/prompt"
	"github.com/instantcocoa/evalbench/services/providers"
)

// DatasetSource returns the dataset loaded for a session.
type DatasetSource interface {
	Get(ctx context.Context, sessionID string) (*datasets.Dataset, error)
}

// PromptSource lists a session's prompt templates.
type PromptSource interface {
	List(ctx context.Context, sessionID string) ([]prompt.Template, error)
}

// LaneSource returns a session's enabled providers.
type LaneSource interface {
	Enabled(ctx context.Context, sessionID string) ([]providers.Lane, error)
}

// EvalService starts runs and tracks their results.
type EvalService struct {
	store     Store
	datasets  DatasetSource
	prompts   PromptSource
	providers LaneSource
	runner    *Runner
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
}

// NewEvalService creates a new eval service.
func NewEvalService(store Store, ds DatasetSource, ps PromptSource, ls LaneSource, runner *Runner, logger *slog.Logger) *EvalService {
	baseCtx, stop := context.WithCancel(context.Background())
	return &EvalService{
		store:     store,
		datasets:  ds,
		prompts:   ps,
		providers: ls,
		runner:    runner,
		logger:    logger.With("component", "eval"),
		tracer:    otel.Tracer("evalbench/eval"),
		now:       time.Now,
		newID:     func() string { return "run_" + uuid.NewString() },
		cancels:   make(map[string]context.CancelFunc),
		baseCtx:   baseCtx,
		stop:      stop,
	}
}

// StartRun plans a run over the session's dataset, prompts and enabled
// providers and starts it in the background.
func (s *EvalService) StartRun(ctx context.Context, sessionID string, input StartInput) (*Run, error) {
	ctx, span := s.tracer.Start(ctx, "eval.StartRun")
	defer span.End()

	if sessionID == "" {
		return nil, session.ErrNoSession
	}

	ds, err := s.datasets.Get(ctx, sessionID)
	if errors.Is(err, datasets.ErrNoDataset) {
		return nil, ErrNoDataset
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	prompts, err := s.selectPrompts(ctx, sessionID, input.PromptIDs)
	if err != nil {
		return nil, err
	}

	lanes, err := s.selectLanes(ctx, sessionID, input.Providers)
	if err != nil {
		return nil, err
	}

	tasks := PlanTasks(ds.Rows, prompts, lanes)

	promptIDs := make([]string, len(prompts))
	for i, p := range prompts {
		promptIDs[i] = p.ID
	}

	run := &Run{
		ID:          s.newID(),
		SessionID:   sessionID,
		Status:      RunStatusPending,
		PromptIDs:   promptIDs,
		Providers:   lanes,
		DatasetName: ds.FileName,
		Total:       len(tasks),
		CreatedAt:   s.now().UTC(),
		Metadata:    input.Metadata,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create eval run: %w", err)
	}

	s.mu.Lock()
	runCtx, cancel := context.WithCancel(s.baseCtx)
	s.cancels[run.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(runCtx, run.ID, tasks)

	span.SetAttributes(
		attribute.String("eval.run_id", run.ID),
		attribute.Int("eval.tasks", run.Total),
	)
	s.logger.InfoContext(ctx, "eval run started",
		"session", sessionID,
		"run", run.ID,
		"prompts", len(prompts),
		"rows", len(ds.Rows),
		"providers", len(lanes),
		"tasks", run.Total,
	)
	return run, nil
}

func (s *EvalService) selectPrompts(ctx context.Context, sessionID string, ids []string) ([]prompt.Template, error) {
	all, err := s.prompts.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	if len(all) == 0 {
		return nil, ErrNoPrompts
	}
	if len(ids) == 0 {
		return all, nil
	}

	byID := make(map[string]prompt.Template, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}
	selected := make([]prompt.Template, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPrompt, id)
		}
		selected = append(selected, p)
	}
	return selected, nil
}

func (s *EvalService) selectLanes(ctx context.Context, sessionID string, names []string) ([]providers.Lane, error) {
	enabled, err := s.providers.Enabled(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load providers: %w", err)
	}
	if len(names) == 0 {
		return enabled, nil
	}

	lanes := make([]providers.Lane, 0, len(names))
	for _, name := range names {
		i := slices.IndexFunc(enabled, func(l providers.Lane) bool { return l.Provider == name })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrProviderNotEnabled, name)
		}
		lanes = append(lanes, enabled[i])
	}
	return lanes, nil
}

// execute drives one run to a terminal state.
func (s *EvalService) execute(ctx context.Context, runID string, tasks []Task) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.cancels[runID]; ok {
			cancel()
			delete(s.cancels, runID)
		}
		s.mu.Unlock()
	}()

	// Updates after the run context ends must still be written.
	bg := context.WithoutCancel(ctx)

	_, err := s.store.UpdateRun(bg, runID, func(r *Run) error {
		if r.Status != RunStatusPending {
			return ErrNotCancellable
		}
		now := s.now().UTC()
		r.Status = RunStatusRunning
		r.StartedAt = &now
		return nil
	})
	if err != nil {
		return
	}

	err = s.runner.Run(ctx, runID, tasks, func(ctx context.Context, result Result) error {
		result.ID = fmt.Sprintf("res_%d", result.Seq+1)
		if err := s.store.AddResult(ctx, &result); err != nil {
			return err
		}
		_, err := s.store.UpdateRun(ctx, runID, func(r *Run) error {
			r.Completed++
			r.Progress = progress(r.Completed, r.Total)
			return nil
		})
		return err
	})

	final, uerr := s.store.UpdateRun(bg, runID, func(r *Run) error {
		if r.Status.Terminal() {
			return nil
		}
		now := s.now().UTC()
		r.CompletedAt = &now
		switch {
		case err == nil:
			r.Status = RunStatusCompleted
		case errors.Is(err, context.Canceled):
			r.Status = RunStatusCancelled
		default:
			r.Status = RunStatusFailed
			r.Error = err.Error()
		}
		return nil
	})
	if uerr != nil {
		s.logger.Error("failed to finish eval run", "run", runID, "error", uerr)
		return
	}

	s.logger.Info("eval run finished",
		"run", runID,
		"status", final.Status,
		"completed", final.Completed,
		"total", final.Total,
	)
}

// GetRun returns one of the session's runs.
func (s *EvalService) GetRun(ctx context.Context, sessionID, runID string) (*Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get eval run: %w", err)
	}
	if run == nil || run.SessionID != sessionID {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// ListRuns returns the session's runs, newest first.
func (s *EvalService) ListRuns(ctx context.Context, sessionID string) ([]*Run, error) {
	if sessionID == "" {
		return nil, session.ErrNoSession
	}
	runs, err := s.store.ListRuns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list eval runs: %w", err)
	}
	return runs, nil
}

// CancelRun stops a pending or running run. Results recorded so far are kept.
func (s *EvalService) CancelRun(ctx context.Context, sessionID, runID string) (*Run, error) {
	if _, err := s.GetRun(ctx, sessionID, runID); err != nil {
		return nil, err
	}

	run, err := s.store.UpdateRun(ctx, runID, func(r *Run) error {
		if r.Status.Terminal() {
			return fmt.Errorf("%w: status %s", ErrNotCancellable, r.Status)
		}
		now := s.now().UTC()
		r.Status = RunStatusCancelled
		r.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if cancel, ok := s.cancels[runID]; ok {
		cancel()
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "eval run cancelled", "session", sessionID, "run", runID, "completed", run.Completed)
	return run, nil
}

// GetResults returns a window of a run's results in task order.
func (s *EvalService) GetResults(ctx context.Context, sessionID, runID string, limit, offset int) (*ResultPage, error) {
	if _, err := s.GetRun(ctx, sessionID, runID); err != nil {
		return nil, err
	}
	results, total, err := s.store.GetResults(ctx, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get eval results: %w", err)
	}
	return &ResultPage{Results: results, Total: total}, nil
}

// RecordScores merges reviewer scores into a result. Every score must lie
// within MinScore..MaxScore.
func (s *EvalService) RecordScores(ctx context.Context, sessionID, runID, resultID string, scores map[string]float64) (*Result, error) {
	if len(scores) == 0 {
		return nil, fmt.Errorf("%w: no scores given", ErrInvalidScore)
	}
	for metric, v := range scores {
		if metric == "" {
			return nil, fmt.Errorf("%w: empty metric name", ErrInvalidScore)
		}
		if math.IsNaN(v) || v < MinScore || v > MaxScore {
			return nil, fmt.Errorf("%w: %s = %g, want %d to %d", ErrInvalidScore, metric, v, MinScore, MaxScore)
		}
	}

	if _, err := s.GetRun(ctx, sessionID, runID); err != nil {
		return nil, err
	}

	result, err := s.store.UpdateResult(ctx, runID, resultID, func(r *Result) error {
		if r.Scores == nil {
			r.Scores = make(map[string]float64, len(scores))
		}
		maps.Copy(r.Scores, scores)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "scores recorded", "session", sessionID, "run", runID, "result", resultID, "metrics", len(scores))
	return result, nil
}

// Summarize averages each metric per provider over the scored results.
// Providers appear in run order.
func (s *EvalService) Summarize(ctx context.Context, sessionID, runID string) (*Summary, error) {
	run, err := s.GetRun(ctx, sessionID, runID)
	if err != nil {
		return nil, err
	}
	results, _, err := s.store.GetResults(ctx, runID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get eval results: %w", err)
	}

	lanes := run.Providers
	if len(lanes) == 0 {
		lanes = []providers.Lane{{}}
	}

	type acc struct {
		sums   map[string]float64
		counts map[string]int
		scored int
		total  int
	}
	byProvider := make(map[string]*acc, len(lanes))
	for _, l := range lanes {
		byProvider[l.Provider] = &acc{sums: map[string]float64{}, counts: map[string]int{}}
	}

	for _, r := range results {
		a, ok := byProvider[r.Provider]
		if !ok {
			continue
		}
		a.total++
		if len(r.Scores) == 0 {
			continue
		}
		a.scored++
		for metric, v := range r.Scores {
			a.sums[metric] += v
			a.counts[metric]++
		}
	}

	summary := &Summary{RunID: run.ID, Status: run.Status, Providers: make([]ProviderSummary, 0, len(lanes))}
	for _, l := range lanes {
		a := byProvider[l.Provider]
		ps := ProviderSummary{
			Provider:    l.Provider,
			Model:       l.Model,
			Averages:    make(map[string]float64, len(a.sums)),
			ScoredCount: a.scored,
			ResultCount: a.total,
		}
		for metric, sum := range a.sums {
			ps.Averages[metric] = sum / float64(a.counts[metric])
		}
		summary.Providers = append(summary.Providers, ps)
	}
	return summary, nil
}

// Close cancels every active run and waits for the runners to stop.
func (s *EvalService) Close() {
	s.stop()
	s.wg.Wait()
}
