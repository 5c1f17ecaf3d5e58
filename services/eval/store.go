package eval

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"
)

// Store defines the interface for eval run storage.
type Store interface {
	// CreateRun stores a new run.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID. It returns nil when the run does not exist.
	GetRun(ctx context.Context, id string) (*Run, error)

	// UpdateRun applies fn to the stored run under the store's lock.
	UpdateRun(ctx context.Context, id string, fn func(*Run) error) (*Run, error)

	// ListRuns returns a session's runs, newest first.
	ListRuns(ctx context.Context, sessionID string) ([]*Run, error)

	// AddResult adds a result to a run.
	AddResult(ctx context.Context, result *Result) error

	// GetResults returns a window of a run's results in task order and the total count.
	GetResults(ctx context.Context, runID string, limit, offset int) ([]Result, int, error)

	// UpdateResult applies fn to one stored result under the store's lock.
	UpdateResult(ctx context.Context, runID, resultID string, fn func(*Result) error) (*Result, error)
}

// MemoryStore is an in-memory implementation of Store. Runner goroutines
// live in the process, so runs do too.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]*Run
	results map[string][]*Result // runID -> results
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory eval store. Finished runs older than
// ttl are dropped by Sweep; a non-positive ttl keeps them forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]*Run),
		results: make(map[string][]*Result),
		ttl:     ttl,
		now:     time.Now,
	}
}

func copyRun(r *Run) *Run {
	cp := *r
	cp.PromptIDs = slices.Clone(r.PromptIDs)
	cp.Providers = slices.Clone(r.Providers)
	cp.Metadata = maps.Clone(r.Metadata)
	return &cp
}

func copyResult(r *Result) Result {
	cp := *r
	cp.Input = maps.Clone(r.Input)
	cp.Scores = maps.Clone(r.Scores)
	return cp
}

// CreateRun stores a new run.
func (s *MemoryStore) CreateRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("eval run already exists: %s", run.ID)
	}

	s.runs[run.ID] = copyRun(run)
	s.results[run.ID] = []*Result{}
	return nil
}

// GetRun retrieves a run by ID.
func (s *MemoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return copyRun(run), nil
}

// UpdateRun applies fn to the stored run. The run is left unchanged when fn
// fails.
func (s *MemoryStore) UpdateRun(ctx context.Context, id string, fn func(*Run) error) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	updated := copyRun(run)
	if err := fn(updated); err != nil {
		return nil, err
	}
	s.runs[id] = updated
	return copyRun(updated), nil
}

// ListRuns returns a session's runs, newest first.
func (s *MemoryStore) ListRuns(ctx context.Context, sessionID string) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*Run
	for _, run := range s.runs {
		if run.SessionID == sessionID {
			runs = append(runs, copyRun(run))
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

// AddResult adds a result to a run.
func (s *MemoryStore) AddResult(ctx context.Context, result *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[result.RunID]; !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, result.RunID)
	}

	cp := copyResult(result)
	s.results[result.RunID] = append(s.results[result.RunID], &cp)
	return nil
}

// GetResults returns a window of a run's results ordered by Seq. A
// non-positive limit returns everything after offset.
func (s *MemoryStore) GetResults(ctx context.Context, runID string, limit, offset int) ([]Result, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.results[runID]
	if !exists {
		return nil, 0, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	results := make([]Result, len(stored))
	for i, r := range stored {
		results[i] = copyResult(r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Seq < results[j].Seq })

	total := len(results)

	// Apply pagination
	if offset > 0 {
		if offset >= len(results) {
			results = nil
		} else {
			results = results[offset:]
		}
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, total, nil
}

// UpdateResult applies fn to one result.
func (s *MemoryStore) UpdateResult(ctx context.Context, runID, resultID string, fn func(*Result) error) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.results[runID] {
		if r.ID != resultID {
			continue
		}
		updated := copyResult(r)
		if err := fn(&updated); err != nil {
			return nil, err
		}
		s.results[runID][i] = &updated
		out := copyResult(&updated)
		return &out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrResultNotFound, resultID)
}

// Sweep drops finished runs that completed more than ttl ago, with their
// results, and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for id, run := range s.runs {
		if run.Status.Terminal() && run.CompletedAt != nil && run.CompletedAt.Before(cutoff) {
			delete(s.runs, id)
			delete(s.results, id)
			removed++
		}
	}
	return removed
}
