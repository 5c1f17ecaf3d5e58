// Package eval runs simulated evaluations: every selected prompt is rendered
// against every dataset row for every enabled provider, one timer tick per
// task, and reviewers score the results by hand.
package eval

import (
	"errors"
	"time"

	"github.com/instantcocoa/evalbench/services/datasets"
	"github.com/instantcocoa/evalbench/services/providers"
)

var (
	// ErrNoDataset is returned when a run is started without a dataset.
	ErrNoDataset = errors.New("Upload a dataset to begin evaluations.")
	// ErrNoPrompts is returned when a run is started without prompts.
	ErrNoPrompts = errors.New("Create at least one prompt template to run evaluations.")
	// ErrUnknownPrompt is returned when a run names a prompt the session lacks.
	ErrUnknownPrompt = errors.New("unknown prompt template")
	// ErrProviderNotEnabled is returned when a run names a disabled provider.
	ErrProviderNotEnabled = errors.New("provider is not enabled")
	// ErrRunNotFound is returned for unknown run IDs.
	ErrRunNotFound = errors.New("eval run not found")
	// ErrResultNotFound is returned for unknown result IDs.
	ErrResultNotFound = errors.New("eval result not found")
	// ErrNotCancellable is returned when cancelling a finished run.
	ErrNotCancellable = errors.New("eval run is not pending or running")
	// ErrInvalidScore is returned for scores outside MinScore..MaxScore.
	ErrInvalidScore = errors.New("invalid score")
)

// Score bounds for reviewer scores.
const (
	MinScore = 0
	MaxScore = 10
)

// Metrics reviewers are expected to score. Other metric names are accepted.
var Metrics = []string{"correctness", "faithfulness"}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Run is one evaluation execution.
type Run struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	Status      RunStatus         `json:"status"`
	PromptIDs   []string          `json:"prompt_ids"`
	Providers   []providers.Lane  `json:"providers"`
	DatasetName string            `json:"dataset_name,omitempty"`
	Total       int               `json:"total"`
	Completed   int               `json:"completed"`
	Progress    float64           `json:"progress"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Result is the outcome of one task: a prompt rendered for one row and
// provider, with any scores a reviewer recorded.
type Result struct {
	ID             string             `json:"id"`
	RunID          string             `json:"run_id"`
	Seq            int                `json:"seq"`
	PromptID       string             `json:"prompt_id"`
	PromptName     string             `json:"prompt_name"`
	RowIndex       int                `json:"row_index"`
	Provider       string             `json:"provider,omitempty"`
	Model          string             `json:"model,omitempty"`
	Input          datasets.Row       `json:"input"`
	RenderedPrompt string             `json:"rendered_prompt"`
	Scores         map[string]float64 `json:"scores,omitempty"`
}

// StartInput selects what a run covers. Empty lists select every prompt and
// every enabled provider.
type StartInput struct {
	PromptIDs []string          `json:"prompt_ids,omitempty"`
	Providers []string          `json:"providers,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ResultPage is a window of a run's results.
type ResultPage struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
}

// ProviderSummary averages the scores of one provider's results.
type ProviderSummary struct {
	Provider    string             `json:"provider"`
	Model       string             `json:"model,omitempty"`
	Averages    map[string]float64 `json:"averages"`
	ScoredCount int                `json:"scored_count"`
	ResultCount int                `json:"result_count"`
}

// Summary holds per provider averages for a run.
type Summary struct {
	RunID     string            `json:"run_id"`
	Status    RunStatus         `json:"status"`
	Providers []ProviderSummary `json:"providers"`
}

// progress returns completed as a percentage of total.
func progress(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}
