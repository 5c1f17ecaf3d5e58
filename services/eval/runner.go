package eval

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/instantcocoa/evalbench/services/datasets"
	"github.com/instantcocoa/evalbench/services/prompt"
	"github.com/instantcocoa/evalbench/services/providers"
)

// Task is one unit of a run: a prompt, a row and a provider lane.
type Task struct {
	Seq      int
	Prompt   prompt.Template
	RowIndex int
	Row      datasets.Row
	Lane     providers.Lane
}

// PlanTasks returns rows x prompts x lanes tasks, ordered by prompt, then
// row, then lane. An empty lane list yields one unassigned lane.
func PlanTasks(rows []datasets.Row, prompts []prompt.Template, lanes []providers.Lane) []Task {
	if len(lanes) == 0 {
		lanes = []providers.Lane{{}}
	}

	tasks := make([]Task, 0, len(rows)*len(prompts)*len(lanes))
	for _, p := range prompts {
		for i, row := range rows {
			for _, lane := range lanes {
				tasks = append(tasks, Task{
					Seq:      len(tasks),
					Prompt:   p,
					RowIndex: i,
					Row:      row,
					Lane:     lane,
				})
			}
		}
	}
	return tasks
}

// Runner executes tasks on a bounded pool of goroutines. Each task renders
// its prompt and then waits one tick in place of a provider call.
type Runner struct {
	tick        time.Duration
	concurrency int
}

// NewRunner creates a runner. concurrency below one is treated as one.
func NewRunner(tick time.Duration, concurrency int) *Runner {
	return &Runner{tick: tick, concurrency: max(concurrency, 1)}
}

// Run executes tasks, calling done for each finished one. It stops
// scheduling when ctx is cancelled, waits for started tasks and returns the
// context's error, or the first error done returned.
func (r *Runner) Run(ctx context.Context, runID string, tasks []Task, done func(context.Context, Result) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			result := Result{
				RunID:          runID,
				Seq:            task.Seq,
				PromptID:       task.Prompt.ID,
				PromptName:     task.Prompt.Name,
				RowIndex:       task.RowIndex,
				Provider:       task.Lane.Provider,
				Model:          task.Lane.Model,
				Input:          task.Row,
				RenderedPrompt: prompt.Render(task.Prompt.Body, task.Row),
			}

			if err := r.wait(gctx); err != nil {
				return err
			}
			return done(gctx, result)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *Runner) wait(ctx context.Context) error {
	if r.tick <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(r.tick)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
