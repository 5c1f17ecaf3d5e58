package eval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"go.uber.org/goleak"
	"google.golang.org/grpc/metadata"

	"github.com/instantcocoa/evalbench/pkg/grpcutil"
	"github.com/instantcocoa/evalbench/pkg/session"
	"github.com/instantcocoa/evalbench/pkg/testutil"
	"github.com/instantcocoa/evalbench/services/datasets"
	"github.com/instantcocoa/evalbench/services/prompt"
	"github.com/instantcocoa/evalbench/services/providers"
)

type fakeDatasets map[string]*datasets.Dataset

func (f fakeDatasets) Get(_ context.Context, sid string) (*datasets.Dataset, error) {
	if ds, ok := f[sid]; ok {
		return ds, nil
	}
	return nil, datasets.ErrNoDataset
}

type fakePrompts map[string][]prompt.Template

func (f fakePrompts) List(_ context.Context, sid string) ([]prompt.Template, error) {
	return f[sid], nil
}

type fakeLanes map[string][]providers.Lane

func (f fakeLanes) Enabled(_ context.Context, sid string) ([]providers.Lane, error) {
	return f[sid], nil
}

var evalDataset = &datasets.Dataset{
	Headers:  []string{"text"},
	Rows:     []datasets.Row{{"text": "I love it"}, {"text": "meh"}},
	RowCount: 2,
	FileName: "reviews.csv",
}

var evalPrompts = []prompt.Template{
	{ID: "p1", Name: "sentiment", Body: "Analyze the sentiment of: {{text}}"},
	{ID: "p2", Name: "summary", Body: "Summarize: {{text}}"},
}

var bothLanes = []providers.Lane{
	{Provider: "groq", Model: "llama3-8b-8192"},
	{Provider: "gemini", Model: "gemini-pro"},
}

func newTestService(t *testing.T, tick time.Duration) *EvalService {
	t.Helper()

	svc := NewEvalService(
		NewMemoryStore(0),
		fakeDatasets{"s1": evalDataset, "s2": evalDataset, "empty": evalDataset},
		fakePrompts{"s1": evalPrompts, "s2": evalPrompts[:1]},
		fakeLanes{"s1": bothLanes},
		NewRunner(tick, 2),
		testutil.DiscardLogger(),
	)
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("run_%d", n)
	}
	t.Cleanup(svc.Close)
	return svc
}

func incomingSession(sid string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(grpcutil.SessionMetadataKey, sid))
}

func waitForStatus(t *testing.T, svc *EvalService, sid, runID string, want RunStatus) *Run {
	t.Helper()

	var run *Run
	testutil.WaitFor(t, 5*time.Second, func() bool {
		var err error
		run, err = svc.GetRun(context.Background(), sid, runID)
		return err == nil && run.Status == want
	}, fmt.Sprintf("run %s to be %s", runID, want))
	return run
}

func TestEvalService_StartRunPreconditions(t *testing.T) {
	svc := newTestService(t, 0)
	ctx := context.Background()

	tests := []struct {
		name    string
		sid     string
		input   StartInput
		wantErr error
		wantMsg string
	}{
		{"no session", "", StartInput{}, session.ErrNoSession, ""},
		{"no dataset", "nodata", StartInput{}, ErrNoDataset, "Upload a dataset to begin evaluations."},
		{"no prompts", "empty", StartInput{}, ErrNoPrompts, "Create at least one prompt template to run evaluations."},
		{"unknown prompt", "s1", StartInput{PromptIDs: []string{"p9"}}, ErrUnknownPrompt, ""},
		{"provider not enabled", "s2", StartInput{Providers: []string{"groq"}}, ErrProviderNotEnabled, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.StartRun(ctx, tt.sid, tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("StartRun() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantMsg != "" && err.Error() != tt.wantMsg {
				t.Errorf("StartRun() message = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestEvalService_RunCompletes(t *testing.T) {
	svc := newTestService(t, time.Millisecond)
	ctx := context.Background()

	run, err := svc.StartRun(ctx, "s1", StartInput{})
	testutil.RequireNoError(t, err)

	if run.Total != 2*2*2 {
		t.Errorf("Total = %d, want rows x prompts x providers = 8", run.Total)
	}
	if run.DatasetName != "reviews.csv" {
		t.Errorf("DatasetName = %q", run.DatasetName)
	}

	done := waitForStatus(t, svc, "s1", run.ID, RunStatusCompleted)
	if done.Completed != done.Total || done.Progress != 100 {
		t.Errorf("Completed = %d/%d, Progress = %v", done.Completed, done.Total, done.Progress)
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Errorf("timestamps not set: %+v", done)
	}

	page, err := svc.GetResults(ctx, "s1", run.ID, 0, 0)
	testutil.RequireNoError(t, err)
	if page.Total != 8 || len(page.Results) != 8 {
		t.Fatalf("results = %d (total %d), want 8", len(page.Results), page.Total)
	}

	first := page.Results[0]
	if first.ID != "res_1" || first.PromptID != "p1" || first.Provider != "groq" || first.RowIndex != 0 {
		t.Errorf("first result = %+v", first)
	}
	if first.RenderedPrompt != "Analyze the sentiment of: I love it" {
		t.Errorf("RenderedPrompt = %q", first.RenderedPrompt)
	}

	window, err := svc.GetResults(ctx, "s1", run.ID, 2, 6)
	testutil.RequireNoError(t, err)
	if len(window.Results) != 2 || window.Results[0].Seq != 6 {
		t.Errorf("window = %+v", window.Results)
	}
}

func TestEvalService_NoProvidersUsesSingleLane(t *testing.T) {
	svc := newTestService(t, 0)

	run, err := svc.StartRun(context.Background(), "s2", StartInput{})
	testutil.RequireNoError(t, err)

	if run.Total != 2 {
		t.Errorf("Total = %d, want rows x prompts = 2", run.Total)
	}
	if len(run.Providers) != 0 {
		t.Errorf("Providers = %v, want none", run.Providers)
	}
	waitForStatus(t, svc, "s2", run.ID, RunStatusCompleted)
}

func TestEvalService_SelectsPromptsAndProviders(t *testing.T) {
	svc := newTestService(t, 0)

	run, err := svc.StartRun(context.Background(), "s1", StartInput{PromptIDs: []string{"p2"}, Providers: []string{"gemini"}})
	testutil.RequireNoError(t, err)

	if run.Total != 2 {
		t.Errorf("Total = %d, want 2", run.Total)
	}
	if len(run.Providers) != 1 || run.Providers[0].Model != "gemini-pro" {
		t.Errorf("Providers = %v", run.Providers)
	}
	waitForStatus(t, svc, "s1", run.ID, RunStatusCompleted)
}

func TestEvalService_CancelRun(t *testing.T) {
	svc := newTestService(t, time.Hour)
	ctx := context.Background()

	run, err := svc.StartRun(ctx, "s1", StartInput{})
	testutil.RequireNoError(t, err)

	cancelled, err := svc.CancelRun(ctx, "s1", run.ID)
	testutil.RequireNoError(t, err)
	if cancelled.Status != RunStatusCancelled || cancelled.CompletedAt == nil {
		t.Errorf("CancelRun() = %+v", cancelled)
	}

	if _, err := svc.CancelRun(ctx, "s1", run.ID); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("second CancelRun() error = %v, want %v", err, ErrNotCancellable)
	}

	// The runner stops; Close returning proves it.
	svc.Close()

	got, err := svc.GetRun(ctx, "s1", run.ID)
	testutil.RequireNoError(t, err)
	if got.Status != RunStatusCancelled {
		t.Errorf("Status = %v, want cancelled", got.Status)
	}
	if got.Completed != 0 {
		t.Errorf("Completed = %d, want 0", got.Completed)
	}
}

func TestEvalService_CloseCancelsActiveRuns(t *testing.T) {
	svc := newTestService(t, time.Hour)

	run, err := svc.StartRun(context.Background(), "s1", StartInput{})
	testutil.RequireNoError(t, err)

	svc.Close()
	goleak.VerifyNone(t)

	got, err := svc.GetRun(context.Background(), "s1", run.ID)
	testutil.RequireNoError(t, err)
	if got.Status != RunStatusCancelled {
		t.Errorf("Status = %v, want cancelled", got.Status)
	}
}

func TestEvalService_SessionIsolation(t *testing.T) {
	svc := newTestService(t, 0)
	ctx := context.Background()

	run, err := svc.StartRun(ctx, "s1", StartInput{})
	testutil.RequireNoError(t, err)
	waitForStatus(t, svc, "s1", run.ID, RunStatusCompleted)

	if _, err := svc.GetRun(ctx, "s2", run.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(other session) error = %v, want %v", err, ErrRunNotFound)
	}
	if _, err := svc.GetResults(ctx, "s2", run.ID, 0, 0); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetResults(other session) error = %v, want %v", err, ErrRunNotFound)
	}

	runs, err := svc.ListRuns(ctx, "s2")
	testutil.RequireNoError(t, err)
	if len(runs) != 0 {
		t.Errorf("ListRuns(s2) = %v, want none", runs)
	}
	runs, err = svc.ListRuns(ctx, "s1")
	testutil.RequireNoError(t, err)
	if len(runs) != 1 {
		t.Errorf("ListRuns(s1) = %v, want one", runs)
	}
}

func TestEvalService_ScoresAndSummary(t *testing.T) {
	svc := newTestService(t, 0)
	ctx := context.Background()

	run, err := svc.StartRun(ctx, "s1", StartInput{PromptIDs: []string{"p1"}})
	testutil.RequireNoError(t, err)
	waitForStatus(t, svc, "s1", run.ID, RunStatusCompleted)

	// Tasks: row0/groq, row0/gemini, row1/groq, row1/gemini.
	scores := map[string]map[string]float64{
		"res_1": {"correctness": 9, "faithfulness": 8},
		"res_2": {"correctness": 8, "faithfulness": 9},
		"res_3": {"correctness": 7},
	}
	for id, s := range scores {
		_, err := svc.RecordScores(ctx, "s1", run.ID, id, s)
		testutil.RequireNoError(t, err, "RecordScores "+id)
	}

	// Later scores overwrite earlier ones per metric.
	got, err := svc.RecordScores(ctx, "s1", run.ID, "res_3", map[string]float64{"faithfulness": 6})
	testutil.RequireNoError(t, err)
	if got.Scores["correctness"] != 7 || got.Scores["faithfulness"] != 6 {
		t.Errorf("Scores = %v", got.Scores)
	}

	summary, err := svc.Summarize(ctx, "s1", run.ID)
	testutil.RequireNoError(t, err)
	if len(summary.Providers) != 2 {
		t.Fatalf("Providers = %+v", summary.Providers)
	}

	groq, gemini := summary.Providers[0], summary.Providers[1]
	if groq.Provider != "groq" || groq.ScoredCount != 2 || groq.ResultCount != 2 {
		t.Errorf("groq = %+v", groq)
	}
	if groq.Averages["correctness"] != 8 || groq.Averages["faithfulness"] != 7 {
		t.Errorf("groq averages = %v, want correctness 8 faithfulness 7", groq.Averages)
	}
	if gemini.ScoredCount != 1 || gemini.Averages["correctness"] != 8 || gemini.Averages["faithfulness"] != 9 {
		t.Errorf("gemini = %+v", gemini)
	}
}

func TestEvalService_RecordScoresValidation(t *testing.T) {
	svc := newTestService(t, 0)
	ctx := context.Background()

	run, err := svc.StartRun(ctx, "s2", StartInput{})
	testutil.RequireNoError(t, err)
	waitForStatus(t, svc, "s2", run.ID, RunStatusCompleted)

	tests := []struct {
		name     string
		resultID string
		scores   map[string]float64
		wantErr  error
	}{
		{"too high", "res_1", map[string]float64{"correctness": 11}, ErrInvalidScore},
		{"negative", "res_1", map[string]float64{"correctness": -1}, ErrInvalidScore},
		{"not a number", "res_1", map[string]float64{"correctness": math.NaN()}, ErrInvalidScore},
		{"infinite", "res_1", map[string]float64{"correctness": math.Inf(1)}, ErrInvalidScore},
		{"empty metric", "res_1", map[string]float64{"": 5}, ErrInvalidScore},
		{"no scores", "res_1", nil, ErrInvalidScore},
		{"unknown result", "res_99", map[string]float64{"correctness": 5}, ErrResultNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.RecordScores(ctx, "s2", run.ID, tt.resultID, tt.scores); !errors.Is(err, tt.wantErr) {
				t.Errorf("RecordScores() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	summary, err := svc.Summarize(ctx, "s2", run.ID)
	testutil.RequireNoError(t, err)
	if len(summary.Providers) != 1 || summary.Providers[0].Provider != "" || summary.Providers[0].ScoredCount != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestHandler_Methods(t *testing.T) {
	svc := newTestService(t, 0)
	h := NewHandler(testutil.DiscardLogger(), svc)

	// Handlers read the session from incoming metadata.
	ctx := incomingSession("s1")

	run, err := h.StartRun(ctx, &StartInput{})
	testutil.RequireNoError(t, err)
	waitForStatus(t, svc, "s1", run.ID, RunStatusCompleted)

	list, err := h.ListRuns(ctx, &Empty{})
	testutil.RequireNoError(t, err)
	if len(list.Runs) != 1 {
		t.Errorf("ListRuns() = %+v", list)
	}

	page, err := h.GetResults(ctx, &ResultsRequest{RunID: run.ID, Limit: 3})
	testutil.RequireNoError(t, err)
	if len(page.Results) != 3 || page.Total != 8 {
		t.Errorf("GetResults() = %d results, total %d", len(page.Results), page.Total)
	}

	if _, err := h.GetResults(ctx, &ResultsRequest{RunID: run.ID, Offset: -1}); !grpcutil.IsInvalidArgument(err) {
		t.Errorf("GetResults(negative offset) error = %v, want InvalidArgument", err)
	}

	if _, err := h.GetRun(context.Background(), &RunRequest{RunID: run.ID}); !grpcutil.IsInvalidArgument(err) {
		t.Errorf("GetRun without session error = %v, want InvalidArgument", err)
	}
}
