package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/instantcocoa/evalbench/cli/internal/output"
	"github.com/instantcocoa/evalbench/services/eval"
)

var evalCmd = &cobra.Command{
	Use:     "eval",
	Aliases: []string{"evals"},
	Short:   "Run and review evaluations",
	Long:    "Commands for running evaluations over the session's dataset, prompts and providers, and scoring the results.",
}

var evalRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an evaluation run",
	Long: `Start an evaluation run over every dataset row, for the selected prompts and
providers. Without --prompt every prompt is used; without --provider every
enabled provider is used.

Examples:
  evalbench eval run --follow
  evalbench eval run --prompt pmt_123 --provider groq --meta experiment=baseline`,
	RunE: func(cmd *cobra.Command, args []string) error {
		promptIDs, _ := cmd.Flags().GetStringSlice("prompt")
		providerNames, _ := cmd.Flags().GetStringSlice("provider")
		metadata, _ := cmd.Flags().GetStringToString("meta")
		follow, _ := cmd.Flags().GetBool("follow")
		interval, _ := cmd.Flags().GetDuration("interval")

		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		req := eval.StartInput{
			PromptIDs: promptIDs,
			Providers: providerNames,
			Metadata:  metadata,
		}
		var run eval.Run
		if err := r.call(cmd.Context(), eval.ServiceName, "StartRun", &req, &run); err != nil {
			return fmt.Errorf("failed to start run: %w", err)
		}

		if !follow {
			w := writer(cmd)
			if w.Structured() {
				return w.Print(run)
			}
			output.Success(cmd.OutOrStdout(), "Started run %s (%d tasks)", run.ID, run.Total)
			return nil
		}

		output.Info(cmd.OutOrStdout(), "Started run %s (%d tasks)", run.ID, run.Total)
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		final, err := followRun(ctx, r, run.ID, interval, func(run *eval.Run) {
			cmd.Printf("  %s %5.1f%% (%d/%d)\n", run.Status, run.Progress, run.Completed, run.Total)
		})
		if err != nil {
			return err
		}
		return printRun(cmd, final)
	},
}

var evalStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run's status and progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		var run eval.Run
		if err := r.call(cmd.Context(), eval.ServiceName, "GetRun", &eval.RunRequest{RunID: args[0]}, &run); err != nil {
			return fmt.Errorf("failed to get run: %w", err)
		}
		return printRun(cmd, &run)
	},
}

var evalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the session's runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		var resp eval.ListResponse
		if err := r.call(cmd.Context(), eval.ServiceName, "ListRuns", &eval.Empty{}, &resp); err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		table := output.Table{
			Headers: []string{"ID", "STATUS", "DATASET", "PROGRESS", "CREATED"},
			Rows:    make([][]string, len(resp.Runs)),
		}
		for i, run := range resp.Runs {
			table.Rows[i] = []string{
				run.ID,
				string(run.Status),
				run.DatasetName,
				fmt.Sprintf("%d/%d", run.Completed, run.Total),
				run.CreatedAt.Format("2006-01-02 15:04"),
			}
		}
		return writer(cmd).PrintTable(table, resp.Runs)
	},
}

var evalCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a pending or running run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		var run eval.Run
		if err := r.call(cmd.Context(), eval.ServiceName, "CancelRun", &eval.RunRequest{RunID: args[0]}, &run); err != nil {
			return fmt.Errorf("failed to cancel run: %w", err)
		}
		output.Success(cmd.OutOrStdout(), "Cancelled run %s after %d of %d tasks", run.ID, run.Completed, run.Total)
		return nil
	},
}

var evalResultsCmd = &cobra.Command{
	Use:   "results <run-id>",
	Short: "Show a run's results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		req := eval.ResultsRequest{RunID: args[0], Limit: limit, Offset: offset}
		var page eval.ResultPage
		if err := r.call(cmd.Context(), eval.ServiceName, "GetResults", &req, &page); err != nil {
			return fmt.Errorf("failed to get results: %w", err)
		}

		table := output.Table{
			Headers: []string{"ID", "PROMPT", "ROW", "PROVIDER", "RENDERED PROMPT", "SCORES"},
			Rows:    make([][]string, len(page.Results)),
		}
		for i, res := range page.Results {
			table.Rows[i] = []string{
				res.ID,
				res.PromptName,
				strconv.Itoa(res.RowIndex),
				laneName(res.Provider, res.Model),
				res.RenderedPrompt,
				formatScores(res.Scores),
			}
		}
		if len(page.Results) < page.Total {
			table.Footer = fmt.Sprintf("(showing %d-%d of %d results)", offset+1, offset+len(page.Results), page.Total)
		}
		return writer(cmd).PrintTable(table, page)
	},
}

var evalScoreCmd = &cobra.Command{
	Use:   "score <run-id> <result-id>",
	Short: "Record reviewer scores for a result",
	Long: `Record reviewer scores from 0 to 10 for one result.

Examples:
  evalbench eval score run_123 res_1 --score correctness=8 --score faithfulness=7`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetStringToString("score")
		scores, err := parseScores(raw)
		if err != nil {
			return err
		}

		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		req := eval.ScoresRequest{RunID: args[0], ResultID: args[1], Scores: scores}
		var res eval.Result
		if err := r.call(cmd.Context(), eval.ServiceName, "RecordScores", &req, &res); err != nil {
			return fmt.Errorf("failed to record scores: %w", err)
		}

		w := writer(cmd)
		if w.Structured() {
			return w.Print(res)
		}
		output.Success(cmd.OutOrStdout(), "Scored %s: %s", res.ID, formatScores(res.Scores))
		return nil
	},
}

var evalSummaryCmd = &cobra.Command{
	Use:   "summary <run-id>",
	Short: "Show average scores per provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		var summary eval.Summary
		if err := r.call(cmd.Context(), eval.ServiceName, "Summarize", &eval.RunRequest{RunID: args[0]}, &summary); err != nil {
			return fmt.Errorf("failed to summarize run: %w", err)
		}
		return writer(cmd).PrintTable(summaryTable(&summary), summary)
	},
}

func init() {
	evalCmd.AddCommand(evalRunCmd)
	evalCmd.AddCommand(evalStatusCmd)
	evalCmd.AddCommand(evalListCmd)
	evalCmd.AddCommand(evalCancelCmd)
	evalCmd.AddCommand(evalResultsCmd)
	evalCmd.AddCommand(evalScoreCmd)
	evalCmd.AddCommand(evalSummaryCmd)

	evalRunCmd.Flags().StringSlice("prompt", nil, "Prompt template IDs (default: all)")
	evalRunCmd.Flags().StringSlice("provider", nil, "Providers (default: all enabled)")
	evalRunCmd.Flags().StringToString("meta", nil, "Run metadata (key=value)")
	evalRunCmd.Flags().Bool("follow", false, "Wait for the run to finish, printing progress")
	evalRunCmd.Flags().Duration("interval", time.Second, "Progress poll interval with --follow")

	evalResultsCmd.Flags().Int("limit", 20, "Maximum results to show (0 for all)")
	evalResultsCmd.Flags().Int("offset", 0, "Results to skip")

	evalScoreCmd.Flags().StringToString("score", nil, "Metric score (metric=value), repeatable")
	_ = evalScoreCmd.MarkFlagRequired("score")
}

// followRun polls the run until it reaches a terminal status, reporting each
// change of progress.
func followRun(ctx context.Context, r *remote, runID string, interval time.Duration, report func(*eval.Run)) (*eval.Run, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastCompleted := -1
	for {
		var run eval.Run
		if err := r.call(ctx, eval.ServiceName, "GetRun", &eval.RunRequest{RunID: runID}, &run); err != nil {
			return nil, fmt.Errorf("failed to get run: %w", err)
		}
		if run.Completed != lastCompleted || run.Status.Terminal() {
			report(&run)
			lastCompleted = run.Completed
		}
		if run.Status.Terminal() {
			return &run, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("stopped following run %s (it keeps running): %w", runID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printRun(cmd *cobra.Command, run *eval.Run) error {
	w := writer(cmd)
	if w.Structured() {
		return w.Print(run)
	}

	lanes := make([]string, len(run.Providers))
	for i, l := range run.Providers {
		lanes[i] = laneName(l.Provider, l.Model)
	}
	table := output.Table{
		Headers: []string{"FIELD", "VALUE"},
		Rows: [][]string{
			{"ID", run.ID},
			{"Status", string(run.Status)},
			{"Dataset", run.DatasetName},
			{"Prompts", strings.Join(run.PromptIDs, ", ")},
			{"Providers", strings.Join(lanes, ", ")},
			{"Progress", fmt.Sprintf("%.1f%% (%d/%d)", run.Progress, run.Completed, run.Total)},
			{"Created", run.CreatedAt.Format(time.RFC3339)},
		},
	}
	if run.CompletedAt != nil {
		table.Rows = append(table.Rows, []string{"Completed", run.CompletedAt.Format(time.RFC3339)})
	}
	if run.Error != "" {
		table.Rows = append(table.Rows, []string{"Error", run.Error})
	}
	return w.Print(table)
}

func summaryTable(s *eval.Summary) output.Table {
	metrics := slices.Clone(eval.Metrics)
	for _, p := range s.Providers {
		for m := range p.Averages {
			if !slices.Contains(metrics, m) {
				metrics = append(metrics, m)
			}
		}
	}
	sort.Strings(metrics[len(eval.Metrics):])

	headers := []string{"PROVIDER", "SCORED"}
	for _, m := range metrics {
		headers = append(headers, strings.ToUpper(m))
	}

	t := output.Table{Headers: headers, Rows: make([][]string, len(s.Providers))}
	for i, p := range s.Providers {
		row := []string{laneName(p.Provider, p.Model), fmt.Sprintf("%d/%d", p.ScoredCount, p.ResultCount)}
		for _, m := range metrics {
			if avg, ok := p.Averages[m]; ok {
				row = append(row, strconv.FormatFloat(avg, 'f', 2, 64))
			} else {
				row = append(row, "-")
			}
		}
		t.Rows[i] = row
	}
	t.Footer = fmt.Sprintf("run %s: %s", s.RunID, s.Status)
	return t
}

func parseScores(raw map[string]string) (map[string]float64, error) {
	scores := make(map[string]float64, len(raw))
	for metric, v := range raw {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q is not a number", eval.ErrInvalidScore, metric, v)
		}
		scores[metric] = f
	}
	return scores, nil
}

func formatScores(scores map[string]float64) string {
	if len(scores) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconv.FormatFloat(scores[k], 'f', -1, 64)
	}
	return strings.Join(parts, " ")
}

func laneName(provider, model string) string {
	switch {
	case provider == "":
		return "-"
	case model == "":
		return provider
	default:
		return provider + "/" + model
	}
}
