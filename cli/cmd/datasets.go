package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/instantcocoa/evalbench/cli/internal/output"
	"github.com/instantcocoa/evalbench/services/datasets"
)

var datasetCmd = &cobra.Command{
	Use:     "dataset",
	Aliases: []string{"datasets", "ds"},
	Short:   "Inspect and upload CSV datasets",
	Long:    "Commands for checking CSV files locally and loading them into a session.",
}

var datasetInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Parse and validate a CSV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, _ := cmd.Flags().GetInt("rows")

		ds, warnings, err := ingestFile(args[0])
		if err != nil {
			return err
		}
		return printDataset(cmd, ds, warnings, rows)
	},
}

var datasetExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Convert a CSV file to another format",
	Long: `Parse a CSV file and write it as csv, jsonl, json or parquet.

Examples:
  evalbench dataset export questions.csv --format parquet --out questions.parquet
  evalbench dataset export questions.csv --format jsonl > questions.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatName, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")

		format, err := datasets.ParseDataFormat(formatName)
		if err != nil {
			return err
		}
		dw, err := datasets.NewWriter(format)
		if err != nil {
			return err
		}

		ds, _, err := ingestFile(args[0])
		if err != nil {
			return err
		}

		if outPath == "" {
			return dw.Write(cmd.OutOrStdout(), ds)
		}

		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", outPath, err)
		}
		if err := dw.Write(f, ds); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		output.Success(cmd.OutOrStdout(), "Wrote %d rows to %s (%s)", ds.RowCount, outPath, format)
		return nil
	},
}

var datasetWatchCmd = &cobra.Command{
	Use:   "watch <file>",
	Short: "Re-validate a CSV file whenever it changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, _ := cmd.Flags().GetInt("rows")
		path := args[0]

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		check := func() {
			ds, warnings, err := ingestFile(path)
			if err != nil {
				output.Error(cmd.ErrOrStderr(), "%s: %v", path, err)
				return
			}
			if err := printDataset(cmd, ds, warnings, rows); err != nil {
				output.Error(cmd.ErrOrStderr(), "%v", err)
			}
		}

		check()
		output.Info(cmd.OutOrStdout(), "Watching %s for changes (Ctrl+C to stop)", path)
		return watchFile(ctx, path, check)
	},
}

var datasetUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Load a CSV file into the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		var resp datasets.UploadResult
		req := datasets.UploadRequest{FileName: filepath.Base(args[0]), Data: data}
		if err := r.call(cmd.Context(), datasets.ServiceName, "Upload", &req, &resp); err != nil {
			return fmt.Errorf("failed to upload dataset: %w", err)
		}

		w := writer(cmd)
		if w.Structured() {
			return w.Print(resp)
		}
		output.Success(cmd.OutOrStdout(), "Loaded %s: %d rows, %d columns", resp.Dataset.FileName, resp.Dataset.RowCount, len(resp.Dataset.Headers))
		for _, warning := range resp.Warnings {
			output.Warn(cmd.OutOrStdout(), "%s", warning)
		}
		return nil
	},
}

var datasetShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Preview the session's dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, _ := cmd.Flags().GetInt("rows")

		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		var resp datasets.PreviewResult
		if err := r.call(cmd.Context(), datasets.ServiceName, "Preview", &datasets.PreviewRequest{Limit: rows}, &resp); err != nil {
			return fmt.Errorf("failed to preview dataset: %w", err)
		}
		return writer(cmd).PrintTable(previewTable(resp.Headers, resp.Rows, resp.RowCount), resp)
	},
}

var datasetClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the session's dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		if err := r.call(cmd.Context(), datasets.ServiceName, "Clear", &datasets.Empty{}, &datasets.Empty{}); err != nil {
			return fmt.Errorf("failed to clear dataset: %w", err)
		}
		output.Success(cmd.OutOrStdout(), "Dataset cleared")
		return nil
	},
}

func init() {
	datasetCmd.AddCommand(datasetInspectCmd)
	datasetCmd.AddCommand(datasetExportCmd)
	datasetCmd.AddCommand(datasetWatchCmd)
	datasetCmd.AddCommand(datasetUploadCmd)
	datasetCmd.AddCommand(datasetShowCmd)
	datasetCmd.AddCommand(datasetClearCmd)

	datasetInspectCmd.Flags().Int("rows", datasets.DefaultPreviewLimit, "Number of rows to preview")
	datasetWatchCmd.Flags().Int("rows", datasets.DefaultPreviewLimit, "Number of rows to preview")
	datasetShowCmd.Flags().Int("rows", datasets.DefaultPreviewLimit, "Number of rows to preview")

	datasetExportCmd.Flags().String("format", "csv", "Output format (csv, jsonl, json, parquet)")
	datasetExportCmd.Flags().String("out", "", "Output file (default stdout)")
}

// ingestFile reads and ingests a local CSV file.
func ingestFile(path string) (*datasets.Dataset, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return datasets.Ingest(filepath.Base(path), data)
}

type inspectResult struct {
	FileName string         `json:"file_name"`
	Headers  []string       `json:"headers"`
	RowCount int            `json:"row_count"`
	Rows     []datasets.Row `json:"rows"`
	Warnings []string       `json:"warnings,omitempty"`
}

func printDataset(cmd *cobra.Command, ds *datasets.Dataset, warnings []string, limit int) error {
	rows := ds.Rows
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	w := writer(cmd)
	if w.Structured() {
		return w.Print(inspectResult{
			FileName: ds.FileName,
			Headers:  ds.Headers,
			RowCount: ds.RowCount,
			Rows:     rows,
			Warnings: warnings,
		})
	}

	cmd.Printf("%s: %d rows, %d columns\n", ds.FileName, ds.RowCount, len(ds.Headers))
	for _, warning := range warnings {
		output.Warn(cmd.OutOrStdout(), "%s", warning)
	}
	return w.Print(previewTable(ds.Headers, rows, ds.RowCount))
}

// previewTable lays out rows under a leading row number column.
func previewTable(headers []string, rows []datasets.Row, total int) output.Table {
	t := output.Table{
		Headers: append([]string{"#"}, headers...),
		Rows:    make([][]string, len(rows)),
	}
	for i, row := range rows {
		cells := make([]string, 0, len(headers)+1)
		cells = append(cells, strconv.Itoa(i))
		for _, h := range headers {
			cells = append(cells, row[h])
		}
		t.Rows[i] = cells
	}
	if total > len(rows) {
		t.Footer = fmt.Sprintf("(showing %d of %d rows)", len(rows), total)
	}
	return t
}
