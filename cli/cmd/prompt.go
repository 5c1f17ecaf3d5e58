package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/instantcocoa/evalbench/cli/internal/output"
	"github.com/instantcocoa/evalbench/services/prompt"
)

var errInvalidTemplate = errors.New("template references unknown variables")

var promptCmd = &cobra.Command{
	Use:     "prompt",
	Aliases: []string{"prompts"},
	Short:   "Check and manage prompt templates",
	Long:    "Commands for checking {{variable}} templates against a dataset and managing the session's prompt library.",
}

var promptCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check a template's variables against a CSV file",
	Long: `Check that every {{variable}} in a template names a column of the dataset.
Unknown variables are listed with the closest matching columns.

Examples:
  evalbench prompt check --dataset questions.csv --template "Answer: {{question}}"
  evalbench prompt check --dataset questions.csv --template-file qa.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := templateBody(cmd)
		if err != nil {
			return err
		}
		datasetPath, _ := cmd.Flags().GetString("dataset")
		ds, _, err := ingestFile(datasetPath)
		if err != nil {
			return err
		}

		result := prompt.ValidateTemplate(body, ds.Headers)

		w := writer(cmd)
		if w.Structured() {
			if err := w.Print(result); err != nil {
				return err
			}
		} else {
			printValidation(cmd, result)
		}
		if !result.Valid {
			return errInvalidTemplate
		}
		return nil
	},
}

var promptPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Render a template against one row of a CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := templateBody(cmd)
		if err != nil {
			return err
		}
		datasetPath, _ := cmd.Flags().GetString("dataset")
		rowIndex, _ := cmd.Flags().GetInt("row")

		ds, _, err := ingestFile(datasetPath)
		if err != nil {
			return err
		}
		if rowIndex < 0 || rowIndex >= len(ds.Rows) {
			return fmt.Errorf("%w: %d (dataset has %d rows)", prompt.ErrRowOutOfRange, rowIndex, len(ds.Rows))
		}

		row := ds.Rows[rowIndex]
		result := prompt.PreviewResult{
			Rendered:      prompt.Render(body, row),
			RowIndex:      rowIndex,
			Row:           row,
			Variables:     prompt.ExtractVariables(body),
			DatasetLoaded: true,
		}

		w := writer(cmd)
		if w.Structured() {
			return w.Print(result)
		}
		cmd.Println(result.Rendered)
		return nil
	},
}

var promptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the session's prompt templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		var resp prompt.ListResponse
		if err := r.call(cmd.Context(), prompt.ServiceName, "List", &prompt.Empty{}, &resp); err != nil {
			return fmt.Errorf("failed to list prompts: %w", err)
		}

		table := output.Table{
			Headers: []string{"ID", "NAME", "VERSION", "VARIABLES", "UPDATED"},
			Rows:    make([][]string, len(resp.Templates)),
		}
		for i, t := range resp.Templates {
			table.Rows[i] = []string{
				t.ID,
				t.Name,
				t.Version,
				strings.Join(t.Variables, ", "),
				t.UpdatedAt.Format("2006-01-02 15:04"),
			}
		}
		return writer(cmd).PrintTable(table, resp.Templates)
	},
}

var promptCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Add a template to the session's library",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := templateBody(cmd)
		if err != nil {
			return err
		}
		description, _ := cmd.Flags().GetString("description")
		version, _ := cmd.Flags().GetString("version")

		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		req := prompt.TemplateInput{
			Name:        args[0],
			Description: description,
			Body:        body,
			Version:     version,
		}
		var resp prompt.Template
		if err := r.call(cmd.Context(), prompt.ServiceName, "Create", &req, &resp); err != nil {
			return fmt.Errorf("failed to create prompt: %w", err)
		}

		w := writer(cmd)
		if w.Structured() {
			return w.Print(resp)
		}
		output.Success(cmd.OutOrStdout(), "Created prompt %s (%s)", resp.Name, resp.ID)
		return nil
	},
}

var promptDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a template from the session's library",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		if err := r.call(cmd.Context(), prompt.ServiceName, "Delete", &prompt.IDRequest{ID: args[0]}, &prompt.Empty{}); err != nil {
			return fmt.Errorf("failed to delete prompt: %w", err)
		}
		output.Success(cmd.OutOrStdout(), "Deleted prompt %s", args[0])
		return nil
	},
}

var promptImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a YAML or JSON prompt library into the session",
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

		req := prompt.LibraryRequest{
			Format: string(prompt.FormatFromFileName(args[0])),
			Data:   data,
		}
		var resp prompt.ListResponse
		if err := r.call(cmd.Context(), prompt.ServiceName, "Import", &req, &resp); err != nil {
			return fmt.Errorf("failed to import prompts: %w", err)
		}

		w := writer(cmd)
		if w.Structured() {
			return w.Print(resp.Templates)
		}
		output.Success(cmd.OutOrStdout(), "Imported %d prompts from %s", len(resp.Templates), filepath.Base(args[0]))
		return nil
	},
}

var promptExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the session's prompt library",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")

		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		var resp prompt.LibraryResponse
		if err := r.call(cmd.Context(), prompt.ServiceName, "Export", &prompt.ExportRequest{Format: format}, &resp); err != nil {
			return fmt.Errorf("failed to export prompts: %w", err)
		}

		if outPath == "" {
			_, err := cmd.OutOrStdout().Write(resp.Data)
			return err
		}
		if err := os.WriteFile(outPath, resp.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		output.Success(cmd.OutOrStdout(), "Wrote prompt library to %s (%s)", outPath, resp.Format)
		return nil
	},
}

func init() {
	promptCmd.AddCommand(promptCheckCmd)
	promptCmd.AddCommand(promptPreviewCmd)
	promptCmd.AddCommand(promptListCmd)
	promptCmd.AddCommand(promptCreateCmd)
	promptCmd.AddCommand(promptDeleteCmd)
	promptCmd.AddCommand(promptImportCmd)
	promptCmd.AddCommand(promptExportCmd)

	for _, c := range []*cobra.Command{promptCheckCmd, promptPreviewCmd} {
		c.Flags().String("dataset", "", "CSV file to check against (required)")
		_ = c.MarkFlagRequired("dataset")
	}
	for _, c := range []*cobra.Command{promptCheckCmd, promptPreviewCmd, promptCreateCmd} {
		c.Flags().String("template", "", "Template body with {{variable}} placeholders")
		c.Flags().String("template-file", "", "Read the template body from a file")
		c.MarkFlagsMutuallyExclusive("template", "template-file")
	}
	promptPreviewCmd.Flags().Int("row", 0, "Dataset row to render")

	promptCreateCmd.Flags().String("description", "", "Template description")
	promptCreateCmd.Flags().String("version", "", "Template version (default 1.0)")

	promptExportCmd.Flags().String("format", "yaml", "Library format (yaml, json)")
	promptExportCmd.Flags().String("out", "", "Output file (default stdout)")
}

// templateBody reads the body from --template or --template-file.
func templateBody(cmd *cobra.Command) (string, error) {
	body, _ := cmd.Flags().GetString("template")
	file, _ := cmd.Flags().GetString("template-file")
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		body = string(data)
	}
	if strings.TrimSpace(body) == "" {
		return "", prompt.ErrTemplateRequired
	}
	return body, nil
}

func printValidation(cmd *cobra.Command, result prompt.ValidationResult) {
	if result.Valid {
		output.Success(cmd.OutOrStdout(), "Template is valid (%d variables: %s)", len(result.Variables), strings.Join(result.Variables, ", "))
		return
	}
	for _, v := range result.InvalidVariables {
		line := fmt.Sprintf("Variable {{%s}} not found in dataset columns", v)
		if s := result.Suggestions[v]; len(s) > 0 {
			line += fmt.Sprintf(" (did you mean %s?)", strings.Join(s, ", "))
		}
		output.Error(cmd.OutOrStdout(), "%s", line)
	}
}
