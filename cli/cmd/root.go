// Package cmd contains CLI commands.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/instantcocoa/evalbench/cli/internal/config"
	"github.com/instantcocoa/evalbench/cli/internal/output"
)

// Version is set at build time.
var Version = "dev"

var cfg *config.Config

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "evalbench",
	Short: "evalbench - LLM prompt evaluation workbench",
	Long: `evalbench loads a CSV dataset, checks prompt templates against its
columns and runs simulated evaluations across LLM providers.

Local commands work on files and need no server. Remote commands talk to an
evalbench server over gRPC within a session (--session or EVALBENCH_SESSION).

Examples:
  # Check a CSV file
  evalbench dataset inspect questions.csv

  # Check a template against the file's columns
  evalbench prompt check --dataset questions.csv --template "Answer: {{question}}"

  # Start a session and run an evaluation on the server
  export EVALBENCH_SESSION=$(evalbench session new -q)
  evalbench dataset upload questions.csv
  evalbench prompt create qa --template "Answer: {{question}}"
  evalbench eval run --follow
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the CLI. Messages and results go to stdout, errors to stderr.
func Execute() error {
	rootCmd.SetOut(os.Stdout)
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("addr", "", "Server gRPC address (default localhost:9000)")
	rootCmd.PersistentFlags().String("session", "", "Session ID for remote commands")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Timeout for each remote call (default 30s)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	// Add subcommands
	rootCmd.AddCommand(datasetCmd)
	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints version info.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("evalbench version " + Version)
	},
}

func writer(cmd *cobra.Command) *output.Writer {
	return output.NewWriterTo(cfg.Format, cmd.OutOrStdout())
}
