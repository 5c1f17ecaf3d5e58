package cmd

import (
	"github.com/spf13/cobra"

	"github.com/instantcocoa/evalbench/cli/internal/output"
	"github.com/instantcocoa/evalbench/pkg/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
	Long: `A session scopes a dataset, prompt library, provider settings and runs on the
server. Pass its ID with --session or EVALBENCH_SESSION.`,
}

var sessionNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new session ID",
	Long: `Print a new session ID. Sessions are created on the server by first use.

Examples:
  export EVALBENCH_SESSION=$(evalbench session new -q)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet, _ := cmd.Flags().GetBool("quiet")
		id := session.NewID()

		if quiet {
			cmd.Println(id)
			return nil
		}
		w := writer(cmd)
		if w.Structured() {
			return w.Print(map[string]string{"session_id": id})
		}
		output.Success(cmd.OutOrStdout(), "New session %s", id)
		cmd.Printf("  export EVALBENCH_SESSION=%s\n", id)
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionNewCmd)

	sessionNewCmd.Flags().BoolP("quiet", "q", false, "Print only the session ID")
}
