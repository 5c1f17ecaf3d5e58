package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/instantcocoa/evalbench/cli/internal/output"
	"github.com/instantcocoa/evalbench/services/providers"
)

var providersCmd = &cobra.Command{
	Use:     "providers",
	Aliases: []string{"provider"},
	Short:   "Configure LLM providers",
	Long:    "Commands for enabling providers, setting their keys and models, and choosing the judge.",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers and the session's settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		var catalog providers.CatalogResponse
		if err := r.call(cmd.Context(), providers.ServiceName, "Catalog", &providers.Empty{}, &catalog); err != nil {
			return fmt.Errorf("failed to list providers: %w", err)
		}
		var settings providers.Settings
		if err := r.call(cmd.Context(), providers.ServiceName, "Get", &providers.Empty{}, &settings); err != nil {
			return fmt.Errorf("failed to get provider settings: %w", err)
		}

		w := writer(cmd)
		if w.Structured() {
			return w.Print(map[string]any{
				"providers": catalog.Providers,
				"settings":  settings,
			})
		}

		table := output.Table{
			Headers: []string{"NAME", "PROVIDER", "ENABLED", "MODEL", "API KEY", "CONNECTED"},
			Rows:    make([][]string, len(catalog.Providers)),
			Footer:  fmt.Sprintf("judge: %s/%s (enabled: %t)", settings.Judge.Provider, settings.Judge.Model, settings.Judge.Enabled),
		}
		for i, p := range catalog.Providers {
			c := settings.Providers[p.Name]
			table.Rows[i] = []string{
				p.Name,
				p.DisplayName,
				yesNo(c.Enabled),
				c.Model,
				c.APIKey,
				yesNo(c.Connected),
			}
		}
		return w.Print(table)
	},
}

var providersModelsCmd = &cobra.Command{
	Use:   "models <name>",
	Short: "List the models a provider offers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := connect(false)
		if err != nil {
			return err
		}
		defer r.Close()

		var catalog providers.CatalogResponse
		if err := r.call(cmd.Context(), providers.ServiceName, "Catalog", &providers.Empty{}, &catalog); err != nil {
			return fmt.Errorf("failed to list providers: %w", err)
		}
		for _, p := range catalog.Providers {
			if p.Name != args[0] {
				continue
			}
			table := output.Table{Headers: []string{"MODEL", "DEFAULT"}}
			for _, m := range p.Models {
				table.Rows = append(table.Rows, []string{m, yesNo(m == p.DefaultModel)})
			}
			return writer(cmd).PrintTable(table, p)
		}
		return fmt.Errorf("%w: %q", providers.ErrUnknownProvider, args[0])
	},
}

var providersConfigureCmd = &cobra.Command{
	Use:   "configure <name>",
	Short: "Update a provider's settings",
	Long: `Update a provider's settings. Only the flags given are changed.

Examples:
  evalbench providers configure groq --enable --api-key "$GROQ_API_KEY"
  evalbench providers configure gemini --model gemini-pro-vision
  evalbench providers configure groq --enable=false`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := providers.ConfigureRequest{Name: args[0]}
		if cmd.Flags().Changed("enable") {
			enabled, _ := cmd.Flags().GetBool("enable")
			req.Enabled = &enabled
		}
		if cmd.Flags().Changed("api-key") {
			key, _ := cmd.Flags().GetString("api-key")
			req.APIKey = &key
		}
		if cmd.Flags().Changed("model") {
			model, _ := cmd.Flags().GetString("model")
			req.Model = &model
		}

		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		var resp providers.Config
		if err := r.call(cmd.Context(), providers.ServiceName, "Configure", &req, &resp); err != nil {
			return fmt.Errorf("failed to configure %s: %w", args[0], err)
		}

		w := writer(cmd)
		if w.Structured() {
			return w.Print(resp)
		}
		output.Success(cmd.OutOrStdout(), "%s: enabled=%t model=%s", args[0], resp.Enabled, resp.Model)
		return nil
	},
}

var providersTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Test a provider's connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		var resp providers.Config
		if err := r.call(cmd.Context(), providers.ServiceName, "TestConnection", &providers.NameRequest{Name: args[0]}, &resp); err != nil {
			return fmt.Errorf("connection test failed for %s: %w", args[0], err)
		}

		w := writer(cmd)
		if w.Structured() {
			return w.Print(resp)
		}
		output.Success(cmd.OutOrStdout(), "%s connected (model %s)", args[0], resp.Model)
		return nil
	},
}

var providersJudgeCmd = &cobra.Command{
	Use:   "judge <provider>",
	Short: "Choose the provider and model used as judge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		enabled, _ := cmd.Flags().GetBool("enable")

		r, err := connect(true)
		if err != nil {
			return err
		}
		defer r.Close()

		req := providers.JudgeConfig{Provider: strings.TrimSpace(args[0]), Model: model, Enabled: enabled}
		var resp providers.JudgeConfig
		if err := r.call(cmd.Context(), providers.ServiceName, "SetJudge", &req, &resp); err != nil {
			return fmt.Errorf("failed to set judge: %w", err)
		}

		w := writer(cmd)
		if w.Structured() {
			return w.Print(resp)
		}
		output.Success(cmd.OutOrStdout(), "Judge: %s/%s (enabled: %t)", resp.Provider, resp.Model, resp.Enabled)
		return nil
	},
}

func init() {
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersModelsCmd)
	providersCmd.AddCommand(providersConfigureCmd)
	providersCmd.AddCommand(providersTestCmd)
	providersCmd.AddCommand(providersJudgeCmd)

	providersConfigureCmd.Flags().Bool("enable", false, "Enable or disable the provider")
	providersConfigureCmd.Flags().String("api-key", "", "API key")
	providersConfigureCmd.Flags().String("model", "", "Model")

	providersJudgeCmd.Flags().String("model", "", "Judge model (default: the provider's default)")
	providersJudgeCmd.Flags().Bool("enable", true, "Enable the judge")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
