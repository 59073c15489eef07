package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/entrhq/pagewatch/pkg/feature"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file",
		Long: `Load and validate the configuration, build every module and list them
in execution order.

Example:
  pagewatch validate --config ./pagewatch.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "✗ %v\n", err)
				return err
			}
			modules, err := feature.Build(cfg.Modules)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "✗ %v\n", err)
				return err
			}

			out := cmd.OutOrStdout()
			source := cfg.ConfigFilePath
			if source == "" {
				source = "(defaults)"
			}
			fmt.Fprintf(out, "✓ Configuration valid: %s\n", source)
			fmt.Fprintf(out, "  source: %s\n", cfg.Source)
			fmt.Fprintf(out, "  modules (%d):\n", len(modules))
			for i, m := range modules {
				mc := cfg.Modules[i]
				line := fmt.Sprintf("    %d. %s [%s]", i+1, m.Name(), mc.Type)
				if len(mc.Match) > 0 {
					line += " match " + strings.Join(mc.Match, ", ")
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
