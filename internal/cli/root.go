// Package cli implements the pagewatch command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrhq/pagewatch/pkg/config"
	"github.com/entrhq/pagewatch/pkg/logging"
)

// Version is set at build time with -ldflags "-X".
var Version = "0.1.0"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the root command for the pagewatch CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pagewatch",
		Short: "Keep a single-page app in shape across navigations",
		Long: `pagewatch applies configured feature modules to a page (filling form
fields, reordering and hiding elements) and re-applies them every time the
page navigates to a new location without a full reload.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.LogLevel != "" {
				if _, err := logging.ParseLevel(opts.LogLevel); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default is $HOME/.pagewatch/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override logging.level (DEBUG|INFO|WARN|ERROR)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// loadConfig loads the configuration, applies global overrides and validates.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
