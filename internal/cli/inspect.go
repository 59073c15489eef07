package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Format string
	Color  string
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the resolved configuration",
		Long: `Print the configuration after defaults are applied and validation has
filled in step defaults. Output is syntax highlighted when writing to a
terminal.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "yaml", "output format (yaml|json)")
	cmd.Flags().StringVar(&opts.Color, "color", "auto", "highlight output (auto|always|never)")

	return cmd
}

func runInspect(out io.Writer, opts *InspectOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	var data []byte
	lexer := opts.Format
	switch opts.Format {
	case "yaml":
		data, err = cfg.Marshal()
	case "json":
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("invalid format %q: must be yaml or json", opts.Format)
	}
	if err != nil {
		return err
	}

	if !colorize(out, opts.Color) {
		_, err = out.Write(data)
		return err
	}
	return quick.Highlight(out, string(data), lexer, "terminal256", "monokai")
}

func colorize(out io.Writer, mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
