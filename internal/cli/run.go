package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/entrhq/pagewatch/pkg/config"
	"github.com/entrhq/pagewatch/pkg/env"
	"github.com/entrhq/pagewatch/pkg/env/browser"
	"github.com/entrhq/pagewatch/pkg/env/htmldoc"
	"github.com/entrhq/pagewatch/pkg/feature"
	"github.com/entrhq/pagewatch/pkg/logging"
	"github.com/entrhq/pagewatch/pkg/metrics"
	"github.com/entrhq/pagewatch/pkg/orchestrator"
	"github.com/entrhq/pagewatch/pkg/report"
	"github.com/entrhq/pagewatch/pkg/resource"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	URL         string
	File        string
	Watch       bool
	MetricsAddr string
	NoMonitor   bool
	Headful     bool
	Once        bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch a page and apply the configured modules",
		Long: `Open the configured page, wait for it to be ready, run every module
once and then keep watching: each navigation to a new location runs the
modules again. Stops on SIGINT or SIGTERM.

Example:
  pagewatch run --url https://shop.example/sell
  pagewatch run --file ./saved.html --watch --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "page to open in the browser (overrides browser.url)")
	cmd.Flags().StringVar(&opts.File, "file", "", "saved HTML file to watch instead of a browser")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "reload the file when it changes (with --file)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve metrics, health and debug endpoints on this address")
	cmd.Flags().BoolVar(&opts.NoMonitor, "no-monitor", false, "run the modules once without watching for navigation")
	cmd.Flags().BoolVar(&opts.Headful, "headful", false, "show the browser window")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "exit after the initial cycle")

	return cmd
}

func (o *RunOptions) apply(cfg *config.Config) error {
	switch {
	case o.File != "":
		cfg.Source = config.SourceFile
		cfg.File.Path = o.File
		cfg.File.Watch = cfg.File.Watch || o.Watch
	case o.URL != "":
		cfg.Source = config.SourceBrowser
		cfg.Browser.URL = o.URL
	}
	if o.MetricsAddr != "" {
		cfg.Metrics.Addr = o.MetricsAddr
	}
	if o.NoMonitor {
		cfg.Monitor.Enabled = false
	}
	if o.Headful {
		cfg.Browser.Headless = false
	}
	return cfg.Validate()
}

func runWatch(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if err := opts.apply(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog := setupLogging(cfg, cmd.ErrOrStderr())
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	modules, err := feature.Build(cfg.Modules)
	if err != nil {
		return err
	}

	tracker := resource.NewTracker(resource.WithLogger(logger.Named("ResourceTracker")))

	e, closeEnv, err := openEnvironment(ctx, cfg, tracker, logger)
	if err != nil {
		return err
	}
	defer closeEnv()

	out := cmd.OutOrStdout()
	width := terminalWidth(out)

	m := metrics.New()
	hooks := m.Hooks()
	record := hooks.OnCycle
	hooks.OnCycle = func(r *orchestrator.CycleReport) {
		record(r)
		fmt.Fprintln(out, report.Render(r, width))
	}

	o := orchestrator.New(e, modules,
		orchestrator.WithTracker(tracker),
		orchestrator.WithLogger(logger),
		orchestrator.WithReadyTimeout(cfg.Monitor.ReadyTimeout),
		orchestrator.WithMonitor(cfg.Monitor.Enabled),
		orchestrator.WithDebounce(cfg.Monitor.Debounce),
		orchestrator.WithRoot(cfg.Monitor.Root),
		orchestrator.WithVersion(Version),
		orchestrator.WithConfig(cfg),
		orchestrator.WithHooks(hooks),
	)
	defer o.Shutdown()

	if cfg.Metrics.Addr != "" {
		if err := m.Track(o); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		srv := metrics.NewServer(cfg.Metrics.Addr, m, metrics.NewHealth(o), logger.Named("metrics"))
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("metrics server shutdown: %v", err)
			}
		}()
	}

	if _, err := o.Initialize(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, orchestrator.ErrShutdown) {
			return nil
		}
		return fmt.Errorf("initialization failed: %w", err)
	}

	if !opts.Once {
		<-ctx.Done()
	}

	cleaned := o.Shutdown()
	logger.Infof("stopped, %d resources released", cleaned)
	return nil
}

// setupLogging returns the root logger: stderr when configured, otherwise the
// session log file with stderr fallback.
func setupLogging(cfg *config.Config, stderr io.Writer) (*logging.Logger, func()) {
	level := cfg.LogLevel()
	if cfg.Logging.Stderr {
		return logging.NewWriterLogger("Orchestrator", stderr, level), func() {}
	}

	logging.SetDefaultLevel(level)
	logger, err := logging.NewLogger("Orchestrator")
	if err != nil {
		fmt.Fprintf(stderr, "Warning: %v\n", err)
	}
	return logger, func() { _ = logger.Close() }
}

// openEnvironment builds the configured page environment. A file watcher is
// registered on the tracker so shutdown releases it.
func openEnvironment(ctx context.Context, cfg *config.Config, tracker *resource.Tracker, logger *logging.Logger) (env.Environment, func(), error) {
	switch cfg.Source {
	case config.SourceFile:
		doc, err := htmldoc.LoadFile(cfg.File.Path, htmldoc.WithLogger(logger.Named("htmldoc")))
		if err != nil {
			return nil, nil, err
		}
		if cfg.File.Watch {
			w, err := doc.WatchFile(ctx)
			if err != nil {
				return nil, nil, err
			}
			if tracker.RegisterWatcher(w, "file "+doc.Path()) == resource.NoResource {
				_ = w.Stop()
				return nil, nil, fmt.Errorf("failed to track file watcher for %s", doc.Path())
			}
		}
		return doc, func() {}, nil

	default:
		mgr := browser.NewSessionManager(logger.Named("browser"))
		if err := mgr.Initialize(); err != nil {
			return nil, nil, err
		}
		closeMgr := func() {
			if err := mgr.Shutdown(); err != nil {
				logger.Warnf("browser shutdown: %v", err)
			}
		}

		s, err := mgr.StartSession("main", browser.SessionOptions{
			Headless: cfg.Browser.Headless,
			Viewport: &browser.Viewport{
				Width:  cfg.Browser.ViewportWidth,
				Height: cfg.Browser.ViewportHeight,
			},
			Timeout:   float64(cfg.Browser.Timeout.Milliseconds()),
			UserAgent: cfg.Browser.UserAgent,
		})
		if err != nil {
			closeMgr()
			return nil, nil, err
		}
		if err := s.Navigate(ctx, cfg.Browser.URL, browser.NavigateOptions{WaitUntil: "domcontentloaded"}); err != nil {
			closeMgr()
			return nil, nil, err
		}
		return s, closeMgr, nil
	}
}

// terminalWidth returns the width of w when it is a terminal, else 0.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width - 2
}
