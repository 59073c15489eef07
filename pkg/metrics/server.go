package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entrhq/pagewatch/pkg/logging"
	"github.com/entrhq/pagewatch/pkg/orchestrator"
)

// MaxGoroutines is the liveness threshold. A leak of timer or watcher
// goroutines shows up here first.
const MaxGoroutines = 10000

// NewHealth builds liveness and readiness checks for o. The process is ready
// while the orchestrator is Ready or ReInitializing.
func NewHealth(o *orchestrator.Orchestrator) healthcheck.Handler {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(MaxGoroutines))
	health.AddReadinessCheck("orchestrator", func() error {
		switch s := o.State(); s {
		case orchestrator.Ready, orchestrator.ReInitializing:
			return nil
		default:
			return fmt.Errorf("orchestrator is %s", s)
		}
	})
	return health
}

// Server serves /metrics, /live, /ready and /debug/pagewatch.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *logging.Logger
}

// NewServer builds the mux. Call Start to listen.
func NewServer(addr string, m *Metrics, health healthcheck.Handler, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	mux.HandleFunc("/debug/pagewatch", debugHandler)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	s.ln = ln
	s.logger.Infof("metrics server listening on %s", ln.Addr())

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("metrics server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func debugHandler(w http.ResponseWriter, _ *http.Request) {
	h, ok := orchestrator.Current()
	if !ok {
		http.Error(w, "no orchestrator running", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(h); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
