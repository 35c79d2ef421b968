package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/AlColeNS/search-expiscor-sub004/internal/common"
	"github.com/AlColeNS/search-expiscor-sub004/internal/pipeline"
)

// StatusServer exposes the connector's health and crawl progress over HTTP.
type StatusServer struct {
	config *common.ServerConfig
	runner *pipeline.TaskRunner
	logger arbor.ILogger
	server *http.Server
	start  time.Time
}

// New creates the status server bound to the configured host and port.
func New(config *common.ServerConfig, runner *pipeline.TaskRunner, logger arbor.ILogger) *StatusServer {
	s := &StatusServer{
		config: config,
		runner: runner,
		logger: logger,
		start:  time.Now().UTC(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in the background. Listen failures are reported on the
// returned channel.
func (s *StatusServer) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("Status server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown drains in-flight requests and stops the listener.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type statusResponse struct {
	Version  string                 `json:"version"`
	Uptime   string                 `json:"uptime"`
	State    string                 `json:"state"`
	Counters pipeline.CounterValues `json:"counters"`
	Report   *pipeline.Report       `json:"last_report,omitempty"`
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Version:  common.GetVersion(),
		Uptime:   time.Since(s.start).Round(time.Second).String(),
		State:    string(s.runner.State()),
		Counters: s.runner.Counters(),
		Report:   s.runner.LastReport(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&resp); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode status response")
	}
}
