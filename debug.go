package tilewire

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// debugServer exposes /healthz, /errors, and /metrics for operators.
type debugServer struct {
	client *Client
	srv    *http.Server
}

func newDebugServer(c *Client, addr string) *debugServer {
	d := &debugServer{client: c}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", d.handleHealth)
	r.Get("/errors", d.handleErrors)
	r.Handle("/metrics", promhttp.HandlerFor(c.met.registry, promhttp.HandlerOpts{}))

	d.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return d
}

func (d *debugServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := d.client.Health()
	w.Header().Set("Content-Type", "application/json")
	if !h.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(h)
}

func (d *debugServer) handleErrors(w http.ResponseWriter, _ *http.Request) {
	type entry struct {
		Type      ErrorType      `json:"type"`
		Severity  string         `json:"severity"`
		Message   string         `json:"message"`
		Source    string         `json:"source"`
		Timestamp time.Time      `json:"timestamp"`
		Context   map[string]any `json:"context,omitempty"`
	}
	recent := d.client.Errors(50)
	out := make([]entry, len(recent))
	for i, e := range recent {
		out[i] = entry{
			Type:      e.Type,
			Severity:  e.Severity.String(),
			Message:   e.Message,
			Source:    e.Source,
			Timestamp: e.Timestamp,
			Context:   e.Context,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (d *debugServer) start() {
	go func() {
		if err := d.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.client.log.Error().Err(err).Str("addr", d.srv.Addr).Msg("debug server failed")
		}
	}()
}

func (d *debugServer) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = d.srv.Shutdown(ctx)
}
