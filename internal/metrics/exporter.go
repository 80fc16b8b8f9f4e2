package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/10yihang/clusterrouter/internal/cluster"
	"github.com/10yihang/clusterrouter/internal/cluster/state"
)

const (
	collectInterval        = 15 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Exporter exposes metrics and the current topology via HTTP
type Exporter struct {
	addr      string
	store     *cluster.Store
	collector *Collector
	server    *http.Server
	ln        net.Listener
	done      chan struct{}
}

// NewExporter creates an exporter for store
func NewExporter(addr string, store *cluster.Store) *Exporter {
	e := &Exporter{
		addr:      addr,
		store:     store,
		collector: NewCollector(store),
		done:      make(chan struct{}),
	}
	e.server = &http.Server{
		Handler:           e.Router(),
		ReadHeaderTimeout: time.Second,
	}
	return e
}

// Router builds the chi router
func (e *Exporter) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", e.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/topology", e.handleTopology)
	return r
}

// Start listens and serves in the background
func (e *Exporter) Start() error {
	ln, err := net.Listen("tcp", e.addr)
	if err != nil {
		return err
	}
	e.ln = ln

	go func() {
		ticker := time.NewTicker(collectInterval)
		defer ticker.Stop()

		e.collector.Collect()
		for {
			select {
			case <-ticker.C:
				e.collector.Collect()
			case <-e.done:
				return
			}
		}
	}()

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics exporter error", "error", err)
		}
	}()

	slog.Info("metrics exporter started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listen address once started
func (e *Exporter) Addr() string {
	if e.ln == nil {
		return e.addr
	}
	return e.ln.Addr().String()
}

// Stop stops the exporter
func (e *Exporter) Stop() error {
	select {
	case <-e.done:
		return nil
	default:
		close(e.done)
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	return e.server.Shutdown(ctx)
}

func (e *Exporter) handleHealth(w http.ResponseWriter, r *http.Request) {
	if e.store.Current() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no topology"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (e *Exporter) handleTopology(w http.ResponseWriter, r *http.Request) {
	snap := e.store.Current()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no topology loaded"})
		return
	}
	writeJSON(w, http.StatusOK, state.FromSnapshot(snap))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("error encoding response", "error", err)
	}
}
