// Package api serves metrics and the engine's state over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"linktap/internal/analysis"
	"linktap/internal/arpcache"
	"linktap/internal/logging"
	"linktap/internal/metrics"
	"linktap/internal/sniffer"
)

// Server exposes /metrics, /cache, /stats, /modules and /healthz.
type Server struct {
	router  *mux.Router
	cache   *arpcache.Cache
	stats   *analysis.TrafficStats
	metrics *metrics.Metrics
	sniffer *sniffer.Sniffer
	started time.Time
	log     *logrus.Entry

	srv *http.Server
}

// NewServer builds the router. Any of the sources may be nil; their routes
// then answer 404.
func NewServer(cache *arpcache.Cache, stats *analysis.TrafficStats, m *metrics.Metrics, s *sniffer.Sniffer) *Server {
	srv := &Server{
		router:  mux.NewRouter(),
		cache:   cache,
		stats:   stats,
		metrics: m,
		sniffer: s,
		started: time.Now(),
		log:     logging.WithComponent("api"),
	}
	srv.srv = &http.Server{
		Handler:           srv.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.registerRoutes()
	return srv
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods("GET")
	}
	if s.cache != nil {
		s.router.HandleFunc("/cache", s.handleCache).Methods("GET")
		s.router.HandleFunc("/cache/{ip}", s.handleCacheEntry).Methods("GET")
	}
	if s.stats != nil {
		s.router.HandleFunc("/stats", s.handleStats).Methods("GET")
	}
	if s.sniffer != nil {
		s.router.HandleFunc("/modules", s.handleModules).Methods("GET")
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.WithField("addr", ln.Addr().String()).Info("api listening")
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a running server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type cacheEntry struct {
	IP  string `json:"ip"`
	MAC string `json:"mac"`
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	snapshot := s.cache.Snapshot()
	entries := make([]cacheEntry, len(snapshot))
	for i, e := range snapshot {
		entries[i] = cacheEntry{IP: e.IP.String(), MAC: e.MAC.String()}
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCacheEntry(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["ip"]
	ip := net.ParseIP(raw)
	if ip == nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid IP address %q", raw))
		return
	}
	hw, ok := s.cache.Get(ip)
	if !ok {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("no binding for %s", ip))
		return
	}
	respondWithJSON(w, http.StatusOK, cacheEntry{IP: ip.String(), MAC: hw.String()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	respondWithJSON(w, http.StatusOK, s.stats.Snapshot(limit))
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	active, pending := s.sniffer.Modules()
	names := func(mods []sniffer.Module) []string {
		out := make([]string, len(mods))
		for i, m := range mods {
			out[i] = fmt.Sprintf("%T", m)
		}
		return out
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"active":  names(active),
		"pending": names(pending),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.cache != nil {
		health["cache_entries"] = s.cache.Len()
	}
	respondWithJSON(w, http.StatusOK, health)
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, msg string) {
	respondWithJSON(w, code, map[string]string{"error": msg})
}
