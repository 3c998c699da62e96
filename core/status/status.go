// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package status serves the runtime status of a device simulator over HTTP.
//
// Routes:
//
//	GET /devsim/statistics  statistics of the simulated device as JSON
//	GET /devsim/version     the build version
//	GET /health             liveness
//	GET /metrics            prometheus metrics
package status

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/devsim/core/logger"
)

var (
	// Version is the version of the curent build
	Version = "unset"
)

// Statistics is the status of a simulated device
type Statistics struct {
	DeviceID            string  `json:"device_id"`
	AssignedHub         string  `json:"assigned_hub"`
	Connection          string  `json:"connection"`
	Engine              string  `json:"engine"`
	BaselineTemperature float64 `json:"baseline_temperature"`
	BaselineHumidity    float64 `json:"baseline_humidity"`
	Published           int64   `json:"published"`
	Failed              int64   `json:"failed"`
}

// Source provides the statistics to serve
type Source interface {
	Statistics() Statistics
}

// Server is the status HTTP server
type Server struct {
	addr     string
	source   Source
	router   *mux.Router
	registry *prometheus.Registry

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a status server for source on addr. The server is not started.
func New(addr string, source Source) *Server {
	s := &Server{
		addr:     addr,
		source:   source,
		router:   mux.NewRouter(),
		registry: prometheus.NewRegistry(),
	}
	s.registerMetrics()
	s.handleStatistics(s.router)
	s.handleVersion(s.router)
	s.handleHealth(s.router)
	s.handleMetrics(s.router)
	return s
}

// Router returns the handler of all routes
func (s *Server) Router() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("status server already running")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.server
	logger.Default().Infoln("status listening on", ln.Addr().String())
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Default().WithError(err).Errorln("status server stopped")
		}
	}()
	return nil
}

// Addr returns the address the server listens on, or the configured address if it is not started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) registerMetrics() {
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "devsim",
			Name:      "ticks_published_total",
			Help:      "Telemetry messages acknowledged by the hub.",
		}, func() float64 { return float64(s.source.Statistics().Published) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "devsim",
			Name:      "ticks_failed_total",
			Help:      "Telemetry messages which could not be published.",
		}, func() float64 { return float64(s.source.Statistics().Failed) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "devsim",
			Name:      "baseline_temperature",
			Help:      "Current temperature baseline of the simulation.",
		}, func() float64 { return s.source.Statistics().BaselineTemperature }),
	)
}

func (s *Server) handleStatistics(router *mux.Router) {
	logger.Default().Debugln("  handle statistics route: /devsim/statistics GET")
	router.Handle("/devsim/statistics", handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method)
		s.statistics(w, r)
	}))).Methods(http.MethodOptions, http.MethodGet)
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	jsonData, err := json.Marshal(s.source.Statistics())
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("cannot marshal statistics")
		http.Error(w, "cannot marshal statistics", http.StatusInternalServerError)
		return
	}
	etag := bytesToEtag(jsonData)
	w.Header().Set("Etag", etag)
	if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(jsonData)
}

func (s *Server) handleVersion(router *mux.Router) {
	logger.Default().Debugln("  handle version route: /devsim/version GET")
	router.HandleFunc("/devsim/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		data, _ := json.Marshal(map[string]string{"version": Version})
		w.Write(data)
	}).Methods(http.MethodOptions, http.MethodGet)
}

func (s *Server) handleHealth(router *mux.Router) {
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
}

func (s *Server) handleMetrics(router *mux.Router) {
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

func bytesToEtag(b []byte) string {
	sum := sha1.Sum(b)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	for _, s := range strings.Split(ifNoneMatch, ",") {
		s = strings.Trim(s, " \"")
		t := strings.Trim(etag, " \"")
		if s == t {
			return true
		}
	}
	return false
}
