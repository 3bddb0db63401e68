package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	indexerimpl "github.com/Synternet/bondingcurve-indexer/internal/indexer"
	"github.com/Synternet/bondingcurve-indexer/pkg/indexer"
	"github.com/Synternet/bondingcurve-indexer/pkg/types"
)

const (
	errRunInProgress  = "run in progress"
	errCronFailed     = "cron failed"
	errTokensRequired = "tokens param required (comma-separated)"
	errTokensFailed   = "token listing failed"
	errTokenInvalid   = "invalid token address"
	errTokenNotFound  = "token not found"
	errTokenFailed    = "failed to fetch token details"
	errNoRunYet       = "no run finished yet"

	sourceOnChain = "on-chain"
)

// StatusFunc reports a named group of status variables.
type StatusFunc func() map[string]any

type ServerOption func(*Server)

func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGatherer exposes gatherer on /metrics and registers HTTP collectors on reg.
func WithGatherer(reg prometheus.Registerer, gatherer prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.registerer = reg
		s.gatherer = gatherer
	}
}

// Server exposes run triggers and token queries over HTTP.
type Server struct {
	logger     *slog.Logger
	indexer    indexer.Indexer
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	statusMu sync.RWMutex
	status   map[string]StatusFunc

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewServer(idx indexer.Indexer, opts ...ServerOption) *Server {
	ret := &Server{
		logger:  slog.Default(),
		indexer: idx,
		status:  map[string]StatusFunc{},
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.logger = ret.logger.With("module", "http")

	factory := promauto.With(ret.registerer)
	ret.requests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "bondingcurve_indexer_http_requests",
		Help: "The total number of HTTP requests by route and status code",
	}, []string{"route", "code"})
	ret.latency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bondingcurve_indexer_http_request_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	ret.AddStatusCallback("indexer", idx.GetStatus)
	return ret
}

func (s *Server) AddStatusCallback(name string, fn StatusFunc) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status[name] = fn
}

func (s *Server) RemoveStatusCallback(name string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	delete(s.status, name)
}

func (s *Server) GetStatus() map[string]any {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	ret := make(map[string]any, len(s.status))
	for name, fn := range s.status {
		ret[name] = fn()
	}
	return ret
}

// NewRouter returns a new router with all the routes defined in this file.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/healthz", s.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.HandleStatus).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.HandleFunc("/api/indexer-evm/cron", s.HandleCron).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/indexer-evm/metrics", s.HandleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/api/tokens", s.HandleTokens).Methods(http.MethodGet)
	r.HandleFunc("/api/tokens/{address}", s.HandleToken).Methods(http.MethodGet)
	r.HandleFunc("/api/indexer-evm/last-run", s.HandleLastRun).Methods(http.MethodGet)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{"success": false, "error": message})
}

func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.GetStatus())
}

// HandleCron runs one snapshot pass. A client disconnect does not abort the run.
func (s *Server) HandleCron(w http.ResponseWriter, r *http.Request) {
	result, err := s.indexer.RunOnce(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, indexerimpl.ErrRunInProgress):
		writeError(w, http.StatusConflict, errRunInProgress)
	case err != nil:
		s.logger.Error("Cron run failed", "err", err)
		writeError(w, http.StatusInternalServerError, errCronFailed)
	default:
		writeJSON(w, http.StatusOK, types.NewRunResponse(result))
	}
}

func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	tokens := indexerimpl.NormalizeTokens(strings.Split(r.URL.Query().Get("tokens"), ","))
	if len(tokens) == 0 {
		writeError(w, http.StatusBadRequest, errTokensRequired)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    s.indexer.TokenMetrics(r.Context(), tokens),
	})
}

func (s *Server) HandleTokens(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	tokens, err := s.indexer.ListTokens(r.Context(), limit)
	if err != nil {
		s.logger.Error("Token listing failed", "err", err)
		writeError(w, http.StatusBadGateway, errTokensFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    tokens,
		"source":  sourceOnChain,
	})
}

func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	detail, err := s.indexer.TokenDetail(r.Context(), mux.Vars(r)["address"])
	switch {
	case errors.Is(err, indexerimpl.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, errTokenInvalid)
	case errors.Is(err, indexerimpl.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, errTokenNotFound)
	case err != nil:
		s.logger.Error("Token detail failed", "err", err)
		writeError(w, http.StatusInternalServerError, errTokenFailed)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    detail,
			"source":  sourceOnChain,
		})
	}
}

// HandleLastRun reports the summary of the latest finished run together with the retention window.
func (s *Server) HandleLastRun(w http.ResponseWriter, _ *http.Request) {
	last, ok := s.indexer.LastRun()
	if !ok {
		writeError(w, http.StatusNotFound, errNoRunYet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"data":      types.NewRunResponse(last),
		"retention": s.indexer.Retention().String(),
	})
}
