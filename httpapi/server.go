// Package httpapi is the JSON surface of the service: task submission,
// status polling with timeout reclamation, cancellation, artifact
// download, and health. Handlers are stateless; all task state lives in
// the task store.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hydrofind/hydrofind/metrics"
	"github.com/hydrofind/hydrofind/producer"
	"github.com/hydrofind/hydrofind/taskstore"
)

// maxRequestBodySize limits POST body sizes.
const maxRequestBodySize = 1 << 20 // 1 MB

// BrokerHealth is the health handler's view of the queue connection.
type BrokerHealth interface {
	Healthy() bool
}

// Config holds the API policy knobs.
type Config struct {
	// ProcessingTimeout is the reclamation deadline: a task observed in
	// processing past this age is moved to timeout by the reader.
	ProcessingTimeout time.Duration
}

// DefaultConfig matches the service contract.
func DefaultConfig() Config {
	return Config{ProcessingTimeout: 5 * time.Minute}
}

// Server owns the handlers and their collaborators.
type Server struct {
	store    *taskstore.Store
	producer *producer.Producer
	broker   BrokerHealth
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewServer wires the API.
func NewServer(store *taskstore.Store, prod *producer.Producer, broker BrokerHealth, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    store,
		producer: prod,
		broker:   broker,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/{$}", s.instrument("submit", s.handleSubmit))
	mux.HandleFunc("POST /api/batch", s.instrument("submit_batch", s.handleSubmitBatch))
	mux.HandleFunc("GET /api/task/{id}", s.instrument("status", s.handleStatus))
	mux.HandleFunc("POST /api/task/{id}/cancel", s.instrument("cancel", s.handleCancel))
	mux.HandleFunc("GET /api/download/{id}", s.instrument("download", s.handleDownload))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// instrument counts requests per route and status code.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// --- Response envelopes ---

type errorBody struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// writeSuccess emits {success:true, ...data, timestamp, request_id?}.
func (s *Server) writeSuccess(w http.ResponseWriter, code int, requestID string, data map[string]any) {
	body := map[string]any{
		"success":   true,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}
	if requestID != "" {
		body["request_id"] = requestID
	}
	for k, v := range data {
		body[k] = v
	}
	writeJSON(w, code, body)
}

// writeError emits {success:false, error:{message, details?}, timestamp}.
func (s *Server) writeError(w http.ResponseWriter, code int, message, details string) {
	writeJSON(w, code, map[string]any{
		"success":   false,
		"error":     errorBody{Message: message, Details: details},
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
