package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/vigil/internal/evaluator"
	"github.com/MikeSquared-Agency/vigil/internal/pipeline"
	"github.com/MikeSquared-Agency/vigil/internal/pruner"
	"github.com/MikeSquared-Agency/vigil/internal/result"
	"github.com/MikeSquared-Agency/vigil/internal/store"
	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

// maxTranscriptBytes caps inline transcript uploads.
const maxTranscriptBytes = 8 << 20

// Evaluator is the pipeline surface the API drives.
type Evaluator interface {
	Evaluate(ctx context.Context, raw []byte) (*pipeline.Outcome, error)
	EvaluateStored(ctx context.Context, sessionID uuid.UUID, inline []byte) (*pipeline.StoredOutcome, error)
	RubricVersion() string
	Provider() string
	Budget() pruner.Budget
}

// EvaluationReader loads stored evaluations.
type EvaluationReader interface {
	GetEvaluation(ctx context.Context, id uuid.UUID) (*store.EvaluationRow, error)
}

// Deps are the server's collaborators. Gatherer defaults to the Prometheus
// default registry.
type Deps struct {
	Evaluator   Evaluator
	Evaluations EvaluationReader
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
}

type Server struct {
	router *chi.Mux
	port   int
	http   *http.Server
	deps   Deps
	logger *slog.Logger
}

func NewServer(port int, apiToken string, deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/vigil/status", s.status)
	router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	router.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/api/v1/evaluations", s.evaluateInline)
		r.Post("/api/v1/sessions/{sessionID}/evaluate", s.evaluateSession)
		r.Get("/api/v1/evaluations/{evaluationID}", s.getEvaluation)
	})

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"agent":  "vigil",
		"status": "active",
	}
	if ev := s.deps.Evaluator; ev != nil {
		body["provider"] = ev.Provider()
		body["rubric_version"] = ev.RubricVersion()
		body["budget"] = ev.Budget()
	}
	writeJSON(w, http.StatusOK, body)
}

// evaluateInline handles POST /api/v1/evaluations. The body is the
// transcript document; nothing is persisted.
func (s *Server) evaluateInline(w http.ResponseWriter, r *http.Request) {
	if s.deps.Evaluator == nil {
		writeMessage(w, http.StatusServiceUnavailable, "evaluator not configured")
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}

	out, err := s.deps.Evaluator.Evaluate(r.Context(), raw)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// evaluateSession handles POST /api/v1/sessions/{sessionID}/evaluate. An
// optional body supplies the transcript inline.
func (s *Server) evaluateSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Evaluator == nil {
		writeMessage(w, http.StatusServiceUnavailable, "evaluator not configured")
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid session id")
		return
	}
	inline, ok := readBody(w, r)
	if !ok {
		return
	}

	out, err := s.deps.Evaluator.EvaluateStored(r.Context(), sessionID, inline)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) getEvaluation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Evaluations == nil {
		writeMessage(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "evaluationID"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid evaluation id")
		return
	}

	row, err := s.deps.Evaluations.GetEvaluation(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// readBody reads the request body up to maxTranscriptBytes and writes the
// error response itself when it cannot.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTranscriptBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "transcript too large")
		} else {
			writeMessage(w, http.StatusBadRequest, "failed to read request body")
		}
		return nil, false
	}
	return raw, true
}

type errorBody struct {
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind,omitempty"`
	Fields    any    `json:"fields,omitempty"`
	Raw       string `json:"raw,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := pipeline.Kind(err)
	status := pipeline.HTTPStatus(kind)
	body := errorBody{Error: err.Error(), ErrorKind: kind}

	var verr *transcript.ValidationError
	var serr *result.SchemaValidationError
	var merr *evaluator.MalformedOutputError
	switch {
	case errors.As(err, &verr):
		body.Fields = verr.Fields
	case errors.As(err, &serr):
		body.Fields = serr.Fields
	case errors.As(err, &merr):
		body.Raw = merr.Raw
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error_kind", kind, "error", err)
	}
	writeJSON(w, status, body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
