package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aretw0/caretree"
	"github.com/aretw0/caretree/internal/logging"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/ports"
	"github.com/aretw0/caretree/pkg/reconcile"
	"github.com/aretw0/caretree/pkg/session"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// OperatorHeader carries the authenticated operator. Authentication itself happens
// in front of this server.
const OperatorHeader = "X-Operator-ID"

const (
	maxTriageBody = 1 << 20
	maxSyncBody   = 16 << 20
)

//go:embed openapi.yaml
var rawSpec []byte

// LoadSpec parses and validates the embedded OpenAPI document.
func LoadSpec(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	return doc, nil
}

// Server serves triage sessions and the sync endpoints of the offline replicas.
type Server struct {
	sessions   *session.Manager
	reconciler *reconcile.Service
	versions   ports.VersionRepository
	metrics    http.Handler
	logger     *slog.Logger
	apiVersion string
}

// Option configures the Server.
type Option func(*Server)

// WithMetrics mounts a metrics handler on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler builds the HTTP handler. It fails if the embedded API document is invalid.
func NewHandler(sessions *session.Manager, reconciler *reconcile.Service, versions ports.VersionRepository, opts ...Option) (http.Handler, error) {
	spec, err := LoadSpec(context.Background())
	if err != nil {
		return nil, err
	}
	s := &Server{
		sessions:   sessions,
		reconciler: reconciler,
		versions:   versions,
		logger:     logging.NewNop(),
		apiVersion: spec.Info.Version,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s.routes(), nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.getHealth)
	r.Get("/info", s.getInfo)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(rawSpec)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/triage/sessions", func(r chi.Router) {
		r.Use(requireOperator)
		r.Get("/", s.listSessions)
		r.Post("/", s.startSession)
		r.Get("/{id}", s.getSession)
		r.Post("/{id}/respond", s.submitResponse)
		r.Post("/{id}/back", s.goBack)
	})
	r.Route("/sync", func(r chi.Router) {
		r.With(requireOperator).Post("/sessions", s.bulkReconcile)
		r.Get("/protocols/{id}/latest", s.latestVersion)
	})
	return r
}

type operatorKey struct{}

func requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := r.Header.Get(OperatorHeader)
		if op == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + OperatorHeader, Kind: domain.KindValidation})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, op)))
	})
}

func operator(r *http.Request) string {
	op, _ := r.Context().Value(operatorKey{}).(string)
	return op
}

type startRequest struct {
	VersionID string `json:"versionId"`
}

type respondRequest struct {
	NodeID        string               `json:"nodeId"`
	ResponseValue domain.ResponseValue `json:"responseValue"`
}

// syncRequest keeps items raw so each one is decoded and rejected on its own.
type syncRequest struct {
	Items []json.RawMessage `json:"items"`
}

type sessionResponse struct {
	Session *domain.Session `json:"session"`
	Result  session.Result  `json:"result"`
}

type errorBody struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind"`
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":         "caretree-http",
		"version":     caretree.Version,
		"api_version": s.apiVersion,
	})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if !s.decode(w, r, maxTriageBody, &body) {
		return
	}
	step, err := s.sessions.StartSession(r.Context(), operator(r), body.VersionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, step)
}

func (s *Server) submitResponse(w http.ResponseWriter, r *http.Request) {
	var body respondRequest
	if !s.decode(w, r, maxTriageBody, &body) {
		return
	}
	step, err := s.sessions.SubmitResponse(r.Context(), operator(r), chi.URLParam(r, "id"), body.NodeID, body.ResponseValue)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (s *Server) goBack(w http.ResponseWriter, r *http.Request) {
	step, err := s.sessions.GoBack(r.Context(), operator(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, result, err := s.sessions.GetResult(r.Context(), operator(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Result: result})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.ListSessions(r.Context(), operator(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.Session{}
	}
	writeJSON(w, http.StatusOK, map[string][]*domain.Session{"sessions": list})
}

func (s *Server) bulkReconcile(w http.ResponseWriter, r *http.Request) {
	var body syncRequest
	if !s.decode(w, r, maxSyncBody, &body) {
		return
	}
	report, err := s.reconciler.BulkReconcileJSON(r.Context(), operator(r), body.Items)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("sync batch reconciled",
		"operator_id", operator(r),
		"items", len(body.Items),
		"persisted", report.PersistedCount,
		"failed", len(report.Errors),
	)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) latestVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.versions.GetLatestActive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(dst); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.logger.Warn("invalid request body", "path", r.URL.Path, "error", err)
		writeJSON(w, status, errorBody{Error: "invalid request body: " + err.Error(), Kind: domain.KindValidation})
		return false
	}
	return true
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidState:
		return http.StatusConflict
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.Kind(err)
	status := StatusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
