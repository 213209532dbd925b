package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxWorkflowBodyBytes = 32 << 20

// workflowRunner runs one workflow document.
type workflowRunner interface {
	Run(ctx context.Context, doc *WorkflowDocument) ([]OutputRecord, error)
}

// Server exposes the node over HTTP for hosts that call out instead of
// embedding it.
type Server struct {
	runner workflowRunner
	log    *zap.Logger
	router chi.Router
}

func NewServer(runner workflowRunner, log *zap.Logger) *Server {
	s := &Server{runner: runner, log: log.Named("http"), router: chi.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/operations", s.handleOperations)
	r.Post("/v1/execute", s.handleExecute)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("requestId", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": buildVersion})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NodeSchema)
}

type executeResponse struct {
	Records []OutputRecord `json:"records"`
}

type executeErrorResponse struct {
	Error     string         `json:"error"`
	ItemIndex *int           `json:"itemIndex,omitempty"`
	Records   []OutputRecord `json:"records"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	doc, err := DecodeWorkflow(http.MaxBytesReader(w, r.Body, maxWorkflowBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, executeErrorResponse{Error: err.Error(), Records: []OutputRecord{}})
		return
	}

	records, err := s.runner.Run(r.Context(), doc)
	if records == nil {
		records = []OutputRecord{}
	}
	if err != nil {
		resp := executeErrorResponse{Error: err.Error(), Records: records}
		var itemErr *ItemError
		if errors.As(err, &itemErr) {
			resp.ItemIndex = &itemErr.Index
		}
		writeJSON(w, haltStatus(err), resp)
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{Records: records})
}

// haltStatus maps a halted run to an HTTP status: bad input is the caller's
// fault, remote and transport failures are upstream ones.
func haltStatus(err error) int {
	var (
		cfgErr       *ConfigurationError
		valErr       *ValidationError
		remoteErr    *RemoteAPIError
		transportErr *TransportError
		timeoutErr   *TransportTimeoutError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &remoteErr), errors.As(err, &transportErr), errors.As(err, &timeoutErr):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
