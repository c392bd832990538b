package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fabfab/filing-agent/filing"
)

//go:embed openapi.yaml
var openAPISpecYAML []byte

// Ingester runs the ingestion workflow.
type Ingester interface {
	Process(ctx context.Context, req filing.FilingRequest) (filing.Document, error)
	Clear(ctx context.Context) error
}

// Answerer runs the query workflow and the read-only listings.
type Answerer interface {
	Answer(ctx context.Context, question string) (filing.Answer, error)
	Companies(ctx context.Context) ([]filing.Company, error)
	Documents(ctx context.Context, tickers []string) ([]filing.Document, error)
}

// Options configures the HTTP layer.
type Options struct {
	AllowedOrigins []string
}

// Server exposes HTTP handlers for ingestion and question answering.
type Server struct {
	ingester Ingester
	answerer Answerer
	logger   *zap.Logger
	handler  http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

type queryRequest struct {
	Question string `json:"question"`
}

type companiesResponse struct {
	Companies []filing.Company `json:"companies"`
}

type documentsResponse struct {
	Documents []filing.Document `json:"documents"`
}

// New constructs a Server. Either service may be nil, in which case its
// routes answer 503.
func New(ingester Ingester, answerer Answerer, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.L()
	}
	s := &Server{ingester: ingester, answerer: answerer, logger: logger.Named("api")}
	s.handler = s.routes(opts)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes(opts Options) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		MaxAge:         300,
	}))
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, eris.Errorf("method %s not allowed on %s", r.Method, r.URL.Path))
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, eris.Errorf("no route for %s", r.URL.Path))
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/openapi.yaml", s.handleOpenAPI)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/companies", s.handleCompanies)
		r.Get("/documents", s.handleDocuments)
		r.Post("/filings", s.handleProcess)
		r.Post("/query", s.handleQuery)
		r.Post("/clear", s.handleClear)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	if !s.requireAnswerer(w, r) {
		return
	}
	companies, err := s.answerer.Companies(r.Context())
	if err != nil {
		s.writeServiceError(w, r, eris.Wrap(err, "list companies"))
		return
	}
	if companies == nil {
		companies = []filing.Company{}
	}
	s.writeJSON(w, http.StatusOK, companiesResponse{Companies: companies})
}

// handleDocuments accepts ?ticker=AAPL&ticker=MSFT or ?ticker=AAPL,MSFT.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if !s.requireAnswerer(w, r) {
		return
	}
	var tickers []string
	for _, raw := range r.URL.Query()["ticker"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tickers = append(tickers, t)
			}
		}
	}
	docs, err := s.answerer.Documents(r.Context(), tickers)
	if err != nil {
		s.writeServiceError(w, r, eris.Wrap(err, "list documents"))
		return
	}
	if docs == nil {
		docs = []filing.Document{}
	}
	s.writeJSON(w, http.StatusOK, documentsResponse{Documents: docs})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, eris.New("ingestion is not configured"))
		return
	}
	var req filing.FilingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	doc, err := s.ingester.Process(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !s.requireAnswerer(w, r) {
		return
	}
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, r, http.StatusBadRequest, eris.New("question is required"))
		return
	}

	answer, err := s.answerer.Answer(r.Context(), req.Question)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, eris.New("ingestion is not configured"))
		return
	}
	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if !req.Confirm {
		s.writeError(w, r, http.StatusBadRequest, eris.New("confirm must be true to clear data"))
		return
	}

	if err := s.ingester.Clear(r.Context()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.logger.Info("filing data cleared", zap.String("request_id", middleware.GetReqID(r.Context())))
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "filing data cleared"})
}

func (s *Server) requireAnswerer(w http.ResponseWriter, r *http.Request) bool {
	if s.answerer == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, eris.New("query service is not configured"))
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, filing.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, filing.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, filing.ErrParseFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, filing.ErrCapabilityFailure):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeError(w, r, statusFor(err), err)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	fields := []zap.Field{
		zap.Int("status", status),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("api error", fields...)
	} else {
		s.logger.Info("api error", fields...)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
