package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tweetcast/internal/api"
	"tweetcast/internal/config"
	"tweetcast/internal/logging"
	"tweetcast/internal/services"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind    string
	token   string
	origins []string
	logger  *slog.Logger
	daemon  *Daemon

	listener net.Listener
	server   *http.Server
}

type errorResponse struct {
	Error    string   `json:"error"`
	Kind     string   `json:"kind,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(cfg.API.Bind),
		token:   strings.TrimSpace(cfg.API.Token),
		origins: cfg.API.AllowedOrigins,
		logger:  logging.NewComponentLogger(logger, "api-server"),
		daemon:  d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(s.token))
			r.Get("/status", s.handleStatus)
			r.Post("/jobs/{type}", s.handleEnqueue)
			r.Get("/jobs/{type}/{id}", s.handleGetJob)
			r.Get("/queues/stats", s.handleStats)
			r.Get("/queues/{type}/counts", s.handleCounts)
			r.Post("/queues/{type}/pause", s.handlePause)
			r.Post("/queues/{type}/resume", s.handleResume)
			r.Delete("/queues/{type}/clean", s.handleClean)
		})
	})
	return r
}

func (s *apiServer) start() error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server stopped unexpectedly", "api_server_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check api.bind and restart the daemon"),
				logging.String(logging.FieldImpact, "HTTP producers cannot enqueue jobs"),
			)
		}
	}()
	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.token != ""),
	)
	return nil
}

func (s *apiServer) stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("stop api server: %w", err)
	}
	return nil
}

func (s *apiServer) address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ctx := services.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(ctx))
		s.logger.Debug("http request",
			logging.String(logging.FieldEventType, "http_request"),
			logging.String(logging.FieldCorrelationID, middleware.GetReqID(r.Context())),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.writeError(w, services.NewValidationError("request", []string{"read body: " + err.Error()}))
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, services.NewValidationError("request", []string{"malformed JSON: " + err.Error()}))
		return
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		s.writeError(w, services.NewValidationError("request", []string{"payload is required"}))
		return
	}
	handle, err := s.daemon.Queue().Enqueue(r.Context(), chi.URLParam(r, "type"), req.Payload, api.EnqueueOptions{Priority: req.Priority})
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if handle.Existing {
		status = http.StatusOK
	}
	s.writeJSON(w, status, handle)
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	view, err := s.daemon.Queue().GetJob(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.daemon.Queue().Counts(r.Context(), chi.URLParam(r, "type"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.Queue().AllCounts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handlePause(w http.ResponseWriter, r *http.Request) {
	jobType := chi.URLParam(r, "type")
	if err := s.daemon.Queue().Pause(r.Context(), jobType); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobType": jobType, "paused": true})
}

func (s *apiServer) handleResume(w http.ResponseWriter, r *http.Request) {
	jobType := chi.URLParam(r, "type")
	if err := s.daemon.Queue().Resume(r.Context(), jobType); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobType": jobType, "paused": false})
}

func (s *apiServer) handleClean(w http.ResponseWriter, r *http.Request) {
	grace := api.DefaultCleanGrace
	if raw := strings.TrimSpace(r.URL.Query().Get("grace")); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, services.NewValidationError("clean", []string{"grace must be milliseconds"}))
			return
		}
		grace = time.Duration(ms) * time.Millisecond
	}
	result, err := s.daemon.Queue().Clean(r.Context(), chi.URLParam(r, "type"), grace)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	kind := services.Kind(err)
	resp := errorResponse{Error: err.Error(), Kind: kind}
	var validation *services.ValidationError
	if errors.As(err, &validation) {
		resp.Problems = validation.Problems
	}
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		logging.WarnWithContext(s.logger, "api request failed", "api_request_failed",
			logging.Error(err),
			logging.Int("status", status),
		)
	}
	s.writeJSON(w, status, resp)
}

func statusForKind(kind string) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindCollaborator:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
