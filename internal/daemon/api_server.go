package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"animeindex/internal/api"
	"animeindex/internal/config"
	"animeindex/internal/logging"
	"animeindex/internal/metrics"
	"animeindex/internal/queue"
	"animeindex/internal/sqlstore"
)

type apiServer struct {
	bind       string
	logger     *slog.Logger
	daemon     *Daemon
	queueSvc   *api.QueueService
	catalogSvc *api.CatalogService

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:       strings.TrimSpace(cfg.Metrics.Bind),
		logger:     logger,
		daemon:     d,
		queueSvc:   api.NewQueueService(d.store),
		catalogSvc: api.NewCatalogService(d.catalog),
	}
	if srv.bind == "" {
		return srv
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Metrics.Token),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(token))
		r.Get("/status", s.handleStatus)
		r.Get("/queue", s.handleQueue)
		r.Get("/queue/{id}", s.handleQueueTask)
		r.Get("/works/{id}", s.handleWork)
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("ops listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("ops server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("ops server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{Status: "ok", Databases: map[string]string{}}
	checks := map[string]func(context.Context) (sqlstore.Health, error){
		"queue":   s.daemon.store.CheckHealth,
		"catalog": s.daemon.catalog.CheckHealth,
	}
	for name, check := range checks {
		health, err := check(r.Context())
		switch {
		case err != nil:
			resp.Databases[name] = err.Error()
			resp.Status = "degraded"
		case !databaseHealthy(health):
			resp.Databases[name] = "unhealthy"
			resp.Status = "degraded"
		default:
			resp.Databases[name] = "ok"
		}
	}
	resp.Handlers = api.HandlerHealthSlice(s.daemon.workflow.Status(r.Context()).HandlerHealth)
	for _, handler := range resp.Handlers {
		if !handler.Ready {
			resp.Status = "degraded"
		}
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func databaseHealthy(h sqlstore.Health) bool {
	return h.DatabaseExists && h.DatabaseReadable && h.TableExists && len(h.MissingColumns) == 0 && h.IntegrityCheck
}

// handleStats returns queue counts and refreshes the queue gauges so a scrape
// right after sees the same numbers.
func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queueSvc.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	counts := make([]metrics.QueueCount, 0, len(stats.ByKind))
	for _, row := range stats.ByKind {
		counts = append(counts, metrics.QueueCount{Kind: row.Kind, Status: row.Status, Count: row.Count})
	}
	metrics.SetQueueCounts(counts)
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"running":       status.Running,
		"queueDbPath":   status.QueueDBPath,
		"catalogDbPath": status.CatalogDBPath,
		"lockFilePath":  status.LockFilePath,
		"scanSchedule":  status.ScanSchedule,
		"worker":        api.FromStatusSummary(status.Workflow),
	})
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := queue.ListFilter{}
	for _, value := range query["status"] {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			filter.Statuses = append(filter.Statuses, queue.Status(trimmed))
		}
	}
	for _, value := range query["kind"] {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			filter.Kinds = append(filter.Kinds, trimmed)
		}
	}
	if value := strings.TrimSpace(query.Get("subject")); value != "" {
		subject, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid subject id")
			return
		}
		filter.SubjectID = subject
	}
	filter.Limit = 200
	if value := strings.TrimSpace(query.Get("limit")); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	tasks, err := s.queueSvc.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskListResponse{Tasks: tasks})
}

func (s *apiServer) handleQueueTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	task, err := s.queueSvc.Describe(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskResponse{Task: *task})
}

func (s *apiServer) handleWork(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	work, err := s.catalogSvc.Describe(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if work == nil {
		s.writeError(w, http.StatusNotFound, "work not found")
		return
	}
	s.writeJSON(w, http.StatusOK, work)
}

func (s *apiServer) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.NewComponentLogger(s.logger, "ops-server")
	}
	return logging.NewNop()
}
