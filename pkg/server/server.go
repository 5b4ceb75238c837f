// Package server exposes the monitoring and control HTTP API over the
// scheduler manager and the store.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/minseok-oh/surgewatch/internal/scheduler"
	"github.com/minseok-oh/surgewatch/internal/store"
)

// Server provides the HTTP API.
type Server struct {
	store   store.Store
	manager *scheduler.Manager
	log     *logrus.Logger
	port    int

	httpSrv *http.Server
}

// New creates a new HTTP server.
func New(st store.Store, mgr *scheduler.Manager, port int, log *logrus.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if log == nil {
		log = logrus.New()
	}
	return &Server{
		store:   st,
		manager: mgr,
		log:     log,
		port:    port,
	}
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/schedulers", s.handleListSchedulers).Methods(http.MethodGet)
	api.HandleFunc("/schedulers/{name}", s.handleSchedulerStatus).Methods(http.MethodGet)
	api.HandleFunc("/schedulers/{name}/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/schedulers/{name}/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/schedulers/{name}/run", s.handleRunOnce).Methods(http.MethodPost)
	api.HandleFunc("/schedulers/{name}/enable", s.handleEnable).Methods(http.MethodPost)
	api.HandleFunc("/schedulers/{name}/disable", s.handleDisable).Methods(http.MethodPost)
	api.HandleFunc("/scores", s.handleScores).Methods(http.MethodGet)
	api.HandleFunc("/categories", s.handleCategories).Methods(http.MethodGet)
	api.HandleFunc("/contents", s.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/contents/{id}", s.handleGetContent).Methods(http.MethodGet)
	api.HandleFunc("/contents/{id}/history", s.handleHistory).Methods(http.MethodGet)
	return r
}

// ListenAndServe starts the HTTP server and blocks until Shutdown.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.log.WithField("addr", addr).Info("http server listening")
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSchedulers(w http.ResponseWriter, r *http.Request) {
	statuses := s.manager.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  statuses,
		"count": len(statuses),
	})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	status, err := s.manager.StatusOf(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.manager.Start(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	status, _ := s.manager.StatusOf(name)
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.manager.Stop(name); err != nil {
		s.writeError(w, err)
		return
	}
	status, _ := s.manager.StatusOf(name)
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRunOnce(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	run, err := s.manager.RunOnce(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	sched, err := s.manager.Get(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sched.Enable()
	writeJSON(w, http.StatusOK, sched.Status())
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	sched, err := s.manager.Get(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sched.Disable()
	writeJSON(w, http.StatusOK, sched.Status())
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	opts := store.ScoreListOpts{Limit: 50}
	q := r.URL.Query()
	if q.Get("surging") == "true" {
		opts.SurgingOnly = true
	}
	if v := q.Get("min_score"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			opts.MinComposite = f
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}

	scores, err := s.store.ListScores(r.Context(), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  scores,
		"count": len(scores),
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	aggs, err := s.store.ListAggregates(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  aggs,
		"count": len(aggs),
	})
}

// handleIngest accepts an externally sampled metrics reading: the content
// row is upserted and one snapshot appended, so pushed data flows through
// the same scoring path as scheduler-sampled data.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var c store.Content
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	if c.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id required"})
		return
	}

	now := time.Now().UTC()
	if c.CrawledAt.IsZero() {
		c.CrawledAt = now
	}
	if err := s.store.UpsertContent(r.Context(), &c); err != nil {
		s.writeError(w, err)
		return
	}

	snap := &store.Snapshot{
		ContentID:    c.ID,
		CapturedAt:   c.CrawledAt,
		ViewCount:    c.ViewCount,
		LikeCount:    c.LikeCount,
		CommentCount: c.CommentCount,
	}
	if err := s.store.AppendSnapshot(r.Context(), snap); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, err := s.store.GetContent(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	since := time.Now().UTC().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}

	snaps, err := s.store.SnapshotsSince(r.Context(), id, since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  snaps,
		"count": len(snaps),
	})
}

// writeError maps domain errors to status codes: unknown name is 404, a
// busy or disabled scheduler is 409, anything else 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scheduler.ErrBusy), errors.Is(err, scheduler.ErrDisabled):
		status = http.StatusConflict
	case errors.Is(err, sql.ErrNoRows):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
