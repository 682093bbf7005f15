// Package api exposes the event ingress and the read-only views over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"binary-referral/internal/domain"
	"binary-referral/internal/observability"
	"binary-referral/internal/queue"
	"binary-referral/internal/reporting"
	"binary-referral/internal/storage"
	"binary-referral/internal/tasks"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Queue   queue.Backend
	Reports *reporting.Generator

	// Ping backs GET /health. Nil always reports healthy.
	Ping   func(ctx context.Context) error
	Logger *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	queue   queue.Backend
	reports *reporting.Generator
	ping    func(ctx context.Context) error
	logger  *slog.Logger

	router http.Handler
}

// New constructs the router.
func New(cfg Config) *Server {
	s := &Server{
		queue:   cfg.Queue,
		reports: cfg.Reports,
		ping:    cfg.Ping,
		logger:  cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(recordMetrics)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.Health)
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/events/order-paid", s.OrderPaid)
		v1.Post("/events/user-referred", s.UserReferred)
		v1.Post("/tree/root", s.PlaceRoot)
		v1.Get("/tasks/{taskID}", s.GetTask)

		v1.Route("/users/{id}", func(u chi.Router) {
			u.Post("/release-pairs", s.ReleasePairs)
			u.Get("/summary", s.Summary)
			u.Get("/tree", s.Tree)
			u.Get("/bonus-events", s.BonusEvents)
			u.Get("/bonus-events.csv", s.BonusEventsCSV)
		})
	})

	return r
}

// taskResponse is returned for accepted events.
type taskResponse struct {
	TaskID string `json:"task_id"`
	Task   string `json:"task"`
	Status string `json:"status"`
}

// Health reports whether the store answers.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// OrderPaid queues a process_purchase task.
func (s *Server) OrderPaid(w http.ResponseWriter, r *http.Request) {
	var req tasks.ProcessPurchasePayload
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.OrderID <= 0 {
		s.writeError(w, r, fmt.Errorf("order_id must be positive: %w", domain.ErrInvalidEvent))
		return
	}

	t, err := tasks.EnqueuePurchase(r.Context(), s.queue, req.OrderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeAccepted(w, t)
}

// UserReferred queues a place_user task.
func (s *Server) UserReferred(w http.ResponseWriter, r *http.Request) {
	var req tasks.PlaceUserPayload
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.UserID <= 0 {
		s.writeError(w, r, fmt.Errorf("user_id must be positive: %w", domain.ErrInvalidEvent))
		return
	}
	if req.ReferrerID == nil || *req.ReferrerID <= 0 {
		s.writeError(w, r, fmt.Errorf("referrer_id must be positive: %w", domain.ErrInvalidEvent))
		return
	}
	if *req.ReferrerID == req.UserID {
		s.writeError(w, r, domain.ErrSelfReferral)
		return
	}

	t, err := tasks.EnqueuePlacement(r.Context(), s.queue, req.UserID, req.ReferrerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeAccepted(w, t)
}

// PlaceRoot queues a place_root task for the first user of the tree.
func (s *Server) PlaceRoot(w http.ResponseWriter, r *http.Request) {
	var req tasks.PlaceRootPayload
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.UserID <= 0 {
		s.writeError(w, r, fmt.Errorf("user_id must be positive: %w", domain.ErrInvalidEvent))
		return
	}

	t, err := tasks.EnqueueRootPlacement(r.Context(), s.queue, req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeAccepted(w, t)
}

// ReleasePairs queues a release_pairs_for_user task.
func (s *Server) ReleasePairs(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	t, err := tasks.EnqueueReleasePairs(r.Context(), s.queue, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeAccepted(w, t)
}

// GetTask returns the state of a queued task.
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.queue.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":    t.ID,
		"task":       t.Name,
		"related_id": t.RelatedID,
		"status":     t.Status,
		"attempts":   t.Attempts,
		"last_error": t.LastError,
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt,
	})
}

// Summary returns the user's dashboard totals.
func (s *Server) Summary(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	summary, err := s.reports.Summary(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Tree returns the subtree rooted at the user.
func (s *Server) Tree(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	tree, err := s.reports.Subtree(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// BonusEvents returns the most recent ledger rows, newest first.
func (s *Server) BonusEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	events, err := s.reports.RecentEvents(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "events": events})
}

// BonusEventsCSV exports the user's full ledger, oldest first.
func (s *Server) BonusEventsCSV(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	events, err := s.reports.Ledger(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="bonus_events_%d.csv"`, userID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(reporting.RenderLedgerCSV(events)))
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}
	return nil
}

func userIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("user id %q: %w", raw, storage.ErrInvalidInput)
	}
	return id, nil
}

// limitParam returns 0 when limit is absent so the view applies its default.
func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit %q: %w", raw, storage.ErrInvalidInput)
	}
	return n, nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case domain.IsCallerError(err), errors.Is(err, storage.ErrInvalidInput):
		status = http.StatusBadRequest
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("error", err.Error()))
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeAccepted(w http.ResponseWriter, t *queue.Task) {
	writeJSON(w, http.StatusAccepted, taskResponse{TaskID: t.ID, Task: t.Name, Status: string(t.Status)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
