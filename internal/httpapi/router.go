package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"order-approval-service/internal/dispatch"
	"order-approval-service/internal/modal"
	"order-approval-service/internal/orchestrator"
)

// Orders is what the handlers need from *orchestrator.Service.
type Orders interface {
	StartOrder(ctx context.Context, orderID string) (orchestrator.InstanceRef, error)
	Approve(ctx context.Context, orderID, actorID string) (string, error)
	Reject(ctx context.Context, orderID, actorID string) (string, error)
	Status(ctx context.Context, orderID string) (modal.OrderStatus, error)
	Audit(ctx context.Context, orderID string) ([]modal.AuditEvent, error)
	Pending(ctx context.Context, limit int) ([]orchestrator.InstanceRef, error)
}

var _ Orders = (*orchestrator.Service)(nil)

type server struct {
	orders Orders
}

// NewRouter wires the order endpoints, the approval UI, /healthz and, when
// metrics is non-nil, /metrics.
func NewRouter(orders Orders, logger zerolog.Logger, metrics http.Handler) http.Handler {
	s := &server{orders: orders}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Post("/create", s.handleCreate)
	r.Post("/approve", s.handleApprove)
	r.Post("/reject", s.handleReject)

	r.Get("/orders/{orderId}", s.handleStatus)
	r.Get("/orders/{orderId}/audit", s.handleAudit)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	registerUIRoutes(r, orders)
	return r
}

// requestLogger stores a request-scoped logger in the context, retrieved with zerolog.Ctx.
func requestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))

			logger.Info().
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("request handled")
		})
	}
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ref, err := s.orders.StartOrder(ctx, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, orchestrator.StartedAck(ref))
}

func (s *server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.orders.Approve)
}

func (s *server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.orders.Reject)
}

func (s *server) decide(w http.ResponseWriter, r *http.Request, send func(ctx context.Context, orderID, actorID string) (string, error)) {
	q := r.URL.Query()

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ack, err := send(ctx, q.Get("orderId"), q.Get("approverId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, ack)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	st, err := s.orders.Status(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	events, err := s.orders.Audit(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func statusFor(err error) int {
	var started *orchestrator.AlreadyStartedError
	switch {
	case errors.Is(err, orchestrator.ErrInvalidOrderID):
		return http.StatusBadRequest
	case errors.As(err, &started):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrUnknownOrder):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), code)
}

func writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
