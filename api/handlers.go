/*
handlers.go - HTTP API handlers for the pool engine

PURPOSE:
  Exposes rosca.Service via REST. Handles HTTP request/response and JSON
  serialization, and delegates every rule to the engine.

ENDPOINTS:
  Pools:
    GET    /api/pools                     List pools
    POST   /api/pools                     Create a forming pool
    GET    /api/pools/{id}                Pool detail with period states
    DELETE /api/pools/{id}                Delete a pool

  Lifecycle:
    POST   /api/pools/{id}/members        Join
    POST   /api/pools/{id}/activate       Freeze members, draw rotation, schedule
    POST   /api/pools/{id}/disband        Stop the pool

  Periods:
    POST   /api/pools/{id}/periods/{index}/contributions  Record a contribution
    POST   /api/pools/{id}/periods/{index}/payout         Mark paid out
    GET    /api/pools/{id}/next           Next open period (204 if none)
    GET    /api/pools/{id}/overdue        Overdue periods

  Accounting:
    GET    /api/pools/{id}/positions      Per-member contributed/received/net
    GET    /api/pools/{id}/summary        Pool totals

REQUEST FLOW:
  1. Parse HTTP request
  2. Call the service (one atomic store update per mutation)
  3. Retry on ErrConcurrentModification, up to Retries times
  4. Serialize response or map the error

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 404: Pool or period not found
  - 409: Valid request the pool's state does not allow, or lost a race
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/rosca-engine/rosca"
)

// DefaultRetries is how often a conflicting write is attempted.
const DefaultRetries = 3

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

type Handler struct {
	Service *rosca.Service
	Metrics *Metrics
	Retries int
	Logger  *slog.Logger
}

func NewHandler(svc *rosca.Service) *Handler {
	return &Handler{
		Service: svc,
		Metrics: NewMetrics(),
		Retries: DefaultRetries,
		Logger:  slog.Default(),
	}
}

func (h *Handler) now() time.Time {
	if h.Service.Clock != nil {
		return h.Service.Clock().UTC()
	}
	return time.Now().UTC()
}

// mutate runs op with conflict retries and records the outcome.
func (h *Handler) mutate(ctx context.Context, operation string, op func() (*rosca.Pool, error)) (*rosca.Pool, error) {
	var pool *rosca.Pool
	err := rosca.Retry(ctx, h.Retries, func() error {
		var err error
		pool, err = op()
		if rosca.IsRetryable(err) && h.Metrics != nil {
			h.Metrics.conflicts.Inc()
		}
		return err
	})
	if h.Metrics != nil {
		h.Metrics.observe(operation, err)
	}
	return pool, err
}

// =============================================================================
// POOL HANDLERS
// =============================================================================

// ListPools returns every pool, oldest first.
// GET /api/pools
func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.Service.ListPools(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to list pools", err)
		return
	}
	dtos := make([]PoolSummaryDTO, len(pools))
	for i, p := range pools {
		dtos[i] = toPoolSummaryDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePool creates a forming pool.
// POST /api/pools
func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" || req.CreatedBy == "" {
		writeError(w, http.StatusBadRequest, "name and created_by are required", nil)
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.writeServiceError(w, "Invalid start date", err)
		return
	}

	pool, err := h.Service.CreatePool(r.Context(), in)
	if h.Metrics != nil {
		h.Metrics.observe("create", err)
	}
	if err != nil {
		h.writeServiceError(w, "Failed to create pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPoolDTO(pool, h.now()))
}

// GetPool returns one pool with derived period states.
// GET /api/pools/{id}
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.Service.GetPool(r.Context(), poolID(r))
	if err != nil {
		h.writeServiceError(w, "Failed to get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolDTO(pool, h.now()))
}

// DeletePool removes a pool.
// DELETE /api/pools/{id}
func (h *Handler) DeletePool(w http.ResponseWriter, r *http.Request) {
	err := h.Service.Delete(r.Context(), poolID(r))
	if h.Metrics != nil {
		h.Metrics.observe("delete", err)
	}
	if err != nil {
		h.writeServiceError(w, "Failed to delete pool", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LIFECYCLE HANDLERS
// =============================================================================

// JoinPool adds a participant to a forming pool.
// POST /api/pools/{id}/members
func (h *Handler) JoinPool(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	ctx := r.Context()
	pool, err := h.mutate(ctx, "join", func() (*rosca.Pool, error) {
		return h.Service.Join(ctx, poolID(r), rosca.MemberID(req.UserID), req.Name)
	})
	if err != nil {
		h.writeServiceError(w, "Failed to join pool", err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolDTO(pool, h.now()))
}

// ActivatePool freezes membership and creates the schedule.
// POST /api/pools/{id}/activate
func (h *Handler) ActivatePool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pool, err := h.mutate(ctx, "activate", func() (*rosca.Pool, error) {
		return h.Service.Activate(ctx, poolID(r))
	})
	if err != nil {
		h.writeServiceError(w, "Failed to activate pool", err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolDTO(pool, h.now()))
}

// DisbandPool stops a forming or active pool.
// POST /api/pools/{id}/disband
func (h *Handler) DisbandPool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pool, err := h.mutate(ctx, "disband", func() (*rosca.Pool, error) {
		return h.Service.Disband(ctx, poolID(r))
	})
	if err != nil {
		h.writeServiceError(w, "Failed to disband pool", err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolDTO(pool, h.now()))
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// RecordContribution records one member's payment into a period.
// POST /api/pools/{id}/periods/{index}/contributions
func (h *Handler) RecordContribution(w http.ResponseWriter, r *http.Request) {
	index, ok := periodIndex(w, r)
	if !ok {
		return
	}
	var req ContributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.MemberID == "" {
		writeError(w, http.StatusBadRequest, "member_id is required", nil)
		return
	}
	var paidAt time.Time
	if req.PaidAt != nil {
		paidAt = req.PaidAt.UTC()
	}

	ctx := r.Context()
	pool, err := h.mutate(ctx, "contribute", func() (*rosca.Pool, error) {
		return h.Service.RecordContribution(ctx, poolID(r), index, rosca.MemberID(req.MemberID), req.Amount, paidAt)
	})
	if err != nil {
		h.writeServiceError(w, "Failed to record contribution", err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.contributions.Inc()
	}
	writeJSON(w, http.StatusOK, timelineEntry(pool, index, h.now()))
}

// MarkPaidOut closes a complete period. Repeating the call is harmless.
// POST /api/pools/{id}/periods/{index}/payout
func (h *Handler) MarkPaidOut(w http.ResponseWriter, r *http.Request) {
	index, ok := periodIndex(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	pool, err := h.mutate(ctx, "payout", func() (*rosca.Pool, error) {
		return h.Service.MarkPaidOut(ctx, poolID(r), index)
	})
	if err != nil {
		h.writeServiceError(w, "Failed to mark period paid out", err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.payouts.Inc()
	}
	writeJSON(w, http.StatusOK, toPoolDTO(pool, h.now()))
}

// NextPeriod returns the next open period, or 204 when there is none.
// GET /api/pools/{id}/next
func (h *Handler) NextPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok, err := h.Service.NextPeriod(r.Context(), poolID(r))
	if err != nil {
		h.writeServiceError(w, "Failed to get next period", err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, period)
}

// Overdue lists open periods past their due date.
// GET /api/pools/{id}/overdue
func (h *Handler) Overdue(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Service.Overdue(r.Context(), poolID(r))
	if err != nil {
		h.writeServiceError(w, "Failed to list overdue periods", err)
		return
	}
	writeJSON(w, http.StatusOK, periods)
}

// =============================================================================
// ACCOUNTING HANDLERS
// =============================================================================

// Positions returns contributed, received and net per member.
// GET /api/pools/{id}/positions
func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.Service.Positions(r.Context(), poolID(r))
	if err != nil {
		h.writeServiceError(w, "Failed to compute positions", err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// Summary returns pool-wide totals.
// GET /api/pools/{id}/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.Summary(r.Context(), poolID(r))
	if err != nil {
		h.writeServiceError(w, "Failed to compute summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// HELPERS
// =============================================================================

func poolID(r *http.Request) rosca.PoolID {
	return rosca.PoolID(chi.URLParam(r, "id"))
}

func periodIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period index", err)
		return 0, false
	}
	return index, true
}

func timelineEntry(pool *rosca.Pool, index int, now time.Time) rosca.TimelineEntry {
	for _, e := range rosca.Timeline(pool, now) {
		if e.Period.Index == index {
			return e
		}
	}
	return rosca.TimelineEntry{}
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case rosca.IsNotFound(err):
		return http.StatusNotFound
	case rosca.IsClientError(err):
		return http.StatusBadRequest
	case rosca.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && h.Logger != nil {
		h.Logger.Error(message, "error", err)
	}

	resp := ErrorResponse{Error: message, Details: err.Error()}
	var inc *rosca.IncompletePeriodError
	if errors.As(err, &inc) {
		resp.Outstanding = inc.Outstanding
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
