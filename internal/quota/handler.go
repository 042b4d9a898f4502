package quota

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ledgerly-hq/ledgerly/internal/api"
	"github.com/ledgerly-hq/ledgerly/internal/auth"
)

// Handler provides HTTP handlers for the quota endpoints.
type Handler struct {
	engine   *Engine
	reporter *Reporter
	validate *validator.Validate
}

// NewHandler creates a new quota Handler.
func NewHandler(engine *Engine, reporter *Reporter) *Handler {
	return &Handler{
		engine:   engine,
		reporter: reporter,
		validate: validator.New(),
	}
}

// GetUsage returns the authenticated user's current window counts and
// in-flight request count.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	snap, err := h.reporter.CurrentUsage(r.Context(), userID)
	if err != nil {
		h.handleStorageError(w, "getting current usage", err)
		return
	}

	api.JSON(w, http.StatusOK, snap)
}

// GetLimits returns the user's tier, limits, remaining budget and next reset.
func (h *Handler) GetLimits(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	status, err := h.engine.Limits(r.Context(), userID)
	if err != nil {
		h.handleStorageError(w, "getting quota limits", err)
		return
	}

	api.JSON(w, http.StatusOK, status)
}

// GetHistory returns the usage time series for one period.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	period, ok := ParsePeriod(r.URL.Query().Get("period"))
	if !ok {
		api.HandleError(w, api.NewBadRequestError("period must be HOUR, DAY or MONTH"))
		return
	}

	now := time.Now().UTC()
	from := now.AddDate(0, -1, 0)
	to := now
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("from must be RFC3339"))
			return
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("to must be RFC3339"))
			return
		}
		to = t
	}

	records, err := h.reporter.History(r.Context(), userID, period, from, to, parseLimit(r, 100))
	if err != nil {
		h.handleStorageError(w, "getting usage history", err)
		return
	}

	api.JSON(w, http.StatusOK, records)
}

// GetViolations returns the user's denial history, newest first.
func (h *Handler) GetViolations(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	violations, err := h.reporter.ViolationHistory(r.Context(), userID, parseLimit(r, 50))
	if err != nil {
		h.handleStorageError(w, "getting violations", err)
		return
	}

	api.JSON(w, http.StatusOK, violations)
}

// GetTopEndpoints ranks the user's endpoints within the current window.
func (h *Handler) GetTopEndpoints(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	period, ok := ParsePeriod(r.URL.Query().Get("period"))
	if !ok {
		api.HandleError(w, api.NewBadRequestError("period must be HOUR, DAY or MONTH"))
		return
	}

	top, err := h.reporter.TopEndpoints(r.Context(), userID, period, parseLimit(r, 10))
	if err != nil {
		h.handleStorageError(w, "getting top endpoints", err)
		return
	}

	api.JSON(w, http.StatusOK, top)
}

// CheckEndpoint is the preflight admission check: the decision the engine
// would make for the given endpoint right now, without consuming quota.
func (h *Handler) CheckEndpoint(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		api.HandleError(w, api.NewBadRequestError("endpoint is required"))
		return
	}

	decision, err := h.engine.Check(r.Context(), userID, endpoint)
	if err != nil {
		h.handleStorageError(w, "preflight admission check", err)
		return
	}

	api.JSON(w, http.StatusOK, decision)
}

// UpgradeTierRequest is the tier-change payload.
type UpgradeTierRequest struct {
	Tier string `json:"tier" validate:"required"`
}

// UpgradeTier moves the authenticated user to a new tier. Paid tiers require
// an active subscription unless the caller is an admin.
func (h *Handler) UpgradeTier(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req UpgradeTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	tier, ok := ParseTier(req.Tier)
	if !ok {
		api.HandleError(w, api.NewBadRequestError("unknown tier: "+req.Tier))
		return
	}

	q, err := h.engine.UpgradeTier(r.Context(), userID, tier, claims.Admin)
	if err != nil {
		switch {
		case errors.Is(err, ErrSubscriptionRequired):
			api.HandleError(w, api.ErrPaymentRequired)
		case errors.Is(err, ErrUnknownTier):
			api.HandleError(w, api.NewBadRequestError(err.Error()))
		default:
			h.handleStorageError(w, "upgrading tier", err)
		}
		return
	}

	api.JSON(w, http.StatusOK, q)
}

// ResetQuota zeroes another user's current-window counters. Admin only;
// the router mounts it behind auth.RequireAdmin.
func (h *Handler) ResetQuota(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user id"))
		return
	}

	if err := h.engine.ResetQuota(r.Context(), userID); err != nil {
		h.handleStorageError(w, "resetting quota", err)
		return
	}

	api.JSONMessage(w, http.StatusOK, "quota counters reset")
}

// ListTiers returns the static tier catalog. Public, no auth.
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.engine.Catalog().Tiers())
}

func (h *Handler) handleStorageError(w http.ResponseWriter, op string, err error) {
	slog.Error(op, "error", err)
	if errors.Is(err, ErrStorage) {
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}
	api.HandleError(w, api.ErrInternalServer)
}

func parseLimit(r *http.Request, def int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}
