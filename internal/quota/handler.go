package quota

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fitvox/metering/internal/api"
	"github.com/fitvox/metering/internal/auth"
)

// Handler provides the HTTP surface of the metering engine.
type Handler struct {
	engine   *Engine
	gate     *TextGate
	applier  *Applier
	validate *validator.Validate
}

// NewHandler creates a metering Handler.
func NewHandler(engine *Engine, gate *TextGate, applier *Applier) *Handler {
	return &Handler{
		engine:   engine,
		gate:     gate,
		applier:  applier,
		validate: validator.New(),
	}
}

type consumeRequest struct {
	// One voice session tops out well under four hours; anything bigger is
	// a client bug, not a real request.
	Seconds int64 `json:"seconds" validate:"required,gt=0,lte=14400"`
}

// CheckVoice returns the authenticated user's effective voice pools.
func (h *Handler) CheckVoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	usage, err := h.engine.CheckVoiceUsage(r.Context(), userID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, usage)
}

// ConsumeVoice spends voice seconds from the user's pools.
func (h *Handler) ConsumeVoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.NewValidationError("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError("seconds must be between 1 and 14400"))
		return
	}

	if err := h.engine.ConsumeVoiceSeconds(r.Context(), userID, req.Seconds); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckText returns today's text-message usage.
func (h *Handler) CheckText(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	usage, err := h.gate.CheckTextUsage(r.Context(), userID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, usage)
}

// IncrementText records one sent text message against the daily cap.
func (h *Handler) IncrementText(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.gate.IncrementMessageCount(r.Context(), userID); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplyRecharge applies the user's most recent pending recharge of the type
// named in the URL.
func (h *Handler) ApplyRecharge(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	typ := RechargeType(chi.URLParam(r, "type"))
	if !typ.Valid() {
		api.HandleError(w, api.NewValidationError("unknown recharge type"))
		return
	}

	if err := h.applier.ApplyRecharge(r.Context(), userID, typ); err != nil {
		h.handleError(w, err)
		return
	}
	api.JSONMessage(w, http.StatusOK, "recharge applied")
}

// ProcessRecharges batch-applies every pending recharge for the user,
// best-effort.
func (h *Handler) ProcessRecharges(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.applier.ProcessPendingRecharges(r.Context(), userID); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}

func (h *Handler) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrLimitReached):
		api.HandleError(w, api.ErrLimitReached)
	case errors.Is(err, ErrNotFound):
		api.HandleError(w, api.NewNotFoundError("quota not provisioned for user"))
	case errors.Is(err, ErrRechargeNotFound):
		api.HandleError(w, api.NewNotFoundError("no pending recharge of that type"))
	case errors.Is(err, ErrAlreadyApplied):
		api.HandleError(w, api.NewConflictError("recharge already applied"))
	case errors.Is(err, ErrInvalidAmount):
		api.HandleError(w, api.NewValidationError("requested amount must be positive"))
	case errors.Is(err, ErrRetryExhausted):
		api.HandleError(w, api.ErrTryAgain)
	default:
		slog.Error("metering handler: store failure", "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}
