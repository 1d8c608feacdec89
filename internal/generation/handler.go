package generation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/roomora/backend/internal/ledger"
	"github.com/roomora/backend/internal/middleware"
	"github.com/roomora/backend/internal/models"
	"github.com/roomora/backend/internal/services"
)

// InputValidator checks the request body against the render schema.
type InputValidator interface {
	ValidateInput(ctx context.Context, name string, input json.RawMessage) error
}

type Handler struct {
	svc       Service
	validator InputValidator
	log       *slog.Logger
}

func NewHandler(svc Service, validator InputValidator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, validator: validator, log: log}
}

// CreateRender accepts a render request, charges the account if its tier
// meters renders, and queues the generation job. Insufficient credits map to
// 402 with a machine-readable code so the UI can prompt an upgrade.
func (h *Handler) CreateRender(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	req := middleware.RenderRequestFromCtx(r.Context())
	if acc == nil || req == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	if err := h.validator.ValidateInput(r.Context(), services.SchemaRender, raw); err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "detail": err.Error()})
			return
		}
		h.log.Error("input validation failed", "error", err)
		http.Error(w, `{"error":"validation unavailable"}`, http.StatusInternalServerError)
		return
	}

	render, err := h.svc.CreateRender(r.Context(), acc, req.RoomType, req.Style, req.InputImageURL)
	if err != nil {
		var insufficient *ledger.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"error":    "insufficient_credits",
				"balance":  insufficient.Balance,
				"required": insufficient.Required,
			})
			return
		}
		h.log.Error("create render failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"create render failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, render)
}

func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid render id"}`, http.StatusBadRequest)
		return
	}
	render, err := h.svc.GetRender(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrRenderNotFound) {
			http.Error(w, `{"error":"render not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("get render failed", "render_id", id, "error", err)
		http.Error(w, `{"error":"get render failed"}`, http.StatusInternalServerError)
		return
	}
	// Other accounts' renders look like missing ones.
	if render.AccountID != acc.ID {
		http.Error(w, `{"error":"render not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, render)
}

func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.svc.ListRenders(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("list renders failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"list renders failed"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.Render{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ListStyles serves the static room and style catalog the UI builds its
// pickers from.
func (h *Handler) ListStyles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"room_types": models.RoomTypes,
		"styles":     models.Styles,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
