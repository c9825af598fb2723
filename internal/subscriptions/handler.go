package subscriptions

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/learnhub/learnhub/internal/api"
	"github.com/learnhub/learnhub/internal/auth"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, Plans())
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	c, err := h.svc.Current(r.Context(), userID)
	if err != nil {
		writeError(w, err, "getting subscription", userID)
		return
	}
	api.JSON(w, http.StatusOK, c)
}

func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	sub, err := h.svc.Subscribe(r.Context(), userID, req.Plan)
	if err != nil {
		writeError(w, err, "subscribing", userID)
		return
	}
	api.JSON(w, http.StatusCreated, sub)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	sub, err := h.svc.Cancel(r.Context(), userID)
	if err != nil {
		writeError(w, err, "cancelling subscription", userID)
		return
	}
	api.JSON(w, http.StatusOK, sub)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	page := api.ParsePagination(r)
	entries, total, err := h.svc.History(r.Context(), userID, page.Limit(), page.Offset())
	if err != nil {
		writeError(w, err, "listing subscription history", userID)
		return
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	api.JSONPaginated(w, http.StatusOK, entries, total, page.Page, page.PageSize)
}

func toAppError(err error) *api.AppError {
	switch {
	case errors.Is(err, ErrUnknownPlan):
		return api.NewValidationError(err.Error())
	case errors.Is(err, ErrAlreadySubscribed):
		return api.NewConflictError(err.Error())
	case errors.Is(err, ErrNoActiveSubscription):
		return api.NewNotFoundError(err.Error())
	}
	return nil
}

func writeError(w http.ResponseWriter, err error, op string, userID uuid.UUID) {
	if appErr := toAppError(err); appErr != nil {
		api.HandleError(w, appErr)
		return
	}
	slog.Error(op, "error", err, "user_id", userID)
	api.HandleError(w, api.ErrInternalServer)
}
