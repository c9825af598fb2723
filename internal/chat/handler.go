package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/learnhub/learnhub/internal/api"
	"github.com/learnhub/learnhub/internal/auth"
	"github.com/learnhub/learnhub/internal/credits"
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

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	sess, err := h.svc.CreateSession(r.Context(), userID, req)
	if err != nil {
		writeError(w, err, "creating chat session", userID)
		return
	}
	api.JSON(w, http.StatusCreated, sess)
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	page := api.ParsePagination(r)

	sessions, total, err := h.svc.ListSessions(r.Context(), userID, page.Limit(), page.Offset())
	if err != nil {
		writeError(w, err, "listing chat sessions", userID)
		return
	}
	api.JSONPaginated(w, http.StatusOK, sessions, total, page.Page, page.PageSize)
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid session id"))
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	res, err := h.svc.PostMessage(r.Context(), userID, sessionID, req.Content)
	if err != nil {
		writeError(w, err, "posting chat message", userID)
		return
	}
	api.JSON(w, http.StatusCreated, res)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid session id"))
		return
	}
	page := api.ParsePagination(r)

	msgs, total, err := h.svc.ListMessages(r.Context(), userID, sessionID, page.Limit(), page.Offset())
	if err != nil {
		writeError(w, err, "listing chat messages", userID)
		return
	}
	api.JSONPaginated(w, http.StatusOK, msgs, total, page.Page, page.PageSize)
}

func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid session id"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := h.svc.Recent(r.Context(), userID, sessionID, limit)
	if err != nil {
		writeError(w, err, "reading chat history", userID)
		return
	}
	api.JSON(w, http.StatusOK, msgs)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid session id"))
		return
	}

	if err := h.svc.Close(r.Context(), userID, sessionID); err != nil {
		writeError(w, err, "closing chat session", userID)
		return
	}
	api.NoContent(w)
}

func toAppError(err error) *api.AppError {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return api.NewNotFoundError(err.Error())
	case errors.Is(err, ErrNotSessionOwner), errors.Is(err, ErrClassroomAccess):
		return api.NewForbiddenError(err.Error())
	case errors.Is(err, ErrSessionClosed):
		return api.NewConflictError(err.Error())
	case errors.Is(err, ErrEmptyMessage):
		return api.NewValidationError(err.Error())
	}
	return credits.ToAppError(err)
}

func writeError(w http.ResponseWriter, err error, op string, userID uuid.UUID) {
	if appErr := toAppError(err); appErr != nil {
		api.HandleError(w, appErr)
		return
	}
	slog.Error(op, "error", err, "user_id", userID)
	api.HandleError(w, api.ErrInternalServer)
}
