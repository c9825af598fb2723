package relationships

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
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

type RespondRequest struct {
	Action Action `json:"action" validate:"required,oneof=accept reject block"`
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	link, err := h.svc.Invite(r.Context(), userID, req)
	if err != nil {
		writeError(w, err, "inviting relationship", userID)
		return
	}
	api.JSON(w, http.StatusCreated, link)
}

func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	linkID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid link id"))
		return
	}

	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	link, err := h.svc.Respond(r.Context(), linkID, userID, req.Action)
	if err != nil {
		writeError(w, err, "responding to relationship", userID)
		return
	}
	api.JSON(w, http.StatusOK, link)
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	linkID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid link id"))
		return
	}

	var req SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	link, err := h.svc.SetActive(r.Context(), linkID, userID, req.Active)
	if err != nil {
		writeError(w, err, "updating relationship", userID)
		return
	}
	api.JSON(w, http.StatusOK, link)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	q := r.URL.Query()
	f := ListFilter{Kind: Kind(q.Get("kind")), Status: Status(q.Get("status"))}
	if f.Kind != "" && !f.Kind.Valid() {
		api.HandleError(w, api.NewValidationError("unknown kind"))
		return
	}
	page := api.ParsePagination(r)
	f.Limit, f.Offset = page.Limit(), page.Offset()

	links, total, err := h.svc.List(r.Context(), userID, f)
	if err != nil {
		writeError(w, err, "listing relationships", userID)
		return
	}
	api.JSONPaginated(w, http.StatusOK, links, total, page.Page, page.PageSize)
}

func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	linkID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid link id"))
		return
	}

	if err := h.svc.Remove(r.Context(), linkID, userID); err != nil {
		writeError(w, err, "removing relationship", userID)
		return
	}
	api.NoContent(w)
}

func toAppError(err error) *api.AppError {
	switch {
	case errors.Is(err, ErrLinkNotFound), errors.Is(err, ErrUserNotFound):
		return api.NewNotFoundError(err.Error())
	case errors.Is(err, ErrDuplicateLink), errors.Is(err, ErrNotPending):
		return api.NewConflictError(err.Error())
	case errors.Is(err, ErrNotInvitee), errors.Is(err, ErrNotParticipant), errors.Is(err, ErrRoleMismatch):
		return api.NewForbiddenError(err.Error())
	case errors.Is(err, ErrSelfLink), errors.Is(err, ErrInvalidLinkType), errors.Is(err, ErrBlockNotAllowed),
		errors.Is(err, ErrInvalidAction):
		return api.NewValidationError(err.Error())
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
