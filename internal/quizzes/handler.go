package quizzes

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

func quizID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid quiz id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	q, err := h.svc.Create(r.Context(), userID, req)
	if err != nil {
		writeError(w, err, "creating quiz", userID)
		return
	}
	api.JSON(w, http.StatusCreated, q)
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, ok := quizID(w, r)
	if !ok {
		return
	}

	q, err := h.svc.Publish(r.Context(), id, userID)
	if err != nil {
		writeError(w, err, "publishing quiz", userID)
		return
	}
	api.JSON(w, http.StatusOK, q)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	userID, ok := auth.CurrentUserID(r.Context())
	if claims == nil || !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	page := api.ParsePagination(r)

	var (
		list  []Quiz
		total int64
		err   error
	)
	if claims.Role == "teacher" {
		list, total, err = h.svc.ListForTeacher(r.Context(), userID, page.Limit(), page.Offset())
	} else {
		list, total, err = h.svc.ListForStudent(r.Context(), userID, page.Limit(), page.Offset())
	}
	if err != nil {
		writeError(w, err, "listing quizzes", userID)
		return
	}
	api.JSONPaginated(w, http.StatusOK, list, total, page.Page, page.PageSize)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, ok := quizID(w, r)
	if !ok {
		return
	}

	q, err := h.svc.Get(r.Context(), id, userID)
	if err != nil {
		writeError(w, err, "getting quiz", userID)
		return
	}
	api.JSON(w, http.StatusOK, q)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, ok := quizID(w, r)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	sub, err := h.svc.Submit(r.Context(), id, userID, req.Answers)
	if err != nil {
		writeError(w, err, "submitting quiz", userID)
		return
	}
	api.JSON(w, http.StatusCreated, sub)
}

func (h *Handler) Submissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, ok := quizID(w, r)
	if !ok {
		return
	}

	subs, err := h.svc.Submissions(r.Context(), id, userID)
	if err != nil {
		writeError(w, err, "listing quiz submissions", userID)
		return
	}
	api.JSON(w, http.StatusOK, subs)
}

func toAppError(err error) *api.AppError {
	switch {
	case errors.Is(err, ErrQuizNotFound):
		return api.NewNotFoundError(err.Error())
	case errors.Is(err, ErrNotQuizOwner), errors.Is(err, ErrNoAccess):
		return api.NewForbiddenError(err.Error())
	case errors.Is(err, ErrAlreadyPublished), errors.Is(err, ErrNotPublished):
		return api.NewConflictError(err.Error())
	case errors.Is(err, ErrInvalidQuiz), errors.Is(err, ErrUnknownQuestion):
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
