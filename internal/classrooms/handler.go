package classrooms

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

	c, err := h.svc.Create(r.Context(), userID, req)
	if err != nil {
		writeError(w, err, "creating classroom", userID)
		return
	}
	api.JSON(w, http.StatusCreated, c)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid classroom id"))
		return
	}

	c, err := h.svc.Get(r.Context(), id, userID)
	if err != nil {
		writeError(w, err, "getting classroom", userID)
		return
	}
	api.JSON(w, http.StatusOK, c)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid classroom id"))
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	c, err := h.svc.Update(r.Context(), id, userID, req)
	if err != nil {
		writeError(w, err, "updating classroom", userID)
		return
	}
	api.JSON(w, http.StatusOK, c)
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	c, err := h.svc.Join(r.Context(), userID, req.Code)
	if err != nil {
		writeError(w, err, "joining classroom", userID)
		return
	}
	api.JSON(w, http.StatusOK, c)
}

func (h *Handler) AddTeacher(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid classroom id"))
		return
	}

	var req AddTeacherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	if err := h.svc.AddTeacher(r.Context(), id, userID, req.TeacherID); err != nil {
		writeError(w, err, "adding co-teacher", userID)
		return
	}
	api.JSONMessage(w, http.StatusCreated, "co-teacher added")
}

// ListMine lists the caller's classrooms: taught ones for teachers, joined
// ones for students.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	userID, ok := auth.CurrentUserID(r.Context())
	if claims == nil || !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	page := api.ParsePagination(r)

	var (
		list  []Classroom
		total int64
		err   error
	)
	switch claims.Role {
	case "teacher":
		list, total, err = h.svc.ListForTeacher(r.Context(), userID, page.Limit(), page.Offset())
	case "student":
		list, total, err = h.svc.ListForStudent(r.Context(), userID, page.Limit(), page.Offset())
	default:
		api.HandleError(w, api.ErrRoleNotAllowed)
		return
	}
	if err != nil {
		writeError(w, err, "listing classrooms", userID)
		return
	}
	api.JSONPaginated(w, http.StatusOK, list, total, page.Page, page.PageSize)
}

func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid classroom id"))
		return
	}

	members, err := h.svc.Members(r.Context(), id, userID)
	if err != nil {
		writeError(w, err, "listing classroom members", userID)
		return
	}
	api.JSON(w, http.StatusOK, members)
}

func toAppError(err error) *api.AppError {
	switch {
	case errors.Is(err, ErrClassroomNotFound):
		return api.NewNotFoundError(err.Error())
	case errors.Is(err, ErrClassroomFull), errors.Is(err, ErrAlreadyMember), errors.Is(err, ErrAlreadyTeacher),
		errors.Is(err, ErrClassroomInactive), errors.Is(err, ErrCapacityTooLow):
		return api.NewConflictError(err.Error())
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotClassroomTeacher), errors.Is(err, ErrNoAccess):
		return api.NewForbiddenError(err.Error())
	case errors.Is(err, ErrNotTeacher), errors.Is(err, ErrInvalidRequest):
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
