package documents

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

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	ud, err := h.svc.Upload(r.Context(), userID, req)
	if err != nil {
		writeError(w, err, "uploading document", userID)
		return
	}
	api.JSON(w, http.StatusCreated, ud)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	page := api.ParsePagination(r)
	docs, total, err := h.svc.List(r.Context(), userID, page.Limit(), page.Offset())
	if err != nil {
		writeError(w, err, "listing documents", userID)
		return
	}
	if docs == nil {
		docs = []UserDocument{}
	}
	api.JSONPaginated(w, http.StatusOK, docs, total, page.Page, page.PageSize)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid document id"))
		return
	}

	ud, err := h.svc.Get(r.Context(), userID, id)
	if err != nil {
		writeError(w, err, "getting document", userID)
		return
	}
	api.JSON(w, http.StatusOK, ud)
}

func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid document id"))
		return
	}

	if err := h.svc.Remove(r.Context(), userID, id); err != nil {
		writeError(w, err, "removing document", userID)
		return
	}
	api.NoContent(w)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	results, err := h.svc.Search(r.Context(), userID, req)
	if err != nil {
		writeError(w, err, "searching documents", userID)
		return
	}
	if results == nil {
		results = []SearchResult{}
	}
	api.JSON(w, http.StatusOK, results)
}

// ClaimPending serves the embedding worker: it returns documents to embed.
func (h *Handler) ClaimPending(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.CurrentUserID(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ids, err := h.svc.ClaimPending(r.Context(), limit)
	if err != nil {
		writeError(w, err, "claiming vector sync", userID)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	api.JSON(w, http.StatusOK, map[string]any{"document_ids": ids})
}

func (h *Handler) IngestChunks(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.CurrentUserID(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid document id"))
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	rec, err := h.svc.IngestChunks(r.Context(), id, req)
	if err != nil {
		writeError(w, err, "ingesting document chunks", userID)
		return
	}
	api.JSON(w, http.StatusOK, rec)
}

func (h *Handler) MarkSyncFailed(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.CurrentUserID(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid document id"))
		return
	}

	var req SyncFailedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	rec, err := h.svc.MarkSyncFailed(r.Context(), id, req.Error)
	if err != nil {
		writeError(w, err, "marking vector sync failed", userID)
		return
	}
	api.JSON(w, http.StatusOK, rec)
}

func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.CurrentUserID(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid document id"))
		return
	}

	rec, err := h.svc.SyncStatus(r.Context(), id)
	if err != nil {
		writeError(w, err, "getting vector sync", userID)
		return
	}
	api.JSON(w, http.StatusOK, rec)
}

func toAppError(err error) *api.AppError {
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return api.NewNotFoundError(err.Error())
	case errors.Is(err, ErrAlreadyUploaded), errors.Is(err, ErrInvalidSync):
		return api.NewConflictError(err.Error())
	case errors.Is(err, ErrUploadLimit):
		return api.NewForbiddenError(err.Error())
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrDimension):
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
