package users

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/learnhub/learnhub/internal/api"
	"github.com/learnhub/learnhub/internal/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type TwoFactorRequest struct {
	TempToken string `json:"temp_token"`
	Code      string `json:"code"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type VerifyRequest struct {
	Token string `json:"token"`
}

type ConfirmTwoFactorRequest struct {
	Code string `json:"code"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	// /auth/register/{role} fixes the role from the path.
	if role := chi.URLParam(r, "role"); role != "" {
		req.Role = Role(role)
	}

	res, err := h.svc.Register(r.Context(), req)
	if err != nil {
		writeError(w, err, "registering user")
		return
	}
	api.JSON(w, http.StatusCreated, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	res, err := h.svc.Login(r.Context(), req, clientIP(r))
	if err != nil {
		writeError(w, err, "logging in")
		return
	}
	api.JSON(w, http.StatusOK, res)
}

func (h *Handler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TempToken == "" || req.Code == "" {
		api.HandleError(w, api.NewValidationError("temp_token and code are required"))
		return
	}

	res, err := h.svc.VerifyTwoFactor(r.Context(), req.TempToken, req.Code, clientIP(r))
	if err != nil {
		writeError(w, err, "verifying two-factor code")
		return
	}
	api.JSON(w, http.StatusOK, res)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		api.HandleError(w, api.NewValidationError("refresh_token is required"))
		return
	}

	tokens, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err, "refreshing tokens")
		return
	}
	api.JSON(w, http.StatusOK, tokens)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	if err := h.svc.Logout(r.Context(), userID); err != nil {
		writeError(w, err, "logging out")
		return
	}
	api.JSONMessage(w, http.StatusOK, "logged out successfully")
}

// VerifyEmail accepts the token from the query string so the e-mailed link
// works as a plain GET.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, auth.VerifyEmail, r.URL.Query().Get("token"))
}

func (h *Handler) VerifyPhone(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	h.verify(w, r, auth.VerifyPhone, req.Token)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request, kind auth.VerificationKind, token string) {
	if token == "" {
		api.HandleError(w, api.NewValidationError("token is required"))
		return
	}
	if err := h.svc.Verify(r.Context(), kind, token); err != nil {
		writeError(w, err, "verifying contact")
		return
	}
	api.JSONMessage(w, http.StatusOK, string(kind)+" verified")
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	sentTo, err := h.svc.ResendVerification(r.Context(), userID)
	if err != nil {
		writeError(w, err, "resending verification")
		return
	}
	api.JSONMessage(w, http.StatusOK, "verification sent to "+sentTo)
}

func (h *Handler) SetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	secret, err := h.svc.SetupTwoFactor(r.Context(), userID)
	if err != nil {
		writeError(w, err, "setting up two-factor")
		return
	}
	api.JSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (h *Handler) ConfirmTwoFactor(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req ConfirmTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.svc.ConfirmTwoFactor(r.Context(), userID, req.Code); err != nil {
		writeError(w, err, "confirming two-factor")
		return
	}
	api.JSONMessage(w, http.StatusOK, "two-factor authentication enabled")
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	me, err := h.svc.Me(r.Context(), userID)
	if err != nil {
		writeError(w, err, "loading current user")
		return
	}
	api.JSON(w, http.StatusOK, me)
}

// Get shows another user's profile through the privacy filter. It runs under
// auth.OptionalMiddleware so anonymous viewers are allowed.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid user id"))
		return
	}

	var viewer *uuid.UUID
	if id, ok := auth.CurrentUserID(r.Context()); ok {
		viewer = &id
	}

	rec, err := h.svc.View(r.Context(), viewer, targetID)
	if err != nil {
		writeError(w, err, "viewing user")
		return
	}
	api.JSON(w, http.StatusOK, rec)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	p, err := h.svc.UpdateProfile(r.Context(), userID, raw)
	if err != nil {
		writeError(w, err, "updating profile")
		return
	}
	api.JSON(w, http.StatusOK, p)
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req AccountUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	u, err := h.svc.UpdateAccount(r.Context(), userID, req)
	if err != nil {
		writeError(w, err, "updating account")
		return
	}
	api.JSON(w, http.StatusOK, u)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func toAppError(err error) *api.AppError {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return api.ErrInvalidCredentials
	case errors.Is(err, ErrAccountInactive):
		return api.ErrAccountInactive
	case errors.Is(err, ErrAccountSuspended):
		return api.ErrAccountSuspended
	case errors.Is(err, ErrAdminRegistration):
		return api.NewForbiddenError(err.Error())
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrPhoneTaken),
		errors.Is(err, ErrUsernameTaken), errors.Is(err, ErrEmployeeIDTaken):
		return api.NewConflictError(err.Error())
	case errors.Is(err, ErrUserNotFound):
		return api.NewNotFoundError(err.Error())
	case errors.Is(err, ErrInvalidTwoFactor), errors.Is(err, auth.ErrVerificationToken):
		return api.NewBadRequestError(err.Error())
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrSessionRevoked):
		return api.ErrInvalidToken
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidRole),
		errors.Is(err, ErrInvalidProfile), errors.Is(err, ErrContactRequired),
		errors.Is(err, ErrWeakPassword), errors.Is(err, ErrInvalidDateOfBirth),
		errors.Is(err, ErrParentContactNeeded), errors.Is(err, ErrNothingToVerify):
		return api.NewValidationError(err.Error())
	}
	return nil
}

func writeError(w http.ResponseWriter, err error, op string) {
	if appErr := toAppError(err); appErr != nil {
		api.HandleError(w, appErr)
		return
	}
	slog.Error(op, "error", err)
	api.HandleError(w, api.ErrInternalServer)
}
