package credits

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

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

type SpendLimitsRequest struct {
	DailySpendLimit   decimal.Decimal `json:"daily_spend_limit"`
	MonthlySpendLimit decimal.Decimal `json:"monthly_spend_limit"`
}

type AdminGrantRequest struct {
	UserID      uuid.UUID       `json:"user_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	CreditType  CreditType      `json:"credit_type" validate:"required"`
	ExpiresIn   string          `json:"expires_in,omitempty"`
	Description string          `json:"description,omitempty" validate:"max=500"`
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	acct, err := h.svc.GetAccount(r.Context(), userID)
	if err != nil {
		writeError(w, err, "getting credit account", userID)
		return
	}
	api.JSON(w, http.StatusOK, acct)
}

func (h *Handler) ClaimDailyBonus(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	bonus, err := h.svc.GrantDailyBonus(r.Context(), userID)
	if err != nil {
		writeError(w, err, "claiming daily bonus", userID)
		return
	}
	api.JSON(w, http.StatusCreated, bonus)
}

func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	page := api.ParsePagination(r)
	entries, total, err := h.svc.ListLedger(r.Context(), userID, listParams(page))
	if err != nil {
		writeError(w, err, "listing ledger", userID)
		return
	}
	api.JSONPaginated(w, http.StatusOK, entries, total, page.Page, page.PageSize)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	page := api.ParsePagination(r)
	txs, total, err := h.svc.ListTransactions(r.Context(), userID, listParams(page))
	if err != nil {
		writeError(w, err, "listing credit transactions", userID)
		return
	}
	api.JSONPaginated(w, http.StatusOK, txs, total, page.Page, page.PageSize)
}

func (h *Handler) ListUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	page := api.ParsePagination(r)
	usage, total, err := h.svc.ListUsage(r.Context(), userID, listParams(page))
	if err != nil {
		writeError(w, err, "listing credit usage", userID)
		return
	}
	api.JSONPaginated(w, http.StatusOK, usage, total, page.Page, page.PageSize)
}

func (h *Handler) SetSpendLimits(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req SpendLimitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	acct, err := h.svc.SetSpendLimits(r.Context(), userID, req.DailySpendLimit, req.MonthlySpendLimit)
	if err != nil {
		writeError(w, err, "setting spend limits", userID)
		return
	}
	api.JSON(w, http.StatusOK, acct)
}

// AdminGrant lets an administrator credit any user. It is mounted behind
// RequireRole("admin").
func (h *Handler) AdminGrant(w http.ResponseWriter, r *http.Request) {
	adminID, ok := auth.CurrentUserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req AdminGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	grant := GrantRequest{
		UserID:          req.UserID,
		Amount:          req.Amount,
		Type:            req.CreditType,
		Source:          SourceAdmin,
		SourceReference: adminID.String(),
		Description:     req.Description,
	}
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			api.HandleError(w, api.NewValidationError("expires_in must be a duration such as 720h"))
			return
		}
		if d <= 0 {
			api.HandleError(w, api.NewValidationError("expires_in must be positive"))
			return
		}
		grant.ExpiresIn = d
	}

	entry, err := h.svc.Grant(r.Context(), grant)
	if err != nil {
		writeError(w, err, "granting credits", req.UserID)
		return
	}
	api.JSON(w, http.StatusCreated, entry)
}

func listParams(p api.Pagination) ListParams {
	return ListParams{Limit: p.Limit(), Offset: p.Offset()}
}

// ToAppError maps ledger errors to API errors. It returns nil for errors
// that are not part of the ledger's vocabulary.
func ToAppError(err error) *api.AppError {
	switch {
	case errors.Is(err, ErrInsufficientCredits):
		return api.ErrInsufficientCredits
	case errors.Is(err, ErrSpendLimitExceeded),
		errors.Is(err, ErrBonusAlreadyClaimed),
		errors.Is(err, ErrConcurrentModification):
		return api.NewConflictError(rootMessage(err))
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidCreditType),
		errors.Is(err, ErrInvalidExpiry),
		errors.Is(err, ErrInvalidSpendLimit):
		return api.NewValidationError(err.Error())
	}
	return nil
}

// rootMessage hides driver detail wrapped behind a sentinel.
func rootMessage(err error) string {
	if errors.Is(err, ErrConcurrentModification) {
		return ErrConcurrentModification.Error()
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, err error, op string, userID uuid.UUID) {
	if appErr := ToAppError(err); appErr != nil {
		api.HandleError(w, appErr)
		return
	}
	slog.Error(op, "error", err, "user_id", userID)
	api.HandleError(w, api.ErrInternalServer)
}
