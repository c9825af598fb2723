package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/learnhub/learnhub/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go; domain packages
// import api, so api cannot import them.
type HandlerSet struct {
	// Auth
	Register           http.HandlerFunc
	Login              http.HandlerFunc
	VerifyTwoFactor    http.HandlerFunc
	Refresh            http.HandlerFunc
	Logout             http.HandlerFunc
	VerifyEmail        http.HandlerFunc
	VerifyPhone        http.HandlerFunc
	ResendVerification http.HandlerFunc
	SetupTwoFactor     http.HandlerFunc
	ConfirmTwoFactor   http.HandlerFunc

	// Users and privacy
	Me            http.HandlerFunc
	GetUser       http.HandlerFunc
	UpdateProfile http.HandlerFunc
	UpdateAccount http.HandlerFunc
	GetPrivacy    http.HandlerFunc
	UpdatePrivacy http.HandlerFunc

	// Relationships
	InviteRelationship    http.HandlerFunc
	RespondRelationship   http.HandlerFunc
	SetRelationshipActive http.HandlerFunc
	ListRelationships     http.HandlerFunc
	RemoveRelationship    http.HandlerFunc

	// Credits
	GetCreditAccount       http.HandlerFunc
	ClaimDailyBonus        http.HandlerFunc
	ListLedger             http.HandlerFunc
	ListCreditTransactions http.HandlerFunc
	ListCreditUsage        http.HandlerFunc
	SetSpendLimits         http.HandlerFunc
	AdminGrantCredits      http.HandlerFunc

	// Classrooms
	CreateClassroom      http.HandlerFunc
	ListClassrooms       http.HandlerFunc
	GetClassroom         http.HandlerFunc
	UpdateClassroom      http.HandlerFunc
	JoinClassroom        http.HandlerFunc
	AddCoTeacher         http.HandlerFunc
	ListClassroomMembers http.HandlerFunc

	// Chat
	CreateChatSession  http.HandlerFunc
	ListChatSessions   http.HandlerFunc
	PostChatMessage    http.HandlerFunc
	ListChatMessages   http.HandlerFunc
	RecentChatMessages http.HandlerFunc
	CloseChatSession   http.HandlerFunc

	// Quizzes
	CreateQuiz          http.HandlerFunc
	ListQuizzes         http.HandlerFunc
	GetQuiz             http.HandlerFunc
	PublishQuiz         http.HandlerFunc
	SubmitQuiz          http.HandlerFunc
	ListQuizSubmissions http.HandlerFunc

	// Subscriptions
	ListPlans           http.HandlerFunc
	CurrentSubscription http.HandlerFunc
	Subscribe           http.HandlerFunc
	CancelSubscription  http.HandlerFunc
	SubscriptionHistory http.HandlerFunc

	// Documents
	UploadDocument         http.HandlerFunc
	ListDocuments          http.HandlerFunc
	GetDocument            http.HandlerFunc
	RemoveDocument         http.HandlerFunc
	SearchDocuments        http.HandlerFunc
	ClaimDocumentSync      http.HandlerFunc
	IngestDocumentChunks   http.HandlerFunc
	MarkDocumentSyncFailed http.HandlerFunc
	GetDocumentSync        http.HandlerFunc

	// Admin
	ListAuditLogs http.HandlerFunc

	// Middleware
	AuthMiddleware         func(http.Handler) http.Handler
	OptionalAuthMiddleware func(http.Handler) http.Handler
	RequireRole            func(roles ...string) func(http.Handler) http.Handler
}

// ReadinessCheck is one dependency probed by /health/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type RouterConfig struct {
	CORSAllowedOrigins []string
	AuthRateLimiter    func(http.Handler) http.Handler
	ChatRateLimiter    func(http.Handler) http.Handler
	Readiness          []ReadinessCheck
}

// NewRouter mounts every route.
func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	ready := readinessHandler(cfg.Readiness)
	r.Get("/health/ready", ready)
	r.Get("/health", ready)

	r.Handle("/metrics", promhttp.Handler())

	teacher := h.RequireRole("teacher")
	student := h.RequireRole("student")
	admin := h.RequireRole("admin")

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			if cfg.AuthRateLimiter != nil {
				r.Use(cfg.AuthRateLimiter)
			}
			r.Post("/register", h.Register)
			r.Post("/register/{role}", h.Register)
			r.Post("/login", h.Login)
			r.Post("/2fa/verify", h.VerifyTwoFactor)
			r.Post("/refresh", h.Refresh)
			r.Get("/verify/email", h.VerifyEmail)
			r.Post("/verify/phone", h.VerifyPhone)

			r.Group(func(r chi.Router) {
				r.Use(h.AuthMiddleware)
				r.Post("/logout", h.Logout)
				r.Post("/verify/resend", h.ResendVerification)
				r.Post("/2fa/setup", h.SetupTwoFactor)
				r.Post("/2fa/confirm", h.ConfirmTwoFactor)
			})
		})

		// Profiles are visible to anonymous viewers through the privacy filter.
		r.With(h.OptionalAuthMiddleware).Get("/users/{id}", h.GetUser)

		r.Get("/subscriptions/plans", h.ListPlans)

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Route("/me", func(r chi.Router) {
				r.Get("/", h.Me)
				r.Put("/profile", h.UpdateProfile)
				r.Put("/account", h.UpdateAccount)
				r.Get("/privacy", h.GetPrivacy)
				r.Put("/privacy", h.UpdatePrivacy)
			})

			r.Route("/relationships", func(r chi.Router) {
				r.Get("/", h.ListRelationships)
				r.Post("/", h.InviteRelationship)
				r.Post("/{id}/respond", h.RespondRelationship)
				r.With(teacher).Put("/{id}/active", h.SetRelationshipActive)
				r.Delete("/{id}", h.RemoveRelationship)
			})

			r.Route("/credits", func(r chi.Router) {
				r.Get("/", h.GetCreditAccount)
				r.Post("/daily-bonus", h.ClaimDailyBonus)
				r.Get("/ledger", h.ListLedger)
				r.Get("/transactions", h.ListCreditTransactions)
				r.Get("/usage", h.ListCreditUsage)
				r.Put("/limits", h.SetSpendLimits)
			})

			r.Route("/classrooms", func(r chi.Router) {
				r.With(teacher).Post("/", h.CreateClassroom)
				r.With(h.RequireRole("teacher", "student")).Get("/", h.ListClassrooms)
				r.With(student).Post("/join", h.JoinClassroom)
				r.Get("/{id}", h.GetClassroom)
				r.With(teacher).Put("/{id}", h.UpdateClassroom)
				r.With(teacher).Post("/{id}/teachers", h.AddCoTeacher)
				r.With(teacher).Get("/{id}/members", h.ListClassroomMembers)
			})

			r.Route("/chat/sessions", func(r chi.Router) {
				r.Post("/", h.CreateChatSession)
				r.Get("/", h.ListChatSessions)
				if cfg.ChatRateLimiter != nil {
					r.With(cfg.ChatRateLimiter).Post("/{id}/messages", h.PostChatMessage)
				} else {
					r.Post("/{id}/messages", h.PostChatMessage)
				}
				r.Get("/{id}/messages", h.ListChatMessages)
				r.Get("/{id}/recent", h.RecentChatMessages)
				r.Delete("/{id}", h.CloseChatSession)
			})

			r.Route("/quizzes", func(r chi.Router) {
				r.With(teacher).Post("/", h.CreateQuiz)
				r.With(h.RequireRole("teacher", "student")).Get("/", h.ListQuizzes)
				r.Get("/{id}", h.GetQuiz)
				r.With(teacher).Post("/{id}/publish", h.PublishQuiz)
				r.With(student).Post("/{id}/submissions", h.SubmitQuiz)
				r.Get("/{id}/submissions", h.ListQuizSubmissions)
			})

			r.Route("/subscriptions", func(r chi.Router) {
				r.Get("/current", h.CurrentSubscription)
				r.Post("/", h.Subscribe)
				r.Delete("/current", h.CancelSubscription)
				r.Get("/history", h.SubscriptionHistory)
			})

			r.Route("/documents", func(r chi.Router) {
				r.Post("/", h.UploadDocument)
				r.Get("/", h.ListDocuments)
				r.Post("/search", h.SearchDocuments)
				r.Get("/{id}", h.GetDocument)
				r.Delete("/{id}", h.RemoveDocument)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(admin)
				r.Get("/audit", h.ListAuditLogs)
				r.Post("/credits/grant", h.AdminGrantCredits)
				r.Post("/documents/sync/claim", h.ClaimDocumentSync)
				r.Get("/documents/{id}/sync", h.GetDocumentSync)
				r.Post("/documents/{id}/chunks", h.IngestDocumentChunks)
				r.Post("/documents/{id}/sync/failed", h.MarkDocumentSyncFailed)
			})
		})
	})

	return r
}

func readinessHandler(checks []ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		health := map[string]string{"status": "healthy"}
		status := http.StatusOK
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				health[c.Name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			health[c.Name] = "healthy"
		}
		JSON(w, status, health)
	}
}
