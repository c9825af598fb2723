package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/learnhub/learnhub/internal/api"
	"github.com/learnhub/learnhub/internal/audit"
	"github.com/learnhub/learnhub/internal/auth"
	"github.com/learnhub/learnhub/internal/chat"
	"github.com/learnhub/learnhub/internal/classrooms"
	"github.com/learnhub/learnhub/internal/config"
	"github.com/learnhub/learnhub/internal/credits"
	"github.com/learnhub/learnhub/internal/database"
	"github.com/learnhub/learnhub/internal/documents"
	mw "github.com/learnhub/learnhub/internal/middleware"
	inats "github.com/learnhub/learnhub/internal/nats"
	"github.com/learnhub/learnhub/internal/notify"
	"github.com/learnhub/learnhub/internal/privacy"
	"github.com/learnhub/learnhub/internal/quizzes"
	iredis "github.com/learnhub/learnhub/internal/redis"
	"github.com/learnhub/learnhub/internal/relationships"
	"github.com/learnhub/learnhub/internal/server"
	"github.com/learnhub/learnhub/internal/subscriptions"
	"github.com/learnhub/learnhub/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// PostgreSQL
	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		return err
	}
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// NATS is optional: without it notifications and audit events are dropped
	// and the embedding worker falls back to polling.
	var (
		natsClient *inats.Client
		dispatcher notify.Dispatcher = notify.NopDispatcher{}
		recorder   audit.Recorder    = audit.Nop{}
		announcer  documents.SyncAnnouncer
		readiness  = []api.ReadinessCheck{
			{Name: "database", Check: database.Ping(pool)},
			{Name: "redis", Check: iredis.Ping(redisClient)},
		}
	)
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			return err
		}
		defer natsClient.Close()

		publisher := inats.NewPublisher(natsClient.JetStream())
		dispatcher = notify.NewAsync(notify.NewNATSDispatcher(publisher))
		recorder = audit.NewPublishingRecorder(publisher)
		announcer = documents.NewNATSAnnouncer(publisher)
		readiness = append(readiness, api.ReadinessCheck{Name: "nats", Check: natsClient.Ping})
	}

	// Auth
	jwtManager := auth.NewJWTManager(
		cfg.JWT.AccessSecret,
		cfg.JWT.RefreshSecret,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
		cfg.JWT.TwoFactorExpiry,
	)
	authSvc := auth.NewService(jwtManager, redisClient, cfg.JWT.VerificationTTL)
	encryptor, err := auth.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		return err
	}

	userRepo := users.NewRepository(pool)
	notifier := notify.NewUserNotifier(userRepo, dispatcher)

	// Credits
	creditSvc := credits.NewService(credits.NewRepository(pool), cfg.Credit, recorder, notifier, credits.ServiceOptions{})
	sweeper := credits.NewSweeper(creditSvc, cfg.Credit.ExpireInterval)

	// Identity, privacy and relationships
	privacySvc := privacy.NewService(privacy.NewRepository(pool))
	relSvc := relationships.NewService(relationships.NewRepository(pool), userRepo, recorder, notifier)
	userSvc := users.NewService(users.Deps{
		Repo:       userRepo,
		Auth:       authSvc,
		Encryptor:  encryptor,
		Verifier:   auth.RejectAllVerifier{},
		Privacy:    privacySvc,
		Links:      relSvc,
		Referrals:  creditSvc,
		Audit:      recorder,
		Dispatcher: dispatcher,
	})

	// Content
	classroomSvc := classrooms.NewService(classrooms.NewRepository(pool), userSvc, relSvc, recorder)
	chatSvc := chat.NewService(
		chat.NewRepository(pool),
		chat.NewHistory(redisClient, cfg.Chat.HistorySize, cfg.Chat.HistoryTTL),
		creditSvc,
		classroomSvc,
		cfg.Chat,
	)
	quizSvc := quizzes.NewService(quizzes.NewRepository(pool), classroomSvc)
	subscriptionSvc := subscriptions.NewService(subscriptions.NewRepository(pool), creditSvc, recorder, notifier)
	documentSvc := documents.NewService(documents.NewRepository(pool), subscriptionSvc, announcer)

	userHandler := users.NewHandler(userSvc)
	privacyHandler := privacy.NewHandler(privacySvc)
	relHandler := relationships.NewHandler(relSvc)
	creditHandler := credits.NewHandler(creditSvc)
	classroomHandler := classrooms.NewHandler(classroomSvc)
	chatHandler := chat.NewHandler(chatSvc)
	quizHandler := quizzes.NewHandler(quizSvc)
	subscriptionHandler := subscriptions.NewHandler(subscriptionSvc)
	documentHandler := documents.NewHandler(documentSvc)
	auditRepo := audit.NewRepository(pool)
	auditHandler := audit.NewHandler(auditRepo)

	authLimiter := mw.NewRateLimiter(redisClient, "auth", cfg.RateLimit.AuthRequestsPerMinute, 60)
	chatLimiter := mw.NewRateLimiter(redisClient, "chat", cfg.RateLimit.ChatRequestsPerMinute, 60)

	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		AuthRateLimiter:    authLimiter.Middleware,
		ChatRateLimiter:    chatLimiter.Middleware,
		Readiness:          readiness,
	}, api.HandlerSet{
		Register:           userHandler.Register,
		Login:              userHandler.Login,
		VerifyTwoFactor:    userHandler.VerifyTwoFactor,
		Refresh:            userHandler.Refresh,
		Logout:             userHandler.Logout,
		VerifyEmail:        userHandler.VerifyEmail,
		VerifyPhone:        userHandler.VerifyPhone,
		ResendVerification: userHandler.ResendVerification,
		SetupTwoFactor:     userHandler.SetupTwoFactor,
		ConfirmTwoFactor:   userHandler.ConfirmTwoFactor,

		Me:            userHandler.Me,
		GetUser:       userHandler.Get,
		UpdateProfile: userHandler.UpdateProfile,
		UpdateAccount: userHandler.UpdateAccount,
		GetPrivacy:    privacyHandler.Get,
		UpdatePrivacy: privacyHandler.Update,

		InviteRelationship:    relHandler.Invite,
		RespondRelationship:   relHandler.Respond,
		SetRelationshipActive: relHandler.SetActive,
		ListRelationships:     relHandler.List,
		RemoveRelationship:    relHandler.Remove,

		GetCreditAccount:       creditHandler.GetAccount,
		ClaimDailyBonus:        creditHandler.ClaimDailyBonus,
		ListLedger:             creditHandler.ListLedger,
		ListCreditTransactions: creditHandler.ListTransactions,
		ListCreditUsage:        creditHandler.ListUsage,
		SetSpendLimits:         creditHandler.SetSpendLimits,
		AdminGrantCredits:      creditHandler.AdminGrant,

		CreateClassroom:      classroomHandler.Create,
		ListClassrooms:       classroomHandler.ListMine,
		GetClassroom:         classroomHandler.Get,
		UpdateClassroom:      classroomHandler.Update,
		JoinClassroom:        classroomHandler.Join,
		AddCoTeacher:         classroomHandler.AddTeacher,
		ListClassroomMembers: classroomHandler.Members,

		CreateChatSession:  chatHandler.CreateSession,
		ListChatSessions:   chatHandler.ListSessions,
		PostChatMessage:    chatHandler.PostMessage,
		ListChatMessages:   chatHandler.ListMessages,
		RecentChatMessages: chatHandler.Recent,
		CloseChatSession:   chatHandler.Close,

		CreateQuiz:          quizHandler.Create,
		ListQuizzes:         quizHandler.List,
		GetQuiz:             quizHandler.Get,
		PublishQuiz:         quizHandler.Publish,
		SubmitQuiz:          quizHandler.Submit,
		ListQuizSubmissions: quizHandler.Submissions,

		ListPlans:           subscriptionHandler.Plans,
		CurrentSubscription: subscriptionHandler.Current,
		Subscribe:           subscriptionHandler.Subscribe,
		CancelSubscription:  subscriptionHandler.Cancel,
		SubscriptionHistory: subscriptionHandler.History,

		UploadDocument:         documentHandler.Upload,
		ListDocuments:          documentHandler.List,
		GetDocument:            documentHandler.Get,
		RemoveDocument:         documentHandler.Remove,
		SearchDocuments:        documentHandler.Search,
		ClaimDocumentSync:      documentHandler.ClaimPending,
		IngestDocumentChunks:   documentHandler.IngestChunks,
		MarkDocumentSyncFailed: documentHandler.MarkSyncFailed,
		GetDocumentSync:        documentHandler.SyncStatus,

		ListAuditLogs: auditHandler.List,

		AuthMiddleware:         auth.Middleware(authSvc),
		OptionalAuthMiddleware: auth.OptionalMiddleware(authSvc),
		RequireRole:            auth.RequireRole,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.New(cfg.Server, router).Run(gctx)
	})

	g.Go(func() error {
		sweeper.Start(gctx)
		<-gctx.Done()
		sweeper.Stop()
		return nil
	})

	if natsClient != nil {
		consumer := audit.NewConsumer(auditRepo, inats.NewConsumerManager(natsClient.JetStream()))
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}

	return g.Wait()
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
