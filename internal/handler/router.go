package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/seqher/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	UserResolver      middleware.UserResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	SecurityConfig    middleware.SecurityConfig
	HTTPMetrics       middleware.HTTPMetrics
	MetricsHandler    http.Handler // nilなら/metricsを公開しない
	HealthChecker     HealthChecker
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig
	AuthState   AuthStateConfig

	// 寄付
	WebhookService WebhookServiceInterface
	PledgeService  PledgeServiceInterface
	DonationLister DonationListerInterface

	// ブログ・予約・ユーザー
	PostService        PostServiceInterface
	PostImporter       PostImporterInterface
	AppointmentService AppointmentServiceInterface
	UserService        UserServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → HTTPSRedirect → SecurityHeaders → CORS
//	  → (Webhook | Session → RateLimit(General) → CSRF → ルート)
//
// 決済Webhookは署名で検証するため、セッション・CSRFの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPMetrics))
	r.Use(middleware.NewHTTPSRedirectMiddleware(deps.SecurityConfig))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.SecurityConfig))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	stateHandler := NewAuthStateHandler(deps.AuthState, deps.AuthConfig)
	webhookHandler := NewWebhookHandler(deps.WebhookService)
	donationHandler := NewDonationHandler(deps.PledgeService, deps.DonationLister)
	postHandler := NewPostHandler(deps.PostService, deps.PostImporter)
	appointmentHandler := NewAppointmentHandler(deps.AppointmentService)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)

	// --- セッション・CSRFの外 ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Post("/api/stripe-webhook", webhookHandler.Stripe)

	// OAuthフローはstate Cookieで検証する
	r.Get("/auth/google/login", authHandler.Login)
	r.Get("/auth/google/callback", authHandler.Callback)

	// --- セッションを解決するルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.UserResolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/state", stateHandler.Stream)
			r.Get("/me", authHandler.Me)
			r.Post("/signout", stateHandler.SignOut)
			r.Post("/logout", authHandler.Logout)
		})

		// 公開
		r.Get("/api/posts", postHandler.List)
		r.Get("/api/posts/{slug}", postHandler.GetBySlug)
		r.With(deps.RateLimiter.PublicFormMiddleware()).Post("/api/pledges", donationHandler.CreatePledge)

		// ログインユーザー
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Post("/api/appointments", appointmentHandler.Create)
			r.Get("/api/appointments/mine", appointmentHandler.ListMine)
			r.Delete("/api/users/me", userHandler.Withdraw)
		})

		// 管理者
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Route("/posts", func(r chi.Router) {
				r.Get("/", postHandler.List)
				r.Post("/", postHandler.Create)
				r.Post("/import", postHandler.Import)
				r.Get("/{id}", postHandler.GetByID)
				r.Put("/{id}", postHandler.Update)
				r.Delete("/{id}", postHandler.Delete)
			})
			r.Get("/donations", donationHandler.ListDonations)
			r.Get("/pledges", donationHandler.ListPledges)
			r.Get("/appointments", appointmentHandler.List)
		})
	})

	return r
}
