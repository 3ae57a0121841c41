package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/seqher/internal/appointment"
	"github.com/hitoshi/seqher/internal/auth"
	"github.com/hitoshi/seqher/internal/blog"
	"github.com/hitoshi/seqher/internal/changefeed"
	"github.com/hitoshi/seqher/internal/config"
	"github.com/hitoshi/seqher/internal/database"
	"github.com/hitoshi/seqher/internal/donation"
	"github.com/hitoshi/seqher/internal/handler"
	"github.com/hitoshi/seqher/internal/logger"
	"github.com/hitoshi/seqher/internal/metrics"
	"github.com/hitoshi/seqher/internal/middleware"
	"github.com/hitoshi/seqher/internal/model"
	"github.com/hitoshi/seqher/internal/profile"
	"github.com/hitoshi/seqher/internal/repository"
	"github.com/hitoshi/seqher/internal/security"
	"github.com/hitoshi/seqher/internal/user"
	"github.com/hitoshi/seqher/internal/worker/blogimport"
	"github.com/hitoshi/seqher/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandGrantAdmin:
		return runSetRole(cfg, commandArg(args), model.RoleAdmin)
	case CommandRevokeAdmin:
		return runSetRole(cfg, commandArg(args), model.RoleUser)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. リポジトリの初期化
	identRepo := repository.NewPostgresIdentityRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	donationRepo := repository.NewPostgresDonationRepo(db)
	pledgeRepo := repository.NewPostgresPledgeRepo(db)
	postRepo := repository.NewPostgresPostRepo(db)
	appointmentRepo := repository.NewPostgresAppointmentRepo(db)

	// 3. 変更通知（LISTEN/NOTIFY）
	broker := changefeed.NewBroker(cfg.DatabaseURL, cfg.ChangefeedMinReconnect, cfg.ChangefeedMaxReconnect, slog.Default())
	defer broker.Close()
	go func() {
		if err := broker.Run(ctx); err != nil {
			slog.Error("change feed stopped", slog.String("error", err.Error()))
		}
	}()

	// 4. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 5. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 6. ドメインサービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, identRepo, profileRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	profileStore := profile.NewStore(profileRepo, broker, slog.Default())

	if !cfg.WebhookEnabled() {
		slog.Warn("STRIPE_WEBHOOK_SECRET is not set; stripe webhooks will be rejected")
	}
	webhookService := donation.NewWebhookService(donationRepo, donation.WebhookConfig{
		Secret:    cfg.StripeWebhookSecret,
		Tolerance: cfg.StripeWebhookTolerance,
	}, collector)

	postService := blog.NewService(postRepo, sanitizer)
	importer := blog.NewImporter(postRepo, sanitizer, ssrfGuard, blog.ImportConfig{
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
	}, collector, slog.Default())

	// 7. ルーターの構築
	rateLimiterCfg := middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitPublicForm)
	rateLimiterCfg.TrustForwardedFor = cfg.IsProduction()
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	authConfig := handler.AuthHandlerConfig{
		BaseURL:       cfg.BaseURL,
		CookieDomain:  cfg.CookieDomain,
		CookieSecure:  cfg.CookieSecure,
		SessionMaxAge: cfg.SessionMaxAge,
	}

	deps := &handler.RouterDeps{
		UserResolver:      authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		SecurityConfig: middleware.SecurityConfig{
			Production:          cfg.IsProduction(),
			RedirectExemptPaths: []string{"/health"},
		},
		HTTPMetrics:    collector,
		MetricsHandler: metrics.Handler(reg),
		HealthChecker:  db,
		Logger:         slog.Default(),

		AuthService: authService,
		AuthConfig:  authConfig,
		AuthState: handler.AuthStateConfig{
			Sessions: authService,
			Feed:     broker,
			Profiles: profileStore,
			Metrics:  collector,
			Logger:   slog.Default(),
		},

		WebhookService: webhookService,
		PledgeService:  donation.NewPledgeService(pledgeRepo),
		DonationLister: donation.NewDonationLister(donationRepo),

		PostService:        postService,
		PostImporter:       importer,
		AppointmentService: appointment.NewService(appointmentRepo),
		UserService:        user.NewService(identRepo, profileRepo, sessionRepo),
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	// 認証状態ストリームは長時間接続のため、ハンドラー側で書き込み期限を解除する
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	// 接続中のストリームを先に閉じる
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除と、設定されていればブログの定期取り込みを行う。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリとメトリクスの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	postRepo := repository.NewPostgresPostRepo(db)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 3. ジョブの初期化
	cleanupJob := cleanup.NewSessionCleanupJob(sessionRepo, collector, slog.Default())

	var scheduler *blogimport.Scheduler
	if feedURLs := cfg.BlogImportFeedURLs(); len(feedURLs) > 0 {
		importer := blog.NewImporter(postRepo, security.NewContentSanitizer(), security.NewSSRFGuard(), blog.ImportConfig{
			Timeout:     cfg.FetchTimeout,
			MaxBodySize: cfg.FetchMaxSize,
		}, collector, slog.Default())
		scheduler = blogimport.NewScheduler(importer, feedURLs, slog.Default(), 0)
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 4. メトリクスの公開
	metricsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	defer metricsServer.Close()

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
		slog.Bool("blog_import_enabled", scheduler != nil),
	)

	if scheduler != nil {
		go scheduler.Start(ctx, cfg.BlogImportInterval)
	}

	// セッションクリーンアップをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSetRole はメールアドレスで指定したユーザーのロールを変更する。
// 管理者の付与はこのサブコマンドでのみ行う。
func runSetRole(cfg *config.Config, email string, role model.Role) error {
	if email == "" {
		return errors.New("usage: seqher grant-admin|revoke-admin <email>")
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	svc := user.NewService(
		repository.NewPostgresIdentityRepo(db),
		repository.NewPostgresProfileRepo(db),
		repository.NewPostgresSessionRepo(db),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := svc.SetRole(ctx, email, role)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}

	slog.Info("role updated",
		slog.String("uid", p.UID),
		slog.String("role", string(p.Role)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
