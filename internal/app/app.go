package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/clientportal/internal/auth"
	"github.com/hitoshi/clientportal/internal/board"
	"github.com/hitoshi/clientportal/internal/comment"
	"github.com/hitoshi/clientportal/internal/config"
	"github.com/hitoshi/clientportal/internal/database"
	"github.com/hitoshi/clientportal/internal/handler"
	"github.com/hitoshi/clientportal/internal/identity"
	"github.com/hitoshi/clientportal/internal/logger"
	"github.com/hitoshi/clientportal/internal/metrics"
	"github.com/hitoshi/clientportal/internal/middleware"
	"github.com/hitoshi/clientportal/internal/realtime"
	"github.com/hitoshi/clientportal/internal/repository"
	"github.com/hitoshi/clientportal/internal/security"
	"github.com/hitoshi/clientportal/internal/storage"
	"github.com/hitoshi/clientportal/internal/team"
	"github.com/hitoshi/clientportal/internal/user"
	"github.com/hitoshi/clientportal/internal/vault"
	"github.com/hitoshi/clientportal/internal/worker/cleanup"
	"github.com/hitoshi/clientportal/internal/workspace"
)

// cleanupInterval は監査ログクリーンアップの実行間隔。
const cleanupInterval = 24 * time.Hour

// identityTimeout はIdP呼び出し1回あたりのタイムアウト。
const identityTimeout = 10 * time.Second

// newIdentityHTTPClient はセッション用・管理用のIdPクライアントで共有するHTTPクライアントを返す。
func newIdentityHTTPClient() *http.Client {
	return &http.Client{Timeout: identityTimeout}
}

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルで再設定する
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(cfg.LogLevel))

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

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	deps, err := buildRouterDeps(context.Background(), cfg, db, collector)
	if err != nil {
		return err
	}
	deps.MetricsGatherer = registry
	defer deps.RateLimiter.Stop()

	router := handler.NewRouter(deps)

	// 3. HTTPサーバーの起動
	// WebSocket接続を切らないようにWriteTimeoutは設定しない
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// buildRouterDeps はリポジトリ・外部クライアント・ドメインサービスを組み立ててRouterDepsを返す。
func buildRouterDeps(ctx context.Context, cfg *config.Config, db *sql.DB, collector metrics.MetricsCollector) (*handler.RouterDeps, error) {
	// 1. リポジトリの初期化
	profileRepo := repository.NewPostgresProfileRepo(db)
	workspaceRepo := repository.NewPostgresWorkspaceRepo(db)
	memberRepo := repository.NewPostgresMemberRepo(db)
	taskRepo := repository.NewPostgresTaskRepo(db)
	commentRepo := repository.NewPostgresCommentRepo(db)
	attachmentRepo := repository.NewPostgresAttachmentRepo(db)
	assetRepo := repository.NewPostgresAssetRepo(db)
	authEventRepo := repository.NewPostgresAuthEventRepo(db)

	// 2. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 3. IdPクライアントの初期化
	idpClient := newIdentityHTTPClient()
	factory := identity.NewFactory(identity.Config{
		BaseURL:      cfg.SupabaseURL,
		APIKey:       cfg.SupabaseAnonKey,
		JWTSecret:    cfg.SupabaseJWTSecret,
		CookieDomain: cfg.CookieDomain,
		CookieSecure: cfg.CookieSecure,
		HTTPClient:   idpClient,
	})
	if cfg.SupabaseServiceRoleKey == "" {
		slog.Warn("SUPABASE_SERVICE_ROLE_KEY is not set; invitations and member removal will fail")
	}
	admin := identity.NewAdminClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, idpClient)

	// 4. オブジェクトストレージの初期化
	var store storage.ObjectStore = storage.Unavailable{}
	s3Store, err := storage.NewS3Store(ctx, storage.Config{
		Endpoint:  cfg.StorageEndpoint,
		Region:    cfg.StorageRegion,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		URLTTL:    cfg.SignedURLTTL,
	})
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		slog.Warn("object storage is not configured; file operations will fail")
	case err != nil:
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	default:
		store = s3Store
	}

	// 5. ドメインサービスの初期化
	hub := realtime.NewHub(cfg.CORSAllowedOrigin, collector)

	workspaceService := workspace.NewService(profileRepo, workspaceRepo, memberRepo)
	boardService := board.NewService(taskRepo, workspaceService, sanitizer, hub, collector)
	commentService := comment.NewService(commentRepo, boardService, sanitizer, hub)
	vaultService := vault.NewService(
		attachmentRepo, assetRepo, boardService, workspaceService, store,
		vault.Buckets{Attachments: cfg.AttachmentBucket, Assets: cfg.AssetBucket},
		hub,
	)
	teamService := team.NewService(profileRepo, admin, cfg.InviteRedirectURL())
	userService := user.NewService(profileRepo, user.NewSafeAvatarProber(ssrfGuard))

	authService := auth.NewService(
		func(cookies identity.CookieStore) auth.SessionClient { return factory.New(cookies) },
		auth.NewResolver(cfg.FirstLoginTolerance),
		profileRepo,
		authEventRepo,
		collector,
	)

	// 6. レート制限（configはreq/min単位なのでreq/secに変換する）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitLogin > 0 {
		rateLimiterCfg.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
		rateLimiterCfg.LoginBurst = cfg.RateLimitLogin
	}

	return &handler.RouterDeps{
		Logger:        slog.Default(),
		Metrics:       collector,
		HealthChecker: db,
		UserLoaderFactory: func(cookies identity.CookieStore) middleware.UserLoader {
			return factory.New(cookies)
		},
		Paths:             auth.DefaultPaths(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HSTS:        cfg.CookieSecure,
		RateLimiter: middleware.NewRateLimiter(rateLimiterCfg),
		StaticDir:   cfg.StaticDir,

		AuthService: authService,

		WorkspaceService: workspaceService,
		BoardService:     boardService,
		CommentService:   commentService,
		VaultService:     vaultService,
		TeamService:      teamService,
		ProfileService:   userService,
		Events:           hub,
	}, nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、監査ログのクリーンアップを日次で実行する。
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

	// 2. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(
		repository.NewPostgresAuthEventRepo(db),
		slog.Default(),
		nil,
		cfg.LogRetentionDays,
	)

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

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cleanupInterval),
		slog.Int("retention_days", cfg.LogRetentionDays),
	)

	// メインgoroutineで実行（ブロッキング）
	cleanupJob.Schedule(ctx, cleanupInterval)

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

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(url string) error {
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
