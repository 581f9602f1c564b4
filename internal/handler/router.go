package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/clientportal/internal/auth"
	"github.com/hitoshi/clientportal/internal/metrics"
	"github.com/hitoshi/clientportal/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsGatherer   prometheus.Gatherer // nilの場合は/metricsを公開しない
	HealthChecker     HealthChecker
	UserLoaderFactory middleware.UserLoaderFactory
	Paths             auth.Paths
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	HSTS              bool
	RateLimiter       *middleware.RateLimiter
	StaticDir         string

	// 認証
	AuthService AuthServiceInterface

	// ポータル機能
	WorkspaceService WorkspaceServiceInterface
	BoardService     BoardServiceInterface
	CommentService   CommentServiceInterface
	VaultService     VaultServiceInterface
	TeamService      TeamServiceInterface
	ProfileService   ProfileServiceInterface
	Events           EventStreamer
}

// infraPrefixes はゲートキーパーのセッション確認から除外するパス。
var infraPrefixes = []string{"/health", "/metrics"}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	SecurityHeaders → Recovery → Logging → CORS → Gatekeeper
//
// /api 以下はさらに RequireUser → CSRF → RateLimit(General) を通る。
// /auth/login と /auth/logout はセッション不要だがCSRFトークンは必須。
// コールバック（/auth/callback）はゲートキーパーを素通りし、セッション更新を受けない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, collector))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewGatekeeperMiddleware(deps.UserLoaderFactory, middleware.GatekeeperConfig{
		Paths:           deps.Paths,
		ExcludePrefixes: infraPrefixes,
	}, collector))

	authHandler := NewAuthHandler(deps.AuthService, deps.Paths)
	workspaceHandler := NewWorkspaceHandler(deps.WorkspaceService)
	boardHandler := NewBoardHandler(deps.BoardService)
	commentHandler := NewCommentHandler(deps.CommentService)
	vaultHandler := NewVaultHandler(deps.VaultService)
	teamHandler := NewTeamHandler(deps.TeamService)
	profileHandler := NewProfileHandler(deps.ProfileService)
	eventsHandler := NewEventsHandler(deps.WorkspaceService, deps.Events)

	// --- インフラ ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- 認証（セッション不要） ---
	r.Route("/auth", func(r chi.Router) {
		r.Get("/callback", authHandler.Callback)
		r.Get("/me", authHandler.Me)

		// ログイン・ログアウトもセッション系Cookieを書き換えるためCSRFトークンを要求する
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.SignIn)
			r.Post("/logout", authHandler.SignOut)
		})
	})

	r.Route("/api", func(r chi.Router) {
		// CSRFトークン取得は認証不要
		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// --- 認証が必要なAPI ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireUserMiddleware())
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/auth/password", authHandler.SetPassword)

			r.Get("/profile", profileHandler.GetMe)
			r.Patch("/profile", profileHandler.UpdateMe)

			// ワークスペース
			r.Route("/workspaces", func(r chi.Router) {
				r.Get("/", workspaceHandler.ListWorkspaces)
				r.Post("/", workspaceHandler.CreateWorkspace)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", workspaceHandler.GetWorkspace)
					r.Patch("/", workspaceHandler.RenameWorkspace)

					r.Get("/members", workspaceHandler.ListMembers)
					r.Post("/members", workspaceHandler.AddMember)
					r.Delete("/members/{userID}", workspaceHandler.RemoveMember)

					r.Get("/tasks", boardHandler.ListTasks)
					r.Post("/tasks", boardHandler.CreateTask)

					r.Get("/assets", vaultHandler.ListAssets)
					r.Post("/assets", vaultHandler.SaveAsset)
					r.Post("/assets/upload-url", vaultHandler.RequestAssetUpload)
					r.Post("/assets/previews", vaultHandler.AssetPreviewURLs)

					r.Get("/events", eventsHandler.Subscribe)
				})
			})

			// タスク
			r.Route("/tasks/{id}", func(r chi.Router) {
				r.Get("/", boardHandler.GetTask)
				r.Patch("/", boardHandler.UpdateTask)
				r.Delete("/", boardHandler.DeleteTask)
				r.Post("/move", boardHandler.MoveTask)
				r.Put("/status", boardHandler.UpdateStatus)

				r.Get("/comments", commentHandler.ListComments)
				r.Post("/comments", commentHandler.AddComment)

				r.Get("/attachments", vaultHandler.ListAttachments)
				r.Post("/attachments", vaultHandler.SaveAttachment)
				r.Post("/attachments/upload-url", vaultHandler.RequestAttachmentUpload)
			})

			r.Get("/attachments/{id}/url", vaultHandler.AttachmentURL)
			r.Delete("/attachments/{id}", vaultHandler.DeleteAttachment)
			r.Get("/assets/{id}/url", vaultHandler.AssetURL)
			r.Delete("/assets/{id}", vaultHandler.DeleteAsset)

			// チーム管理（管理者のみ）
			r.Route("/team", func(r chi.Router) {
				r.Get("/", teamHandler.ListTeam)
				r.Post("/invite", teamHandler.Invite)
				r.Put("/{userID}/role", teamHandler.ChangeRole)
				r.Delete("/{userID}", teamHandler.Remove)
			})
		})
	})

	// --- 画面（静的ファイル） ---
	if deps.StaticDir != "" {
		r.NotFound(newStaticHandler(deps.StaticDir).ServeHTTP)
	}

	return r
}
