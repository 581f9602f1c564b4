package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/clientportal/internal/auth"
	"github.com/hitoshi/clientportal/internal/cookiebridge"
	"github.com/hitoshi/clientportal/internal/identity"
	"github.com/hitoshi/clientportal/internal/metrics"
	"github.com/hitoshi/clientportal/internal/model"
)

// ゲートキーパーの判定結果（メトリクスのラベル）。
const (
	decisionStatic        = "static"
	decisionExcluded      = "excluded"
	decisionCallback      = "callback"
	decisionRedirectLogin = "redirect_login"
	decisionRedirectRoot  = "redirect_root"
	decisionPass          = "pass"
)

// UserLoader は現在のセッションを検証して認証済みユーザーを返す。identity.Clientが実装する。
type UserLoader interface {
	GetUser(ctx context.Context) (*model.AuthUser, error)
}

// UserLoaderFactory はCookieストアに紐づくUserLoaderを生成する。
type UserLoaderFactory func(cookies identity.CookieStore) UserLoader

// GatekeeperConfig はゲートキーパーの設定。
type GatekeeperConfig struct {
	Paths auth.Paths
	// ExcludePrefixes はセッション確認を行わないインフラ用パス（ヘルスチェック等）。
	ExcludePrefixes []string
}

// NewGatekeeperMiddleware は全リクエストの前段で認証状態に基づくルーティングを行うミドルウェアを返す。
//
// 静的アセットとIdPコールバックはそのまま通す。それ以外はリクエストごとに
// IdPクライアントを生成して直ちにセッションを確認し、更新されたCookieを
// どの分岐でもレスポンスに付与する。
func NewGatekeeperMiddleware(newLoader UserLoaderFactory, config GatekeeperConfig, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	paths := config.Paths

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path

			// 1. 静的アセット
			if IsStaticAsset(path) {
				collector.RecordGatekeeperDecision(decisionStatic)
				next.ServeHTTP(w, r)
				return
			}
			if hasAnyPrefix(path, config.ExcludePrefixes) {
				collector.RecordGatekeeperDecision(decisionExcluded)
				next.ServeHTTP(w, r)
				return
			}

			// 2. IdPコールバックはセッション更新もリダイレクトも行わない
			if paths.IsCallback(path) {
				collector.RecordGatekeeperDecision(decisionCallback)
				next.ServeHTTP(w, r)
				return
			}

			// 3. クライアント生成直後にセッションを確認する（間に他のCookie操作を挟まない）
			bridge := cookiebridge.New(r)
			user, err := newLoader(bridge).GetUser(r.Context())
			if err != nil {
				if !errors.Is(err, identity.ErrNoSession) {
					slog.Info("session check failed, treating as anonymous",
						slog.String("path", path),
						slog.String("error", err.Error()),
					)
				}
				user = nil
			}
			pending := bridge.Pending()

			// 4. 未認証で保護領域（許可リスト外）へのアクセス
			if user == nil && paths.IsProtected(path) && !paths.IsAllowListed(path) {
				collector.RecordGatekeeperDecision(decisionRedirectLogin)
				location := paths.Login + "?" + url.Values{"redirectedFrom": {path}}.Encode()
				cookiebridge.Redirect(w, r, location, http.StatusTemporaryRedirect, pending)
				return
			}

			// 5. 認証済みでログイン画面へのアクセス
			if user != nil && path == paths.Login {
				collector.RecordGatekeeperDecision(decisionRedirectRoot)
				cookiebridge.Redirect(w, r, paths.ProtectedRoot, http.StatusTemporaryRedirect, pending)
				return
			}

			// 6. 通過
			collector.RecordGatekeeperDecision(decisionPass)
			pending.Apply(w)
			if user != nil {
				r = r.WithContext(ContextWithAuthUser(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
