// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/clientportal/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// authUserContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
	authUserContextKey = contextKey("auth_user")
	// requestLogContextKey はアクセスログ用の記録先を格納するためのキー。
	requestLogContextKey = contextKey("request_log")
)

// requestLog は内側のミドルウェアで判明した情報をアクセスログへ渡すための記録先。
type requestLog struct {
	userID string
}

// NewRequireUserMiddleware はゲートキーパーが認証済みユーザーを注入していない
// リクエストに401 Unauthorizedを返すミドルウェアを返す。
// JSON APIはリダイレクトではなくエラーレスポンスで未認証を伝える。
func NewRequireUserMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := AuthUserFromContext(r.Context()); !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthUserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// ゲートキーパーを通過したリクエストでのみ有効。
func AuthUserFromContext(ctx context.Context) (*model.AuthUser, bool) {
	user, ok := ctx.Value(authUserContextKey).(*model.AuthUser)
	if !ok || user == nil || user.ID == "" {
		return nil, false
	}
	return user, true
}

// ContextWithAuthUser はコンテキストに認証済みユーザーを注入する。
func ContextWithAuthUser(ctx context.Context, user *model.AuthUser) context.Context {
	if rl, ok := ctx.Value(requestLogContextKey).(*requestLog); ok && user != nil {
		rl.userID = user.ID
	}
	return context.WithValue(ctx, authUserContextKey, user)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, ok := AuthUserFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// ContextWithUserID はユーザーIDのみを持つ認証済みユーザーをコンテキストに注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithAuthUser(ctx, &model.AuthUser{ID: userID})
}
