package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/clientportal/internal/auth"
	"github.com/hitoshi/clientportal/internal/cookiebridge"
	"github.com/hitoshi/clientportal/internal/identity"
	"github.com/hitoshi/clientportal/internal/middleware"
	"github.com/hitoshi/clientportal/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
// いずれの操作もリクエストごとのCookieストアを受け取る。
type AuthServiceInterface interface {
	HandleCallback(ctx context.Context, cookies identity.CookieStore, in auth.InboundAuthRequest) auth.Outcome
	SignIn(ctx context.Context, cookies identity.CookieStore, email, password string) (*model.AuthUser, error)
	SignOut(ctx context.Context, cookies identity.CookieStore) error
	SetPassword(ctx context.Context, cookies identity.CookieStore, userID string, in auth.SetPasswordInput) error
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	paths   auth.Paths
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, paths auth.Paths) *AuthHandler {
	return &AuthHandler{
		service: service,
		paths:   paths,
	}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type setPasswordRequest struct {
	FullName        string `json:"full_name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type authUserResponse struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSignInAt *time.Time `json:"last_sign_in_at,omitempty"`
}

// Callback はIdPからのリダイレクトを処理する。
// GET /auth/callback?token_hash=...&type=... または ?code=...&next=...
//
// 失敗も含めてすべての結果はリダイレクトになり、処理中にステージされた
// Cookieはすべてリダイレクトレスポンスに付与される。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	bridge := cookiebridge.New(r)
	outcome := h.service.HandleCallback(r.Context(), bridge, auth.ParseInbound(r.URL.Query()))

	cookiebridge.Redirect(w, r, outcome.Location(h.paths), http.StatusTemporaryRedirect, bridge.Pending())
}

// SignIn はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	bridge := cookiebridge.New(r)
	user, err := h.service.SignIn(r.Context(), bridge, req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	bridge.Pending().Apply(w)
	writeJSON(w, http.StatusOK, toAuthUserResponse(user))
}

// SignOut はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	bridge := cookiebridge.New(r)
	if err := h.service.SignOut(r.Context(), bridge); err != nil {
		// IdP側の失効に失敗してもCookieはクリアする
		slog.Error("failed to sign out", slog.String("error", err.Error()))
	}

	cookiebridge.Redirect(w, r, h.paths.Login, http.StatusSeeOther, bridge.Pending())
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.AuthUserFromContext(r.Context())
	if !ok || user.ID == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, toAuthUserResponse(user))
}

// SetPassword は招待受諾・パスワード再設定を完了する。
// POST /api/auth/password
func (h *AuthHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req setPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	bridge := cookiebridge.New(r)
	err := h.service.SetPassword(r.Context(), bridge, userID, auth.SetPasswordInput{
		FullName:        req.FullName,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	bridge.Pending().Apply(w)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toAuthUserResponse(user *model.AuthUser) authUserResponse {
	return authUserResponse{
		ID:           user.ID,
		Email:        user.Email,
		CreatedAt:    user.CreatedAt,
		LastSignInAt: user.LastSignInAt,
	}
}
