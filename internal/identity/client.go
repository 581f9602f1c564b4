// Package identity はホスト型IdP（認証REST API）のクライアントを提供する。
//
// Clientはリクエストごとに生成し、そのリクエストのCookieストア（cookiebridge.Bridge）を
// コンストラクタで受け取る。Cookieストアを参照で保持するため、プロセス全体の
// シングルトンにしてはならない。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/clientportal/internal/cookiebridge"
	"github.com/hitoshi/clientportal/internal/model"
)

// defaultExpiryMargin はアクセストークンを事前更新する残り時間。
const defaultExpiryMargin = 90 * time.Second

// ErrNoSession はセッションCookieが存在しない、または読み取れない場合のエラー。
var ErrNoSession = errors.New("no session")

// CookieStore はClientが必要とするCookieの読み書きインターフェース。
// cookiebridge.Bridgeが実装する。
type CookieStore interface {
	ReadAll() []cookiebridge.Cookie
	WriteAll(cookies []cookiebridge.CookieToSet)
}

// Config はIdPクライアントの設定。
type Config struct {
	BaseURL      string
	APIKey       string // 公開（anon）キー
	JWTSecret    string // 設定時はアクセストークンの署名を検証する
	CookieDomain string
	CookieSecure bool
	ExpiryMargin time.Duration
	HTTPClient   *http.Client

	// テスト用に差し替え可能な現在時刻
	Now func() time.Time
}

// Factory はリクエストごとのClientを生成する。Factory自体は共有してよい。
type Factory struct {
	config Config
	key    string
}

// NewFactory はFactoryを生成する。
func NewFactory(config Config) *Factory {
	if config.ExpiryMargin == 0 {
		config.ExpiryMargin = defaultExpiryMargin
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Factory{config: config, key: StorageKey(config.BaseURL)}
}

// StorageKey はセッションCookie名を返す。
func (f *Factory) StorageKey() string {
	return f.key
}

// New は指定されたCookieストアに紐づくClientを生成する。
func (f *Factory) New(cookies CookieStore) *Client {
	return &Client{
		transport: newTransport(f.config.BaseURL, f.config.APIKey, f.config.HTTPClient),
		cookies:   cookies,
		codec: cookieCodec{
			key: f.key,
			options: cookiebridge.Options{
				Path:     "/",
				Domain:   f.config.CookieDomain,
				MaxAge:   sessionCookieMaxAge,
				HttpOnly: true,
				Secure:   f.config.CookieSecure,
				SameSite: http.SameSiteLaxMode,
			},
		},
		secret: []byte(f.config.JWTSecret),
		margin: f.config.ExpiryMargin,
		now:    f.config.Now,
	}
}

// Client は1リクエスト分のIdPクライアント。
type Client struct {
	transport transport
	cookies   CookieStore
	codec     cookieCodec
	secret    []byte
	margin    time.Duration
	now       func() time.Time
}

// UserAttributes はUpdateUserで更新する属性。
type UserAttributes struct {
	Password string         `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// GetUser は現在のセッションを検証し、認証済みユーザーを返す。
// アクセストークンの失効が近い場合はリフレッシュし、新しいセッションCookieを書き込む。
// リフレッシュに失敗した場合はセッションCookieを削除する。
func (c *Client) GetUser(ctx context.Context) (*model.AuthUser, error) {
	session, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}

	var u userJSON
	if err := c.transport.do(ctx, "get_user", http.MethodGet, "/user", nil, session.AccessToken, nil, &u); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u.toModel(), nil
}

// VerifyOTP はメールリンクのtoken_hashを検証し、セッションを確立する。
func (c *Client) VerifyOTP(ctx context.Context, tokenHash string, flowType model.FlowType) (*model.AuthUser, error) {
	body := map[string]string{
		"type":       string(flowType),
		"token_hash": tokenHash,
	}

	var session Session
	if err := c.transport.do(ctx, "verify_otp", http.MethodPost, "/verify", nil, "", body, &session); err != nil {
		return nil, fmt.Errorf("failed to verify otp: %w", err)
	}
	if err := c.saveSession(&session); err != nil {
		return nil, err
	}
	return session.User.toModel(), nil
}

// ExchangeCodeForSession はPKCEの認可コードをセッションに交換する。
// code verifierのCookieは交換の成否にかかわらず削除する。
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*model.AuthUser, error) {
	verifier := c.codeVerifier()
	c.cookies.WriteAll([]cookiebridge.CookieToSet{c.codec.removal(c.codec.verifierName())})

	body := map[string]string{
		"auth_code":     code,
		"code_verifier": verifier,
	}
	query := url.Values{"grant_type": {"pkce"}}

	var session Session
	if err := c.transport.do(ctx, "exchange_code", http.MethodPost, "/token", query, "", body, &session); err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	if err := c.saveSession(&session); err != nil {
		return nil, err
	}
	return session.User.toModel(), nil
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.AuthUser, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	query := url.Values{"grant_type": {"password"}}

	var session Session
	if err := c.transport.do(ctx, "sign_in_password", http.MethodPost, "/token", query, "", body, &session); err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	if err := c.saveSession(&session); err != nil {
		return nil, err
	}
	return session.User.toModel(), nil
}

// UpdateUser は現在のユーザーの属性（パスワード等）を更新する。
func (c *Client) UpdateUser(ctx context.Context, attrs UserAttributes) (*model.AuthUser, error) {
	session, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}

	var u userJSON
	if err := c.transport.do(ctx, "update_user", http.MethodPut, "/user", nil, session.AccessToken, attrs, &u); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	session.User = &u
	if err := c.saveSession(session); err != nil {
		return nil, err
	}
	return u.toModel(), nil
}

// SignOut はIdP側のセッションを破棄し、セッションCookieを削除する。
// IdP呼び出しが失敗してもCookieは必ず削除する。
func (c *Client) SignOut(ctx context.Context) error {
	existing := c.cookies.ReadAll()
	defer c.cookies.WriteAll(c.codec.clear(existing))

	raw, ok := c.codec.read(existing)
	if !ok {
		return nil
	}
	session, err := decodeSession(raw)
	if err != nil {
		return nil
	}

	query := url.Values{"scope": {"local"}}
	if err := c.transport.do(ctx, "sign_out", http.MethodPost, "/logout", query, session.AccessToken, nil, nil); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// currentSession はCookieからセッションを読み出し、必要であればリフレッシュする。
func (c *Client) currentSession(ctx context.Context) (*Session, error) {
	existing := c.cookies.ReadAll()
	raw, ok := c.codec.read(existing)
	if !ok {
		return nil, ErrNoSession
	}

	session, err := decodeSession(raw)
	if err != nil {
		slog.Warn("discarding unreadable session cookie", slog.String("error", err.Error()))
		c.cookies.WriteAll(c.codec.clear(existing))
		return nil, ErrNoSession
	}

	if len(c.secret) > 0 {
		if _, err := parseAccessToken(session.AccessToken, c.secret); err != nil {
			c.cookies.WriteAll(c.codec.clear(existing))
			return nil, err
		}
	}
	if session.ExpiresAt == 0 {
		session.ExpiresAt = tokenExpiry(session.AccessToken, c.secret)
	}

	if !session.expiresWithin(c.margin, c.now()) {
		return session, nil
	}

	refreshed, err := c.refresh(ctx, session.RefreshToken)
	if err != nil {
		// 一時的な障害ではリフレッシュトークンを残し、次のリクエストで再試行する
		if refreshRejected(err) {
			c.cookies.WriteAll(c.codec.clear(existing))
		}
		return nil, err
	}
	return refreshed, nil
}

// refreshRejected はIdPがリフレッシュトークンを明確に拒否したかどうかを返す。
func refreshRejected(err error) bool {
	if errors.Is(err, ErrNoSession) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status >= 400 && pe.Status < 500
	}
	return false
}

// refresh はリフレッシュトークンで新しいセッションを取得し保存する。
func (c *Client) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("failed to refresh session: %w", ErrNoSession)
	}

	body := map[string]string{"refresh_token": refreshToken}
	query := url.Values{"grant_type": {"refresh_token"}}

	var session Session
	if err := c.transport.do(ctx, "refresh_session", http.MethodPost, "/token", query, "", body, &session); err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	if err := c.saveSession(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// saveSession はセッションをCookieに書き込む。
func (c *Client) saveSession(session *Session) error {
	if session.AccessToken == "" {
		return fmt.Errorf("identity provider returned an empty session")
	}
	if session.ExpiresAt == 0 {
		if session.ExpiresIn > 0 {
			session.ExpiresAt = c.now().Add(time.Duration(session.ExpiresIn) * time.Second).Unix()
		} else {
			session.ExpiresAt = tokenExpiry(session.AccessToken, c.secret)
		}
	}

	value, err := encodeSession(session)
	if err != nil {
		return err
	}
	c.cookies.WriteAll(c.codec.write(value, c.cookies.ReadAll()))
	return nil
}

// codeVerifier はPKCEのcode verifierをCookieから取得する。
// 値は "verifier/フロー種別" 形式の場合があるため、先頭部分のみを使う。
func (c *Client) codeVerifier() string {
	name := c.codec.verifierName()
	for _, ck := range c.cookies.ReadAll() {
		if ck.Name != name {
			continue
		}
		v := ck.Value
		if unquoted, err := url.QueryUnescape(v); err == nil {
			v = unquoted
		}
		v = strings.Trim(v, `"`)
		verifier, _, _ := strings.Cut(v, "/")
		return verifier
	}
	return ""
}
