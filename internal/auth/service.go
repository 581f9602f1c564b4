// Package auth は認証コールバックの状態機械とセッション操作を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/clientportal/internal/identity"
	"github.com/hitoshi/clientportal/internal/metrics"
	"github.com/hitoshi/clientportal/internal/model"
	"github.com/hitoshi/clientportal/internal/repository"
)

// minPasswordLength はパスワードの最小文字数。
const minPasswordLength = 8

// SessionClient はリクエストごとのIdPクライアント。identity.Clientが実装する。
type SessionClient interface {
	Verifier
	SignInWithPassword(ctx context.Context, email, password string) (*model.AuthUser, error)
	UpdateUser(ctx context.Context, attrs identity.UserAttributes) (*model.AuthUser, error)
	SignOut(ctx context.Context) error
}

// ClientFactory はCookieストアを受け取りSessionClientを生成する。
// クライアントはCookieストアを参照で保持するため、必ずリクエストごとに生成する。
type ClientFactory func(cookies identity.CookieStore) SessionClient

// SetPasswordInput は招待受諾・パスワード再設定画面からの入力。
type SetPasswordInput struct {
	FullName        string
	Password        string
	ConfirmPassword string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	newClient   ClientFactory
	resolver    *Resolver
	profileRepo repository.ProfileRepository
	eventRepo   repository.AuthEventRepository
	metrics     metrics.MetricsCollector
}

// ErrMissingUser はIdPの応答にユーザーが含まれていない場合のエラー。
var ErrMissingUser = errors.New("identity provider response has no user")

// NewService はServiceを生成する。
func NewService(
	newClient ClientFactory,
	resolver *Resolver,
	profileRepo repository.ProfileRepository,
	eventRepo repository.AuthEventRepository,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		newClient:   newClient,
		resolver:    resolver,
		profileRepo: profileRepo,
		eventRepo:   eventRepo,
		metrics:     collector,
	}
}

// HandleCallback はIdPからのリダイレクトを処理し、終端状態を返す。
// セッションCookieはcookiesにステージされ、呼び出し側がリダイレクトに付与する。
// 失敗もOutcomeFailとして返し、エラーは返さない。
func (s *Service) HandleCallback(ctx context.Context, cookies identity.CookieStore, in InboundAuthRequest) Outcome {
	start := time.Now()

	// 1. Cookieストアに紐づくクライアントを生成し、直ちに検証・交換を行う
	client := s.newClient(cookies)
	outcome := s.resolver.Resolve(ctx, client, in)

	flow := in.Classify()
	s.metrics.RecordIdentityLatency(time.Since(start))
	s.metrics.RecordCallbackOutcome(flow.String(), outcome.Kind.String())

	// 2. 監査イベントを記録（失敗してもリダイレクトは継続する）
	s.recordEvent(ctx, flow, outcome)

	if outcome.Kind == OutcomeFail {
		slog.Warn("auth callback failed",
			slog.String("flow", flow.String()),
			slog.String("reason", string(outcome.Reason)),
			slog.String("error", outcome.Err.Error()),
		)
	} else {
		slog.Info("auth callback resolved",
			slog.String("flow", flow.String()),
			slog.String("outcome", outcome.Kind.String()),
			slog.String("user_id", userID(outcome.User)),
		)
	}

	return outcome
}

// SignIn はメールアドレスとパスワードでログインする。
// 認証失敗の原因（ユーザー不在・パスワード誤り）は区別せずに返す。
func (s *Service) SignIn(ctx context.Context, cookies identity.CookieStore, email, password string) (*model.AuthUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, model.NewValidationError("メールアドレスとパスワードを入力してください。")
	}

	user, err := s.newClient(cookies).SignInWithPassword(ctx, email, password)
	if err != nil {
		s.metrics.RecordSignIn(false)

		var pe *identity.ProviderError
		if errors.As(err, &pe) && pe.Status < http.StatusInternalServerError {
			slog.Info("sign in rejected", slog.String("code", pe.Code))
			return nil, model.NewInvalidCredentialsError()
		}
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	if user == nil {
		s.metrics.RecordSignIn(false)
		return nil, fmt.Errorf("failed to sign in: %w", ErrMissingUser)
	}

	s.metrics.RecordSignIn(true)
	slog.Info("user signed in", slog.String("user_id", user.ID))
	return user, nil
}

// SignOut はセッションを破棄する。IdP呼び出しが失敗してもCookieは削除される。
func (s *Service) SignOut(ctx context.Context, cookies identity.CookieStore) error {
	if err := s.newClient(cookies).SignOut(ctx); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// SetPassword は招待受諾またはパスワード再設定を完了する。
// IdP側のパスワードを更新した後、プロフィールの表示名を更新する。
func (s *Service) SetPassword(ctx context.Context, cookies identity.CookieStore, userID string, in SetPasswordInput) error {
	// 1. 入力検証
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		return model.NewValidationError("氏名を入力してください。")
	}
	if len(in.Password) < minPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で入力してください。", minPasswordLength))
	}
	if in.Password != in.ConfirmPassword {
		return model.NewValidationError("パスワードが一致しません。")
	}

	// 2. IdP側のパスワードを更新
	if _, err := s.newClient(cookies).UpdateUser(ctx, identity.UserAttributes{Password: in.Password}); err != nil {
		if errors.Is(err, identity.ErrNoSession) {
			return model.NewUnauthorizedError()
		}
		var pe *identity.ProviderError
		if errors.As(err, &pe) && pe.Status < http.StatusInternalServerError {
			return model.NewValidationError(pe.Message)
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	// 3. 表示名を更新
	if err := s.profileRepo.UpdateFullName(ctx, userID, fullName); err != nil {
		return fmt.Errorf("failed to update profile name: %w", err)
	}

	slog.Info("password set", slog.String("user_id", userID))
	return nil
}

// recordEvent はコールバックの結果を監査ログに記録する。
func (s *Service) recordEvent(ctx context.Context, flow Flow, outcome Outcome) {
	if s.eventRepo == nil {
		return
	}

	event := &model.AuthEvent{
		Flow:    flow.String(),
		Outcome: outcome.Kind.String(),
		Reason:  string(outcome.Reason),
	}
	if outcome.User != nil {
		id := outcome.User.ID
		event.UserID = &id
	}

	if err := s.eventRepo.Create(ctx, event); err != nil {
		slog.Error("failed to record auth event",
			slog.String("flow", event.Flow),
			slog.String("error", err.Error()),
		)
	}
}

func userID(u *model.AuthUser) string {
	if u == nil {
		return ""
	}
	return u.ID
}
