package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/hitoshi/clientportal/internal/model"
)

// DefaultFirstLoginTolerance は初回ログイン判定に使う作成日時と最終ログイン日時の許容差。
const DefaultFirstLoginTolerance = 30 * time.Second

// コールバック処理の失敗理由。いずれもログイン画面へのリダイレクトに変換され、5xxにはならない。
var (
	ErrNoRecognizableParams = errors.New("callback has neither otp nor code parameters")
	ErrInvalidOrExpiredLink = errors.New("otp link is invalid or expired")
	ErrExchangeFailed       = errors.New("authorization code exchange failed")
)

// Verifier はコールバックで使うIdP操作。identity.Clientが実装する。
type Verifier interface {
	VerifyOTP(ctx context.Context, tokenHash string, flowType model.FlowType) (*model.AuthUser, error)
	ExchangeCodeForSession(ctx context.Context, code string) (*model.AuthUser, error)
}

// OutcomeKind はコールバックの終端状態。
type OutcomeKind int

const (
	OutcomeFail OutcomeKind = iota
	OutcomeSetPassword
	OutcomeDefault
	OutcomeDest
)

// String はログ・メトリクス用の終端状態名を返す。
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSetPassword:
		return "set_password"
	case OutcomeDefault:
		return "default"
	case OutcomeDest:
		return "dest"
	default:
		return "fail"
	}
}

// FailReason はログイン画面へ戻す理由。
type FailReason string

const (
	FailNoParams       FailReason = "no_params"
	FailInvalidLink    FailReason = "invalid_link"
	FailExchangeFailed FailReason = "exchange_failed"
)

// errorCode はログイン画面のerrorクエリに載せるコードを返す。
func (r FailReason) errorCode() string {
	if r == FailInvalidLink {
		return "invalid_link"
	}
	return "auth_callback_failed"
}

// Outcome はコールバック処理の結果。
type Outcome struct {
	Kind OutcomeKind

	// OutcomeSetPasswordの場合のフロー種別（invite / recovery）
	PasswordKind model.FlowType
	// OutcomeDestの場合の検証済み遷移先
	Path string
	// OutcomeFailの場合の理由と原因エラー
	Reason FailReason
	Err    error

	// セッションが確立した場合のユーザー
	User *model.AuthUser
}

// Location はOutcomeに対応するリダイレクト先を返す。
func (o Outcome) Location(p Paths) string {
	switch o.Kind {
	case OutcomeSetPassword:
		return p.PasswordSetup + "?" + url.Values{"type": {string(o.PasswordKind)}}.Encode()
	case OutcomeDest:
		return o.Path
	case OutcomeDefault:
		return p.ProtectedRoot
	default:
		return p.Login + "?" + url.Values{"error": {o.Reason.errorCode()}}.Encode()
	}
}

// Resolver はコールバックのクエリを終端状態に変換する状態機械。
// 状態を持たないため共有してよい。
type Resolver struct {
	firstLoginTolerance time.Duration
}

// NewResolver はResolverを生成する。toleranceが0以下の場合は既定値を使う。
func NewResolver(tolerance time.Duration) *Resolver {
	if tolerance <= 0 {
		tolerance = DefaultFirstLoginTolerance
	}
	return &Resolver{firstLoginTolerance: tolerance}
}

// Resolve はフロー種別ごとの処理へ振り分ける。
// IdP呼び出しは1回のみで、失敗時に再試行しない。
func (r *Resolver) Resolve(ctx context.Context, v Verifier, in InboundAuthRequest) Outcome {
	switch in.Classify() {
	case FlowOTP:
		return r.resolveOTP(ctx, v, in)
	case FlowCode:
		return r.resolveCode(ctx, v, in)
	case FlowNone:
		return fail(FailNoParams, ErrNoRecognizableParams)
	default:
		panic(fmt.Sprintf("auth: unhandled flow %d", in.Classify()))
	}
}

func (r *Resolver) resolveOTP(ctx context.Context, v Verifier, in InboundAuthRequest) Outcome {
	user, err := v.VerifyOTP(ctx, in.TokenHash, in.Type)
	if err != nil {
		return fail(FailInvalidLink, fmt.Errorf("%w: %w", ErrInvalidOrExpiredLink, err))
	}

	if in.Type.NeedsPasswordSetup() {
		return Outcome{Kind: OutcomeSetPassword, PasswordKind: in.Type, User: user}
	}
	return Outcome{Kind: OutcomeDefault, User: user}
}

func (r *Resolver) resolveCode(ctx context.Context, v Verifier, in InboundAuthRequest) Outcome {
	user, err := v.ExchangeCodeForSession(ctx, in.Code)
	if err != nil {
		return fail(FailExchangeFailed, fmt.Errorf("%w: %w", ErrExchangeFailed, err))
	}

	// 1. 明示的な遷移先が最優先
	if next, ok := SafeNext(in.Next); ok {
		return Outcome{Kind: OutcomeDest, Path: next, User: user}
	}

	// 2. 招待（typeまたはinvited_at）
	if in.Type == model.FlowInvite || (user != nil && user.InvitedAt != nil) {
		return Outcome{Kind: OutcomeSetPassword, PasswordKind: model.FlowInvite, User: user}
	}

	// 3. パスワード再設定
	if in.Type == model.FlowRecovery {
		return Outcome{Kind: OutcomeSetPassword, PasswordKind: model.FlowRecovery, User: user}
	}

	// 4. 初回ログインの推定（他に手掛かりがない場合のみ）
	if r.isFirstSignIn(user) {
		return Outcome{Kind: OutcomeSetPassword, PasswordKind: model.FlowInvite, User: user}
	}

	return Outcome{Kind: OutcomeDefault, User: user}
}

// isFirstSignIn は作成日時と最終ログイン日時が許容差内かどうかを返す。
// 最終ログイン日時がない場合は作成日時と同じとみなす。
func (r *Resolver) isFirstSignIn(user *model.AuthUser) bool {
	if user == nil || user.CreatedAt.IsZero() {
		return false
	}
	last := user.CreatedAt
	if user.LastSignInAt != nil {
		last = *user.LastSignInAt
	}
	return last.Sub(user.CreatedAt).Abs() < r.firstLoginTolerance
}

func fail(reason FailReason, err error) Outcome {
	return Outcome{Kind: OutcomeFail, Reason: reason, Err: err}
}
