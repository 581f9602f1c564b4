// Package model はドメインモデルを定義する。
package model

import "time"

// Role はポータル上のユーザー権限を表す。
type Role string

const (
	// RoleAdmin は代理店側の管理者。全ワークスペースを参照・管理できる。
	RoleAdmin Role = "admin"
	// RoleClient はクライアント。所属ワークスペースのみ参照できる。
	RoleClient Role = "client"
)

// Valid は既知のロールかどうかを返す。
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleClient
}

// FlowType はIdPのリダイレクトに付与される認証フロー種別（typeパラメータ）。
type FlowType string

const (
	FlowInvite      FlowType = "invite"
	FlowRecovery    FlowType = "recovery"
	FlowSignup      FlowType = "signup"
	FlowMagicLink   FlowType = "magiclink"
	FlowEmailChange FlowType = "email_change"
	FlowEmail       FlowType = "email"
)

// NeedsPasswordSetup はパスワード設定画面へ誘導すべきフロー種別かどうかを返す。
func (f FlowType) NeedsPasswordSetup() bool {
	return f == FlowInvite || f == FlowRecovery
}

// AuthUser はIdPセッションから導出した読み取り専用のユーザー情報。
// ルーティング判定にのみ使用し、このアプリケーションからは変更しない。
type AuthUser struct {
	ID           string
	Email        string
	CreatedAt    time.Time
	LastSignInAt *time.Time
	InvitedAt    *time.Time
	UserMetadata map[string]any
}

// Profile はprofilesテーブルの行を表す。
// IdPのユーザー作成時にトリガーでrole=clientとして作成される。
type Profile struct {
	ID        string
	Email     string
	FullName  string
	AvatarURL *string
	Role      Role
	Title     *string
	CreatedAt time.Time
}

// IsAdmin は管理者ロールかどうかを返す。
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// AuthEvent は認証コールバックの処理結果の監査記録。
type AuthEvent struct {
	ID        string
	UserID    *string
	Flow      string
	Outcome   string
	Reason    string
	CreatedAt time.Time
}
