package auth

import "strings"

// Paths はルーティング判定に使う固定パス群。
type Paths struct {
	ProtectedPrefix string   // 認証必須領域のプレフィックス
	ProtectedRoot   string   // 認証必須領域のルート（既定の遷移先）
	Login           string   // ログイン画面
	CallbackPrefix  string   // IdPコールバックのプレフィックス
	PasswordSetup   string   // パスワード設定画面
	AllowList       []string // 認証必須領域内でセッションなしに到達できるパス
}

// DefaultPaths は既定のパス群を返す。
func DefaultPaths() Paths {
	return Paths{
		ProtectedPrefix: "/dashboard",
		ProtectedRoot:   "/dashboard",
		Login:           "/login",
		CallbackPrefix:  "/auth/callback",
		PasswordSetup:   "/dashboard/reset-password",
		AllowList:       []string{"/dashboard/reset-password"},
	}
}

// IsProtected はパスが認証必須領域に含まれるかどうかを返す。
func (p Paths) IsProtected(path string) bool {
	return hasPathPrefix(path, p.ProtectedPrefix)
}

// IsCallback はパスがIdPコールバックかどうかを返す。
func (p Paths) IsCallback(path string) bool {
	return hasPathPrefix(path, p.CallbackPrefix)
}

// IsAllowListed はパスがセッションなしで到達可能かどうかを返す。
func (p Paths) IsAllowListed(path string) bool {
	for _, allowed := range p.AllowList {
		if hasPathPrefix(path, allowed) {
			return true
		}
	}
	return false
}

// hasPathPrefix はセグメント境界でのプレフィックス一致を判定する。
// "/dashboard" は "/dashboard" と "/dashboard/x" に一致し、"/dashboards" には一致しない。
func hasPathPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}
