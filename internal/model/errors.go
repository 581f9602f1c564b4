// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, board, vault, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeWorkspaceNotFound  = "WORKSPACE_NOT_FOUND"
	ErrCodeTaskNotFound       = "TASK_NOT_FOUND"
	ErrCodeCommentNotFound    = "COMMENT_NOT_FOUND"
	ErrCodeAttachmentNotFound = "ATTACHMENT_NOT_FOUND"
	ErrCodeAssetNotFound      = "ASSET_NOT_FOUND"
	ErrCodeMemberNotFound     = "MEMBER_NOT_FOUND"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeInvalidPosition    = "INVALID_POSITION"
	ErrCodeSelfModification   = "SELF_MODIFICATION"
	ErrCodeStorageFailed      = "STORAGE_FAILED"
	ErrCodeIdentityFailed     = "IDENTITY_PROVIDER_FAILED"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeSSRFBlocked        = "SSRF_BLOCKED"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
)

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作は管理者のみ実行できます。",
		Category: "auth",
		Action:   "管理者に操作を依頼してください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレスの存在有無を推測されないよう、原因は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewWorkspaceNotFoundError はワークスペース未検出エラーを生成する。
// 非メンバーからのアクセスにも同じエラーを返す。
func NewWorkspaceNotFoundError(workspaceID string) *APIError {
	return &APIError{
		Code:     ErrCodeWorkspaceNotFound,
		Message:  fmt.Sprintf("指定されたワークスペースが見つかりません: %s", workspaceID),
		Category: "board",
		Action:   "ワークスペースIDを確認してください。",
	}
}

// NewTaskNotFoundError はタスク未検出エラーを生成する。
func NewTaskNotFoundError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  fmt.Sprintf("指定されたタスクが見つかりません: %s", taskID),
		Category: "board",
		Action:   "タスクIDを確認してください。",
	}
}

// NewAttachmentNotFoundError は添付ファイル未検出エラーを生成する。
func NewAttachmentNotFoundError(attachmentID string) *APIError {
	return &APIError{
		Code:     ErrCodeAttachmentNotFound,
		Message:  fmt.Sprintf("指定された添付ファイルが見つかりません: %s", attachmentID),
		Category: "vault",
		Action:   "添付ファイルIDを確認してください。",
	}
}

// NewAssetNotFoundError はブランド資産未検出エラーを生成する。
func NewAssetNotFoundError(assetID string) *APIError {
	return &APIError{
		Code:     ErrCodeAssetNotFound,
		Message:  fmt.Sprintf("指定された資産が見つかりません: %s", assetID),
		Category: "vault",
		Action:   "資産IDを確認してください。",
	}
}

// NewMemberNotFoundError はメンバー未検出エラーを生成する。
func NewMemberNotFoundError(memberID string) *APIError {
	return &APIError{
		Code:     ErrCodeMemberNotFound,
		Message:  fmt.Sprintf("指定されたメンバーが見つかりません: %s", memberID),
		Category: "board",
		Action:   "メンバー一覧を再読み込みしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidPositionError は並び順キーが不正な場合のエラーを生成する。
func NewInvalidPositionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPosition,
		Message:  "並び順の値が不正です。",
		Category: "board",
		Action:   "ボードを再読み込みしてから再度お試しください。",
	}
}

// NewSelfModificationError は自分自身を対象にした操作を拒否するエラーを生成する。
func NewSelfModificationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeSelfModification,
		Message:  message,
		Category: "auth",
		Action:   "別の管理者に操作を依頼してください。",
	}
}

// NewStorageFailedError はオブジェクトストレージ操作の失敗エラーを生成する。
func NewStorageFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeStorageFailed,
		Message:  fmt.Sprintf("ファイルストレージの操作に失敗しました: %s", reason),
		Category: "vault",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewIdentityFailedError はIdP操作の失敗エラーを生成する。
func NewIdentityFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityFailed,
		Message:  fmt.Sprintf("認証サービスの操作に失敗しました: %s", reason),
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "https:// で始まる画像URLを入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されている画像のURLを入力してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
