// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/clientportal/internal/model"
)

// ProfileRepository はプロフィールデータの永続化インターフェース。
// profilesの行はIdPのユーザー作成時にDBトリガーで作成されるため、Createは持たない。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でプロフィールを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Profile, error)

	// ListAll は全プロフィールを作成日時順に返す。
	ListAll(ctx context.Context) ([]*model.Profile, error)

	// UpdateProfile は表示名とアバターURLを更新する。avatarURLがnilの場合はNULLにする。
	UpdateProfile(ctx context.Context, id, fullName string, avatarURL *string) error

	// UpdateFullName は表示名のみを更新する。
	UpdateFullName(ctx context.Context, id, fullName string) error

	// UpdateRole はロールを更新する。対象が存在しない場合はsql.ErrNoRowsを返す。
	UpdateRole(ctx context.Context, id string, role model.Role) error
}

// WorkspaceRepository はワークスペースデータの永続化インターフェース。
type WorkspaceRepository interface {
	// FindByID は指定IDのワークスペースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Workspace, error)

	// ListAll は全ワークスペースを作成日時の降順で返す。管理者向け。
	ListAll(ctx context.Context) ([]*model.Workspace, error)

	// ListByMember はユーザーが所属するワークスペースをメンバーロール付きで返す。
	ListByMember(ctx context.Context, userID string) ([]model.WorkspaceWithRole, error)

	// CreateWithAdmin はワークスペースと作成者の管理者メンバーシップを同一トランザクションで作成する。
	CreateWithAdmin(ctx context.Context, workspace *model.Workspace, member *model.WorkspaceMember) error

	// Rename はワークスペース名を更新する。
	Rename(ctx context.Context, id, name string) error
}

// MemberRepository はワークスペースメンバーの永続化インターフェース。
type MemberRepository interface {
	// FindRole はワークスペース内でのユーザーのロールを返す。メンバーでない場合はnilを返す。
	FindRole(ctx context.Context, workspaceID, userID string) (*model.Role, error)

	// ListByWorkspace はメンバー一覧をプロフィール情報付きで返す。
	ListByWorkspace(ctx context.Context, workspaceID string) ([]model.WorkspaceMember, error)

	// Add はメンバーを追加する。既に所属している場合はロールを更新する。
	Add(ctx context.Context, member *model.WorkspaceMember) error

	// Remove はメンバーを削除する。対象が存在しない場合はsql.ErrNoRowsを返す。
	Remove(ctx context.Context, workspaceID, userID string) error
}

// TaskRepository はタスクデータの永続化インターフェース。
type TaskRepository interface {
	// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Task, error)

	// ListByWorkspace はワークスペースのタスクを(status, position)順で返す。
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*model.Task, error)

	// MinPosition は列内の最小positionを返す。列が空の場合はnilを返す。
	MinPosition(ctx context.Context, workspaceID string, status model.TaskStatus) (*float64, error)

	// Create はタスクを作成する。
	Create(ctx context.Context, task *model.Task) error

	// UpdatePosition はタスクの列と並び順を更新する。
	UpdatePosition(ctx context.Context, id string, status model.TaskStatus, position float64) error

	// UpdateStatus はタスクの列のみを更新する。
	UpdateStatus(ctx context.Context, id string, status model.TaskStatus) error

	// UpdateDetails はタイトルと説明を更新する。
	UpdateDetails(ctx context.Context, id, title string, description *string) error

	// Delete はタスクを削除する。コメントと添付メタデータはCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// RenumberColumn は列内のpositionを現在の順序のまま1, 2, 3...に振り直す。
	RenumberColumn(ctx context.Context, workspaceID string, status model.TaskStatus) error
}

// CommentRepository はコメントデータの永続化インターフェース。
type CommentRepository interface {
	// Create はコメントを作成する。
	Create(ctx context.Context, comment *model.Comment) error

	// ListByTask はタスクのコメントを投稿者情報付きで古い順に返す。
	ListByTask(ctx context.Context, taskID string) ([]*model.Comment, error)
}

// AttachmentRepository は添付ファイルメタデータの永続化インターフェース。
type AttachmentRepository interface {
	// FindByID は指定IDの添付ファイルを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Attachment, error)

	// ListByTask はタスクの添付ファイルを新しい順に返す。
	ListByTask(ctx context.Context, taskID string) ([]*model.Attachment, error)

	// Create は添付ファイルのメタデータを保存する。
	Create(ctx context.Context, attachment *model.Attachment) error

	// Delete は添付ファイルのメタデータを削除する。
	Delete(ctx context.Context, id string) error
}

// AssetRepository はブランド資産メタデータの永続化インターフェース。
type AssetRepository interface {
	// FindByID は指定IDの資産を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.WorkspaceAsset, error)

	// ListByWorkspace はワークスペースの資産を新しい順に返す。categoryが空の場合は全カテゴリ。
	ListByWorkspace(ctx context.Context, workspaceID string, category model.AssetCategory) ([]*model.WorkspaceAsset, error)

	// FindByIDs は指定IDの資産をまとめて取得する。
	FindByIDs(ctx context.Context, ids []string) ([]*model.WorkspaceAsset, error)

	// Create は資産のメタデータを保存する。
	Create(ctx context.Context, asset *model.WorkspaceAsset) error

	// Delete は資産のメタデータを削除する。
	Delete(ctx context.Context, id string) error
}

// AuthEventRepository は認証コールバック監査ログの永続化インターフェース。
type AuthEventRepository interface {
	// Create は監査イベントを記録する。
	Create(ctx context.Context, event *model.AuthEvent) error

	// DeleteOlderThan は指定日時より古いイベントを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
