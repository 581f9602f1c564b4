package model

import "time"

// Workspace はクライアントごとの作業空間を表す。
type Workspace struct {
	ID          string
	Name        string
	Slug        string
	Description *string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WorkspaceWithRole はワークスペースと閲覧ユーザーのメンバーロールを結合した構造体。
type WorkspaceWithRole struct {
	Workspace
	Role Role
}

// WorkspaceMember はワークスペースへの所属を表す。
type WorkspaceMember struct {
	ID          string
	WorkspaceID string
	UserID      string
	Role        Role
	CreatedAt   time.Time

	// JOIN結果（一覧取得時のみ設定される）
	FullName string
	Email    string
}

// AssetCategory はブランド資産の分類。
type AssetCategory string

const (
	AssetLogos       AssetCategory = "logos"
	AssetGuidelines  AssetCategory = "guidelines"
	AssetSourceFiles AssetCategory = "source_files"
	AssetOther       AssetCategory = "other"
)

// Valid は既知のカテゴリかどうかを返す。
func (c AssetCategory) Valid() bool {
	switch c {
	case AssetLogos, AssetGuidelines, AssetSourceFiles, AssetOther:
		return true
	default:
		return false
	}
}

// Attachment はタスクに添付されたファイルのメタデータ。
// 実体はオブジェクトストレージのStoragePathに保存される。
type Attachment struct {
	ID          string
	TaskID      string
	FileName    string
	StoragePath string
	FileSize    int64
	FileType    string
	UploadedBy  string
	CreatedAt   time.Time

	UploaderName  string
	UploaderEmail string
}

// WorkspaceAsset はワークスペースのブランド資産（ロゴ、ガイドライン等）。
type WorkspaceAsset struct {
	ID          string
	WorkspaceID string
	FileName    string
	StoragePath string
	FileSize    int64
	FileType    string
	Category    AssetCategory
	UploadedBy  string
	CreatedAt   time.Time
}
