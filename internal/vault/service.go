// Package vault はタスクの添付ファイルとワークスペースのブランド資産を管理する。
// ファイル本体はオブジェクトストレージに置き、ここではメタデータと署名付きURLを扱う。
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/clientportal/internal/model"
	"github.com/hitoshi/clientportal/internal/realtime"
	"github.com/hitoshi/clientportal/internal/repository"
	"github.com/hitoshi/clientportal/internal/storage"
)

const (
	attachmentsTable = "task_attachments"
	assetsTable      = "workspace_assets"

	// MaxAttachmentSize はタスク添付ファイルの上限サイズ（50MB）。
	MaxAttachmentSize int64 = 50 << 20

	defaultFileType = "application/octet-stream"
	maxFileNameLen  = 255
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// TaskAuthorizer はタスクを取得し、閲覧権限を確認する。board.Serviceが実装する。
type TaskAuthorizer interface {
	GetTask(ctx context.Context, userID, taskID string) (*model.Task, error)
}

// WorkspaceAuthorizer はワークスペースへのアクセス権を確認する。workspace.Serviceが実装する。
type WorkspaceAuthorizer interface {
	Authorize(ctx context.Context, userID, workspaceID string) (*model.Profile, error)
}

// Buckets は用途ごとのバケット名。
type Buckets struct {
	Attachments string
	Assets      string
}

// UploadTicket はブラウザが直接アップロードするための署名付きURLと保存先パス。
type UploadTicket struct {
	StoragePath string `json:"storage_path"`
	UploadURL   string `json:"upload_url"`
}

// SaveFileInput はアップロード完了後に保存するメタデータ。
type SaveFileInput struct {
	FileName    string
	StoragePath string
	FileSize    int64
	FileType    string
	Category    model.AssetCategory
}

// Service はファイル保管庫のサービス層。
type Service struct {
	attachmentRepo repository.AttachmentRepository
	assetRepo      repository.AssetRepository
	tasks          TaskAuthorizer
	workspaces     WorkspaceAuthorizer
	store          storage.ObjectStore
	buckets        Buckets
	publisher      realtime.Publisher
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	attachmentRepo repository.AttachmentRepository,
	assetRepo repository.AssetRepository,
	tasks TaskAuthorizer,
	workspaces WorkspaceAuthorizer,
	store storage.ObjectStore,
	buckets Buckets,
	publisher realtime.Publisher,
) *Service {
	if publisher == nil {
		publisher = realtime.Discard{}
	}
	return &Service{
		attachmentRepo: attachmentRepo,
		assetRepo:      assetRepo,
		tasks:          tasks,
		workspaces:     workspaces,
		store:          store,
		buckets:        buckets,
		publisher:      publisher,
	}
}

// SanitizeFileName はストレージのキーに使えない文字を"_"に置き換える。
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// --- タスク添付ファイル ---

// RequestAttachmentUpload は添付ファイルのアップロード用URLを発行する。
// 保存先は<workspaceID>/<taskID>/<uuid>-<ファイル名>。
func (s *Service) RequestAttachmentUpload(ctx context.Context, userID, taskID, fileName, contentType string, size int64) (*UploadTicket, error) {
	if err := validateFile(fileName, size, MaxAttachmentSize); err != nil {
		return nil, err
	}
	task, err := s.tasks.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("%s/%s/%s-%s", task.WorkspaceID, task.ID, uuid.New().String(), SanitizeFileName(fileName))
	return s.presignUpload(ctx, s.buckets.Attachments, path, contentType)
}

// SaveAttachment はアップロード済みの添付ファイルのメタデータを保存する。
func (s *Service) SaveAttachment(ctx context.Context, userID, taskID string, in SaveFileInput) (*model.Attachment, error) {
	if err := validateFile(in.FileName, in.FileSize, MaxAttachmentSize); err != nil {
		return nil, err
	}
	task, err := s.tasks.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(in.StoragePath, task.WorkspaceID+"/"+task.ID+"/") {
		return nil, model.NewValidationError("保存先のパスが正しくありません。")
	}

	attachment := &model.Attachment{
		ID:          uuid.New().String(),
		TaskID:      task.ID,
		FileName:    strings.TrimSpace(in.FileName),
		StoragePath: in.StoragePath,
		FileSize:    in.FileSize,
		FileType:    fileTypeOrDefault(in.FileType),
		UploadedBy:  userID,
		CreatedAt:   time.Now(),
	}
	if err := s.attachmentRepo.Create(ctx, attachment); err != nil {
		return nil, fmt.Errorf("添付ファイルの保存に失敗しました: %w", err)
	}

	s.publisher.Publish(task.WorkspaceID, realtime.Event{
		Type:   realtime.EventInsert,
		Table:  attachmentsTable,
		Record: attachment,
	})
	return attachment, nil
}

// ListAttachments はタスクの添付ファイルを新しい順に返す。
func (s *Service) ListAttachments(ctx context.Context, userID, taskID string) ([]*model.Attachment, error) {
	if _, err := s.tasks.GetTask(ctx, userID, taskID); err != nil {
		return nil, err
	}
	attachments, err := s.attachmentRepo.ListByTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("添付ファイル一覧の取得に失敗しました: %w", err)
	}
	return attachments, nil
}

// AttachmentDownloadURL は添付ファイルの署名付きダウンロードURLを返す。
func (s *Service) AttachmentDownloadURL(ctx context.Context, userID, attachmentID string) (string, error) {
	attachment, _, err := s.authorizedAttachment(ctx, userID, attachmentID)
	if err != nil {
		return "", err
	}
	url, err := s.store.PresignGet(ctx, s.buckets.Attachments, attachment.StoragePath, "")
	if err != nil {
		return "", storageError(err)
	}
	return url, nil
}

// DeleteAttachment はストレージのオブジェクトを削除してからメタデータを削除する。
// 削除できるのはアップロードした本人と管理者のみ。
func (s *Service) DeleteAttachment(ctx context.Context, userID, attachmentID string) error {
	attachment, task, err := s.authorizedAttachment(ctx, userID, attachmentID)
	if err != nil {
		return err
	}
	profile, err := s.workspaces.Authorize(ctx, userID, task.WorkspaceID)
	if err != nil {
		return err
	}
	if attachment.UploadedBy != userID && !profile.IsAdmin() {
		return model.NewForbiddenError()
	}

	if err := s.store.Delete(ctx, s.buckets.Attachments, attachment.StoragePath); err != nil {
		return storageError(err)
	}
	if err := s.attachmentRepo.Delete(ctx, attachment.ID); err != nil {
		return fmt.Errorf("添付ファイルの削除に失敗しました: %w", err)
	}

	slog.Info("attachment deleted",
		slog.String("attachment_id", attachment.ID),
		slog.String("user_id", userID),
	)
	s.publisher.Publish(task.WorkspaceID, realtime.Event{
		Type:   realtime.EventDelete,
		Table:  attachmentsTable,
		Record: map[string]string{"id": attachment.ID, "task_id": attachment.TaskID},
	})
	return nil
}

func (s *Service) authorizedAttachment(ctx context.Context, userID, attachmentID string) (*model.Attachment, *model.Task, error) {
	attachment, err := s.attachmentRepo.FindByID(ctx, attachmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("添付ファイルの取得に失敗しました: %w", err)
	}
	if attachment == nil {
		return nil, nil, model.NewAttachmentNotFoundError(attachmentID)
	}
	task, err := s.tasks.GetTask(ctx, userID, attachment.TaskID)
	if err != nil {
		if isNotFound(err, model.ErrCodeTaskNotFound) {
			return nil, nil, model.NewAttachmentNotFoundError(attachmentID)
		}
		return nil, nil, err
	}
	return attachment, task, nil
}

// --- ブランド資産 ---

// RequestAssetUpload はブランド資産のアップロード用URLを発行する。
// 保存先は<workspaceID>/<uuid>-<ファイル名>。
func (s *Service) RequestAssetUpload(ctx context.Context, userID, workspaceID, fileName, contentType string) (*UploadTicket, error) {
	if err := validateFile(fileName, 0, 0); err != nil {
		return nil, err
	}
	if _, err := s.workspaces.Authorize(ctx, userID, workspaceID); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("%s/%s-%s", workspaceID, uuid.New().String(), SanitizeFileName(fileName))
	return s.presignUpload(ctx, s.buckets.Assets, path, contentType)
}

// SaveAsset はアップロード済みの資産のメタデータを保存する。
func (s *Service) SaveAsset(ctx context.Context, userID, workspaceID string, in SaveFileInput) (*model.WorkspaceAsset, error) {
	if err := validateFile(in.FileName, in.FileSize, 0); err != nil {
		return nil, err
	}
	if !in.Category.Valid() {
		return nil, model.NewValidationError("カテゴリはlogos, guidelines, source_files, otherのいずれかを指定してください。")
	}
	if _, err := s.workspaces.Authorize(ctx, userID, workspaceID); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(in.StoragePath, workspaceID+"/") {
		return nil, model.NewValidationError("保存先のパスが正しくありません。")
	}

	asset := &model.WorkspaceAsset{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		FileName:    strings.TrimSpace(in.FileName),
		StoragePath: in.StoragePath,
		FileSize:    in.FileSize,
		FileType:    fileTypeOrDefault(in.FileType),
		Category:    in.Category,
		UploadedBy:  userID,
		CreatedAt:   time.Now(),
	}
	if err := s.assetRepo.Create(ctx, asset); err != nil {
		return nil, fmt.Errorf("資産の保存に失敗しました: %w", err)
	}

	s.publisher.Publish(workspaceID, realtime.Event{
		Type:   realtime.EventInsert,
		Table:  assetsTable,
		Record: asset,
	})
	return asset, nil
}

// ListAssets はワークスペースの資産を返す。categoryが空の場合は全カテゴリ。
func (s *Service) ListAssets(ctx context.Context, userID, workspaceID string, category model.AssetCategory) ([]*model.WorkspaceAsset, error) {
	if category != "" && !category.Valid() {
		return nil, model.NewValidationError("カテゴリはlogos, guidelines, source_files, otherのいずれかを指定してください。")
	}
	if _, err := s.workspaces.Authorize(ctx, userID, workspaceID); err != nil {
		return nil, err
	}
	assets, err := s.assetRepo.ListByWorkspace(ctx, workspaceID, category)
	if err != nil {
		return nil, fmt.Errorf("資産一覧の取得に失敗しました: %w", err)
	}
	return assets, nil
}

// AssetURL は資産の署名付きURLを返す。downloadがtrueの場合は元のファイル名で保存させる。
func (s *Service) AssetURL(ctx context.Context, userID, assetID string, download bool) (string, error) {
	asset, _, err := s.authorizedAsset(ctx, userID, assetID)
	if err != nil {
		return "", err
	}
	downloadName := ""
	if download {
		downloadName = asset.FileName
	}
	url, err := s.store.PresignGet(ctx, s.buckets.Assets, asset.StoragePath, downloadName)
	if err != nil {
		return "", storageError(err)
	}
	return url, nil
}

// AssetPreviewURLs は複数の資産のプレビュー用URLを資産IDをキーにまとめて返す。
// 他のワークスペースの資産と署名に失敗したものは結果に含めない。
func (s *Service) AssetPreviewURLs(ctx context.Context, userID, workspaceID string, assetIDs []string) (map[string]string, error) {
	if _, err := s.workspaces.Authorize(ctx, userID, workspaceID); err != nil {
		return nil, err
	}
	urls := make(map[string]string, len(assetIDs))
	if len(assetIDs) == 0 {
		return urls, nil
	}

	assets, err := s.assetRepo.FindByIDs(ctx, assetIDs)
	if err != nil {
		return nil, fmt.Errorf("資産の取得に失敗しました: %w", err)
	}
	for _, asset := range assets {
		if asset.WorkspaceID != workspaceID {
			continue
		}
		url, err := s.store.PresignGet(ctx, s.buckets.Assets, asset.StoragePath, "")
		if err != nil {
			slog.Warn("failed to presign asset preview",
				slog.String("asset_id", asset.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		urls[asset.ID] = url
	}
	return urls, nil
}

// DeleteAsset はストレージのオブジェクトを削除してからメタデータを削除する。
// 削除できるのはアップロードした本人と管理者のみ。
func (s *Service) DeleteAsset(ctx context.Context, userID, assetID string) error {
	asset, profile, err := s.authorizedAsset(ctx, userID, assetID)
	if err != nil {
		return err
	}
	if asset.UploadedBy != userID && !profile.IsAdmin() {
		return model.NewForbiddenError()
	}

	if err := s.store.Delete(ctx, s.buckets.Assets, asset.StoragePath); err != nil {
		return storageError(err)
	}
	if err := s.assetRepo.Delete(ctx, asset.ID); err != nil {
		return fmt.Errorf("資産の削除に失敗しました: %w", err)
	}

	slog.Info("asset deleted",
		slog.String("asset_id", asset.ID),
		slog.String("user_id", userID),
	)
	s.publisher.Publish(asset.WorkspaceID, realtime.Event{
		Type:   realtime.EventDelete,
		Table:  assetsTable,
		Record: map[string]string{"id": asset.ID},
	})
	return nil
}

func (s *Service) authorizedAsset(ctx context.Context, userID, assetID string) (*model.WorkspaceAsset, *model.Profile, error) {
	asset, err := s.assetRepo.FindByID(ctx, assetID)
	if err != nil {
		return nil, nil, fmt.Errorf("資産の取得に失敗しました: %w", err)
	}
	if asset == nil {
		return nil, nil, model.NewAssetNotFoundError(assetID)
	}
	profile, err := s.workspaces.Authorize(ctx, userID, asset.WorkspaceID)
	if err != nil {
		if isNotFound(err, model.ErrCodeWorkspaceNotFound) {
			return nil, nil, model.NewAssetNotFoundError(assetID)
		}
		return nil, nil, err
	}
	return asset, profile, nil
}

// --- 共通 ---

func (s *Service) presignUpload(ctx context.Context, bucket, path, contentType string) (*UploadTicket, error) {
	url, err := s.store.PresignPut(ctx, bucket, path, contentType)
	if err != nil {
		return nil, storageError(err)
	}
	return &UploadTicket{StoragePath: path, UploadURL: url}, nil
}

// validateFile はファイル名とサイズを検証する。maxSizeが0の場合は上限なし。
func validateFile(fileName string, size, maxSize int64) error {
	name := strings.TrimSpace(fileName)
	if name == "" {
		return model.NewValidationError("ファイル名は必須です。")
	}
	if len(name) > maxFileNameLen {
		return model.NewValidationError("ファイル名が長すぎます。")
	}
	if size < 0 {
		return model.NewValidationError("ファイルサイズが正しくありません。")
	}
	if maxSize > 0 && size > maxSize {
		return model.NewValidationError("ファイルサイズは50MB以下にしてください。")
	}
	return nil
}

func fileTypeOrDefault(fileType string) string {
	if t := strings.TrimSpace(fileType); t != "" {
		return t
	}
	return defaultFileType
}

func isNotFound(err error, code string) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func storageError(err error) error {
	slog.Error("object storage request failed", slog.String("error", err.Error()))
	return model.NewStorageFailedError("storage request failed")
}
