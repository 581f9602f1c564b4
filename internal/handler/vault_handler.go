package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/clientportal/internal/model"
	"github.com/hitoshi/clientportal/internal/vault"
)

// maxPreviewIDs は一度にプレビューURLを発行できる資産数の上限。
const maxPreviewIDs = 100

// VaultServiceInterface はファイル保管庫ハンドラーが必要とするサービスインターフェース。
type VaultServiceInterface interface {
	RequestAttachmentUpload(ctx context.Context, userID, taskID, fileName, contentType string, size int64) (*vault.UploadTicket, error)
	SaveAttachment(ctx context.Context, userID, taskID string, in vault.SaveFileInput) (*model.Attachment, error)
	ListAttachments(ctx context.Context, userID, taskID string) ([]*model.Attachment, error)
	AttachmentDownloadURL(ctx context.Context, userID, attachmentID string) (string, error)
	DeleteAttachment(ctx context.Context, userID, attachmentID string) error

	RequestAssetUpload(ctx context.Context, userID, workspaceID, fileName, contentType string) (*vault.UploadTicket, error)
	SaveAsset(ctx context.Context, userID, workspaceID string, in vault.SaveFileInput) (*model.WorkspaceAsset, error)
	ListAssets(ctx context.Context, userID, workspaceID string, category model.AssetCategory) ([]*model.WorkspaceAsset, error)
	AssetURL(ctx context.Context, userID, assetID string, download bool) (string, error)
	AssetPreviewURLs(ctx context.Context, userID, workspaceID string, assetIDs []string) (map[string]string, error)
	DeleteAsset(ctx context.Context, userID, assetID string) error
}

// VaultHandler は添付ファイルとブランド資産のHTTPハンドラー。
type VaultHandler struct {
	service VaultServiceInterface
}

// NewVaultHandler はVaultHandlerを生成する。
func NewVaultHandler(service VaultServiceInterface) *VaultHandler {
	return &VaultHandler{service: service}
}

type uploadURLRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	FileSize    int64  `json:"file_size"`
}

type saveFileRequest struct {
	FileName    string `json:"file_name"`
	StoragePath string `json:"storage_path"`
	FileSize    int64  `json:"file_size"`
	FileType    string `json:"file_type"`
	Category    string `json:"category"`
}

type previewURLsRequest struct {
	IDs []string `json:"ids"`
}

type signedURLResponse struct {
	URL string `json:"url"`
}

type attachmentResponse struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"task_id"`
	FileName      string    `json:"file_name"`
	FileSize      int64     `json:"file_size"`
	FileType      string    `json:"file_type"`
	UploadedBy    string    `json:"uploaded_by"`
	UploaderName  string    `json:"uploader_name"`
	UploaderEmail string    `json:"uploader_email"`
	CreatedAt     time.Time `json:"created_at"`
}

type assetResponse struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	FileType    string    `json:"file_type"`
	Category    string    `json:"category"`
	UploadedBy  string    `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// --- タスク添付ファイル ---

// RequestAttachmentUpload は添付ファイルのアップロード用署名付きURLを発行する。
// POST /api/tasks/{id}/attachments/upload-url
func (h *VaultHandler) RequestAttachmentUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req uploadURLRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ticket, err := h.service.RequestAttachmentUpload(r.Context(), userID, chi.URLParam(r, "id"), req.FileName, req.ContentType, req.FileSize)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// SaveAttachment はアップロード完了後のメタデータを保存する。
// POST /api/tasks/{id}/attachments
func (h *VaultHandler) SaveAttachment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req saveFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	attachment, err := h.service.SaveAttachment(r.Context(), userID, chi.URLParam(r, "id"), toSaveFileInput(req))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAttachmentResponse(attachment))
}

// ListAttachments はタスクの添付ファイル一覧を返す。
// GET /api/tasks/{id}/attachments
func (h *VaultHandler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	attachments, err := h.service.ListAttachments(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]attachmentResponse, len(attachments))
	for i, a := range attachments {
		resp[i] = toAttachmentResponse(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AttachmentURL は添付ファイルの署名付きダウンロードURLを返す。
// GET /api/attachments/{id}/url
func (h *VaultHandler) AttachmentURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	url, err := h.service.AttachmentDownloadURL(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signedURLResponse{URL: url})
}

// DeleteAttachment は添付ファイルを削除する。
// DELETE /api/attachments/{id}
func (h *VaultHandler) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAttachment(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- ブランド資産 ---

// RequestAssetUpload は資産のアップロード用署名付きURLを発行する。
// POST /api/workspaces/{id}/assets/upload-url
func (h *VaultHandler) RequestAssetUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req uploadURLRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ticket, err := h.service.RequestAssetUpload(r.Context(), userID, chi.URLParam(r, "id"), req.FileName, req.ContentType)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// SaveAsset はアップロード完了後の資産メタデータを保存する。
// POST /api/workspaces/{id}/assets
func (h *VaultHandler) SaveAsset(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req saveFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	asset, err := h.service.SaveAsset(r.Context(), userID, chi.URLParam(r, "id"), toSaveFileInput(req))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssetResponse(asset))
}

// ListAssets はワークスペースの資産一覧を返す。
// GET /api/workspaces/{id}/assets?category=logos
func (h *VaultHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	category := model.AssetCategory(r.URL.Query().Get("category"))
	assets, err := h.service.ListAssets(r.Context(), userID, chi.URLParam(r, "id"), category)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]assetResponse, len(assets))
	for i, a := range assets {
		resp[i] = toAssetResponse(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AssetPreviewURLs は複数資産のプレビューURLを資産IDをキーにして返す。
// POST /api/workspaces/{id}/assets/previews
func (h *VaultHandler) AssetPreviewURLs(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req previewURLsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) > maxPreviewIDs {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("一度に指定できる資産は100件までです。"))
		return
	}

	urls, err := h.service.AssetPreviewURLs(r.Context(), userID, chi.URLParam(r, "id"), req.IDs)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]map[string]string{"urls": urls})
}

// AssetURL は資産の署名付きURLを返す。download=trueで添付ファイルとして保存させる。
// GET /api/assets/{id}/url
func (h *VaultHandler) AssetURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	download, _ := strconv.ParseBool(r.URL.Query().Get("download"))
	url, err := h.service.AssetURL(r.Context(), userID, chi.URLParam(r, "id"), download)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signedURLResponse{URL: url})
}

// DeleteAsset は資産を削除する。
// DELETE /api/assets/{id}
func (h *VaultHandler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAsset(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toSaveFileInput(req saveFileRequest) vault.SaveFileInput {
	return vault.SaveFileInput{
		FileName:    req.FileName,
		StoragePath: req.StoragePath,
		FileSize:    req.FileSize,
		FileType:    req.FileType,
		Category:    model.AssetCategory(req.Category),
	}
}

func toAttachmentResponse(a *model.Attachment) attachmentResponse {
	return attachmentResponse{
		ID:            a.ID,
		TaskID:        a.TaskID,
		FileName:      a.FileName,
		FileSize:      a.FileSize,
		FileType:      a.FileType,
		UploadedBy:    a.UploadedBy,
		UploaderName:  a.UploaderName,
		UploaderEmail: a.UploaderEmail,
		CreatedAt:     a.CreatedAt,
	}
}

func toAssetResponse(a *model.WorkspaceAsset) assetResponse {
	return assetResponse{
		ID:          a.ID,
		WorkspaceID: a.WorkspaceID,
		FileName:    a.FileName,
		FileSize:    a.FileSize,
		FileType:    a.FileType,
		Category:    string(a.Category),
		UploadedBy:  a.UploadedBy,
		CreatedAt:   a.CreatedAt,
	}
}
