package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/clientportal/internal/model"
	"github.com/lib/pq"
)

// PostgresAttachmentRepo はPostgreSQLを使用した添付ファイルリポジトリ。
type PostgresAttachmentRepo struct {
	db *sql.DB
}

// NewPostgresAttachmentRepo はPostgresAttachmentRepoを生成する。
func NewPostgresAttachmentRepo(db *sql.DB) *PostgresAttachmentRepo {
	return &PostgresAttachmentRepo{db: db}
}

const attachmentSelect = `SELECT a.id, a.task_id, a.file_name, a.storage_path, a.file_size, a.file_type,
	        a.uploaded_by, a.created_at, COALESCE(p.full_name, ''), COALESCE(p.email, '')
	 FROM task_attachments a
	 LEFT JOIN profiles p ON p.id = a.uploaded_by`

func scanAttachment(row interface{ Scan(...any) error }) (*model.Attachment, error) {
	a := &model.Attachment{}
	var uploadedBy sql.NullString
	if err := row.Scan(&a.ID, &a.TaskID, &a.FileName, &a.StoragePath, &a.FileSize, &a.FileType,
		&uploadedBy, &a.CreatedAt, &a.UploaderName, &a.UploaderEmail); err != nil {
		return nil, err
	}
	a.UploadedBy = uploadedBy.String
	return a, nil
}

// FindByID は指定IDの添付ファイルを取得する。見つからない場合はnilを返す。
func (r *PostgresAttachmentRepo) FindByID(ctx context.Context, id string) (*model.Attachment, error) {
	a, err := scanAttachment(r.db.QueryRowContext(ctx, attachmentSelect+` WHERE a.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find attachment by ID: %w", err)
	}
	return a, nil
}

// ListByTask はタスクの添付ファイルを新しい順に返す。
func (r *PostgresAttachmentRepo) ListByTask(ctx context.Context, taskID string) ([]*model.Attachment, error) {
	rows, err := r.db.QueryContext(ctx,
		attachmentSelect+` WHERE a.task_id = $1 ORDER BY a.created_at DESC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []*model.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attachments: %w", err)
	}
	return attachments, nil
}

// Create は添付ファイルのメタデータを保存する。
func (r *PostgresAttachmentRepo) Create(ctx context.Context, a *model.Attachment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO task_attachments (id, task_id, file_name, storage_path, file_size, file_type, uploaded_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.TaskID, a.FileName, a.StoragePath, a.FileSize, a.FileType, a.UploadedBy, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

// Delete は添付ファイルのメタデータを削除する。
func (r *PostgresAttachmentRepo) Delete(ctx context.Context, id string) error {
	return execOne(ctx, r.db, "attachment", `DELETE FROM task_attachments WHERE id = $1`, id)
}

// PostgresAssetRepo はPostgreSQLを使用したブランド資産リポジトリ。
type PostgresAssetRepo struct {
	db *sql.DB
}

// NewPostgresAssetRepo はPostgresAssetRepoを生成する。
func NewPostgresAssetRepo(db *sql.DB) *PostgresAssetRepo {
	return &PostgresAssetRepo{db: db}
}

const assetColumns = `id, workspace_id, file_name, storage_path, file_size, file_type, category, uploaded_by, created_at`

func scanAsset(row interface{ Scan(...any) error }) (*model.WorkspaceAsset, error) {
	a := &model.WorkspaceAsset{}
	var category string
	var uploadedBy sql.NullString
	if err := row.Scan(&a.ID, &a.WorkspaceID, &a.FileName, &a.StoragePath, &a.FileSize, &a.FileType,
		&category, &uploadedBy, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Category = model.AssetCategory(category)
	a.UploadedBy = uploadedBy.String
	return a, nil
}

func (r *PostgresAssetRepo) queryAssets(ctx context.Context, query string, args ...any) ([]*model.WorkspaceAsset, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []*model.WorkspaceAsset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assets: %w", err)
	}
	return assets, nil
}

// FindByID は指定IDの資産を取得する。見つからない場合はnilを返す。
func (r *PostgresAssetRepo) FindByID(ctx context.Context, id string) (*model.WorkspaceAsset, error) {
	a, err := scanAsset(r.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM workspace_assets WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find asset by ID: %w", err)
	}
	return a, nil
}

// ListByWorkspace はワークスペースの資産を新しい順に返す。categoryが空の場合は全カテゴリ。
func (r *PostgresAssetRepo) ListByWorkspace(ctx context.Context, workspaceID string, category model.AssetCategory) ([]*model.WorkspaceAsset, error) {
	if category == "" {
		return r.queryAssets(ctx,
			`SELECT `+assetColumns+` FROM workspace_assets
			 WHERE workspace_id = $1 ORDER BY created_at DESC`,
			workspaceID,
		)
	}
	return r.queryAssets(ctx,
		`SELECT `+assetColumns+` FROM workspace_assets
		 WHERE workspace_id = $1 AND category = $2 ORDER BY created_at DESC`,
		workspaceID, string(category),
	)
}

// FindByIDs は指定IDの資産をまとめて取得する。
func (r *PostgresAssetRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.WorkspaceAsset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryAssets(ctx,
		`SELECT `+assetColumns+` FROM workspace_assets WHERE id = ANY($1::uuid[])`,
		pq.Array(ids),
	)
}

// Create は資産のメタデータを保存する。
func (r *PostgresAssetRepo) Create(ctx context.Context, a *model.WorkspaceAsset) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO workspace_assets (id, workspace_id, file_name, storage_path, file_size, file_type, category, uploaded_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.WorkspaceID, a.FileName, a.StoragePath, a.FileSize, a.FileType, string(a.Category), a.UploadedBy, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}
	return nil
}

// Delete は資産のメタデータを削除する。
func (r *PostgresAssetRepo) Delete(ctx context.Context, id string) error {
	return execOne(ctx, r.db, "asset", `DELETE FROM workspace_assets WHERE id = $1`, id)
}

// compile-time interface check
var (
	_ AttachmentRepository = (*PostgresAttachmentRepo)(nil)
	_ AssetRepository      = (*PostgresAssetRepo)(nil)
)
