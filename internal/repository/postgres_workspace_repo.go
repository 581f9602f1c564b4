package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/clientportal/internal/model"
)

const workspaceColumns = `w.id, w.name, w.slug, w.description, w.created_by, w.created_at, w.updated_at`

// PostgresWorkspaceRepo はPostgreSQLを使用したワークスペースリポジトリ。
type PostgresWorkspaceRepo struct {
	db *sql.DB
}

// NewPostgresWorkspaceRepo はPostgresWorkspaceRepoを生成する。
func NewPostgresWorkspaceRepo(db *sql.DB) *PostgresWorkspaceRepo {
	return &PostgresWorkspaceRepo{db: db}
}

// scanWorkspace はworkspaceColumnsの順に読み取る。extraは後続の列。
func scanWorkspace(row interface{ Scan(...any) error }, extra ...any) (*model.Workspace, error) {
	w := &model.Workspace{}
	var description, createdBy sql.NullString
	dest := append([]any{&w.ID, &w.Name, &w.Slug, &description, &createdBy, &w.CreatedAt, &w.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	w.Description = nullStringPtr(description)
	w.CreatedBy = createdBy.String
	return w, nil
}

// FindByID は指定IDのワークスペースを取得する。見つからない場合はnilを返す。
func (r *PostgresWorkspaceRepo) FindByID(ctx context.Context, id string) (*model.Workspace, error) {
	w, err := scanWorkspace(r.db.QueryRowContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces w WHERE w.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find workspace by ID: %w", err)
	}
	return w, nil
}

// ListAll は全ワークスペースを作成日時の降順で返す。
func (r *PostgresWorkspaceRepo) ListAll(ctx context.Context) ([]*model.Workspace, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces w ORDER BY w.created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []*model.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		workspaces = append(workspaces, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workspaces: %w", err)
	}
	return workspaces, nil
}

// ListByMember はユーザーが所属するワークスペースをメンバーロール付きで返す。
func (r *PostgresWorkspaceRepo) ListByMember(ctx context.Context, userID string) ([]model.WorkspaceWithRole, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+workspaceColumns+`, m.role
		 FROM workspaces w
		 INNER JOIN workspace_members m ON m.workspace_id = w.id
		 WHERE m.user_id = $1
		 ORDER BY w.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces by member: %w", err)
	}
	defer rows.Close()

	var results []model.WorkspaceWithRole
	for rows.Next() {
		var role string
		w, err := scanWorkspace(rows, &role)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		results = append(results, model.WorkspaceWithRole{Workspace: *w, Role: model.Role(role)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workspaces: %w", err)
	}
	return results, nil
}

// CreateWithAdmin はワークスペースと作成者の管理者メンバーシップを同一トランザクションで作成する。
func (r *PostgresWorkspaceRepo) CreateWithAdmin(ctx context.Context, workspace *model.Workspace, member *model.WorkspaceMember) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, slug, description, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		workspace.ID, workspace.Name, workspace.Slug, workspace.Description,
		workspace.CreatedBy, workspace.CreatedAt, workspace.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workspace: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workspace_members (id, workspace_id, user_id, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		member.ID, member.WorkspaceID, member.UserID, string(member.Role), member.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workspace member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rename はワークスペース名を更新する。
func (r *PostgresWorkspaceRepo) Rename(ctx context.Context, id, name string) error {
	return execOne(ctx, r.db, "workspace",
		`UPDATE workspaces SET name = $2, updated_at = now() WHERE id = $1`,
		id, name,
	)
}

// PostgresMemberRepo はPostgreSQLを使用したワークスペースメンバーリポジトリ。
type PostgresMemberRepo struct {
	db *sql.DB
}

// NewPostgresMemberRepo はPostgresMemberRepoを生成する。
func NewPostgresMemberRepo(db *sql.DB) *PostgresMemberRepo {
	return &PostgresMemberRepo{db: db}
}

// FindRole はワークスペース内でのユーザーのロールを返す。メンバーでない場合はnilを返す。
func (r *PostgresMemberRepo) FindRole(ctx context.Context, workspaceID, userID string) (*model.Role, error) {
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT role FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find member role: %w", err)
	}
	mr := model.Role(role)
	return &mr, nil
}

// ListByWorkspace はメンバー一覧をプロフィール情報付きで参加順に返す。
func (r *PostgresMemberRepo) ListByWorkspace(ctx context.Context, workspaceID string) ([]model.WorkspaceMember, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.id, m.workspace_id, m.user_id, m.role, m.created_at, p.full_name, p.email
		 FROM workspace_members m
		 INNER JOIN profiles p ON p.id = m.user_id
		 WHERE m.workspace_id = $1
		 ORDER BY m.created_at ASC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace members: %w", err)
	}
	defer rows.Close()

	var members []model.WorkspaceMember
	for rows.Next() {
		var m model.WorkspaceMember
		var role string
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.UserID, &role, &m.CreatedAt, &m.FullName, &m.Email); err != nil {
			return nil, fmt.Errorf("failed to scan workspace member: %w", err)
		}
		m.Role = model.Role(role)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workspace members: %w", err)
	}
	return members, nil
}

// Add はメンバーを追加する。既に所属している場合はロールを更新する。
func (r *PostgresMemberRepo) Add(ctx context.Context, member *model.WorkspaceMember) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO workspace_members (id, workspace_id, user_id, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		member.ID, member.WorkspaceID, member.UserID, string(member.Role), member.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add workspace member: %w", err)
	}
	return nil
}

// Remove はメンバーを削除する。対象が存在しない場合はsql.ErrNoRowsを返す。
func (r *PostgresMemberRepo) Remove(ctx context.Context, workspaceID, userID string) error {
	return execOne(ctx, r.db, "workspace member",
		`DELETE FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID,
	)
}

// compile-time interface check
var (
	_ WorkspaceRepository = (*PostgresWorkspaceRepo)(nil)
	_ MemberRepository    = (*PostgresMemberRepo)(nil)
)
