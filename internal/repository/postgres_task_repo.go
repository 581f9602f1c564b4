package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/clientportal/internal/model"
)

const taskColumns = `id, workspace_id, title, description, status, priority, position,
	assignee_id, created_by, due_date, created_at, updated_at`

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

func scanTask(row interface{ Scan(...any) error }) (*model.Task, error) {
	t := &model.Task{}
	var description, assigneeID, createdBy sql.NullString
	var status, priority string
	var dueDate sql.NullTime
	if err := row.Scan(
		&t.ID, &t.WorkspaceID, &t.Title, &description, &status, &priority, &t.Position,
		&assigneeID, &createdBy, &dueDate, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Description = nullStringPtr(description)
	t.Status = model.TaskStatus(status)
	t.Priority = model.TaskPriority(priority)
	t.AssigneeID = nullStringPtr(assigneeID)
	t.CreatedBy = createdBy.String
	t.DueDate = nullTimePtr(dueDate)
	return t, nil
}

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task by ID: %w", err)
	}
	return t, nil
}

// ListByWorkspace はワークスペースのタスクを列の定義順、列内はposition順で返す。
// positionが同値の場合は作成順で安定させる。
func (r *PostgresTaskRepo) ListByWorkspace(ctx context.Context, workspaceID string) ([]*model.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+`
		 FROM tasks
		 WHERE workspace_id = $1
		 ORDER BY array_position(ARRAY['todo', 'in_progress', 'review', 'done'], status),
		          position ASC, created_at ASC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// MinPosition は列内の最小positionを返す。列が空の場合はnilを返す。
func (r *PostgresTaskRepo) MinPosition(ctx context.Context, workspaceID string, status model.TaskStatus) (*float64, error) {
	var minPos sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(position) FROM tasks WHERE workspace_id = $1 AND status = $2`,
		workspaceID, string(status),
	).Scan(&minPos)
	if err != nil {
		return nil, fmt.Errorf("failed to get min position: %w", err)
	}
	if !minPos.Valid {
		return nil, nil
	}
	v := minPos.Float64
	return &v, nil
}

// Create はタスクを作成する。
func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, workspace_id, title, description, status, priority, position,
		                    assignee_id, created_by, due_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		task.ID, task.WorkspaceID, task.Title, task.Description, string(task.Status), string(task.Priority),
		task.Position, task.AssigneeID, task.CreatedBy, task.DueDate, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// UpdatePosition はタスクの列と並び順を更新する。
func (r *PostgresTaskRepo) UpdatePosition(ctx context.Context, id string, status model.TaskStatus, position float64) error {
	return execOne(ctx, r.db, "task position",
		`UPDATE tasks SET status = $2, position = $3, updated_at = now() WHERE id = $1`,
		id, string(status), position,
	)
}

// UpdateStatus はタスクの列のみを更新する。
func (r *PostgresTaskRepo) UpdateStatus(ctx context.Context, id string, status model.TaskStatus) error {
	return execOne(ctx, r.db, "task status",
		`UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
}

// UpdateDetails はタイトルと説明を更新する。
func (r *PostgresTaskRepo) UpdateDetails(ctx context.Context, id, title string, description *string) error {
	return execOne(ctx, r.db, "task",
		`UPDATE tasks SET title = $2, description = $3, updated_at = now() WHERE id = $1`,
		id, title, description,
	)
}

// Delete はタスクを削除する。コメントと添付メタデータはCASCADE削除される。
func (r *PostgresTaskRepo) Delete(ctx context.Context, id string) error {
	return execOne(ctx, r.db, "task",
		`DELETE FROM tasks WHERE id = $1`,
		id,
	)
}

// RenumberColumn は列内のpositionを現在の順序のまま1, 2, 3...に振り直す。
func (r *PostgresTaskRepo) RenumberColumn(ctx context.Context, workspaceID string, status model.TaskStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks t
		 SET position = ranked.rn
		 FROM (
		     SELECT id, ROW_NUMBER() OVER (ORDER BY position ASC, created_at ASC) AS rn
		     FROM tasks
		     WHERE workspace_id = $1 AND status = $2
		 ) ranked
		 WHERE t.id = ranked.id`,
		workspaceID, string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to renumber column: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
