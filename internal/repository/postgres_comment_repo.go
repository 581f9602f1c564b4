package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/clientportal/internal/model"
)

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// Create はコメントを作成し、投稿者のプロフィール情報を埋める。
func (r *PostgresCommentRepo) Create(ctx context.Context, comment *model.Comment) error {
	var avatarURL sql.NullString
	err := r.db.QueryRowContext(ctx,
		`WITH inserted AS (
		     INSERT INTO comments (id, task_id, author_id, body, created_at, updated_at)
		     VALUES ($1, $2, $3, $4, $5, $6)
		     RETURNING author_id
		 )
		 SELECT p.full_name, p.avatar_url, p.email
		 FROM inserted i
		 INNER JOIN profiles p ON p.id = i.author_id`,
		comment.ID, comment.TaskID, comment.AuthorID, comment.Body, comment.CreatedAt, comment.UpdatedAt,
	).Scan(&comment.AuthorName, &avatarURL, &comment.AuthorEmail)
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	comment.AuthorAvatarURL = nullStringPtr(avatarURL)
	return nil
}

// ListByTask はタスクのコメントを投稿者情報付きで古い順に返す。
func (r *PostgresCommentRepo) ListByTask(ctx context.Context, taskID string) ([]*model.Comment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.task_id, c.author_id, c.body, c.created_at, c.updated_at,
		        p.full_name, p.avatar_url, p.email
		 FROM comments c
		 INNER JOIN profiles p ON p.id = c.author_id
		 WHERE c.task_id = $1
		 ORDER BY c.created_at ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*model.Comment
	for rows.Next() {
		c := &model.Comment{}
		var avatarURL sql.NullString
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Body, &c.CreatedAt, &c.UpdatedAt,
			&c.AuthorName, &avatarURL, &c.AuthorEmail); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.AuthorAvatarURL = nullStringPtr(avatarURL)
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return comments, nil
}

// compile-time interface check
var _ CommentRepository = (*PostgresCommentRepo)(nil)
