package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/clientportal/internal/model"
)

// PostgresAuthEventRepo はPostgreSQLを使用した認証監査ログリポジトリ。
type PostgresAuthEventRepo struct {
	db *sql.DB
}

// NewPostgresAuthEventRepo はPostgresAuthEventRepoを生成する。
func NewPostgresAuthEventRepo(db *sql.DB) *PostgresAuthEventRepo {
	return &PostgresAuthEventRepo{db: db}
}

// Create は監査イベントを記録する。IDが空の場合は採番し、作成日時はDBの時刻を使う。
func (r *PostgresAuthEventRepo) Create(ctx context.Context, event *model.AuthEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO auth_events (id, user_id, flow, outcome, reason)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		event.ID, event.UserID, event.Flow, event.Outcome, event.Reason,
	).Scan(&event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert auth event: %w", err)
	}
	return nil
}

// DeleteOlderThan は指定日時より古いイベントを削除し、削除件数を返す。
func (r *PostgresAuthEventRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_events WHERE created_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete auth events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ AuthEventRepository = (*PostgresAuthEventRepo)(nil)
