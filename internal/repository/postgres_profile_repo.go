package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/clientportal/internal/model"
)

const profileColumns = `id, email, full_name, avatar_url, role, title, created_at`

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

func scanProfile(row interface{ Scan(...any) error }) (*model.Profile, error) {
	p := &model.Profile{}
	var avatarURL, title sql.NullString
	var role string
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &avatarURL, &role, &title, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Role = model.Role(role)
	p.AvatarURL = nullStringPtr(avatarURL)
	p.Title = nullStringPtr(title)
	return p, nil
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}
	return p, nil
}

// FindByEmail はメールアドレスでプロフィールを取得する。
func (r *PostgresProfileRepo) FindByEmail(ctx context.Context, email string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE lower(email) = lower($1)`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by email: %w", err)
	}
	return p, nil
}

// ListAll は全プロフィールを作成日時順に返す。
func (r *PostgresProfileRepo) ListAll(ctx context.Context) ([]*model.Profile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

// UpdateProfile は表示名とアバターURLを更新する。
func (r *PostgresProfileRepo) UpdateProfile(ctx context.Context, id, fullName string, avatarURL *string) error {
	return r.execOne(ctx, "profile",
		`UPDATE profiles SET full_name = $2, avatar_url = $3, updated_at = now() WHERE id = $1`,
		id, fullName, avatarURL,
	)
}

// UpdateFullName は表示名のみを更新する。
func (r *PostgresProfileRepo) UpdateFullName(ctx context.Context, id, fullName string) error {
	return r.execOne(ctx, "profile",
		`UPDATE profiles SET full_name = $2, updated_at = now() WHERE id = $1`,
		id, fullName,
	)
}

// UpdateRole はロールを更新する。対象が存在しない場合はsql.ErrNoRowsを返す。
func (r *PostgresProfileRepo) UpdateRole(ctx context.Context, id string, role model.Role) error {
	return r.execOne(ctx, "profile role",
		`UPDATE profiles SET role = $2, updated_at = now() WHERE id = $1`,
		id, string(role),
	)
}

func (r *PostgresProfileRepo) execOne(ctx context.Context, what, query string, args ...any) error {
	return execOne(ctx, r.db, what, query, args...)
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
