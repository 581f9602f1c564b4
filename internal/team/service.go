// Package team はユーザー（管理者・クライアント）の招待とロール管理を提供する。
package team

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/hitoshi/clientportal/internal/identity"
	"github.com/hitoshi/clientportal/internal/model"
	"github.com/hitoshi/clientportal/internal/repository"
)

// IdentityAdmin はIdPの管理API。identity.AdminClientが実装する。
type IdentityAdmin interface {
	InviteUserByEmail(ctx context.Context, email string, data map[string]any, redirectTo string) (*model.AuthUser, error)
	DeleteUser(ctx context.Context, userID string) error
}

// InviteInput はメンバー招待の入力。
type InviteInput struct {
	Email    string
	FullName string
	// Role は招待するユーザーのロール。空の場合はclient。
	Role model.Role
}

// Service はチーム管理のサービス層。全操作が管理者のみ。
type Service struct {
	profileRepo repository.ProfileRepository
	admin       IdentityAdmin
	redirectTo  string
}

// NewService はServiceの新しいインスタンスを生成する。
// redirectToは招待メールのリンクの着地点（コールバックURL）。
func NewService(profileRepo repository.ProfileRepository, admin IdentityAdmin, redirectTo string) *Service {
	return &Service{
		profileRepo: profileRepo,
		admin:       admin,
		redirectTo:  redirectTo,
	}
}

// List は全ユーザーのプロフィールを返す。
func (s *Service) List(ctx context.Context, callerID string) ([]*model.Profile, error) {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return nil, err
	}
	profiles, err := s.profileRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("メンバー一覧の取得に失敗しました: %w", err)
	}
	return profiles, nil
}

// Invite は招待メールを送り、作成されたプロフィールを返す。
// プロフィール行はIdPのユーザー作成時にrole=clientで作られ、adminが指定された場合のみ昇格する。
func (s *Service) Invite(ctx context.Context, callerID string, in InviteInput) (*model.Profile, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	fullName := strings.TrimSpace(in.FullName)
	role := in.Role
	if role == "" {
		role = model.RoleClient
	}
	if !role.Valid() {
		return nil, model.NewValidationError("ロールはadminまたはclientを指定してください。")
	}
	if email == "" {
		return nil, model.NewValidationError("メールアドレスは必須です。")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, model.NewValidationError("メールアドレスの形式が正しくありません。")
	}
	if fullName == "" {
		return nil, model.NewValidationError("氏名は必須です。")
	}

	if err := s.requireAdmin(ctx, callerID); err != nil {
		return nil, err
	}

	invited, err := s.admin.InviteUserByEmail(ctx, email, map[string]any{"full_name": fullName}, s.redirectTo)
	if err != nil {
		return nil, identityError(err)
	}

	if err := s.profileRepo.UpdateFullName(ctx, invited.ID, fullName); err != nil {
		return nil, fmt.Errorf("招待ユーザーの氏名の設定に失敗しました: %w", err)
	}
	if role == model.RoleAdmin {
		if err := s.profileRepo.UpdateRole(ctx, invited.ID, model.RoleAdmin); err != nil {
			return nil, fmt.Errorf("招待ユーザーの昇格に失敗しました: %w", err)
		}
	}

	slog.Info("team member invited",
		slog.String("invited_user_id", invited.ID),
		slog.String("role", string(role)),
		slog.String("invited_by", callerID),
	)

	profile, err := s.profileRepo.FindByID(ctx, invited.ID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewUserNotFoundError()
	}
	return profile, nil
}

// ChangeRole はユーザーのロールを変更する。自分自身のロールは変更できない。
func (s *Service) ChangeRole(ctx context.Context, callerID, targetID string, role model.Role) error {
	if !role.Valid() {
		return model.NewValidationError("ロールはadminまたはclientを指定してください。")
	}
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return err
	}
	if targetID == callerID {
		return model.NewSelfModificationError("自分自身のロールは変更できません。")
	}

	if err := s.profileRepo.UpdateRole(ctx, targetID, role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ロールの更新に失敗しました: %w", err)
	}

	slog.Info("team role changed",
		slog.String("target_user_id", targetID),
		slog.String("role", string(role)),
		slog.String("changed_by", callerID),
	)
	return nil
}

// Remove はユーザーをIdPから削除する。プロフィールは外部キーのカスケードで削除される。
// 自分自身は削除できない。
func (s *Service) Remove(ctx context.Context, callerID, targetID string) error {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return err
	}
	if targetID == callerID {
		return model.NewSelfModificationError("自分自身を削除することはできません。")
	}

	target, err := s.profileRepo.FindByID(ctx, targetID)
	if err != nil {
		return fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if target == nil {
		return model.NewUserNotFoundError()
	}

	if err := s.admin.DeleteUser(ctx, targetID); err != nil {
		return identityError(err)
	}

	slog.Info("team member removed",
		slog.String("target_user_id", targetID),
		slog.String("removed_by", callerID),
	)
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, callerID string) error {
	profile, err := s.profileRepo.FindByID(ctx, callerID)
	if err != nil {
		return fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if !profile.IsAdmin() {
		return model.NewForbiddenError()
	}
	return nil
}

// identityError はIdP管理APIのエラーをAPIエラーに変換する。
// 4xxはIdPのメッセージをそのまま利用者に返す（重複メール等）。
func identityError(err error) error {
	if errors.Is(err, identity.ErrAdminUnavailable) {
		return model.NewIdentityFailedError("管理APIが設定されていません")
	}
	var pe *identity.ProviderError
	if errors.As(err, &pe) && pe.Status < 500 {
		return model.NewValidationError(pe.Message)
	}
	return fmt.Errorf("IdP管理APIの呼び出しに失敗しました: %w", err)
}
