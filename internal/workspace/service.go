// Package workspace はワークスペースとメンバーシップのドメインロジックを提供する。
package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/clientportal/internal/model"
	"github.com/hitoshi/clientportal/internal/repository"
)

// MaxNameLength はワークスペース名の最大文字数。
const MaxNameLength = 80

// Service はワークスペース管理のサービス層。
// メンバーシップ判定（Authorize）は他の機能のサービスからも利用される。
type Service struct {
	profileRepo   repository.ProfileRepository
	workspaceRepo repository.WorkspaceRepository
	memberRepo    repository.MemberRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	profileRepo repository.ProfileRepository,
	workspaceRepo repository.WorkspaceRepository,
	memberRepo repository.MemberRepository,
) *Service {
	return &Service{
		profileRepo:   profileRepo,
		workspaceRepo: workspaceRepo,
		memberRepo:    memberRepo,
	}
}

// Authorize はユーザーがワークスペースへアクセスできることを確認し、ユーザーのプロフィールを返す。
// 管理者は全ワークスペースにアクセスできる。アクセスできない場合は存在を隠すため
// WORKSPACE_NOT_FOUNDを返す。
func (s *Service) Authorize(ctx context.Context, userID, workspaceID string) (*model.Profile, error) {
	profile, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewWorkspaceNotFoundError(workspaceID)
	}

	ws, err := s.workspaceRepo.FindByID(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("ワークスペースの取得に失敗しました: %w", err)
	}
	if ws == nil {
		return nil, model.NewWorkspaceNotFoundError(workspaceID)
	}

	if profile.IsAdmin() {
		return profile, nil
	}

	role, err := s.memberRepo.FindRole(ctx, workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("メンバーシップの取得に失敗しました: %w", err)
	}
	if role == nil {
		return nil, model.NewWorkspaceNotFoundError(workspaceID)
	}
	return profile, nil
}

// AuthorizeAdmin はAuthorizeに加えて管理者であることを要求する。
func (s *Service) AuthorizeAdmin(ctx context.Context, userID, workspaceID string) (*model.Profile, error) {
	profile, err := s.Authorize(ctx, userID, workspaceID)
	if err != nil {
		return nil, err
	}
	if !profile.IsAdmin() {
		return nil, model.NewForbiddenError()
	}
	return profile, nil
}

// ListMine はユーザーが閲覧できるワークスペースをロール付きで返す。
func (s *Service) ListMine(ctx context.Context, userID string) ([]model.WorkspaceWithRole, error) {
	profile, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return []model.WorkspaceWithRole{}, nil
	}

	if !profile.IsAdmin() {
		list, err := s.workspaceRepo.ListByMember(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("ワークスペース一覧の取得に失敗しました: %w", err)
		}
		return list, nil
	}

	all, err := s.workspaceRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("ワークスペース一覧の取得に失敗しました: %w", err)
	}
	result := make([]model.WorkspaceWithRole, len(all))
	for i, ws := range all {
		result[i] = model.WorkspaceWithRole{Workspace: *ws, Role: model.RoleAdmin}
	}
	return result, nil
}

// Get はワークスペースを返す。
func (s *Service) Get(ctx context.Context, userID, workspaceID string) (*model.Workspace, error) {
	if _, err := s.Authorize(ctx, userID, workspaceID); err != nil {
		return nil, err
	}
	ws, err := s.workspaceRepo.FindByID(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("ワークスペースの取得に失敗しました: %w", err)
	}
	if ws == nil {
		return nil, model.NewWorkspaceNotFoundError(workspaceID)
	}
	return ws, nil
}

// Create はワークスペースを作成し、作成者を管理者メンバーとして追加する。管理者のみ。
func (s *Service) Create(ctx context.Context, userID, name string, description *string) (*model.Workspace, error) {
	profile, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if !profile.IsAdmin() {
		return nil, model.NewForbiddenError()
	}

	name, err = validateName(name)
	if err != nil {
		return nil, err
	}

	slug, err := NewSlug(name)
	if err != nil {
		return nil, fmt.Errorf("スラッグの生成に失敗しました: %w", err)
	}

	now := time.Now()
	ws := &model.Workspace{
		ID:          uuid.New().String(),
		Name:        name,
		Slug:        slug,
		Description: trimOptional(description),
		CreatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	member := &model.WorkspaceMember{
		ID:          uuid.New().String(),
		WorkspaceID: ws.ID,
		UserID:      userID,
		Role:        model.RoleAdmin,
		CreatedAt:   now,
	}

	if err := s.workspaceRepo.CreateWithAdmin(ctx, ws, member); err != nil {
		return nil, fmt.Errorf("ワークスペースの作成に失敗しました: %w", err)
	}

	slog.Info("workspace created",
		slog.String("workspace_id", ws.ID),
		slog.String("slug", ws.Slug),
		slog.String("user_id", userID),
	)
	return ws, nil
}

// Rename はワークスペース名を変更する。管理者のみ。
func (s *Service) Rename(ctx context.Context, userID, workspaceID, name string) (*model.Workspace, error) {
	if _, err := s.AuthorizeAdmin(ctx, userID, workspaceID); err != nil {
		return nil, err
	}

	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	if err := s.workspaceRepo.Rename(ctx, workspaceID, name); err != nil {
		return nil, fmt.Errorf("ワークスペース名の更新に失敗しました: %w", err)
	}
	return s.Get(ctx, userID, workspaceID)
}

// ListMembers はワークスペースのメンバー一覧を返す。
func (s *Service) ListMembers(ctx context.Context, userID, workspaceID string) ([]model.WorkspaceMember, error) {
	if _, err := s.Authorize(ctx, userID, workspaceID); err != nil {
		return nil, err
	}
	members, err := s.memberRepo.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("メンバー一覧の取得に失敗しました: %w", err)
	}
	return members, nil
}

// AddMember はユーザーをワークスペースに追加する。管理者のみ。roleが空の場合はclient。
func (s *Service) AddMember(ctx context.Context, userID, workspaceID, memberUserID string, role model.Role) (*model.WorkspaceMember, error) {
	role, err := s.prepareAddMember(ctx, userID, workspaceID, role)
	if err != nil {
		return nil, err
	}

	target, err := s.profileRepo.FindByID(ctx, memberUserID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if target == nil {
		return nil, model.NewUserNotFoundError()
	}
	return s.addMember(ctx, workspaceID, target, role)
}

// AddMemberByEmail はメールアドレスで指定したユーザーをワークスペースに追加する。
// 未登録のアドレスは先に招待が必要なためUSER_NOT_FOUNDを返す。
func (s *Service) AddMemberByEmail(ctx context.Context, userID, workspaceID, email string, role model.Role) (*model.WorkspaceMember, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, model.NewValidationError("メールアドレスは必須です。")
	}
	role, err := s.prepareAddMember(ctx, userID, workspaceID, role)
	if err != nil {
		return nil, err
	}

	target, err := s.profileRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if target == nil {
		return nil, model.NewUserNotFoundError()
	}
	return s.addMember(ctx, workspaceID, target, role)
}

func (s *Service) prepareAddMember(ctx context.Context, userID, workspaceID string, role model.Role) (model.Role, error) {
	if _, err := s.AuthorizeAdmin(ctx, userID, workspaceID); err != nil {
		return "", err
	}
	if role == "" {
		role = model.RoleClient
	}
	if !role.Valid() {
		return "", model.NewValidationError("ロールはadminまたはclientを指定してください。")
	}
	return role, nil
}

func (s *Service) addMember(ctx context.Context, workspaceID string, target *model.Profile, role model.Role) (*model.WorkspaceMember, error) {
	member := &model.WorkspaceMember{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		UserID:      target.ID,
		Role:        role,
		CreatedAt:   time.Now(),
		FullName:    target.FullName,
		Email:       target.Email,
	}
	if err := s.memberRepo.Add(ctx, member); err != nil {
		return nil, fmt.Errorf("メンバーの追加に失敗しました: %w", err)
	}
	return member, nil
}

// RemoveMember はユーザーをワークスペースから外す。管理者のみ。自分自身は外せない。
func (s *Service) RemoveMember(ctx context.Context, userID, workspaceID, memberUserID string) error {
	if _, err := s.AuthorizeAdmin(ctx, userID, workspaceID); err != nil {
		return err
	}
	if memberUserID == userID {
		return model.NewSelfModificationError("自分自身をワークスペースから外すことはできません。")
	}

	if err := s.memberRepo.Remove(ctx, workspaceID, memberUserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.NewMemberNotFoundError(memberUserID)
		}
		return fmt.Errorf("メンバーの削除に失敗しました: %w", err)
	}
	return nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", model.NewValidationError("ワークスペース名は必須です。")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", model.NewValidationError(fmt.Sprintf("ワークスペース名は%d文字以内で入力してください。", MaxNameLength))
	}
	return name, nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
