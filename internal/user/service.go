// Package user はプロフィール管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/clientportal/internal/model"
	"github.com/hitoshi/clientportal/internal/repository"
	"github.com/hitoshi/clientportal/internal/security"
)

// UpdateProfileInput はプロフィール更新の入力。
// AvatarURLがnilの場合は現在のアバターを維持し、空文字列の場合は削除する。
type UpdateProfileInput struct {
	FullName  string
	AvatarURL *string
}

// Service はプロフィール管理のサービス層。
type Service struct {
	profileRepo repository.ProfileRepository
	prober      AvatarProber
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(profileRepo repository.ProfileRepository, prober AvatarProber) *Service {
	return &Service{
		profileRepo: profileRepo,
		prober:      prober,
	}
}

// GetMe はログイン中のユーザーのプロフィールを返す。
func (s *Service) GetMe(ctx context.Context, userID string) (*model.Profile, error) {
	profile, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewUserNotFoundError()
	}
	return profile, nil
}

// UpdateProfile は表示名と（指定された場合は）アバターURLを更新する。
func (s *Service) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*model.Profile, error) {
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		return nil, model.NewValidationError("氏名は必須です。")
	}

	if _, err := s.GetMe(ctx, userID); err != nil {
		return nil, err
	}

	if in.AvatarURL == nil {
		if err := s.profileRepo.UpdateFullName(ctx, userID, fullName); err != nil {
			return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
		}
		return s.GetMe(ctx, userID)
	}

	var avatarURL *string
	if v := strings.TrimSpace(*in.AvatarURL); v != "" {
		if err := s.probeAvatar(ctx, v); err != nil {
			return nil, err
		}
		avatarURL = &v
	}

	if err := s.profileRepo.UpdateProfile(ctx, userID, fullName, avatarURL); err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	slog.Info("profile updated",
		slog.String("user_id", userID),
		slog.Bool("avatar_changed", true),
	)
	return s.GetMe(ctx, userID)
}

func (s *Service) probeAvatar(ctx context.Context, avatarURL string) error {
	if s.prober == nil {
		return nil
	}
	err := s.prober.Probe(ctx, avatarURL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, security.ErrBlockedDestination):
		return model.NewSSRFBlockedError()
	default:
		return model.NewInvalidURLError(err.Error())
	}
}
