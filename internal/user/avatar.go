package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/clientportal/internal/security"
)

// maxAvatarSize はアバター画像の最大サイズ（5MB）。
const maxAvatarSize = 5 * 1024 * 1024

// avatarProbeTimeout はアバターURL確認のタイムアウト。
const avatarProbeTimeout = 5 * time.Second

// ErrNotAnImage はURLの取得結果が画像でないことを示す。
var ErrNotAnImage = errors.New("avatar URL does not point to an image")

// AvatarProber はアバター画像URLが実際に取得可能な画像であることを確認する。
type AvatarProber interface {
	Probe(ctx context.Context, avatarURL string) error
}

// SafeAvatarProber はSSRF防止付きHTTPクライアントでアバターURLを確認する。
type SafeAvatarProber struct {
	ssrfGuard security.SSRFGuardService
	client    *http.Client
}

// NewSafeAvatarProber はSafeAvatarProberを生成する。
func NewSafeAvatarProber(ssrfGuard security.SSRFGuardService) *SafeAvatarProber {
	return &SafeAvatarProber{
		ssrfGuard: ssrfGuard,
		client:    ssrfGuard.NewSafeClient(avatarProbeTimeout, maxAvatarSize),
	}
}

// Probe はURLを静的に検証した後、HEADリクエストで画像であることを確認する。
// 静的検証の失敗はsecurity.ValidateURLのエラーをそのまま返す。
func (p *SafeAvatarProber) Probe(ctx context.Context, avatarURL string) error {
	if err := p.ssrfGuard.ValidateURL(avatarURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, avatarURL, nil)
	if err != nil {
		return fmt.Errorf("invalid avatar URL: %w", err)
	}
	req.Header.Set("User-Agent", "ClientPortal/1.0 AvatarCheck")

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Warn("avatar probe failed", slog.String("url", avatarURL), slog.String("error", err.Error()))
		return fmt.Errorf("avatar URL is unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("avatar URL returned status %d: %w", resp.StatusCode, ErrNotAnImage)
	}
	if resp.ContentLength > maxAvatarSize {
		return fmt.Errorf("avatar is too large (%d bytes): %w", resp.ContentLength, ErrNotAnImage)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return fmt.Errorf("content type %q: %w", resp.Header.Get("Content-Type"), ErrNotAnImage)
	}
	return nil
}
