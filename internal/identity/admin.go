package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/clientportal/internal/model"
)

// ErrAdminUnavailable はservice roleキーが設定されていない場合のエラー。
var ErrAdminUnavailable = errors.New("identity admin api is not configured")

// AdminClient はservice roleキーで管理APIを呼び出すクライアント。
// Cookieに依存しないためプロセス全体で共有してよい。
type AdminClient struct {
	transport  transport
	configured bool
}

// NewAdminClient はAdminClientを生成する。serviceKeyが空の場合は全操作がErrAdminUnavailableを返す。
func NewAdminClient(baseURL, serviceKey string, httpClient *http.Client) *AdminClient {
	return &AdminClient{
		transport:  newTransport(baseURL, serviceKey, httpClient),
		configured: serviceKey != "",
	}
}

// InviteUserByEmail は招待メールを送信し、作成されたユーザーを返す。
// redirectToは招待リンクの着地点（/auth/callback）。
func (a *AdminClient) InviteUserByEmail(ctx context.Context, email string, data map[string]any, redirectTo string) (*model.AuthUser, error) {
	if !a.configured {
		return nil, ErrAdminUnavailable
	}

	body := map[string]any{"email": email}
	if len(data) > 0 {
		body["data"] = data
	}
	var query url.Values
	if redirectTo != "" {
		query = url.Values{"redirect_to": {redirectTo}}
	}

	var u userJSON
	if err := a.transport.do(ctx, "invite_user", http.MethodPost, "/invite", query, "", body, &u); err != nil {
		return nil, fmt.Errorf("failed to invite user: %w", err)
	}
	return u.toModel(), nil
}

// DeleteUser は認証ユーザーを削除する。プロフィール等はDB側のカスケードで削除される。
func (a *AdminClient) DeleteUser(ctx context.Context, userID string) error {
	if !a.configured {
		return ErrAdminUnavailable
	}
	if err := a.transport.do(ctx, "delete_user", http.MethodDelete, "/admin/users/"+url.PathEscape(userID), nil, "", nil, nil); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}
