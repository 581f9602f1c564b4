package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/clientportal/internal/cookiebridge"
	"github.com/hitoshi/clientportal/internal/model"
)

const (
	// base64Prefix はセッションCookie値の接頭辞。
	base64Prefix = "base64-"

	// maxChunkSize はCookie1個あたりの最大長。超える場合は .0, .1, ... に分割する。
	maxChunkSize = 3180

	// sessionCookieMaxAge はセッションCookieの有効期間（400日）。
	sessionCookieMaxAge = 400 * 24 * 60 * 60

	codeVerifierSuffix = "-code-verifier"
)

// Session はIdPが発行したトークンペア。Cookieに保存される不透明な資格情報。
type Session struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
	User         *userJSON `json:"user,omitempty"`
}

// expiresWithin はアクセストークンが指定時間内に失効するかどうかを返す。
// expires_atが0の場合は失効扱いとする。
func (s *Session) expiresWithin(margin time.Duration, now time.Time) bool {
	if s.ExpiresAt == 0 {
		return true
	}
	return time.Unix(s.ExpiresAt, 0).Before(now.Add(margin))
}

// userJSON はIdPのユーザーオブジェクト。
type userJSON struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	CreatedAt    time.Time      `json:"created_at"`
	LastSignInAt *time.Time     `json:"last_sign_in_at,omitempty"`
	InvitedAt    *time.Time     `json:"invited_at,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

func (u *userJSON) toModel() *model.AuthUser {
	if u == nil {
		return nil
	}
	return &model.AuthUser{
		ID:           u.ID,
		Email:        u.Email,
		CreatedAt:    u.CreatedAt,
		LastSignInAt: u.LastSignInAt,
		InvitedAt:    u.InvitedAt,
		UserMetadata: u.UserMetadata,
	}
}

// StorageKey はIdPのベースURLからセッションCookie名を導出する。
// 例: https://abcd.supabase.co → sb-abcd-auth-token
func StorageKey(baseURL string) string {
	ref := "local"
	if u, err := url.Parse(baseURL); err == nil && u.Hostname() != "" {
		ref = strings.SplitN(u.Hostname(), ".", 2)[0]
	}
	return "sb-" + ref + "-auth-token"
}

// cookieCodec はセッションとCookieの相互変換を行う。
type cookieCodec struct {
	key     string
	options cookiebridge.Options
}

// encodeSession はセッションをCookie値にエンコードする。
func encodeSession(s *Session) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	return base64Prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// decodeSession はCookie値をセッションにデコードする。
// 接頭辞のない値は生のJSONとして扱う。
func decodeSession(value string) (*Session, error) {
	raw := []byte(value)
	if strings.HasPrefix(value, base64Prefix) {
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, base64Prefix))
		if err != nil {
			return nil, fmt.Errorf("failed to decode session cookie: %w", err)
		}
		raw = decoded
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session cookie: %w", err)
	}
	if s.AccessToken == "" {
		return nil, fmt.Errorf("session cookie has no access token")
	}
	return &s, nil
}

// read はCookie一覧からセッションCookie値を組み立てる。
// 単一Cookieを優先し、なければ .0 から連番のチャンクを連結する。
func (c cookieCodec) read(cookies []cookiebridge.Cookie) (string, bool) {
	byName := make(map[string]string, len(cookies))
	for _, ck := range cookies {
		byName[ck.Name] = ck.Value
	}

	if v, ok := byName[c.key]; ok && v != "" {
		return v, true
	}

	var sb strings.Builder
	for i := 0; ; i++ {
		v, ok := byName[c.chunkName(i)]
		if !ok {
			break
		}
		sb.WriteString(v)
	}
	if sb.Len() == 0 {
		return "", false
	}
	return sb.String(), true
}

// write は新しいCookie値を書き込むCookie群を返す。
// 不要になった単一Cookieや古いチャンクには削除指示を出す。
func (c cookieCodec) write(value string, existing []cookiebridge.Cookie) []cookiebridge.CookieToSet {
	var out []cookiebridge.CookieToSet
	written := make(map[string]bool)

	if len(value) <= maxChunkSize {
		out = append(out, cookiebridge.CookieToSet{Name: c.key, Value: value, Options: c.options})
		written[c.key] = true
	} else {
		for i := 0; i*maxChunkSize < len(value); i++ {
			end := (i + 1) * maxChunkSize
			if end > len(value) {
				end = len(value)
			}
			name := c.chunkName(i)
			out = append(out, cookiebridge.CookieToSet{Name: name, Value: value[i*maxChunkSize : end], Options: c.options})
			written[name] = true
		}
	}

	for _, name := range c.sessionCookieNames(existing) {
		if !written[name] {
			out = append(out, c.removal(name))
		}
	}
	return out
}

// clear はセッションCookieをすべて削除するCookie群を返す。
func (c cookieCodec) clear(existing []cookiebridge.Cookie) []cookiebridge.CookieToSet {
	var out []cookiebridge.CookieToSet
	for _, name := range c.sessionCookieNames(existing) {
		out = append(out, c.removal(name))
	}
	return out
}

func (c cookieCodec) verifierName() string {
	return c.key + codeVerifierSuffix
}

func (c cookieCodec) chunkName(i int) string {
	return c.key + "." + strconv.Itoa(i)
}

func (c cookieCodec) removal(name string) cookiebridge.CookieToSet {
	opts := c.options
	opts.MaxAge = -1
	return cookiebridge.CookieToSet{Name: name, Value: "", Options: opts}
}

// sessionCookieNames は既存Cookieのうちセッション本体またはチャンクに該当する名前を返す。
func (c cookieCodec) sessionCookieNames(existing []cookiebridge.Cookie) []string {
	var names []string
	for _, ck := range existing {
		if ck.Name == c.key {
			names = append(names, ck.Name)
			continue
		}
		suffix, ok := strings.CutPrefix(ck.Name, c.key+".")
		if !ok {
			continue
		}
		if _, err := strconv.Atoi(suffix); err == nil {
			names = append(names, ck.Name)
		}
	}
	sort.Strings(names)
	return names
}
