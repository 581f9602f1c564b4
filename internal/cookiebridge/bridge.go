// Package cookiebridge はリクエストのCookieとレスポンスのSet-Cookieを橋渡しする。
//
// IdPクライアントはBridge経由で現在のCookieを読み、新しいCookieをステージする。
// ステージしたCookieは同一リクエスト内の後続処理からも見えるように
// リクエスト側のCookieヘッダーへ即時反映され、最終的なレスポンス
// （リダイレクトを含む）にPendingCookieSetとして明示的に付与される。
package cookiebridge

import (
	"net/http"
	"strings"
	"time"
)

// Cookie はリクエストに含まれるCookieの名前と値。
type Cookie struct {
	Name  string
	Value string
}

// Options はSet-Cookieの属性。
type Options struct {
	Path     string
	Domain   string
	MaxAge   int // 負の値は削除を意味する
	Expires  time.Time
	HttpOnly bool
	Secure   bool
	SameSite http.SameSite
}

// CookieToSet はステージ対象のCookie。
type CookieToSet struct {
	Name    string
	Value   string
	Options Options
}

// expired は削除指示のCookieかどうかを返す。
func (c CookieToSet) expired() bool {
	return c.Options.MaxAge < 0
}

// HTTPCookie はnet/httpのCookieに変換する。
func (c CookieToSet) HTTPCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Options.Path,
		Domain:   c.Options.Domain,
		MaxAge:   c.Options.MaxAge,
		Expires:  c.Options.Expires,
		HttpOnly: c.Options.HttpOnly,
		Secure:   c.Options.Secure,
		SameSite: c.Options.SameSite,
	}
}

// PendingCookieSet はレスポンスに付与するCookieの順序付きリスト。
// 1リクエストの間だけ存在する。
type PendingCookieSet []CookieToSet

// Apply はすべてのCookieをSet-Cookieヘッダーとしてレスポンスに付与する。
// ヘッダー送信前に呼び出す必要がある。
func (p PendingCookieSet) Apply(w http.ResponseWriter) {
	for _, c := range p {
		http.SetCookie(w, c.HTTPCookie())
	}
}

// Names はステージされたCookie名を順序どおりに返す。
func (p PendingCookieSet) Names() []string {
	names := make([]string, len(p))
	for i, c := range p {
		names[i] = c.Name
	}
	return names
}

// Bridge は1組のリクエスト/レスポンスに閉じたCookieアダプタ。
// プロセス全体で共有してはならない。
type Bridge struct {
	req     *http.Request
	pending PendingCookieSet
}

// New は指定リクエストに紐づくBridgeを生成する。
func New(r *http.Request) *Bridge {
	return &Bridge{req: r}
}

// ReadAll は現在のリクエストのCookieをフィルタせずにそのまま返す。
func (b *Bridge) ReadAll() []Cookie {
	cookies := b.req.Cookies()
	out := make([]Cookie, len(cookies))
	for i, c := range cookies {
		out[i] = Cookie{Name: c.Name, Value: c.Value}
	}
	return out
}

// WriteAll はCookieをリクエスト側へ反映しつつレスポンス用にステージする。
// 同名Cookieは後勝ちで、最初にステージされた位置を維持する。
func (b *Bridge) WriteAll(cookies []CookieToSet) {
	for _, c := range cookies {
		b.applyToRequest(c)
		b.stage(c)
	}
}

// Pending はステージ済みCookieのコピーを返す。
func (b *Bridge) Pending() PendingCookieSet {
	out := make(PendingCookieSet, len(b.pending))
	copy(out, b.pending)
	return out
}

// Request はBridgeが参照しているリクエストを返す。
func (b *Bridge) Request() *http.Request {
	return b.req
}

func (b *Bridge) stage(c CookieToSet) {
	for i := range b.pending {
		if b.pending[i].Name == c.Name {
			b.pending[i] = c
			return
		}
	}
	b.pending = append(b.pending, c)
}

// applyToRequest はリクエストのCookieヘッダーを書き換える。
// 後続のr.Cookie()呼び出しが更新後の値を返すようにする。
func (b *Bridge) applyToRequest(c CookieToSet) {
	current := b.req.Cookies()
	kept := make([]string, 0, len(current)+1)
	for _, existing := range current {
		if existing.Name == c.Name {
			continue
		}
		kept = append(kept, (&http.Cookie{Name: existing.Name, Value: existing.Value}).String())
	}
	if !c.expired() {
		kept = append(kept, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}

	if len(kept) == 0 {
		b.req.Header.Del("Cookie")
		return
	}
	b.req.Header.Set("Cookie", strings.Join(kept, "; "))
}

// Redirect はステージ済みCookieをすべて付与してからリダイレクトを書き込む。
// フレームワークのリダイレクトは先に書かれたCookieを引き継がないため、
// 認証フローの終端はすべてこの関数を経由する。
func Redirect(w http.ResponseWriter, r *http.Request, location string, status int, pending PendingCookieSet) {
	pending.Apply(w)
	http.Redirect(w, r, location, status)
}
