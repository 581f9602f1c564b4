package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/clientportal/internal/auth"
	"github.com/hitoshi/clientportal/internal/cookiebridge"
	"github.com/hitoshi/clientportal/internal/identity"
	"github.com/hitoshi/clientportal/internal/metrics"
	"github.com/hitoshi/clientportal/internal/model"
)

// --- モック定義 ---

type mockCollector struct {
	metrics.Nop
	decisions []string
	statuses  []int
}

func (m *mockCollector) RecordGatekeeperDecision(decision string) {
	m.decisions = append(m.decisions, decision)
}

func (m *mockCollector) RecordHTTPStatus(statusCode int) {
	m.statuses = append(m.statuses, statusCode)
}

type mockUserLoader struct {
	getUserFn func(ctx context.Context) (*model.AuthUser, error)
}

func (m *mockUserLoader) GetUser(ctx context.Context) (*model.AuthUser, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx)
	}
	return nil, identity.ErrNoSession
}

// loaderFactory はGetUserの呼び出し回数を数えるUserLoaderFactoryを返す。
// refreshedが指定された場合はCookieストアへ新しいセッションCookieを書き込む。
func loaderFactory(user *model.AuthUser, err error, refreshed *cookiebridge.CookieToSet, calls *int) UserLoaderFactory {
	return func(cookies identity.CookieStore) UserLoader {
		return &mockUserLoader{
			getUserFn: func(_ context.Context) (*model.AuthUser, error) {
				*calls++
				if refreshed != nil {
					cookies.WriteAll([]cookiebridge.CookieToSet{*refreshed})
				}
				return user, err
			},
		}
	}
}

func newTestGatekeeper(factory UserLoaderFactory, collector metrics.MetricsCollector) func(http.Handler) http.Handler {
	return NewGatekeeperMiddleware(factory, GatekeeperConfig{
		Paths:           auth.DefaultPaths(),
		ExcludePrefixes: []string{"/health"},
	}, collector)
}

// passThrough は到達したことを記録して200を返すハンドラー。
func passThrough(reached *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*reached = true
		w.WriteHeader(http.StatusOK)
	})
}

// --- テスト ---

func TestGatekeeper_CallbackIsBypassed(t *testing.T) {
	paths := []string{
		"/auth/callback",
		"/auth/callback?code=xyz",
		"/auth/callback/extra?token_hash=abc&type=invite",
	}

	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			calls := 0
			refreshed := &cookiebridge.CookieToSet{Name: "sb-x-auth-token", Value: "new"}
			reached := false
			handler := newTestGatekeeper(loaderFactory(nil, nil, refreshed, &calls), nil)(passThrough(&reached))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))

			if calls != 0 {
				t.Errorf("session refresh called %d times, want 0", calls)
			}
			if !reached || w.Code != http.StatusOK {
				t.Errorf("reached=%v status=%d, want pass-through", reached, w.Code)
			}
			if len(w.Result().Cookies()) != 0 {
				t.Error("callback must not receive cookies from the gatekeeper")
			}
		})
	}
}

func TestGatekeeper_StaticAssetsAreBypassed(t *testing.T) {
	paths := []string{"/static/app.js", "/assets/logo", "/favicon.ico", "/images/hero.PNG", "/fonts/a.woff2", "/health"}

	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			calls := 0
			reached := false
			handler := newTestGatekeeper(loaderFactory(nil, nil, nil, &calls), nil)(passThrough(&reached))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))

			if calls != 0 || !reached {
				t.Errorf("calls=%d reached=%v, want 0/true", calls, reached)
			}
		})
	}
}

func TestGatekeeper_AnonymousProtectedRedirectsToLogin(t *testing.T) {
	calls := 0
	reached := false
	handler := newTestGatekeeper(loaderFactory(nil, identity.ErrNoSession, nil, &calls), nil)(passThrough(&reached))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard/foo/bar?tab=files", nil))

	if reached {
		t.Fatal("handler should not be called")
	}
	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
	want := "/login?redirectedFrom=%2Fdashboard%2Ffoo%2Fbar"
	if got := w.Header().Get("Location"); got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
}

func TestGatekeeper_AllowListReachableWithoutSession(t *testing.T) {
	calls := 0
	reached := false
	handler := newTestGatekeeper(loaderFactory(nil, identity.ErrNoSession, nil, &calls), nil)(passThrough(&reached))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard/reset-password?type=invite", nil))

	if !reached || w.Code != http.StatusOK {
		t.Errorf("reached=%v status=%d, want pass-through", reached, w.Code)
	}
}

func TestGatekeeper_AuthenticatedAtLoginRedirectsToRoot(t *testing.T) {
	queries := []string{"", "?redirectedFrom=%2Fdashboard%2Fx", "?error=invalid_link"}

	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			calls := 0
			reached := false
			user := &model.AuthUser{ID: "user-1"}
			handler := newTestGatekeeper(loaderFactory(user, nil, nil, &calls), nil)(passThrough(&reached))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login"+q, nil))

			if reached {
				t.Fatal("handler should not be called")
			}
			if w.Code != http.StatusTemporaryRedirect || w.Header().Get("Location") != "/dashboard" {
				t.Errorf("status=%d Location=%q, want 307 /dashboard", w.Code, w.Header().Get("Location"))
			}
		})
	}
}

func TestGatekeeper_AnonymousAtLoginPassesThrough(t *testing.T) {
	calls := 0
	reached := false
	handler := newTestGatekeeper(loaderFactory(nil, identity.ErrNoSession, nil, &calls), nil)(passThrough(&reached))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/login", nil))

	if !reached || calls != 1 {
		t.Errorf("reached=%v calls=%d, want true/1", reached, calls)
	}
}

func TestGatekeeper_RefreshFailureIsAnonymous(t *testing.T) {
	calls := 0
	reached := false
	handler := newTestGatekeeper(loaderFactory(nil, errors.New("refresh_token_not_found"), nil, &calls), nil)(passThrough(&reached))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
}

func TestGatekeeper_InjectsUserAndPropagatesRefreshedCookie(t *testing.T) {
	calls := 0
	user := &model.AuthUser{ID: "user-1"}
	refreshed := &cookiebridge.CookieToSet{Name: "sb-x-auth-token", Value: "fresh", Options: cookiebridge.Options{Path: "/"}}

	var gotUser *model.AuthUser
	var gotCookie string
	handler := newTestGatekeeper(loaderFactory(user, nil, refreshed, &calls), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = AuthUserFromContext(r.Context())
		if c, err := r.Cookie("sb-x-auth-token"); err == nil {
			gotCookie = c.Value
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/dashboard/files", nil)
	req.AddCookie(&http.Cookie{Name: "sb-x-auth-token", Value: "stale"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if gotUser == nil || gotUser.ID != "user-1" {
		t.Errorf("user = %v, want user-1", gotUser)
	}
	if gotCookie != "fresh" {
		t.Errorf("downstream cookie = %q, want fresh", gotCookie)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != "fresh" {
		t.Errorf("response cookies = %v, want refreshed session", cookies)
	}
}

func TestGatekeeper_RedirectCarriesPendingCookies(t *testing.T) {
	calls := 0
	cleared := &cookiebridge.CookieToSet{Name: "sb-x-auth-token", Value: "", Options: cookiebridge.Options{Path: "/", MaxAge: -1}}
	reached := false
	handler := newTestGatekeeper(loaderFactory(nil, errors.New("expired"), cleared, &calls), nil)(passThrough(&reached))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if len(w.Header().Values("Set-Cookie")) != 1 {
		t.Errorf("Set-Cookie = %v, want the cleared session cookie", w.Header().Values("Set-Cookie"))
	}
}

func TestGatekeeper_RecordsDecisions(t *testing.T) {
	collector := &mockCollector{}
	calls := 0
	reached := false
	handler := newTestGatekeeper(loaderFactory(nil, identity.ErrNoSession, nil, &calls), collector)(passThrough(&reached))

	for _, p := range []string{"/favicon.ico", "/auth/callback", "/dashboard", "/"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	want := []string{"static", "callback", "redirect_login", "pass"}
	if len(collector.decisions) != len(want) {
		t.Fatalf("decisions = %v, want %v", collector.decisions, want)
	}
	for i := range want {
		if collector.decisions[i] != want[i] {
			t.Errorf("decisions[%d] = %q, want %q", i, collector.decisions[i], want[i])
		}
	}
}
