package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitoshi/clientportal/internal/auth"
	"github.com/hitoshi/clientportal/internal/identity"
	"github.com/hitoshi/clientportal/internal/middleware"
	"github.com/hitoshi/clientportal/internal/model"
)

const testSessionCookie = "sb-test-auth-token"

// routerUserLoader はセッションCookieの有無だけで認証状態を判定するUserLoader。
type routerUserLoader struct {
	cookies identity.CookieStore
	calls   *int
}

func (l *routerUserLoader) GetUser(ctx context.Context) (*model.AuthUser, error) {
	*l.calls++
	for _, c := range l.cookies.ReadAll() {
		if c.Name == testSessionCookie && c.Value != "" {
			return &model.AuthUser{ID: "user-1", Email: "user@example.com"}, nil
		}
	}
	return nil, identity.ErrNoSession
}

// newTestRouterDeps はモックサービスで構成したRouterDepsを返す。
func newTestRouterDeps(t *testing.T, loaderCalls *int) *RouterDeps {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return &RouterDeps{
		UserLoaderFactory: func(cookies identity.CookieStore) middleware.UserLoader {
			return &routerUserLoader{cookies: cookies, calls: loaderCalls}
		},
		Paths:             auth.DefaultPaths(),
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		AuthService:       &mockAuthService{},
		WorkspaceService:  &mockWorkspaceService{},
		BoardService:      &mockBoardService{},
		CommentService:    &mockCommentService{},
		VaultService:      &mockVaultService{},
		TeamService:       &mockTeamService{},
		ProfileService:    &mockProfileService{},
		Events:            &mockEventStreamer{},
	}
}

func withSession(r *http.Request) *http.Request {
	r.AddCookie(&http.Cookie{Name: testSessionCookie, Value: "token"})
	return r
}

func TestRouter_CallbackBypassesSessionCheck(t *testing.T) {
	var calls int
	deps := newTestRouterDeps(t, &calls)
	deps.AuthService = &mockAuthService{
		handleCallbackFn: func(ctx context.Context, cookies identity.CookieStore, in auth.InboundAuthRequest) auth.Outcome {
			return auth.Outcome{Kind: auth.OutcomeDefault}
		},
	}
	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil))

	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
	if got := w.Header().Get("Location"); got != "/dashboard" {
		t.Errorf("Location = %q, want /dashboard", got)
	}
	if calls != 0 {
		t.Errorf("session checked %d times on the callback, want 0", calls)
	}
}

func TestRouter_AnonymousProtectedPageRedirectsToLogin(t *testing.T) {
	var calls int
	router := NewRouter(newTestRouterDeps(t, &calls))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard/tasks", nil))

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
	if got := w.Header().Get("Location"); got != "/login?redirectedFrom=%2Fdashboard%2Ftasks" {
		t.Errorf("Location = %q", got)
	}
	if calls != 1 {
		t.Errorf("session checked %d times, want 1", calls)
	}
}

func TestRouter_PasswordSetupIsReachableWithoutSession(t *testing.T) {
	var calls int
	deps := newTestRouterDeps(t, &calls)
	deps.StaticDir = writeStaticFixture(t)
	router := NewRouter(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard/reset-password?type=invite", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_AuthenticatedLoginRedirectsToDashboard(t *testing.T) {
	var calls int
	router := NewRouter(newTestRouterDeps(t, &calls))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, withSession(httptest.NewRequest(http.MethodGet, "/login", nil)))

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
	if got := w.Header().Get("Location"); got != "/dashboard" {
		t.Errorf("Location = %q, want /dashboard", got)
	}
}

func TestRouter_APIRequiresUser(t *testing.T) {
	var calls int
	router := NewRouter(newTestRouterDeps(t, &calls))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/workspaces", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRouter_APIWithSession(t *testing.T) {
	var calls int
	router := NewRouter(newTestRouterDeps(t, &calls))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, withSession(httptest.NewRequest(http.MethodGet, "/api/workspaces", nil)))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_MutationRequiresCSRFToken(t *testing.T) {
	var calls int
	router := NewRouter(newTestRouterDeps(t, &calls))

	t.Run("missing token", func(t *testing.T) {
		req := withSession(httptest.NewRequest(http.MethodPost, "/api/workspaces", strings.NewReader(`{"name":"Acme"}`)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("matching token", func(t *testing.T) {
		req := withSession(httptest.NewRequest(http.MethodPost, "/api/workspaces", strings.NewReader(`{"name":"Acme"}`)))
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok"})
		req.Header.Set("X-CSRF-Token", "tok")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusCreated {
			t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
		}
	})
}

func TestRouter_LoginAndLogoutRequireCSRFToken(t *testing.T) {
	var calls int
	deps := newTestRouterDeps(t, &calls)
	var signIns, signOuts int
	deps.AuthService = &mockAuthService{
		signInFn: func(ctx context.Context, cookies identity.CookieStore, email, password string) (*model.AuthUser, error) {
			signIns++
			return &model.AuthUser{ID: "user-1", Email: email}, nil
		},
		signOutFn: func(ctx context.Context, cookies identity.CookieStore) error {
			signOuts++
			return nil
		},
	}
	router := NewRouter(deps)

	newLogin := func() *http.Request {
		return httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"email":"user@example.com","password":"secret123"}`))
	}
	withToken := func(r *http.Request) *http.Request {
		r.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok"})
		r.Header.Set("X-CSRF-Token", "tok")
		return r
	}

	tests := []struct {
		name     string
		req      *http.Request
		wantCode int
	}{
		{"login without token", newLogin(), http.StatusForbidden},
		{"login with mismatched token", func() *http.Request {
			r := withToken(newLogin())
			r.Header.Set("X-CSRF-Token", "other")
			return r
		}(), http.StatusForbidden},
		{"logout without token", withSession(httptest.NewRequest(http.MethodPost, "/auth/logout", nil)), http.StatusForbidden},
		{"login with token", withToken(newLogin()), http.StatusOK},
		{"logout with token", withToken(withSession(httptest.NewRequest(http.MethodPost, "/auth/logout", nil))), http.StatusSeeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, tt.req)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}

	// トークンなしのリクエストはサービスまで届かない
	if signIns != 1 {
		t.Errorf("SignIn called %d times, want 1", signIns)
	}
	if signOuts != 1 {
		t.Errorf("SignOut called %d times, want 1", signOuts)
	}
}

func TestRouter_CSRFTokenWithoutSession(t *testing.T) {
	var calls int
	router := NewRouter(newTestRouterDeps(t, &calls))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"token"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRouter_HealthSkipsSessionCheck(t *testing.T) {
	var calls int
	router := NewRouter(newTestRouterDeps(t, &calls))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if calls != 0 {
		t.Errorf("session checked %d times on /health, want 0", calls)
	}
}

func TestRouter_MetricsHiddenWithoutGatherer(t *testing.T) {
	var calls int
	router := NewRouter(newTestRouterDeps(t, &calls))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRouter_SecurityHeaders(t *testing.T) {
	var calls int
	router := NewRouter(newTestRouterDeps(t, &calls))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

// --- 静的ファイル ---

func writeStaticFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>portal</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestRouter_StaticFiles(t *testing.T) {
	var calls int
	deps := newTestRouterDeps(t, &calls)
	deps.StaticDir = writeStaticFixture(t)
	router := NewRouter(deps)

	tests := []struct {
		name       string
		method     string
		path       string
		session    bool
		wantStatus int
		wantBody   string
	}{
		{"existing file", http.MethodGet, "/app.js", false, http.StatusOK, "console.log"},
		{"login page falls back to index", http.MethodGet, "/login", false, http.StatusOK, "portal"},
		{"dashboard route falls back to index", http.MethodGet, "/dashboard/files", true, http.StatusOK, "portal"},
		{"unknown api path is json 404", http.MethodGet, "/api/nope", true, http.StatusNotFound, "NOT_FOUND"},
		{"post to page is rejected", http.MethodPost, "/about", false, http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.session {
				req = withSession(req)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want to contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}
