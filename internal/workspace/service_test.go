package workspace

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/hitoshi/clientportal/internal/model"
)

// --- モック定義 ---

type mockProfileRepo struct {
	profiles map[string]*model.Profile
}

func (m *mockProfileRepo) FindByID(_ context.Context, id string) (*model.Profile, error) {
	return m.profiles[id], nil
}
func (m *mockProfileRepo) FindByEmail(_ context.Context, email string) (*model.Profile, error) {
	for _, p := range m.profiles {
		if strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return nil, nil
}
func (m *mockProfileRepo) ListAll(context.Context) ([]*model.Profile, error) { return nil, nil }
func (m *mockProfileRepo) UpdateProfile(context.Context, string, string, *string) error {
	return nil
}
func (m *mockProfileRepo) UpdateFullName(context.Context, string, string) error   { return nil }
func (m *mockProfileRepo) UpdateRole(context.Context, string, model.Role) error { return nil }

type mockWorkspaceRepo struct {
	workspaces        map[string]*model.Workspace
	listByMemberFn    func(ctx context.Context, userID string) ([]model.WorkspaceWithRole, error)
	createWithAdminFn func(ctx context.Context, ws *model.Workspace, member *model.WorkspaceMember) error
	renamed           string
}

func (m *mockWorkspaceRepo) FindByID(_ context.Context, id string) (*model.Workspace, error) {
	return m.workspaces[id], nil
}
func (m *mockWorkspaceRepo) ListAll(context.Context) ([]*model.Workspace, error) {
	var list []*model.Workspace
	for _, ws := range m.workspaces {
		list = append(list, ws)
	}
	return list, nil
}
func (m *mockWorkspaceRepo) ListByMember(ctx context.Context, userID string) ([]model.WorkspaceWithRole, error) {
	if m.listByMemberFn != nil {
		return m.listByMemberFn(ctx, userID)
	}
	return nil, nil
}
func (m *mockWorkspaceRepo) CreateWithAdmin(ctx context.Context, ws *model.Workspace, member *model.WorkspaceMember) error {
	if m.createWithAdminFn != nil {
		return m.createWithAdminFn(ctx, ws, member)
	}
	return nil
}
func (m *mockWorkspaceRepo) Rename(_ context.Context, id, name string) error {
	m.renamed = name
	if ws, ok := m.workspaces[id]; ok {
		ws.Name = name
	}
	return nil
}

type mockMemberRepo struct {
	roles    map[string]model.Role // key: workspaceID + "/" + userID
	added    []*model.WorkspaceMember
	removeFn func(ctx context.Context, workspaceID, userID string) error
}

func (m *mockMemberRepo) FindRole(_ context.Context, workspaceID, userID string) (*model.Role, error) {
	role, ok := m.roles[workspaceID+"/"+userID]
	if !ok {
		return nil, nil
	}
	return &role, nil
}
func (m *mockMemberRepo) ListByWorkspace(context.Context, string) ([]model.WorkspaceMember, error) {
	return []model.WorkspaceMember{{UserID: "client-1"}}, nil
}
func (m *mockMemberRepo) Add(_ context.Context, member *model.WorkspaceMember) error {
	m.added = append(m.added, member)
	return nil
}
func (m *mockMemberRepo) Remove(ctx context.Context, workspaceID, userID string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, workspaceID, userID)
	}
	return nil
}

func newTestService() (*Service, *mockWorkspaceRepo, *mockMemberRepo) {
	profiles := &mockProfileRepo{profiles: map[string]*model.Profile{
		"admin-1":  {ID: "admin-1", Role: model.RoleAdmin, FullName: "Admin"},
		"client-1": {ID: "client-1", Role: model.RoleClient, FullName: "Client", Email: "c@example.com"},
		"client-2": {ID: "client-2", Role: model.RoleClient, Email: "second@example.com"},
	}}
	workspaces := &mockWorkspaceRepo{workspaces: map[string]*model.Workspace{
		"ws-1": {ID: "ws-1", Name: "Acme"},
	}}
	members := &mockMemberRepo{roles: map[string]model.Role{
		"ws-1/client-1": model.RoleClient,
	}}
	return NewService(profiles, workspaces, members), workspaces, members
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %v", err)
	}
	if apiErr.Code != code {
		t.Errorf("code = %q, want %q", apiErr.Code, code)
	}
}

// --- Authorize ---

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name        string
		userID      string
		workspaceID string
		wantCode    string
	}{
		{"admin sees every workspace", "admin-1", "ws-1", ""},
		{"member client", "client-1", "ws-1", ""},
		{"non-member client", "client-2", "ws-1", model.ErrCodeWorkspaceNotFound},
		{"unknown workspace", "admin-1", "ws-missing", model.ErrCodeWorkspaceNotFound},
		{"unknown user", "ghost", "ws-1", model.ErrCodeWorkspaceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService()
			profile, err := svc.Authorize(context.Background(), tt.userID, tt.workspaceID)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if profile.ID != tt.userID {
					t.Errorf("profile.ID = %q, want %q", profile.ID, tt.userID)
				}
				return
			}
			assertAPIErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestAuthorizeAdmin_ClientIsForbidden(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.AuthorizeAdmin(context.Background(), "client-1", "ws-1")
	assertAPIErrorCode(t, err, model.ErrCodeForbidden)
}

// --- ListMine ---

func TestListMine_AdminGetsAllWithAdminRole(t *testing.T) {
	svc, _, _ := newTestService()
	list, err := svc.ListMine(context.Background(), "admin-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].Role != model.RoleAdmin {
		t.Errorf("list = %+v, want one workspace with admin role", list)
	}
}

func TestListMine_ClientUsesMembership(t *testing.T) {
	svc, workspaces, _ := newTestService()
	var gotUser string
	workspaces.listByMemberFn = func(_ context.Context, userID string) ([]model.WorkspaceWithRole, error) {
		gotUser = userID
		return []model.WorkspaceWithRole{{Workspace: model.Workspace{ID: "ws-1"}, Role: model.RoleClient}}, nil
	}

	list, err := svc.ListMine(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "client-1" || len(list) != 1 {
		t.Errorf("gotUser=%q list=%v", gotUser, list)
	}
}

// --- Create ---

func TestCreate_AddsCreatorAsAdminMember(t *testing.T) {
	svc, workspaces, _ := newTestService()
	var gotWS *model.Workspace
	var gotMember *model.WorkspaceMember
	workspaces.createWithAdminFn = func(_ context.Context, ws *model.Workspace, member *model.WorkspaceMember) error {
		gotWS, gotMember = ws, member
		return nil
	}

	ws, err := svc.Create(context.Background(), "admin-1", "  Acme Corp  ", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ws.Name != "Acme Corp" {
		t.Errorf("Name = %q, want trimmed", ws.Name)
	}
	if !regexp.MustCompile(`^acme-corp-[a-z0-9]{5}$`).MatchString(ws.Slug) {
		t.Errorf("Slug = %q, want acme-corp-xxxxx", ws.Slug)
	}
	if gotWS != ws {
		t.Error("repository should receive the created workspace")
	}
	if gotMember.UserID != "admin-1" || gotMember.Role != model.RoleAdmin || gotMember.WorkspaceID != ws.ID {
		t.Errorf("member = %+v, want creator as admin", gotMember)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		wsName   string
		wantCode string
	}{
		{"client cannot create", "client-1", "Acme", model.ErrCodeForbidden},
		{"empty name", "admin-1", "   ", model.ErrCodeValidation},
		{"name too long", "admin-1", strings.Repeat("a", MaxNameLength+1), model.ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService()
			_, err := svc.Create(context.Background(), tt.userID, tt.wsName, nil)
			assertAPIErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestCreate_NameAtLimitIsAccepted(t *testing.T) {
	svc, _, _ := newTestService()
	// マルチバイト文字も1文字として数える
	if _, err := svc.Create(context.Background(), "admin-1", strings.Repeat("あ", MaxNameLength), nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// --- Rename ---

func TestRename(t *testing.T) {
	svc, workspaces, _ := newTestService()

	ws, err := svc.Rename(context.Background(), "admin-1", "ws-1", " New Name ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if workspaces.renamed != "New Name" || ws.Name != "New Name" {
		t.Errorf("renamed=%q ws.Name=%q", workspaces.renamed, ws.Name)
	}

	_, err = svc.Rename(context.Background(), "client-1", "ws-1", "x")
	assertAPIErrorCode(t, err, model.ErrCodeForbidden)
}

// --- Members ---

func TestAddMember_DefaultsToClientRole(t *testing.T) {
	svc, _, members := newTestService()

	member, err := svc.AddMember(context.Background(), "admin-1", "ws-1", "client-2", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if member.Role != model.RoleClient || len(members.added) != 1 {
		t.Errorf("member = %+v added=%d", member, len(members.added))
	}
}

func TestAddMember_Errors(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		target   string
		role     model.Role
		wantCode string
	}{
		{"client cannot add", "client-1", "client-2", "", model.ErrCodeForbidden},
		{"invalid role", "admin-1", "client-2", "owner", model.ErrCodeValidation},
		{"unknown user", "admin-1", "ghost", "", model.ErrCodeUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService()
			_, err := svc.AddMember(context.Background(), tt.userID, "ws-1", tt.target, tt.role)
			assertAPIErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestAddMemberByEmail(t *testing.T) {
	t.Run("resolves the profile case-insensitively", func(t *testing.T) {
		svc, _, members := newTestService()

		member, err := svc.AddMemberByEmail(context.Background(), "admin-1", "ws-1", " Second@Example.com ", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if member.UserID != "client-2" || member.Role != model.RoleClient {
			t.Errorf("member = %+v", member)
		}
		if len(members.added) != 1 {
			t.Errorf("added = %d, want 1", len(members.added))
		}
	})

	tests := []struct {
		name     string
		userID   string
		email    string
		wantCode string
	}{
		{"empty email", "admin-1", "  ", model.ErrCodeValidation},
		{"unregistered email", "admin-1", "nobody@example.com", model.ErrCodeUserNotFound},
		{"client cannot add", "client-1", "second@example.com", model.ErrCodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, members := newTestService()
			_, err := svc.AddMemberByEmail(context.Background(), tt.userID, "ws-1", tt.email, "")
			assertAPIErrorCode(t, err, tt.wantCode)
			if len(members.added) != 0 {
				t.Errorf("added = %d, want 0", len(members.added))
			}
		})
	}
}

func TestRemoveMember(t *testing.T) {
	t.Run("self removal is rejected", func(t *testing.T) {
		svc, _, _ := newTestService()
		err := svc.RemoveMember(context.Background(), "admin-1", "ws-1", "admin-1")
		assertAPIErrorCode(t, err, model.ErrCodeSelfModification)
	})

	t.Run("missing member", func(t *testing.T) {
		svc, _, members := newTestService()
		members.removeFn = func(context.Context, string, string) error { return sql.ErrNoRows }
		err := svc.RemoveMember(context.Background(), "admin-1", "ws-1", "client-2")
		assertAPIErrorCode(t, err, model.ErrCodeMemberNotFound)
	})

	t.Run("success", func(t *testing.T) {
		svc, _, members := newTestService()
		var removed string
		members.removeFn = func(_ context.Context, _, userID string) error {
			removed = userID
			return nil
		}
		if err := svc.RemoveMember(context.Background(), "admin-1", "ws-1", "client-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if removed != "client-1" {
			t.Errorf("removed = %q, want client-1", removed)
		}
	})
}

func TestListMembers_NonMemberIsHidden(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.ListMembers(context.Background(), "client-2", "ws-1")
	assertAPIErrorCode(t, err, model.ErrCodeWorkspaceNotFound)
}
