package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/clientportal/internal/model"
)

// WorkspaceServiceInterface はワークスペースハンドラーが必要とするサービスインターフェース。
type WorkspaceServiceInterface interface {
	WorkspaceAuthorizer
	ListMine(ctx context.Context, userID string) ([]model.WorkspaceWithRole, error)
	Get(ctx context.Context, userID, workspaceID string) (*model.Workspace, error)
	Create(ctx context.Context, userID, name string, description *string) (*model.Workspace, error)
	Rename(ctx context.Context, userID, workspaceID, name string) (*model.Workspace, error)
	ListMembers(ctx context.Context, userID, workspaceID string) ([]model.WorkspaceMember, error)
	AddMember(ctx context.Context, userID, workspaceID, memberUserID string, role model.Role) (*model.WorkspaceMember, error)
	AddMemberByEmail(ctx context.Context, userID, workspaceID, email string, role model.Role) (*model.WorkspaceMember, error)
	RemoveMember(ctx context.Context, userID, workspaceID, memberUserID string) error
}

// WorkspaceHandler はワークスペースとメンバー管理のHTTPハンドラー。
type WorkspaceHandler struct {
	service WorkspaceServiceInterface
}

// NewWorkspaceHandler はWorkspaceHandlerを生成する。
func NewWorkspaceHandler(service WorkspaceServiceInterface) *WorkspaceHandler {
	return &WorkspaceHandler{service: service}
}

type createWorkspaceRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type renameWorkspaceRequest struct {
	Name string `json:"name"`
}

// addMemberRequest はuser_idかemailのどちらかで追加対象を指定する。
type addMemberRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type workspaceResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description *string   `json:"description"`
	Role        string    `json:"role,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type memberResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// ListWorkspaces は閲覧可能なワークスペース一覧を返す。
// GET /api/workspaces
func (h *WorkspaceHandler) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListMine(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]workspaceResponse, len(list))
	for i, ws := range list {
		resp[i] = toWorkspaceResponse(&ws.Workspace)
		resp[i].Role = string(ws.Role)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateWorkspace はワークスペースを作成する（管理者のみ）。
// POST /api/workspaces
func (h *WorkspaceHandler) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createWorkspaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ws, err := h.service.Create(r.Context(), userID, req.Name, req.Description)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkspaceResponse(ws))
}

// GetWorkspace はワークスペース詳細を返す。
// GET /api/workspaces/{id}
func (h *WorkspaceHandler) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	ws, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkspaceResponse(ws))
}

// RenameWorkspace はワークスペース名を変更する（管理者のみ）。
// PATCH /api/workspaces/{id}
func (h *WorkspaceHandler) RenameWorkspace(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req renameWorkspaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ws, err := h.service.Rename(r.Context(), userID, chi.URLParam(r, "id"), req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkspaceResponse(ws))
}

// ListMembers はメンバー一覧を返す。
// GET /api/workspaces/{id}/members
func (h *WorkspaceHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	members, err := h.service.ListMembers(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]memberResponse, len(members))
	for i := range members {
		resp[i] = toMemberResponse(&members[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddMember はメンバーを追加する（管理者のみ）。ロール省略時はclient。
// user_idがなくemailがある場合はメールアドレスでユーザーを探す。
// POST /api/workspaces/{id}/members
func (h *WorkspaceHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role := model.Role(req.Role)
	if role == "" {
		role = model.RoleClient
	}

	var (
		member *model.WorkspaceMember
		err    error
	)
	workspaceID := chi.URLParam(r, "id")
	if req.UserID == "" && req.Email != "" {
		member, err = h.service.AddMemberByEmail(r.Context(), userID, workspaceID, req.Email, role)
	} else {
		member, err = h.service.AddMember(r.Context(), userID, workspaceID, req.UserID, role)
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberResponse(member))
}

// RemoveMember はメンバーを外す（管理者のみ）。
// DELETE /api/workspaces/{id}/members/{userID}
func (h *WorkspaceHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveMember(r.Context(), userID, chi.URLParam(r, "id"), chi.URLParam(r, "userID")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toWorkspaceResponse(ws *model.Workspace) workspaceResponse {
	return workspaceResponse{
		ID:          ws.ID,
		Name:        ws.Name,
		Slug:        ws.Slug,
		Description: ws.Description,
		CreatedAt:   ws.CreatedAt,
		UpdatedAt:   ws.UpdatedAt,
	}
}

func toMemberResponse(m *model.WorkspaceMember) memberResponse {
	return memberResponse{
		ID:        m.ID,
		UserID:    m.UserID,
		Role:      string(m.Role),
		FullName:  m.FullName,
		Email:     m.Email,
		CreatedAt: m.CreatedAt,
	}
}
