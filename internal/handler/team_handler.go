package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/clientportal/internal/model"
	"github.com/hitoshi/clientportal/internal/team"
)

// TeamServiceInterface はチーム管理ハンドラーが必要とするサービスインターフェース。
type TeamServiceInterface interface {
	List(ctx context.Context, callerID string) ([]*model.Profile, error)
	Invite(ctx context.Context, callerID string, in team.InviteInput) (*model.Profile, error)
	ChangeRole(ctx context.Context, callerID, targetID string, role model.Role) error
	Remove(ctx context.Context, callerID, targetID string) error
}

// TeamHandler はチームメンバー管理のHTTPハンドラー（管理者のみ）。
type TeamHandler struct {
	service TeamServiceInterface
}

// NewTeamHandler はTeamHandlerを生成する。
func NewTeamHandler(service TeamServiceInterface) *TeamHandler {
	return &TeamHandler{service: service}
}

type inviteRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

// ListTeam は全ユーザーのプロフィールを返す。
// GET /api/team
func (h *TeamHandler) ListTeam(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	profiles, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]profileResponse, len(profiles))
	for i, p := range profiles {
		resp[i] = toProfileResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Invite はユーザーを招待する。ロール省略時はclient。
// POST /api/team/invite
func (h *TeamHandler) Invite(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req inviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, err := h.service.Invite(r.Context(), userID, team.InviteInput{
		Email:    req.Email,
		FullName: req.FullName,
		Role:     model.Role(req.Role),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(profile))
}

// ChangeRole はユーザーのロールを変更する。
// PUT /api/team/{userID}/role
func (h *TeamHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req changeRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangeRole(r.Context(), userID, chi.URLParam(r, "userID"), model.Role(req.Role)); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Remove はユーザーを削除する。
// DELETE /api/team/{userID}
func (h *TeamHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Remove(r.Context(), userID, chi.URLParam(r, "userID")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
