package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/clientportal/internal/board"
	"github.com/hitoshi/clientportal/internal/model"
)

// BoardServiceInterface はボードハンドラーが必要とするサービスインターフェース。
type BoardServiceInterface interface {
	ListTasks(ctx context.Context, userID, workspaceID string) ([]*model.Task, error)
	GetTask(ctx context.Context, userID, taskID string) (*model.Task, error)
	CreateTask(ctx context.Context, userID, workspaceID string, in board.CreateTaskInput) (*model.Task, error)
	MoveTask(ctx context.Context, userID, taskID string, in board.MoveTaskInput) (*model.Task, error)
	UpdateStatus(ctx context.Context, userID, taskID string, status model.TaskStatus) (*model.Task, error)
	UpdateDetails(ctx context.Context, userID, taskID, title string, description *string) (*model.Task, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
}

// BoardHandler はカンバンボードのHTTPハンドラー。
type BoardHandler struct {
	service BoardServiceInterface
}

// NewBoardHandler はBoardHandlerを生成する。
func NewBoardHandler(service BoardServiceInterface) *BoardHandler {
	return &BoardHandler{service: service}
}

type createTaskRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Priority    string  `json:"priority"`
	AssigneeID  *string `json:"assignee_id"`
	DueDate     *string `json:"due_date"` // YYYY-MM-DD
}

type moveTaskRequest struct {
	Status   string   `json:"status"`
	PrevID   *string  `json:"prev_id"`
	NextID   *string  `json:"next_id"`
	Position *float64 `json:"position"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type updateTaskRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

type taskResponse struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	Position    float64   `json:"position"`
	AssigneeID  *string   `json:"assignee_id"`
	CreatedBy   string    `json:"created_by"`
	DueDate     *string   `json:"due_date"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListTasks はワークスペースのタスクを(status, position)順に返す。
// GET /api/workspaces/{id}/tasks
func (h *BoardHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.ListTasks(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		resp[i] = toTaskResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateTask はtodo列の先頭にタスクを作成する。
// POST /api/workspaces/{id}/tasks
func (h *BoardHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var due *time.Time
	if req.DueDate != nil && *req.DueDate != "" {
		d, err := time.Parse(time.DateOnly, *req.DueDate)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("期日はYYYY-MM-DD形式で入力してください。"))
			return
		}
		due = &d
	}

	task, err := h.service.CreateTask(r.Context(), userID, chi.URLParam(r, "id"), board.CreateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    model.TaskPriority(req.Priority),
		AssigneeID:  req.AssigneeID,
		DueDate:     due,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskResponse(task))
}

// GetTask はタスク詳細を返す。
// GET /api/tasks/{id}
func (h *BoardHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	task, err := h.service.GetTask(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

// MoveTask はドラッグ&ドロップによる列・並び順の変更を処理する。
// POST /api/tasks/{id}/move
func (h *BoardHandler) MoveTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req moveTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	task, err := h.service.MoveTask(r.Context(), userID, chi.URLParam(r, "id"), board.MoveTaskInput{
		Status:   model.TaskStatus(req.Status),
		PrevID:   req.PrevID,
		NextID:   req.NextID,
		Position: req.Position,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

// UpdateStatus はタスクのステータスのみを変更する。
// PUT /api/tasks/{id}/status
func (h *BoardHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	task, err := h.service.UpdateStatus(r.Context(), userID, chi.URLParam(r, "id"), model.TaskStatus(req.Status))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

// UpdateTask はタイトルと説明を更新する。
// PATCH /api/tasks/{id}
func (h *BoardHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	task, err := h.service.UpdateDetails(r.Context(), userID, chi.URLParam(r, "id"), req.Title, req.Description)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

// DeleteTask はタスクを削除する（管理者のみ）。
// DELETE /api/tasks/{id}
func (h *BoardHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteTask(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toTaskResponse(t *model.Task) taskResponse {
	resp := taskResponse{
		ID:          t.ID,
		WorkspaceID: t.WorkspaceID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		Position:    t.Position,
		AssigneeID:  t.AssigneeID,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.DueDate != nil {
		d := t.DueDate.Format(time.DateOnly)
		resp.DueDate = &d
	}
	return resp
}
