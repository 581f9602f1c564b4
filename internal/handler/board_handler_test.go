package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/clientportal/internal/board"
	"github.com/hitoshi/clientportal/internal/model"
)

// --- モック定義 ---

// mockBoardService はBoardServiceInterfaceのモック実装。
type mockBoardService struct {
	listTasksFn     func(ctx context.Context, userID, workspaceID string) ([]*model.Task, error)
	getTaskFn       func(ctx context.Context, userID, taskID string) (*model.Task, error)
	createTaskFn    func(ctx context.Context, userID, workspaceID string, in board.CreateTaskInput) (*model.Task, error)
	moveTaskFn      func(ctx context.Context, userID, taskID string, in board.MoveTaskInput) (*model.Task, error)
	updateStatusFn  func(ctx context.Context, userID, taskID string, status model.TaskStatus) (*model.Task, error)
	updateDetailsFn func(ctx context.Context, userID, taskID, title string, description *string) (*model.Task, error)
	deleteTaskFn    func(ctx context.Context, userID, taskID string) error
}

func (m *mockBoardService) ListTasks(ctx context.Context, userID, workspaceID string) ([]*model.Task, error) {
	if m.listTasksFn != nil {
		return m.listTasksFn(ctx, userID, workspaceID)
	}
	return nil, nil
}

func (m *mockBoardService) GetTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	if m.getTaskFn != nil {
		return m.getTaskFn(ctx, userID, taskID)
	}
	return &model.Task{ID: taskID}, nil
}

func (m *mockBoardService) CreateTask(ctx context.Context, userID, workspaceID string, in board.CreateTaskInput) (*model.Task, error) {
	if m.createTaskFn != nil {
		return m.createTaskFn(ctx, userID, workspaceID, in)
	}
	return &model.Task{ID: "task-new", WorkspaceID: workspaceID, Title: in.Title, Status: model.StatusTodo}, nil
}

func (m *mockBoardService) MoveTask(ctx context.Context, userID, taskID string, in board.MoveTaskInput) (*model.Task, error) {
	if m.moveTaskFn != nil {
		return m.moveTaskFn(ctx, userID, taskID, in)
	}
	return &model.Task{ID: taskID, Status: in.Status}, nil
}

func (m *mockBoardService) UpdateStatus(ctx context.Context, userID, taskID string, status model.TaskStatus) (*model.Task, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, userID, taskID, status)
	}
	return &model.Task{ID: taskID, Status: status}, nil
}

func (m *mockBoardService) UpdateDetails(ctx context.Context, userID, taskID, title string, description *string) (*model.Task, error) {
	if m.updateDetailsFn != nil {
		return m.updateDetailsFn(ctx, userID, taskID, title, description)
	}
	return &model.Task{ID: taskID, Title: title, Description: description}, nil
}

func (m *mockBoardService) DeleteTask(ctx context.Context, userID, taskID string) error {
	if m.deleteTaskFn != nil {
		return m.deleteTaskFn(ctx, userID, taskID)
	}
	return nil
}

// mockCommentService はCommentServiceInterfaceのモック実装。
type mockCommentService struct {
	listFn func(ctx context.Context, userID, taskID string) ([]*model.Comment, error)
	addFn  func(ctx context.Context, userID, taskID, body string) (*model.Comment, error)
}

func (m *mockCommentService) List(ctx context.Context, userID, taskID string) ([]*model.Comment, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, taskID)
	}
	return nil, nil
}

func (m *mockCommentService) Add(ctx context.Context, userID, taskID, body string) (*model.Comment, error) {
	if m.addFn != nil {
		return m.addFn(ctx, userID, taskID, body)
	}
	return &model.Comment{ID: "c-1", TaskID: taskID, AuthorID: userID, Body: body}, nil
}

// --- タスク作成 ---

func TestBoardHandler_CreateTask_ParsesDueDate(t *testing.T) {
	var got board.CreateTaskInput
	svc := &mockBoardService{
		createTaskFn: func(ctx context.Context, userID, workspaceID string, in board.CreateTaskInput) (*model.Task, error) {
			got = in
			return &model.Task{
				ID:          "task-1",
				WorkspaceID: workspaceID,
				Title:       in.Title,
				Status:      model.StatusTodo,
				Priority:    in.Priority,
				DueDate:     in.DueDate,
			}, nil
		},
	}
	h := NewBoardHandler(svc)

	body := bytes.NewBufferString(`{"title":"Logo draft","priority":"high","due_date":"2026-11-30"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/workspaces/ws-1/tasks", body)
	req = withUserID(withChiURLParam(req, "id", "ws-1"), "admin-1")
	w := httptest.NewRecorder()
	h.CreateTask(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if got.Priority != model.PriorityHigh {
		t.Errorf("priority = %q, want high", got.Priority)
	}
	want := time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC)
	if got.DueDate == nil || !got.DueDate.Equal(want) {
		t.Errorf("due date = %v, want %v", got.DueDate, want)
	}

	var resp taskResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DueDate == nil || *resp.DueDate != "2026-11-30" {
		t.Errorf("due_date = %v, want 2026-11-30", resp.DueDate)
	}
}

func TestBoardHandler_CreateTask_InvalidDueDate(t *testing.T) {
	called := false
	svc := &mockBoardService{
		createTaskFn: func(ctx context.Context, userID, workspaceID string, in board.CreateTaskInput) (*model.Task, error) {
			called = true
			return nil, nil
		},
	}
	h := NewBoardHandler(svc)

	body := bytes.NewBufferString(`{"title":"x","due_date":"30/11/2026"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/workspaces/ws-1/tasks", body)
	req = withUserID(withChiURLParam(req, "id", "ws-1"), "admin-1")
	w := httptest.NewRecorder()
	h.CreateTask(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if called {
		t.Error("service should not be called for an invalid due date")
	}
}

// --- 移動 ---

func TestBoardHandler_MoveTask_PassesNeighbours(t *testing.T) {
	svc := &mockBoardService{
		moveTaskFn: func(ctx context.Context, userID, taskID string, in board.MoveTaskInput) (*model.Task, error) {
			if taskID != "task-1" {
				t.Errorf("taskID = %q", taskID)
			}
			if in.Status != model.StatusReview {
				t.Errorf("status = %q, want review", in.Status)
			}
			if in.PrevID == nil || *in.PrevID != "task-a" || in.NextID == nil || *in.NextID != "task-b" {
				t.Errorf("neighbours = %v / %v", in.PrevID, in.NextID)
			}
			return &model.Task{ID: taskID, Status: in.Status, Position: 1500}, nil
		},
	}
	h := NewBoardHandler(svc)

	body := bytes.NewBufferString(`{"status":"review","prev_id":"task-a","next_id":"task-b"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/task-1/move", body)
	req = withUserID(withChiURLParam(req, "id", "task-1"), "user-1")
	w := httptest.NewRecorder()
	h.MoveTask(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp taskResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Position != 1500 || resp.Status != "review" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestBoardHandler_MoveTask_InvalidPosition(t *testing.T) {
	svc := &mockBoardService{
		moveTaskFn: func(ctx context.Context, userID, taskID string, in board.MoveTaskInput) (*model.Task, error) {
			return nil, model.NewInvalidPositionError()
		},
	}
	h := NewBoardHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/task-1/move", bytes.NewBufferString(`{"status":"todo","prev_id":"nope"}`))
	req = withUserID(withChiURLParam(req, "id", "task-1"), "user-1")
	w := httptest.NewRecorder()
	h.MoveTask(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := parseAPIErrorResponse(t, w)["code"]; got != model.ErrCodeInvalidPosition {
		t.Errorf("code = %q, want %q", got, model.ErrCodeInvalidPosition)
	}
}

// --- 取得・削除 ---

func TestBoardHandler_GetTask_HiddenTaskIs404(t *testing.T) {
	svc := &mockBoardService{
		getTaskFn: func(ctx context.Context, userID, taskID string) (*model.Task, error) {
			return nil, model.NewTaskNotFoundError(taskID)
		},
	}
	h := NewBoardHandler(svc)

	req := withUserID(withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/tasks/t-9", nil), "id", "t-9"), "client-1")
	w := httptest.NewRecorder()
	h.GetTask(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestBoardHandler_DeleteTask_Returns204(t *testing.T) {
	h := NewBoardHandler(&mockBoardService{})

	req := withUserID(withChiURLParam(httptest.NewRequest(http.MethodDelete, "/api/tasks/t-1", nil), "id", "t-1"), "admin-1")
	w := httptest.NewRecorder()
	h.DeleteTask(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestBoardHandler_UpdateStatus(t *testing.T) {
	h := NewBoardHandler(&mockBoardService{})

	req := httptest.NewRequest(http.MethodPut, "/api/tasks/t-1/status", bytes.NewBufferString(`{"status":"done"}`))
	req = withUserID(withChiURLParam(req, "id", "t-1"), "user-1")
	w := httptest.NewRecorder()
	h.UpdateStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp taskResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "done" {
		t.Errorf("status = %q, want done", resp.Status)
	}
}

// --- コメント ---

func TestCommentHandler_ListComments_NestsAuthor(t *testing.T) {
	svc := &mockCommentService{
		listFn: func(ctx context.Context, userID, taskID string) ([]*model.Comment, error) {
			return []*model.Comment{
				{ID: "c-1", TaskID: taskID, AuthorID: "u-2", Body: "looks good", AuthorName: "Hana", AuthorEmail: "hana@example.com"},
			}, nil
		},
	}
	h := NewCommentHandler(svc)

	req := withUserID(withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/tasks/t-1/comments", nil), "id", "t-1"), "user-1")
	w := httptest.NewRecorder()
	h.ListComments(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp []commentResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 || resp[0].Author.ID != "u-2" || resp[0].Author.FullName != "Hana" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestCommentHandler_AddComment_EmptyBodyRejected(t *testing.T) {
	svc := &mockCommentService{
		addFn: func(ctx context.Context, userID, taskID, body string) (*model.Comment, error) {
			return nil, model.NewValidationError("コメントを入力してください。")
		},
	}
	h := NewCommentHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/t-1/comments", bytes.NewBufferString(`{"body":"   "}`))
	req = withUserID(withChiURLParam(req, "id", "t-1"), "user-1")
	w := httptest.NewRecorder()
	h.AddComment(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCommentHandler_AddComment_Returns201(t *testing.T) {
	h := NewCommentHandler(&mockCommentService{})

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/t-1/comments", bytes.NewBufferString(`{"body":"ok"}`))
	req = withUserID(withChiURLParam(req, "id", "t-1"), "user-1")
	w := httptest.NewRecorder()
	h.AddComment(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
}
