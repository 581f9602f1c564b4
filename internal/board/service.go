package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/clientportal/internal/metrics"
	"github.com/hitoshi/clientportal/internal/model"
	"github.com/hitoshi/clientportal/internal/realtime"
	"github.com/hitoshi/clientportal/internal/repository"
)

const tasksTable = "tasks"

// WorkspaceAuthorizer はワークスペースへのアクセス権を確認する。workspace.Serviceが実装する。
type WorkspaceAuthorizer interface {
	Authorize(ctx context.Context, userID, workspaceID string) (*model.Profile, error)
	AuthorizeAdmin(ctx context.Context, userID, workspaceID string) (*model.Profile, error)
}

// Sanitizer はユーザー入力のHTMLを無害化する。
type Sanitizer interface {
	Sanitize(input string) string
}

// CreateTaskInput はタスク作成の入力。
type CreateTaskInput struct {
	Title       string
	Description *string
	Priority    model.TaskPriority
	AssigneeID  *string
	DueDate     *time.Time
}

// MoveTaskInput はドラッグ&ドロップによる移動の入力。
// PrevID/NextIDは移動先の列で直前・直後になるタスク（nilは列の端）。
// Positionが指定された場合は隣接タスクから算出せずにその値を使う。
type MoveTaskInput struct {
	Status   model.TaskStatus
	PrevID   *string
	NextID   *string
	Position *float64
}

// Service はカンバンボードのサービス層。
type Service struct {
	taskRepo   repository.TaskRepository
	authorizer WorkspaceAuthorizer
	sanitizer  Sanitizer
	publisher  realtime.Publisher
	collector  metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	taskRepo repository.TaskRepository,
	authorizer WorkspaceAuthorizer,
	sanitizer Sanitizer,
	publisher realtime.Publisher,
	collector metrics.MetricsCollector,
) *Service {
	if publisher == nil {
		publisher = realtime.Discard{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		taskRepo:   taskRepo,
		authorizer: authorizer,
		sanitizer:  sanitizer,
		publisher:  publisher,
		collector:  collector,
	}
}

// ListTasks はワークスペースのタスクを(status, position)順で返す。
func (s *Service) ListTasks(ctx context.Context, userID, workspaceID string) ([]*model.Task, error) {
	if _, err := s.authorizer.Authorize(ctx, userID, workspaceID); err != nil {
		return nil, err
	}
	tasks, err := s.taskRepo.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
	}
	return tasks, nil
}

// GetTask はタスクを返す。
func (s *Service) GetTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	return s.authorizedTask(ctx, userID, taskID)
}

// CreateTask はtodo列の先頭にタスクを作成する。
func (s *Service) CreateTask(ctx context.Context, userID, workspaceID string, in CreateTaskInput) (*model.Task, error) {
	if _, err := s.authorizer.Authorize(ctx, userID, workspaceID); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, model.NewValidationError("タスクのタイトルは必須です。")
	}
	priority := in.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !priority.Valid() {
		return nil, model.NewValidationError("優先度はlow, medium, high, urgentのいずれかを指定してください。")
	}

	top, err := s.taskRepo.MinPosition(ctx, workspaceID, model.StatusTodo)
	if err != nil {
		return nil, fmt.Errorf("列の先頭位置の取得に失敗しました: %w", err)
	}
	position := Allocate(nil, top)
	if err := ValidatePosition(position, nil, top); err != nil {
		if err := s.renumber(ctx, workspaceID, model.StatusTodo); err != nil {
			return nil, err
		}
		if top, err = s.taskRepo.MinPosition(ctx, workspaceID, model.StatusTodo); err != nil {
			return nil, fmt.Errorf("列の先頭位置の取得に失敗しました: %w", err)
		}
		position = Allocate(nil, top)
	}

	now := time.Now()
	task := &model.Task{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Title:       title,
		Description: s.sanitizeOptional(in.Description),
		Status:      model.StatusTodo,
		Priority:    priority,
		Position:    position,
		AssigneeID:  in.AssigneeID,
		CreatedBy:   userID,
		DueDate:     in.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("タスクの作成に失敗しました: %w", err)
	}

	s.publisher.Publish(workspaceID, realtime.Event{Type: realtime.EventInsert, Table: tasksTable, Record: task})
	return task, nil
}

// MoveTask はタスクを指定した列の隣接タスクの間へ移動する。
// 浮動小数点の余地が尽きた場合は移動先の列を振り直して一度だけ再計算する。
func (s *Service) MoveTask(ctx context.Context, userID, taskID string, in MoveTaskInput) (*model.Task, error) {
	task, err := s.authorizedTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if !in.Status.Valid() {
		return nil, model.NewValidationError("ステータスはtodo, in_progress, review, doneのいずれかを指定してください。")
	}

	var position float64
	if in.Position != nil {
		position = *in.Position
		if err := ValidatePosition(position, nil, nil); err != nil {
			return nil, model.NewInvalidPositionError()
		}
	} else {
		position, err = s.positionBetween(ctx, task, in)
		if errors.Is(err, ErrPositionExhausted) {
			slog.Info("position space exhausted, renumbering column",
				slog.String("workspace_id", task.WorkspaceID),
				slog.String("status", string(in.Status)),
			)
			if err := s.renumber(ctx, task.WorkspaceID, in.Status); err != nil {
				return nil, err
			}
			position, err = s.positionBetween(ctx, task, in)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := s.taskRepo.UpdatePosition(ctx, task.ID, in.Status, position); err != nil {
		return nil, fmt.Errorf("タスクの移動に失敗しました: %w", err)
	}
	task.Status = in.Status
	task.Position = position
	task.UpdatedAt = time.Now()

	s.publisher.Publish(task.WorkspaceID, realtime.Event{Type: realtime.EventUpdate, Table: tasksTable, Record: task})
	return task, nil
}

// UpdateStatus はタスクの列のみを変更する（位置は変えない）。
func (s *Service) UpdateStatus(ctx context.Context, userID, taskID string, status model.TaskStatus) (*model.Task, error) {
	task, err := s.authorizedTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, model.NewValidationError("ステータスはtodo, in_progress, review, doneのいずれかを指定してください。")
	}

	if err := s.taskRepo.UpdateStatus(ctx, task.ID, status); err != nil {
		return nil, fmt.Errorf("ステータスの更新に失敗しました: %w", err)
	}
	task.Status = status
	task.UpdatedAt = time.Now()

	s.publisher.Publish(task.WorkspaceID, realtime.Event{Type: realtime.EventUpdate, Table: tasksTable, Record: task})
	return task, nil
}

// UpdateDetails はタスクのタイトルと説明を変更する。管理者のみ。
func (s *Service) UpdateDetails(ctx context.Context, userID, taskID, title string, description *string) (*model.Task, error) {
	task, err := s.authorizedTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorizer.AuthorizeAdmin(ctx, userID, task.WorkspaceID); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, model.NewValidationError("タスクのタイトルは必須です。")
	}
	description = s.sanitizeOptional(description)

	if err := s.taskRepo.UpdateDetails(ctx, task.ID, title, description); err != nil {
		return nil, fmt.Errorf("タスクの更新に失敗しました: %w", err)
	}
	task.Title = title
	task.Description = description
	task.UpdatedAt = time.Now()

	s.publisher.Publish(task.WorkspaceID, realtime.Event{Type: realtime.EventUpdate, Table: tasksTable, Record: task})
	return task, nil
}

// DeleteTask はタスクを削除する。管理者のみ。
func (s *Service) DeleteTask(ctx context.Context, userID, taskID string) error {
	task, err := s.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("タスクの取得に失敗しました: %w", err)
	}
	if task == nil {
		return model.NewTaskNotFoundError(taskID)
	}
	if _, err := s.authorizer.AuthorizeAdmin(ctx, userID, task.WorkspaceID); err != nil {
		return err
	}

	if err := s.taskRepo.Delete(ctx, taskID); err != nil {
		return fmt.Errorf("タスクの削除に失敗しました: %w", err)
	}

	s.publisher.Publish(task.WorkspaceID, realtime.Event{
		Type:   realtime.EventDelete,
		Table:  tasksTable,
		Record: map[string]string{"id": taskID},
	})
	return nil
}

// authorizedTask はタスクを取得し、所属ワークスペースへのアクセス権を確認する。
// アクセスできないタスクは存在しないものとして扱う。
func (s *Service) authorizedTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("タスクの取得に失敗しました: %w", err)
	}
	if task == nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}
	if _, err := s.authorizer.Authorize(ctx, userID, task.WorkspaceID); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeWorkspaceNotFound {
			return nil, model.NewTaskNotFoundError(taskID)
		}
		return nil, err
	}
	return task, nil
}

// positionBetween は移動先の隣接タスクの位置から新しい位置を算出する。
func (s *Service) positionBetween(ctx context.Context, task *model.Task, in MoveTaskInput) (float64, error) {
	prev, err := s.neighborPosition(ctx, task, in.Status, in.PrevID)
	if err != nil {
		return 0, err
	}
	next, err := s.neighborPosition(ctx, task, in.Status, in.NextID)
	if err != nil {
		return 0, err
	}
	if prev != nil && next != nil && !(*prev < *next) {
		return 0, model.NewInvalidPositionError()
	}

	position := Allocate(prev, next)
	if err := ValidatePosition(position, prev, next); err != nil {
		if errors.Is(err, ErrNonFinitePosition) {
			return 0, model.NewInvalidPositionError()
		}
		return 0, err
	}
	return position, nil
}

// neighborPosition は隣接タスクの位置を返す。隣接タスクは移動するタスクと同じワークスペースの
// 移動先の列に属していなければならない。
func (s *Service) neighborPosition(ctx context.Context, task *model.Task, status model.TaskStatus, id *string) (*float64, error) {
	if id == nil || *id == "" {
		return nil, nil
	}
	if *id == task.ID {
		return nil, model.NewInvalidPositionError()
	}
	neighbor, err := s.taskRepo.FindByID(ctx, *id)
	if err != nil {
		return nil, fmt.Errorf("隣接タスクの取得に失敗しました: %w", err)
	}
	if neighbor == nil || neighbor.WorkspaceID != task.WorkspaceID || neighbor.Status != status {
		return nil, model.NewInvalidPositionError()
	}
	pos := neighbor.Position
	return &pos, nil
}

func (s *Service) renumber(ctx context.Context, workspaceID string, status model.TaskStatus) error {
	if err := s.taskRepo.RenumberColumn(ctx, workspaceID, status); err != nil {
		return fmt.Errorf("列の並び順の振り直しに失敗しました: %w", err)
	}
	s.collector.RecordColumnRenumbered()
	return nil
}

func (s *Service) sanitizeOptional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if s.sanitizer != nil {
		trimmed = strings.TrimSpace(s.sanitizer.Sanitize(trimmed))
	}
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
