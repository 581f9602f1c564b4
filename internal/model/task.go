package model

import "time"

// TaskStatus はカンバンボードの列を表す。
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusDone       TaskStatus = "done"
)

// Valid は既知のステータスかどうかを返す。
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	default:
		return false
	}
}

// TaskPriority はタスクの優先度。
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Valid は既知の優先度かどうかを返す。
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Task はカンバンボード上のタスクを表す。
// Positionは(workspace_id, status)内の並び順を決める浮動小数点キー。
type Task struct {
	ID          string
	WorkspaceID string
	Title       string
	Description *string
	Status      TaskStatus
	Priority    TaskPriority
	Position    float64
	AssigneeID  *string
	CreatedBy   string
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Comment はタスクへのコメント。
type Comment struct {
	ID        string
	TaskID    string
	AuthorID  string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time

	AuthorName      string
	AuthorAvatarURL *string
	AuthorEmail     string
}
