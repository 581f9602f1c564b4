// Package comment はタスクへのコメントを扱う。
package comment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/clientportal/internal/model"
	"github.com/hitoshi/clientportal/internal/realtime"
	"github.com/hitoshi/clientportal/internal/repository"
)

const commentsTable = "comments"

// TaskAuthorizer はタスクを取得し、閲覧権限を確認する。board.Serviceが実装する。
type TaskAuthorizer interface {
	GetTask(ctx context.Context, userID, taskID string) (*model.Task, error)
}

// Sanitizer はユーザー入力のHTMLを無害化する。
type Sanitizer interface {
	Sanitize(input string) string
}

// Service はコメントのサービス層。
type Service struct {
	commentRepo repository.CommentRepository
	tasks       TaskAuthorizer
	sanitizer   Sanitizer
	publisher   realtime.Publisher
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(commentRepo repository.CommentRepository, tasks TaskAuthorizer, sanitizer Sanitizer, publisher realtime.Publisher) *Service {
	if publisher == nil {
		publisher = realtime.Discard{}
	}
	return &Service{
		commentRepo: commentRepo,
		tasks:       tasks,
		sanitizer:   sanitizer,
		publisher:   publisher,
	}
}

// List はタスクのコメントを投稿者情報付きで古い順に返す。
func (s *Service) List(ctx context.Context, userID, taskID string) ([]*model.Comment, error) {
	if _, err := s.tasks.GetTask(ctx, userID, taskID); err != nil {
		return nil, err
	}
	comments, err := s.commentRepo.ListByTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("コメント一覧の取得に失敗しました: %w", err)
	}
	return comments, nil
}

// Add はコメントを投稿する。本文は無害化後に空でなければならない。
func (s *Service) Add(ctx context.Context, userID, taskID, body string) (*model.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, model.NewValidationError("コメントを入力してください。")
	}

	task, err := s.tasks.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	if s.sanitizer != nil {
		body = strings.TrimSpace(s.sanitizer.Sanitize(body))
	}
	if body == "" {
		return nil, model.NewValidationError("コメントに表示できる内容がありません。")
	}

	now := time.Now()
	comment := &model.Comment{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		AuthorID:  userID,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.commentRepo.Create(ctx, comment); err != nil {
		return nil, fmt.Errorf("コメントの保存に失敗しました: %w", err)
	}

	s.publisher.Publish(task.WorkspaceID, realtime.Event{
		Type:   realtime.EventInsert,
		Table:  commentsTable,
		Record: comment,
	})
	return comment, nil
}
