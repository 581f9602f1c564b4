package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/clientportal/internal/model"
)

// CommentServiceInterface はコメントハンドラーが必要とするサービスインターフェース。
type CommentServiceInterface interface {
	List(ctx context.Context, userID, taskID string) ([]*model.Comment, error)
	Add(ctx context.Context, userID, taskID, body string) (*model.Comment, error)
}

// CommentHandler はタスクコメントのHTTPハンドラー。
type CommentHandler struct {
	service CommentServiceInterface
}

// NewCommentHandler はCommentHandlerを生成する。
func NewCommentHandler(service CommentServiceInterface) *CommentHandler {
	return &CommentHandler{service: service}
}

type addCommentRequest struct {
	Body string `json:"body"`
}

type commentAuthorResponse struct {
	ID        string  `json:"id"`
	FullName  string  `json:"full_name"`
	Email     string  `json:"email"`
	AvatarURL *string `json:"avatar_url"`
}

type commentResponse struct {
	ID        string                `json:"id"`
	TaskID    string                `json:"task_id"`
	Body      string                `json:"body"`
	Author    commentAuthorResponse `json:"author"`
	CreatedAt time.Time             `json:"created_at"`
}

// ListComments はタスクのコメントを投稿順に返す。
// GET /api/tasks/{id}/comments
func (h *CommentHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	comments, err := h.service.List(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]commentResponse, len(comments))
	for i, c := range comments {
		resp[i] = toCommentResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddComment はコメントを投稿する。
// POST /api/tasks/{id}/comments
func (h *CommentHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	comment, err := h.service.Add(r.Context(), userID, chi.URLParam(r, "id"), req.Body)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommentResponse(comment))
}

func toCommentResponse(c *model.Comment) commentResponse {
	return commentResponse{
		ID:     c.ID,
		TaskID: c.TaskID,
		Body:   c.Body,
		Author: commentAuthorResponse{
			ID:        c.AuthorID,
			FullName:  c.AuthorName,
			Email:     c.AuthorEmail,
			AvatarURL: c.AuthorAvatarURL,
		},
		CreatedAt: c.CreatedAt,
	}
}
