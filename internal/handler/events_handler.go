package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/clientportal/internal/model"
)

// WorkspaceAuthorizer はワークスペースへのアクセス権を確認する。
type WorkspaceAuthorizer interface {
	Authorize(ctx context.Context, userID, workspaceID string) (*model.Profile, error)
}

// EventStreamer はワークスペースの変更イベントを接続に配信する。realtime.Hubが実装する。
type EventStreamer interface {
	Serve(w http.ResponseWriter, r *http.Request, workspaceID string)
}

// EventsHandler はボード変更イベントのWebSocketハンドラー。
type EventsHandler struct {
	authorizer WorkspaceAuthorizer
	streamer   EventStreamer
}

// NewEventsHandler はEventsHandlerを生成する。
func NewEventsHandler(authorizer WorkspaceAuthorizer, streamer EventStreamer) *EventsHandler {
	return &EventsHandler{
		authorizer: authorizer,
		streamer:   streamer,
	}
}

// Subscribe はアクセス権を確認してからWebSocketにアップグレードする。
// GET /api/workspaces/{id}/events
func (h *EventsHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	workspaceID := chi.URLParam(r, "id")
	if _, err := h.authorizer.Authorize(r.Context(), userID, workspaceID); err != nil {
		handleServiceError(w, err)
		return
	}

	h.streamer.Serve(w, r, workspaceID)
}
