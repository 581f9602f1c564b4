// Package realtime はワークスペース単位の変更通知をWebSocketで配信する。
// 通知はデータベース更新のミラーであり、受信側のロジックは持たない。
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hitoshi/clientportal/internal/metrics"
)

// イベント種別。
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

const (
	sendBufferSize = 32
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
)

// Event は購読者へ送る変更通知。
type Event struct {
	Type   string `json:"type"`
	Table  string `json:"table"`
	Record any    `json:"record"`
}

// Publisher は変更通知の送信先。
type Publisher interface {
	Publish(workspaceID string, event Event)
}

// Discard は通知を破棄するPublisher。
type Discard struct{}

// Publish は何もしない。
func (Discard) Publish(string, Event) {}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub はワークスペースごとの購読者を管理する。
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
	upgrader    websocket.Upgrader
	collector   metrics.MetricsCollector
}

// NewHub はHubを生成する。allowedOriginが空の場合は同一オリジンのみ許可する。
func NewHub(allowedOrigin string, collector metrics.MetricsCollector) *Hub {
	if collector == nil {
		collector = metrics.Nop{}
	}
	h := &Hub{
		subscribers: make(map[string]map[*subscriber]struct{}),
		collector:   collector,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if allowedOrigin != "" {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowedOrigin
		}
	}
	return h
}

// Publish はワークスペースの全購読者へイベントを送る。
// 送信バッファが詰まっている購読者には届けずに読み飛ばす。
func (h *Hub) Publish(workspaceID string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode realtime event",
			slog.String("table", event.Table),
			slog.String("error", err.Error()),
		)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subscribers[workspaceID] {
		select {
		case sub.send <- data:
		default:
			slog.Warn("realtime subscriber is slow, dropping event",
				slog.String("workspace_id", workspaceID),
				slog.String("table", event.Table),
			)
		}
	}
}

// Serve はWebSocketへアップグレードし、接続が閉じるまでワークスペースの通知を配信する。
// 呼び出し前にメンバーシップを確認しておくこと。
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, workspaceID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Info("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.add(workspaceID, sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(sub)
	}()

	// クライアントからのメッセージは読み捨てる（切断検知とpong処理のみ）
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(workspaceID, sub)
	<-done
	conn.Close()
}

// SubscriberCount はワークスペースの購読者数を返す。
func (h *Hub) SubscriberCount(workspaceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[workspaceID])
}

func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) add(workspaceID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subscribers[workspaceID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.subscribers[workspaceID] = subs
	}
	subs[sub] = struct{}{}
	h.collector.SetRealtimeSubscribers(h.countLocked())
}

func (h *Hub) remove(workspaceID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[workspaceID]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.send)
	if len(subs) == 0 {
		delete(h.subscribers, workspaceID)
	}
	h.collector.SetRealtimeSubscribers(h.countLocked())
}

func (h *Hub) countLocked() int {
	n := 0
	for _, subs := range h.subscribers {
		n += len(subs)
	}
	return n
}
