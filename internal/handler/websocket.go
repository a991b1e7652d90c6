package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"departureboard/internal/domain"
	"departureboard/internal/hub"
)

type WSHandler struct {
	hub    *hub.Hub
	board  Board
	logger *slog.Logger
}

func NewWSHandler(h *hub.Hub, b Board, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: h, board: b, logger: logger.With("component", "websocket")}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ViewPayload narrows the departures pushed to a client. Filters use the
// "line:dest;line:dest" encoding.
type ViewPayload struct {
	Include string `json:"include"`
	Exclude string `json:"exclude"`
	Limit   int    `json:"limit"`
}

func (p ViewPayload) View() domain.View {
	limit := p.Limit
	if limit < 0 {
		limit = 0
	}
	return domain.View{
		Include: domain.ParseLineDests(p.Include),
		Exclude: domain.ParseLineDests(p.Exclude),
		Limit:   limit,
	}
}

type RefreshMessage struct {
	Type    string `json:"type"`
	Started bool   `json:"started"`
}

type PongMessage struct {
	Type string `json:"type"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := hub.NewClient(clientID, 64)

	if q := r.URL.Query(); q.Has("include") || q.Has("exclude") || q.Has("limit") {
		view, err := parseView(r)
		if err == nil {
			client.SetView(view)
		}
	}

	ServerStats.IncWSConnections()
	defer ServerStats.DecWSConnections()

	h.hub.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}
		ServerStats.IncWSMessagesIn()

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		switch msg.Type {
		case "view":
			var payload ViewPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				h.logger.Debug("invalid view payload", "client_id", client.ID, "error", err)
				continue
			}
			client.SetView(payload.View())
			h.hub.Resend(client)

		case "refresh":
			started := h.board.TriggerRefresh()
			h.send(client, RefreshMessage{Type: "refresh", Started: started})

		case "ping":
			h.send(client, PongMessage{Type: "pong"})
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
			ServerStats.IncWSMessagesOut()

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) send(client *hub.Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	if !h.hub.Reply(client, data) {
		h.logger.Debug("reply dropped", "client_id", client.ID)
	}
}
