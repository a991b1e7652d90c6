// Package hub fans refreshed departures out to connected boards. Every
// client carries its own view so two boards on the same stop can show
// different lines.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"departureboard/internal/board"
	"departureboard/internal/domain"
)

// Board is the read side of the departure cache
type Board interface {
	Departures(view domain.View) ([]domain.Departure, error)
	Snapshot() domain.Snapshot
}

type Client struct {
	ID   string
	Send chan []byte
	view domain.View
	mu   sync.RWMutex
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:   id,
		Send: make(chan []byte, bufferSize),
	}
}

func (c *Client) View() domain.View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

func (c *Client) SetView(view domain.View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = view
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	board   Board

	register   chan *Client
	unregister chan *Client
	resend     chan *Client
	broadcast  chan struct{}
	done       chan struct{}

	logger *slog.Logger
}

func NewHub(b Board, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		board:      b,
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		resend:     make(chan *Client, 16),
		broadcast:  make(chan struct{}, 1),
		done:       make(chan struct{}),
		logger:     logger.With("component", "hub"),
	}
}

// Run owns the client set until ctx is done. Once it returns, queueing
// calls become no-ops.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.ID, "total", total)
			h.push(client)

		case client := <-h.resend:
			h.mu.RLock()
			if _, ok := h.clients[client]; ok {
				h.push(client)
			}
			h.mu.RUnlock()

		case client := <-h.unregister:
			h.removeClient(client)

		case <-h.broadcast:
			h.fanout()
		}
	}
}

// Broadcast schedules a push to every client. Signals that arrive while a
// push is pending are merged into it.
func (h *Hub) Broadcast() {
	select {
	case h.broadcast <- struct{}{}:
	default:
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Resend queues a push of client's current view, typically after the
// client changed it.
func (h *Hub) Resend(client *Client) {
	select {
	case h.resend <- client:
	case <-h.done:
	}
}

// Reply delivers a direct answer to one client. It is dropped when the
// client is no longer registered, since its Send channel is closed then.
func (h *Hub) Reply(client *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[client]; !ok {
		return false
	}
	return h.send(client, data)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type DeparturesMessage struct {
	Type    string            `json:"type"`
	Payload DeparturesPayload `json:"payload"`
}

type DeparturesPayload struct {
	StopID      string             `json:"stopId"`
	Departures  []domain.Departure `json:"departures"`
	RefreshedAt time.Time          `json:"refreshedAt"`
	Refreshing  bool               `json:"refreshing"`
}

type ErrorMessage struct {
	Type    string       `json:"type"`
	Payload ErrorPayload `json:"payload"`
}

type ErrorPayload struct {
	Error string `json:"error"`
	Retry string `json:"retry,omitempty"`
}

func (h *Hub) push(client *Client) {
	data, err := h.render(client.View())
	if err != nil {
		h.logger.Error("failed to render departures", "client_id", client.ID, "error", err)
		return
	}
	h.send(client, data)
}

func (h *Hub) fanout() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return
	}

	rendered := make(map[string][]byte)
	for client := range h.clients {
		view := client.View()
		key := viewKey(view)

		data, ok := rendered[key]
		if !ok {
			var err error
			data, err = h.render(view)
			if err != nil {
				h.logger.Error("failed to render departures", "client_id", client.ID, "error", err)
				continue
			}
			rendered[key] = data
		}
		h.send(client, data)
	}

	h.logger.Debug("departures pushed", "clients", len(h.clients), "views", len(rendered))
}

func (h *Hub) render(view domain.View) ([]byte, error) {
	deps, err := h.board.Departures(view)
	if err != nil {
		return json.Marshal(NewErrorMessage(err))
	}

	snap := h.board.Snapshot()
	return json.Marshal(DeparturesMessage{
		Type: "departures",
		Payload: DeparturesPayload{
			StopID:      snap.StopID,
			Departures:  deps,
			RefreshedAt: snap.LastRefreshedAt,
			Refreshing:  snap.Refreshing,
		},
	})
}

// NewErrorMessage builds the error frame. Refresh failures carry a retry
// hint, a missing stop does not.
func NewErrorMessage(err error) ErrorMessage {
	msg := ErrorMessage{Type: "error", Payload: ErrorPayload{Error: err.Error()}}
	if !errors.Is(err, board.ErrNoStop) {
		msg.Payload.Retry = "refresh"
	}
	return msg
}

func (h *Hub) send(client *Client, data []byte) bool {
	select {
	case client.Send <- data:
		return true
	default:
		h.logger.Debug("client send buffer full", "client_id", client.ID)
		return false
	}
}

func viewKey(view domain.View) string {
	return domain.FormatLineDests(view.Include) + "|" + domain.FormatLineDests(view.Exclude) + "|" + strconv.Itoa(view.Limit)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	close(client.Send)
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]struct{})
}
