// ABOUTME: WebSocket hub connecting browser sessions to the coordinator
// ABOUTME: One writer goroutine per client; slow consumers drop, never stall
package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/syncjam/syncjam-go/internal/room"
	"github.com/syncjam/syncjam-go/pkg/protocol"
)

const (
	sendBuffer    = 64
	writeDeadline = 10 * time.Second
	pingPeriod    = 30 * time.Second
)

// Hub owns the WebSocket connections and implements room.Broadcaster.
type Hub struct {
	coord  *room.Coordinator
	logger zerolog.Logger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient

	wg sync.WaitGroup
}

type wsClient struct {
	id       string
	conn     *websocket.Conn
	sendChan chan protocol.Message
}

// NewHub creates a hub. The coordinator is attached afterwards because
// the two reference each other.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			// Rooms are joined by link; origin policy is the deployment's
			// reverse proxy concern.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetCoordinator attaches the room coordinator.
func (h *Hub) SetCoordinator(c *room.Coordinator) {
	h.coord = c
}

// Broadcast sends a message to every connected client. Per-session
// buffers isolate backpressure: a full buffer drops the message for that
// client only.
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	msg := protocol.Message{Type: msgType, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.sendChan <- msg:
		default:
			h.logger.Warn().Str("session", c.id).Str("msg", msgType).Msg("send buffer full, dropping")
		}
	}
}

// SendTo sends a message to a single session.
func (h *Hub) SendTo(sessionID, msgType string, payload interface{}) {
	h.mu.RLock()
	c, ok := h.clients[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case c.sendChan <- protocol.Message{Type: msgType, Payload: payload}:
	default:
		h.logger.Warn().Str("session", sessionID).Str("msg", msgType).Msg("send buffer full, dropping")
	}
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the connection and runs the session until it drops.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	c := &wsClient{
		id:       uuid.NewString(),
		conn:     conn,
		sendChan: make(chan protocol.Message, sendBuffer),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.writer(c)
	}()

	h.coord.Connect(c.id)

	defer func() {
		h.coord.Disconnect(c.id)
		h.removeClient(c)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("session", c.id).Msg("websocket read error")
			}
			return
		}
		h.dispatch(c.id, data)
	}
}

func (h *Hub) removeClient(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.sendChan)
}

// writer drains the session's send buffer onto the wire and keeps the
// connection alive with control pings.
func (h *Hub) writer(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.sendChan:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// dispatch routes a client message to the coordinator. Malformed
// payloads are protocol errors: dropped with a log, never fatal.
func (h *Hub) dispatch(sessionID string, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debug().Err(err).Str("session", sessionID).Msg("unparseable message dropped")
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		var p protocol.Ping
		if protocol.DecodePayload(msg.Payload, &p) == nil {
			h.coord.HandlePing(sessionID, p.ClientTimestamp)
		}
	case protocol.TypePlay:
		h.coord.Play()
	case protocol.TypePause:
		h.coord.Pause()
	case protocol.TypeSkip:
		h.coord.Skip()
	case protocol.TypePrevious:
		h.coord.Previous()
	case protocol.TypeJumpTo:
		var p protocol.JumpTo
		if protocol.DecodePayload(msg.Payload, &p) == nil {
			h.coord.JumpTo(p.Index)
		}
	case protocol.TypeSeek:
		var p protocol.Seek
		if protocol.DecodePayload(msg.Payload, &p) == nil {
			h.coord.Seek(p.Seconds)
		}
	case protocol.TypeAddToQueue:
		var p protocol.Track
		if protocol.DecodePayload(msg.Payload, &p) == nil {
			h.coord.AddToQueue(p)
		}
	case protocol.TypeRemoveFromQueue:
		var p protocol.RemoveFromQueue
		if protocol.DecodePayload(msg.Payload, &p) == nil {
			h.coord.RemoveFromQueue(p.Index)
		}
	case protocol.TypeReorderQueue:
		var p protocol.ReorderQueue
		if protocol.DecodePayload(msg.Payload, &p) == nil {
			h.coord.Reorder(p.Queue, p.CurrentTrackIndex)
		}
	case protocol.TypeReadyToPlay:
		var p protocol.ReadyToPlay
		if protocol.DecodePayload(msg.Payload, &p) == nil {
			h.coord.ReadyToPlay(sessionID, p.Epoch)
		}
	default:
		h.logger.Debug().Str("session", sessionID).Str("type", msg.Type).Msg("unknown message type")
	}
}
