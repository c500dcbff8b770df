// ABOUTME: WebSocket transport for the controller
// ABOUTME: Owns the connection, the read loop, and the periodic latency ping
package syncjam

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncjam/syncjam-go/pkg/protocol"
)

// wsConn wraps a gorilla connection with a write mutex. gorilla allows one
// concurrent writer; commands and the ping loop share this one.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
}

func (w *wsConn) write(msg protocol.Message) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(msg)
}

func (w *wsConn) close() {
	w.doneOnce.Do(func() {
		close(w.done)
		w.conn.Close()
	})
}

// Connect dials the room server at host:port and starts the read and ping
// loops. It returns once the socket is up; message handling continues in
// the background until Close or a read error.
func (c *Controller) Connect(addr string) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}

	ws := &wsConn{conn: conn, done: make(chan struct{})}

	c.mu.Lock()
	c.conn = ws
	c.sendFn = ws.write
	if c.streamURL == nil {
		base := "http://" + addr
		c.streamURL = func(t protocol.Track) string {
			return base + "/stream/" + t.ID
		}
	}
	c.mu.Unlock()

	c.startWatchdog()

	go c.readLoop(ws)
	go c.pingLoop(ws)
	return nil
}

// Close tears the connection down. The read loop exits on its own.
func (c *Controller) Close() {
	c.mu.Lock()
	ws := c.conn
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	c.mu.Unlock()

	if ws != nil {
		ws.close()
	}
}

func (c *Controller) readLoop(ws *wsConn) {
	defer ws.close()

	for {
		var msg protocol.Message
		if err := ws.conn.ReadJSON(&msg); err != nil {
			select {
			case <-ws.done:
			default:
				c.logger.Warn().Err(err).Msg("connection lost")
			}
			return
		}
		c.HandleMessage(msg)
	}
}

// pingLoop measures latency every five seconds. The first ping goes out
// immediately so the offset and latency are usable before playback starts.
func (c *Controller) pingLoop(ws *wsConn) {
	ticker := time.NewTicker(protocol.PingInterval)
	defer ticker.Stop()

	c.sendPing(ws)
	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			c.sendPing(ws)
		}
	}
}

func (c *Controller) sendPing(ws *wsConn) {
	msg := protocol.Message{
		Type:    protocol.TypePing,
		Payload: protocol.Ping{ClientTimestamp: c.clock.NowMs()},
	}
	if err := ws.write(msg); err != nil {
		c.logger.Debug().Err(err).Msg("ping failed")
	}
}
