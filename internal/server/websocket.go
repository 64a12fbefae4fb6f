package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/termhost/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// WebSocket carries messages as websocket text frames, one message per
// frame. Every connected client receives every event.
type WebSocket struct {
	host     Host
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewWebSocket creates a websocket carrier. checkOrigin may be nil to accept
// same-origin requests only.
func NewWebSocket(h Host, logger *logging.Logger, checkOrigin func(*http.Request) bool) *WebSocket {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &WebSocket{
		host:   h,
		logger: logger.WithComponent("websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// ServeHTTP upgrades the request and serves the connection until the client
// goes away.
func (w *WebSocket) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &wsConn{conn: conn, done: make(chan struct{})}
	defer c.close()

	logger := w.logger.With("remote", r.RemoteAddr)
	logger.Info("client connected")
	unsubscribe := subscribe(w.host.Bus(), logger, c.write)
	defer unsubscribe()
	go c.keepalive()

	conn.SetReadLimit(maxLineSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			logger.Info("client disconnected")
			return
		}
		if typ != websocket.TextMessage || len(msg) == 0 {
			continue
		}
		if !w.host.Submit(msg) {
			_ = c.writeControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "host stopped"))
			return
		}
	}
}

// wsConn serializes writes: gorilla connections support one concurrent
// writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func (c *wsConn) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *wsConn) writeControl(messageType int, data []byte) error {
	return c.conn.WriteControl(messageType, data, time.Now().Add(writeWait))
}

func (c *wsConn) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.writeControl(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
