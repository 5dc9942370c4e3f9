// Package telemetry streams per-frame cache and LOD statistics to websocket
// clients and accepts bias overrides from them.
package telemetry

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Faultbox/megatex/internal/megatexture"
)

const (
	// clientBuffer is how many frames a client may fall behind before it
	// is dropped.
	clientBuffer = 16
	writeTimeout = time.Second
	maxMessage   = 1024
)

// Message is one frame sent to clients.
type Message struct {
	Type  string                 `json:"type"`
	Stats megatexture.FrameStats `json:"stats"`
}

// Control is a request from a client. A nil field leaves the setting alone.
type Control struct {
	Bias *float32 `json:"bias,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub fans frame statistics out to connected clients. Publish never blocks
// the caller.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	controls chan Control
	server   *http.Server
	wg       sync.WaitGroup
}

// NewHub creates a hub with no clients.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			// local debugging tool, any page may connect
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:      log,
		clients:  make(map[*client]struct{}),
		controls: make(chan Control, clientBuffer),
	}
}

// Handler returns the HTTP routes of the hub.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.handleWebSocket)
	return mux
}

// Start listens on addr and serves the hub in the background. It returns
// the bound address.
func (h *Hub) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	h.server = &http.Server{Handler: h.Handler(), ReadHeaderTimeout: 5 * time.Second}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("telemetry server stopped", zap.Error(err))
		}
	}()

	h.log.Info("telemetry listening", zap.String("addr", ln.Addr().String()))
	return ln.Addr(), nil
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("telemetry client connected", zap.String("remote", conn.RemoteAddr().String()))

	h.wg.Add(1)
	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

func (h *Hub) readLoop(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(maxMessage)
	for {
		var ctl Control
		if err := c.conn.ReadJSON(&ctl); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				h.log.Warn("bad telemetry control", zap.Error(err))
				continue
			}
			return
		}

		select {
		case h.controls <- ctl:
		default:
			h.log.Warn("telemetry control dropped")
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		c.close()
	}
}

// Publish sends one frame to every client. Clients whose buffer is full
// are dropped.
func (h *Hub) Publish(stats megatexture.FrameStats) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) == 0 {
		return
	}

	msg, err := json.Marshal(Message{Type: "frame", Stats: stats})
	if err != nil {
		h.log.Error("encoding frame stats", zap.Error(err))
		return
	}

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("dropping slow telemetry client", zap.Uint64("frame", stats.Frame))
			delete(h.clients, c)
			c.close()
		}
	}
}

// Controls delivers client requests. Drain it from the render loop.
func (h *Hub) Controls() <-chan Control {
	return h.controls
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and stops the server.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()

	var err error
	if h.server != nil {
		err = h.server.Close()
	}
	h.wg.Wait()
	return err
}
