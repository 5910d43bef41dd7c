package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/preesu/boardd/internal/events"
	"github.com/preesu/boardd/internal/rpc"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

// Dispatcher answers RPC frames.
type Dispatcher interface {
	Dispatch(ctx context.Context, f rpc.Frame) rpc.Response
}

// WebSocketManager defines the interface for managing WebSocket connections.
type WebSocketManager interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	BroadcastMessage(message []byte)
	Run(ctx context.Context, sub *events.Subscription)
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// WebSocketManagerImpl implements the WebSocketManager interface.
type WebSocketManagerImpl struct {
	clients  map[*client]bool
	mutex    sync.RWMutex
	rpc      Dispatcher
	logger   *logrus.Entry
	upgrader websocket.Upgrader
}

// NewWebSocketManager creates a new WebSocketManager instance.
func NewWebSocketManager(d Dispatcher, logger *logrus.Entry) *WebSocketManagerImpl {
	return &WebSocketManagerImpl{
		clients: make(map[*client]bool),
		rpc:     d,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket upgrades the connection. Every text message from the
// client is an RPC frame; its response is written back on the same socket.
func (wm *WebSocketManagerImpl) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wm.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	wm.addClient(c)
	defer wm.removeClient(c)

	wm.logger.Info("New WebSocket client connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			wm.logger.Infof("WebSocket client disconnected: %v", err)
			break
		}
		var f rpc.Frame
		var resp interface{}
		if err := json.Unmarshal(data, &f); err != nil {
			resp = rpc.Response{Error: rpc.Errorf(rpc.CodeBadRequest, "invalid frame: %v", err)}
		} else {
			resp = wm.rpc.Dispatch(r.Context(), f)
		}
		out, err := json.Marshal(resp)
		if err != nil {
			wm.logger.Errorf("Failed to encode RPC response: %v", err)
			continue
		}
		if err := c.write(out); err != nil {
			wm.logger.Errorf("Failed to send RPC response: %v", err)
			break
		}
	}
}

// BroadcastMessage sends a message to all connected WebSocket clients.
func (wm *WebSocketManagerImpl) BroadcastMessage(message []byte) {
	wm.mutex.RLock()
	targets := make([]*client, 0, len(wm.clients))
	for c := range wm.clients {
		targets = append(targets, c)
	}
	wm.mutex.RUnlock()

	for _, c := range targets {
		if err := c.write(message); err != nil {
			wm.logger.Errorf("Failed to send message to client: %v", err)
			c.conn.Close()
			wm.removeClient(c)
		}
	}
}

// Run broadcasts every event from sub until ctx is done or sub is closed.
func (wm *WebSocketManagerImpl) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Channel():
			if !ok {
				return
			}
			msg, err := json.Marshal(ev)
			if err != nil {
				wm.logger.Errorf("Failed to encode event: %v", err)
				continue
			}
			wm.BroadcastMessage(msg)
		}
	}
}

// addClient adds a new WebSocket client to the manager.
func (wm *WebSocketManagerImpl) addClient(c *client) {
	wm.mutex.Lock()
	defer wm.mutex.Unlock()
	wm.clients[c] = true
}

// removeClient removes a WebSocket client from the manager.
func (wm *WebSocketManagerImpl) removeClient(c *client) {
	wm.mutex.Lock()
	defer wm.mutex.Unlock()
	if _, exists := wm.clients[c]; exists {
		delete(wm.clients, c)
		wm.logger.Info("WebSocket client removed")
	}
}

// Clients returns the number of connected clients.
func (wm *WebSocketManagerImpl) Clients() int {
	wm.mutex.RLock()
	defer wm.mutex.RUnlock()
	return len(wm.clients)
}
