package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chamikara/helachat/internal/logging"
)

const (
	// WriteWait is the timeout for writing to a WebSocket.
	WriteWait = 10 * time.Second

	// PongWait is the timeout for pong responses.
	PongWait = 60 * time.Second

	// PingPeriod is how often to send ping frames.
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is the maximum message size allowed from clients.
	MaxMessageSize = 512
)

// Observer streams bus events to WebSocket clients (the dashboard's live
// activity feed). It subscribes to all bus events and fans them out; it is
// mounted as an http.Handler on the API server rather than running its own
// listener.
type Observer struct {
	bus          *Bus
	upgrader     websocket.Upgrader
	historyCount int

	// Client management
	clients    map[*Client]bool
	clientsMu  sync.RWMutex
	register   chan *Client
	unregister chan *Client

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	runMu   sync.RWMutex

	log *logging.Logger
}

// Client represents a single WebSocket connection.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	replayHistory bool
	historyCount  int
}

// NewObserver creates an observer attached to the given bus.
// historyCount is how many recent events are replayed to new clients.
func NewObserver(b *Bus, historyCount int) *Observer {
	ctx, cancel := context.WithCancel(context.Background())

	return &Observer{
		bus:          b,
		historyCount: historyCount,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Dashboard clients connect cross-origin
				return true
			},
		},
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		log:        logging.Global().WithComponent("Observer"),
	}
}

// Start subscribes to the bus and begins managing clients.
func (o *Observer) Start() error {
	o.runMu.Lock()
	if o.running {
		o.runMu.Unlock()
		return fmt.Errorf("observer already running")
	}
	o.running = true
	o.runMu.Unlock()

	// Subscribe to all bus events
	o.bus.Subscribe(EventType(""), o.handleBusEvent)

	o.wg.Add(1)
	go o.runClientManager()

	return nil
}

// Stop disconnects all clients and stops the manager.
func (o *Observer) Stop() error {
	o.runMu.Lock()
	if !o.running {
		o.runMu.Unlock()
		return nil
	}
	o.running = false
	o.runMu.Unlock()

	o.cancel()

	o.clientsMu.Lock()
	for client := range o.clients {
		close(client.send)
		client.conn.Close()
		delete(o.clients, client)
	}
	o.clientsMu.Unlock()

	o.wg.Wait()
	o.log.Info("observer stopped")
	return nil
}

// ClientCount returns the number of connected WebSocket clients.
func (o *Observer) ClientCount() int {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	return len(o.clients)
}

// ServeHTTP upgrades the connection and starts the read/write pumps.
// Query parameters: replay=false disables history replay, count=N overrides
// how many events are replayed.
func (o *Observer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	replay := r.URL.Query().Get("replay") != "false"
	count := o.historyCount
	if n := r.URL.Query().Get("count"); n != "" {
		fmt.Sscanf(n, "%d", &count)
	}

	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		o.log.Warn("websocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn:          conn,
		send:          make(chan []byte, 256),
		replayHistory: replay,
		historyCount:  count,
	}

	o.register <- client

	o.wg.Add(2)
	go o.writePump(client)
	go o.readPump(client)
}

// runClientManager handles client registration/unregistration.
func (o *Observer) runClientManager() {
	defer o.wg.Done()

	for {
		select {
		case client := <-o.register:
			o.clientsMu.Lock()
			o.clients[client] = true
			total := len(o.clients)
			o.clientsMu.Unlock()
			o.log.Debug("client connected (%d total)", total)

			if client.replayHistory {
				o.replayHistoryToClient(client, client.historyCount)
			}

		case client := <-o.unregister:
			o.clientsMu.Lock()
			if _, ok := o.clients[client]; ok {
				delete(o.clients, client)
				close(client.send)
				client.conn.Close()
			}
			remaining := len(o.clients)
			o.clientsMu.Unlock()
			o.log.Debug("client disconnected (%d remaining)", remaining)

		case <-o.ctx.Done():
			return
		}
	}
}

// replayHistoryToClient sends recent events to a newly connected client.
func (o *Observer) replayHistoryToClient(client *Client, count int) {
	history := o.bus.GetHistorySlice(count)
	for _, event := range history {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}

		select {
		case client.send <- data:
		default:
			// Client channel full, skip
			return
		}
	}
}

// writePump handles sending messages to the WebSocket client.
func (o *Observer) writePump(client *Client) {
	defer o.wg.Done()

	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				// Channel closed
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := client.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages
			n := len(client.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-client.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-o.ctx.Done():
			return
		}
	}
}

// readPump handles reading messages from the WebSocket client.
func (o *Observer) readPump(client *Client) {
	defer o.wg.Done()
	defer func() {
		select {
		case o.unregister <- client:
		case <-o.ctx.Done():
		}
	}()

	client.conn.SetReadLimit(MaxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(PongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		_, _, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				o.log.Warn("websocket error: %v", err)
			}
			break
		}
		// Clients are read-only consumers of the event stream
	}
}

// handleBusEvent is called for every event published to the bus.
func (o *Observer) handleBusEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		o.log.Error("failed to marshal event: %v", err)
		return
	}

	o.clientsMu.RLock()
	clients := make([]*Client, 0, len(o.clients))
	for client := range o.clients {
		clients = append(clients, client)
	}
	o.clientsMu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			// Client channel full, drop it
			select {
			case o.unregister <- client:
			case <-o.ctx.Done():
			}
		}
	}
}
