// Package websocket streams quest and rendezvous events to connected apps.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"nicmeup/chat"
	"nicmeup/logging"
	"nicmeup/quest"
	"nicmeup/rendezvous"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameSize   = 4096
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Manager tracks live connections so they can be counted and closed on shutdown.
type Manager struct {
	quests     *quest.Service
	rendezvous *rendezvous.Service
	chat       *chat.Service
	log        zerolog.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}
	mu         sync.RWMutex
}

func NewManager(quests *quest.Service, rv *rendezvous.Service, chatSvc *chat.Service, log zerolog.Logger) *Manager {
	return &Manager{
		quests:     quests,
		rendezvous: rv,
		chat:       chatSvc,
		log:        logging.Component(log, "websocket"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
	}
}

// Start runs the registry until ctx is done, then disconnects every client.
func (m *Manager) Start(ctx context.Context) {
	defer close(m.stopped)
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			m.clients[client] = true
			n := len(m.clients)
			m.mu.Unlock()
			m.log.Debug().Str(logging.USER, client.userID).Int("clients", n).Msg("client registered")

		case client := <-m.unregister:
			m.mu.Lock()
			delete(m.clients, client)
			n := len(m.clients)
			m.mu.Unlock()
			m.log.Debug().Str(logging.USER, client.userID).Int("clients", n).Msg("client unregistered")

		case <-ctx.Done():
			m.mu.Lock()
			for client := range m.clients {
				client.cancel()
				delete(m.clients, client)
			}
			m.mu.Unlock()
			return
		}
	}
}

func (m *Manager) Connected() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// connect upgrades the request and starts the client's pumps. The client
// lives until its context is canceled or the peer goes away.
func (m *Manager) connect(w http.ResponseWriter, r *http.Request, userID string, onFrame func(*Client, inbound)) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	// the request context ends when the handler returns, so the client gets its own
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		conn:    conn,
		userID:  userID,
		send:    make(chan []byte, sendBufferSize),
		flush:   make(chan struct{}),
		manager: m,
		ctx:     ctx,
		cancel:  cancel,
		log:     m.log.With().Str(logging.USER, userID).Logger(),
	}

	select {
	case m.register <- client:
	case <-m.stopped:
		cancel()
	}
	go client.writePump()
	go client.readPump(onFrame)
	return client, nil
}

func (m *Manager) release(c *Client) {
	select {
	case m.unregister <- c:
	case <-m.stopped:
	}
}
