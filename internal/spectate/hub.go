package spectate

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"mobarena-server/internal/config"
	"mobarena-server/internal/game"
	"mobarena-server/internal/journal"
)

// Hub manages all connected clients and routes them to sessions
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	sessions   *game.SessionManager
	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu        sync.Mutex
	ipConns       map[string]int
	totalConns    int
	maxConns      int
	maxConnsPerIP int

	cfg     config.SpectateConfig
	auth    *Auth
	journal *journal.Journal
	log     *zap.Logger
}

// NewHub wires the hub to the session manager. j may be nil.
func NewHub(cfg config.SpectateConfig, sessions *game.SessionManager, auth *Auth, j *journal.Journal, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:       make(map[*Client]bool),
		register:      make(chan *Client, 64),
		unregister:    make(chan *Client, 64),
		sessions:      sessions,
		ipConns:       make(map[string]int),
		maxConns:      cfg.MaxConns,
		maxConnsPerIP: cfg.MaxConnsPerIP,
		cfg:           cfg,
		auth:          auth,
		journal:       j,
		log:           log.Named("spectate"),
	}
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.maxConns > 0 && h.totalConns >= h.maxConns {
		return false
	}
	if h.maxConnsPerIP > 0 && h.ipConns[ip] >= h.maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.setSpectators(n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.setSpectators(n)
			client.leave()

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) setSpectators(n int) {
	if h.journal != nil {
		h.journal.SetSpectators(n)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
