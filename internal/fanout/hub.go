package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

// Conn is one live websocket registered under a DID.
type Conn struct {
	ID  string
	DID string
	ws  *websocket.Conn
}

// Hub tracks live websocket connections per DID and implements Gateway. A DID
// may hold several connections (multiple devices); events go to all of them.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}
	log   zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{conns: make(map[string]map[*Conn]struct{}), log: log}
}

// Register adds a connection under the given (already normalized) DID.
func (h *Hub) Register(connID, didStr string, ws *websocket.Conn) *Conn {
	c := &Conn{ID: connID, DID: didStr, ws: ws}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[didStr] == nil {
		h.conns[didStr] = make(map[*Conn]struct{})
	}
	h.conns[didStr][c] = struct{}{}
	return c
}

// Unregister drops a connection and reports how many remain for its DID.
func (h *Hub) Unregister(c *Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[c.DID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.DID)
		return 0
	}
	return len(set)
}

// Broadcast writes data to every live connection on this node. Used for
// presence deltas, which have no recipient roster.
func (h *Hub) Broadcast(ctx context.Context, data []byte) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, set := range h.conns {
		for c := range set {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.ws.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.log.Debug().Err(err).Str("conn", c.ID).Msg("broadcast write failed")
		}
	}
}

// Push writes data to every live connection of didStr. A slow or dead socket
// only loses its own copy.
func (h *Hub) Push(ctx context.Context, didStr string, data []byte) error {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns[didStr]))
	for c := range h.conns[didStr] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.ws.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.log.Debug().Err(err).Str("did", didStr).Str("conn", c.ID).Msg("websocket write failed")
		}
	}
	return nil
}
