// Package relay is the duplex transport between the front-end and backend
// peers. Each websocket frame carries one wire envelope; the hub fans
// requests out to every connected peer and hands every inbound envelope to a
// single handler.
package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	pkgLogger "github.com/fpt/chatbridge/pkg/logger"
	"github.com/fpt/chatbridge/pkg/wire"
)

// Handler receives each envelope arriving from any connected peer.
type Handler func(env wire.Envelope)

// Hub tracks connected backend peers and broadcasts envelopes to them.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *pkgLogger.Logger

	mu      sync.RWMutex
	peers   map[*Peer]struct{}
	handler Handler
}

// NewHub creates a hub with no connected peers.
func NewHub(logger *pkgLogger.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peer auth is out of scope; accept any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.WithComponent("relay"),
		peers:  make(map[*Peer]struct{}),
	}
}

// SetHandler installs the receive callback. Must be called before the hub
// starts accepting peers.
func (h *Hub) SetHandler(fn func(env wire.Envelope)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

// Broadcast delivers env to all currently connected peers. With zero peers
// connected this is a silent no-op: nothing is queued and nothing is retried.
func (h *Hub) Broadcast(env wire.Envelope) {
	frame, err := env.Encode()
	if err != nil {
		h.logger.Error("Failed to encode envelope for broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		p.enqueue(frame)
	}
}

// PeerCount returns the number of connected peers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// ServeHTTP upgrades an incoming request to a websocket peer connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	peer := newPeer(conn, h.logger)

	h.mu.Lock()
	h.peers[peer] = struct{}{}
	total := len(h.peers)
	h.mu.Unlock()

	h.logger.Info("Peer connected", "remote", r.RemoteAddr, "total_peers", total)

	go peer.writePump()
	go peer.readPump(h)
}

// remove drops a peer after its read pump exits. Nothing buffered survives
// the disconnect.
func (h *Hub) remove(p *Peer) {
	h.mu.Lock()
	_, ok := h.peers[p]
	if ok {
		delete(h.peers, p)
		close(p.send)
	}
	total := len(h.peers)
	h.mu.Unlock()

	if ok {
		h.logger.Info("Peer disconnected", "remote", p.conn.RemoteAddr().String(), "total_peers", total)
	}
}

// dispatch forwards an inbound envelope to the installed handler.
func (h *Hub) dispatch(env wire.Envelope) {
	h.mu.RLock()
	fn := h.handler
	h.mu.RUnlock()

	if fn == nil {
		h.logger.Debug("No handler installed, dropping envelope", "message_id", env.Message.ID)
		return
	}
	fn(env)
}

// ListenAndServe runs an HTTP server exposing the hub at /ws until ctx is
// cancelled.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	h.logger.Info("Relay listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return errors.Wrap(err, "relay server failed")
	}
}
