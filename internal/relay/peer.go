package relay

import (
	"time"

	"github.com/gorilla/websocket"

	pkgLogger "github.com/fpt/chatbridge/pkg/logger"
	"github.com/fpt/chatbridge/pkg/wire"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a peer may stay silent before the read side gives up.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// sendBuffer bounds per-peer outbound queuing; overflow drops frames.
	sendBuffer = 32
)

// Peer is one connected backend over its websocket. A peer has no identity
// and no session state: reconnection is a brand-new peer.
type Peer struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *pkgLogger.Logger
}

func newPeer(conn *websocket.Conn, logger *pkgLogger.Logger) *Peer {
	return &Peer{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
	}
}

// enqueue hands a frame to the write pump without blocking. A slow peer loses
// frames rather than stalling the bridge.
func (p *Peer) enqueue(frame []byte) {
	select {
	case p.send <- frame:
	default:
		p.logger.Warn("Peer send buffer full, dropping frame", "peer", p.conn.RemoteAddr().String())
	}
}

// readPump delivers inbound envelopes to the hub until the connection dies.
// Runs on its own goroutine; exactly one per peer.
func (p *Peer) readPump(h *Hub) {
	defer h.remove(p)

	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Warn("Peer read failed", "error", err)
			}
			return
		}

		env, err := wire.ParseEnvelope(data)
		if err != nil {
			p.logger.Debug("Discarding invalid frame from peer", "error", err)
			continue
		}
		h.dispatch(env)
	}
}

// writePump serializes all writes for this peer, preserving per-connection
// order. Runs on its own goroutine; exactly one per peer.
func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
