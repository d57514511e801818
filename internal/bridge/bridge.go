// Package bridge wires the front-end adapter to the relay channel. It
// performs no transformation, filtering, or buffering of its own; it only
// forwards envelopes and contains failures.
package bridge

import (
	"context"

	pkgLogger "github.com/fpt/chatbridge/pkg/logger"
	"github.com/fpt/chatbridge/pkg/wire"
)

// Transport is the relay side of the bridge.
type Transport interface {
	Broadcast(env wire.Envelope)
	SetHandler(fn func(env wire.Envelope))
}

// Renderer is the front-end side of the bridge.
type Renderer interface {
	Deliver(env wire.Envelope)
}

// Bridge forwards request envelopes to the transport and reply envelopes to
// the renderer.
type Bridge struct {
	bus       *Bus
	transport Transport
	renderer  Renderer
	logger    *pkgLogger.Logger
}

// New creates a bridge over the given bus. The transport's receive handler is
// installed immediately so no reply races the run loop.
func New(bus *Bus, transport Transport, renderer Renderer, logger *pkgLogger.Logger) *Bridge {
	b := &Bridge{
		bus:       bus,
		transport: transport,
		renderer:  renderer,
		logger:    logger.WithComponent("bridge"),
	}

	transport.SetHandler(func(env wire.Envelope) {
		select {
		case b.bus.Replies <- env:
		default:
			b.logger.Warn("Reply queue full, dropping envelope", "message_id", env.Message.ID)
		}
	})

	return b
}

// Run forwards envelopes in both directions until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("Bridge running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-b.bus.Requests:
			b.forward("broadcast", func() { b.transport.Broadcast(env) })
		case env := <-b.bus.Replies:
			b.forward("deliver", func() { b.renderer.Deliver(env) })
		}
	}
}

// forward is the supervisory boundary: a panic in either direction is logged
// and contained so one bad envelope cannot take the bridge down.
func (b *Bridge) forward(direction string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from forwarding failure", "direction", direction, "panic", r)
		}
	}()
	fn()
}
