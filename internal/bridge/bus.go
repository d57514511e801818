package bridge

import "github.com/fpt/chatbridge/pkg/wire"

// Bus decouples the front-end adapter from the relay. Requests flow from the
// adapter toward backend peers; replies flow the other way. Both directions
// are best-effort: a full channel drops rather than blocks.
type Bus struct {
	Requests chan wire.Envelope
	Replies  chan wire.Envelope
}

// NewBus creates a bus with buffered channels.
func NewBus(bufferSize int) *Bus {
	return &Bus{
		Requests: make(chan wire.Envelope, bufferSize),
		Replies:  make(chan wire.Envelope, bufferSize),
	}
}
