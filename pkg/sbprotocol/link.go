package sbprotocol

import (
	"context"
	"time"
)

// Link is the transport a Client runs transactions on: a write characteristic
// plus a notification stream.
type Link interface {
	// Open connects and subscribes to notifications. Handlers stay valid until
	// Close returns.
	Open(ctx context.Context, handler LinkHandler) error
	Write(frame []byte) error
	Close() error
}

type LinkHandler struct {
	OnNotify func(raw []byte)
	// OnDisconnect fires once when the peer or the radio drops the link. It does
	// not fire for Close.
	OnDisconnect func(err error)
}

type LinkInstrument struct {
	Begin func(op string)
	End   func(op string, elapsed time.Duration, err error)
}
