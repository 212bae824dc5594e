package port

import (
	"context"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"
)

// BoilerLink is the serialized transaction API over the BLE link.
// *sbprotocol.Client implements it.
type BoilerLink interface {
	Connect(ctx context.Context, pin uint16) error
	Query(ctx context.Context, category sbprotocol.Category) ([][]byte, error)
	Write(ctx context.Context, frames ...[]byte) error
	Close() error
	SetDisconnectHandler(fn func(error))
	SetOpenedHandler(fn func())
}

type ConsumptionStore interface {
	// Load returns false when nothing was stored yet.
	Load(ctx context.Context) (domain.ConsumptionRecord, bool, error)
	Save(ctx context.Context, record domain.ConsumptionRecord) error
}

// Sink receives the values of one entity.
type Sink[T any] interface {
	Receive(value T)
}

type SinkFunc[T any] func(value T)

func (f SinkFunc[T]) Receive(value T) {
	f(value)
}
