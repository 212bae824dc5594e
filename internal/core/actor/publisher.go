package actor

import (
	"fmt"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/service"
	. "github.com/berfenger/smartboiler2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// PublisherActor pushes every entity update on the event stream into the
// local sinks and forwards changed values to the MQTT actor, if any.
type PublisherActor struct {
	behavior    actor.Behavior
	publisher   *service.Publisher
	mqttActor   *actor.PID
	eventStream *eventstream.EventStream
	sub         *eventstream.Subscription
	published   uint64

	logger *zap.Logger
}

func NewPublisherActor(publisher *service.Publisher, mqttActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *PublisherActor {
	act := &PublisherActor{
		behavior:    actor.NewBehavior(),
		publisher:   publisher,
		mqttActor:   mqttActor,
		eventStream: eventStream,
		logger:      ActorLogger(domain.ACTOR_ID_PUBLISHER, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *PublisherActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PublisherActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("publisher@default started")
		root := ctx.ActorSystem().Root
		self := ctx.Self()
		state.sub = state.eventStream.Subscribe(func(value any) {
			if ev, ok := value.(domain.SensorUpdateEvent); ok {
				root.Send(self, ev)
			}
		})
	case *actor.Restarting, *actor.Stopping:
		if state.sub != nil {
			state.eventStream.Unsubscribe(state.sub)
			state.sub = nil
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("publisher@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_PUBLISHER,
			Healthy: true,
			State:   fmt.Sprintf("published %d", state.published),
		})
	case domain.SensorUpdateEvent:
		if !state.publisher.Publish(msg) {
			return
		}
		state.published++
		if state.mqttActor != nil {
			ctx.Send(state.mqttActor, domain.PublishSensorUpdateRequest{Event: msg})
		}
	default:
		state.logger.Debug("publisher@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}
