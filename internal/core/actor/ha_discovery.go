package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/config"
	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/util/actorutil"
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// HADiscoveryActor publishes the Home Assistant discovery messages once the
// MQTT actor is up and again whenever the boiler reports new device info.
type HADiscoveryActor struct {
	config      *config.Config
	generation  domain.Generation
	behavior    actor.Behavior
	stash       *actorutil.Stash
	mqttActor   *actor.PID
	eventStream *eventstream.EventStream
	sub         *eventstream.Subscription
	info        *sbprotocol.DeviceInfo
	published   int

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, gen domain.Generation, mqttActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:      config,
		generation:  gen,
		mqttActor:   mqttActor,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT actor is not healthy"))
		}
		root := ctx.ActorSystem().Root
		self := ctx.Self()
		state.sub = state.eventStream.Subscribe(func(value any) {
			if ev, ok := value.(domain.DeviceInfoEvent); ok {
				root.Send(self, ev)
			}
		})
		state.publish(ctx)
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HA_DISCOVERY,
			Healthy: true,
			State:   fmt.Sprintf("published %d", state.published),
		})
	case domain.DeviceInfoEvent:
		if state.info != nil && *state.info == msg.Info {
			return
		}
		state.logger.Debug("hadiscovery@default device info changed")
		info := msg.Info
		state.info = &info
		state.publish(ctx)
	case *actor.Stopping, *actor.Restarting:
		if state.sub != nil {
			state.eventStream.Unsubscribe(state.sub)
			state.sub = nil
		}
	default:
		state.logger.Debug("hadiscovery@default: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) publish(ctx actor.Context) {
	ctx.Send(state.mqttActor, BoilerDiscovery(state.config, state.generation, state.info))
	state.published++
}

// BoilerDiscovery lists the bridge and boiler entities to announce. info may
// be nil before the first session.
func BoilerDiscovery(cfg *config.Config, gen domain.Generation, info *sbprotocol.DeviceInfo) domain.PublishDiscoveryRequest {
	enabled := cfg.Entities.Enabled

	bridgeDevice := domain.BridgeDevice(cfg.MQTT.BaseTopic)
	sensors := domain.BridgeSensors(bridgeDevice)

	boilerDevice := domain.BoilerDevice(cfg.Boiler.Address, info)
	if cfg.Boiler.Name != "" {
		boilerDevice.Name = cfg.Boiler.Name
	}
	boilerDevice.ViaDevice = bridgeDevice.Id
	boilerSensors := domain.BoilerSensors(boilerDevice, enabled)
	for i := range boilerSensors {
		if i > 0 {
			boilerSensors[i].Device = domain.IdDevice(boilerDevice)
		}
		sensors = append(sensors, boilerSensors[i])
	}

	idDevice := domain.IdDevice(boilerDevice)
	if len(boilerSensors) == 0 {
		idDevice = boilerDevice
	}
	return domain.PublishDiscoveryRequest{
		Sensors:      sensors,
		Selects:      domain.BoilerSelects(idDevice, gen, enabled),
		Climates:     domain.BoilerClimates(idDevice, enabled),
		InputNumbers: domain.BoilerInputNumbers(idDevice, gen, enabled),
	}
}
