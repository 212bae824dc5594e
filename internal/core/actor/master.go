package actor

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	adactor "github.com/berfenger/smartboiler2mqtt/internal/adapter/actor"
	"github.com/berfenger/smartboiler2mqtt/internal/config"
	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/port"
	"github.com/berfenger/smartboiler2mqtt/internal/core/service"
	"github.com/berfenger/smartboiler2mqtt/internal/metrics"
	. "github.com/berfenger/smartboiler2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type SessionActorProvider func(*eventstream.EventStream) *adactor.SessionActor

type MQTTActorProvider func() *adactor.MQTTActor

// MasterDeps are the collaborators the master wires into its children.
type MasterDeps struct {
	Generation domain.Generation
	Session    SessionActorProvider
	// nil disables the MQTT bridge
	MQTT      MQTTActorProvider
	Store     port.ConsumptionStore
	Publisher *service.Publisher
	Metrics   *metrics.Metrics
	// nil creates a private stream
	EventStream *eventstream.EventStream
}

type MasterOfPuppetsActor struct {
	config   config.Config
	deps     MasterDeps
	timing   domain.TimingConfig
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	sessionActor       *actor.PID
	mqttActor          *actor.PID
	controlActor       *actor.PID
	consumptionActor   *actor.PID
	pollerActor        *actor.PID
	publisherActor     *actor.PID
	logger             *zap.Logger
}

type healthCheckResult struct {
	expected       []string
	healthy        map[string]bool
	checksReceived int
	respondTo      *actor.PID
}

func NewMasterOfPuppetsActor(config config.Config, deps MasterDeps, logger *zap.Logger) *MasterOfPuppetsActor {
	eventStream := deps.EventStream
	if eventStream == nil {
		eventStream = &eventstream.EventStream{}
	}
	act := &MasterOfPuppetsActor{
		config:      config,
		deps:        deps,
		timing:      config.Timing(deps.Generation),
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		logger:      ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream: eventStream,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		var err error
		if state.sessionActor, err = state.startSessionActor(ctx); err != nil {
			panic(err)
		}
		if state.deps.MQTT != nil {
			if state.mqttActor, err = state.startMQTTActor(ctx); err != nil {
				panic(err)
			}
		}
		if state.controlActor, err = state.startControlActor(ctx); err != nil {
			panic(err)
		}
		if state.consumptionActor, err = state.startConsumptionActor(ctx); err != nil {
			panic(err)
		}
		if state.publisherActor, err = state.startPublisherActor(ctx); err != nil {
			panic(err)
		}
		if state.pollerActor, err = state.startPollerActor(ctx); err != nil {
			panic(err)
		}
		if state.mqttActor != nil && state.config.MQTT.HADiscoveryEnable {
			if _, err := state.startHADiscoveryActor(ctx); err != nil {
				panic(err)
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		children := state.children()
		state.currentHealthCheck.reset(children)
		state.currentHealthCheck.respondTo = ctx.Sender()
		for id, pid := range children {
			id := id
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command == nil {
			return
		}
		cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
		if err != nil {
			state.logger.Warn("master@default invalid command", zap.String("entity", msg.Command.DeviceId), zap.Error(err))
			return
		}
		ctx.Send(state.commandTarget(cmd), cmd)
	case domain.BoilerCommandRequest:
		state.logger.Debug("master@default BoilerCommandRequest", zap.String("command", msg.BoilerCommand()))
		ctx.Forward(state.commandTarget(msg))
	case domain.GetSessionStateRequest:
		ctx.Forward(state.sessionActor)
	case domain.FlushConsumptionRequest:
		ctx.Forward(state.consumptionActor)
	case *actor.Terminated:
		// the link owner must never be gone for good
		if msg.Who.Id == fmt.Sprintf("%s/%s", ctx.Self().Id, domain.ACTOR_ID_SESSION) {
			state.logger.Error("master@default session terminated")
			panic(errors.New("session terminated"))
		}
	default:
		state.logger.Debug("master@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.CancelReceiveTimeout()
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy), zap.String("state", msg.State))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			state.currentHealthCheck.healthy[msg.Id] = true
		}
		if state.currentHealthCheck.allReceived() {
			ctx.CancelReceiveTimeout()
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) commandTarget(cmd domain.BoilerCommandRequest) *actor.PID {
	if _, ok := cmd.(domain.SetPairingPinRequest); ok {
		return state.sessionActor
	}
	return state.controlActor
}

func (state *MasterOfPuppetsActor) children() map[string]*actor.PID {
	children := map[string]*actor.PID{
		domain.ACTOR_ID_SESSION:     state.sessionActor,
		domain.ACTOR_ID_CONTROL:     state.controlActor,
		domain.ACTOR_ID_CONSUMPTION: state.consumptionActor,
		domain.ACTOR_ID_POLLER:      state.pollerActor,
		domain.ACTOR_ID_PUBLISHER:   state.publisherActor,
	}
	if state.mqttActor != nil {
		children[domain.ACTOR_ID_MQTT] = state.mqttActor
	}
	return children
}

func restartDecider(reason interface{}) actor.Directive {
	log.Printf("handling failure for child. reason: %v", reason)
	return actor.RestartDirective
}

func (state *MasterOfPuppetsActor) startSessionActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	props := actor.PropsFromProducer(func() actor.Actor {
		return state.deps.Session(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_SESSION)
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	props := actor.PropsFromProducer(func() actor.Actor {
		return state.deps.MQTT()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_MQTT)
}

func (state *MasterOfPuppetsActor) startControlActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, restartDecider)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewControlActor(state.deps.Generation, state.timing, state.config.Thermostat.CurrentSensor, state.sessionActor,
			state.eventStream, state.deps.Metrics, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_CONTROL)
}

func (state *MasterOfPuppetsActor) startConsumptionActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewConsumptionActor(state.deps.Store, state.timing, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_CONSUMPTION)
}

func (state *MasterOfPuppetsActor) startPublisherActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, restartDecider)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewPublisherActor(state.deps.Publisher, state.mqttActor, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_PUBLISHER)
}

func (state *MasterOfPuppetsActor) startPollerActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, restartDecider)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(state.timing, state.sessionActor, state.controlActor, state.consumptionActor,
			state.eventStream, state.deps.Metrics, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_POLLER)
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, restartDecider)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.deps.Generation, state.mqttActor, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, domain.ACTOR_ID_HA_DISCOVERY)
}

func (state *healthCheckResult) reset(children map[string]*actor.PID) {
	state.expected = state.expected[:0]
	for id := range children {
		state.expected = append(state.expected, id)
	}
	slices.Sort(state.expected)
	state.healthy = map[string]bool{}
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == len(state.expected)
}

func (state *healthCheckResult) unhealthy() []string {
	var ids []string
	for _, id := range state.expected {
		if !state.healthy[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	unhealthy := state.unhealthy()
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: len(unhealthy) == 0,
		State:   "ok",
	}
	if len(unhealthy) > 0 {
		resp.State = "unhealthy: " + strings.Join(unhealthy, ",")
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
