package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/metrics"
	. "github.com/berfenger/smartboiler2mqtt/internal/util/actorutil"
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// PollerActor reads the state and consumption categories at fixed intervals
// and the info category once per session. Ticks are skipped, not queued,
// while the session is not ready or a poll of the same category is running.
type PollerActor struct {
	behavior    actor.Behavior
	scheduler   *scheduler.TimerScheduler
	session     *actor.PID
	control     *actor.PID
	consumption *actor.PID
	timing      domain.TimingConfig
	eventStream *eventstream.EventStream
	sub         *eventstream.Subscription
	metrics     *metrics.Metrics

	ready    bool
	infoRead bool
	inFlight map[sbprotocol.Category]bool

	logger *zap.Logger
}

type pollTick struct {
	category sbprotocol.Category
}

func NewPollerActor(timing domain.TimingConfig, session, control, consumption *actor.PID, eventStream *eventstream.EventStream, metrics *metrics.Metrics, logger *zap.Logger) *PollerActor {
	act := &PollerActor{
		behavior:    actor.NewBehavior(),
		session:     session,
		control:     control,
		consumption: consumption,
		timing:      timing,
		eventStream: eventStream,
		metrics:     metrics,
		inFlight:    map[sbprotocol.Category]bool{},
		logger:      ActorLogger(domain.ACTOR_ID_POLLER, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PollerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poller@default started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)

		root := ctx.ActorSystem().Root
		self := ctx.Self()
		state.sub = state.eventStream.Subscribe(func(value any) {
			if ev, ok := value.(domain.SessionStateChangedEvent); ok {
				root.Send(self, ev)
			}
		})

		state.scheduler.SendOnce(state.timing.StateInterval, self, pollTick{category: sbprotocol.CategoryState})
		state.scheduler.SendOnce(state.timing.ConsumptionInterval, self, pollTick{category: sbprotocol.CategoryConsumption})

		// the session may be ready before this actor subscribed
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.session, domain.GetSessionStateRequest{}, 2*time.Second), func(err error) any {
			return domain.GetSessionStateResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
		})
	case *actor.Restarting, *actor.Stopping:
		if state.sub != nil {
			state.eventStream.Unsubscribe(state.sub)
			state.sub = nil
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("poller@default ActorHealthRequest")
		status := "degraded"
		if state.ready {
			status = "polling"
		}
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_POLLER,
			Healthy: true,
			State:   status,
		})
	case domain.GetSessionStateResponse:
		if msg.HasResponseError() {
			state.logger.Warn("poller@default cannot get session state", zap.Error(msg.GetResponseError()))
			return
		}
		state.onSession(ctx, msg.Session)
	case domain.SessionStateChangedEvent:
		state.onSession(ctx, msg.Session)
	case pollTick:
		interval := state.timing.StateInterval
		if msg.category == sbprotocol.CategoryConsumption {
			interval = state.timing.ConsumptionInterval
		}
		state.scheduler.SendOnce(interval, ctx.Self(), msg)

		if !state.ready {
			state.logger.Warn("poller@default degraded, session not ready", zap.Stringer("category", msg.category))
			state.metrics.SkippedPoll(msg.category, "not_ready")
			return
		}
		if state.inFlight[msg.category] {
			state.logger.Debug("poller@default previous poll still running", zap.Stringer("category", msg.category))
			state.metrics.SkippedPoll(msg.category, "in_flight")
			return
		}
		state.poll(ctx, msg.category)
		if msg.category == sbprotocol.CategoryState && !state.infoRead && !state.inFlight[sbprotocol.CategoryInfo] {
			state.poll(ctx, sbprotocol.CategoryInfo)
		}
	case domain.QueryTelemetryResponse:
		state.inFlight[msg.Category] = false
		if msg.HasResponseError() {
			err := msg.GetResponseError()
			var decodeErr *sbprotocol.DecodeError
			switch {
			case errors.As(err, &decodeErr):
				state.logger.Warn("poller@default sample discarded", zap.Stringer("category", msg.Category), zap.Error(err))
			case errors.Is(err, domain.ErrSessionNotReady):
				state.logger.Debug("poller@default session went away", zap.Stringer("category", msg.Category))
			default:
				state.logger.Error("poller@default poll failed", zap.Stringer("category", msg.Category), zap.Error(err))
			}
			return
		}
		state.route(ctx, msg.Sample)
	default:
		state.logger.Debug("poller@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *PollerActor) onSession(ctx actor.Context, session domain.DeviceSession) {
	ready := session.State == domain.SessionReady
	if ready == state.ready {
		return
	}
	state.ready = ready
	if !ready {
		state.logger.Info("poller: session lost, polling suspended")
		return
	}
	state.logger.Info("poller: session ready, polling")
	state.infoRead = false
	for _, category := range []sbprotocol.Category{sbprotocol.CategoryInfo, sbprotocol.CategoryState, sbprotocol.CategoryConsumption} {
		if !state.inFlight[category] {
			state.poll(ctx, category)
		}
	}
}

func (state *PollerActor) poll(ctx actor.Context, category sbprotocol.Category) {
	state.inFlight[category] = true
	// queued behind at most the other categories and one write
	timeout := 5 * state.timing.ResponseTimeout
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.session, domain.QueryTelemetryRequest{Category: category}, timeout), func(err error) any {
		return domain.QueryTelemetryResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
			Category:           category,
		}
	})
}

func (state *PollerActor) route(ctx actor.Context, sample sbprotocol.Sample) {
	switch {
	case sample.State != nil:
		state.logger.Debug("poller: state sample", zap.Any("state", sample.State))
		for _, ev := range domain.StateUpdateEvents(*sample.State) {
			state.eventStream.Publish(ev)
		}
		if state.control != nil {
			ctx.Send(state.control, domain.StateSampleReceived{State: *sample.State})
		}
	case sample.Consumption != nil:
		state.logger.Debug("poller: consumption sample", zap.Uint32("raw_wh", sample.Consumption.RawWh))
		if state.consumption != nil {
			ctx.Send(state.consumption, domain.ConsumptionSampleReceived{Consumption: *sample.Consumption})
		}
	case sample.Info != nil:
		state.logger.Info("poller: device info", zap.String("model", sample.Info.Model), zap.String("firmware", sample.Info.FirmwareVersion))
		state.infoRead = true
		state.eventStream.Publish(domain.DeviceInfoEvent{Info: *sample.Info})
		for _, ev := range domain.InfoUpdateEvents(*sample.Info) {
			state.eventStream.Publish(ev)
		}
	}
}
