package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/service"
	"github.com/berfenger/smartboiler2mqtt/internal/metrics"
	. "github.com/berfenger/smartboiler2mqtt/internal/util/actorutil"
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

const (
	OP_HDO_ENABLED = "hdo_enabled"

	RESULT_PENDING = "pending"
	RESULT_APPLIED = "applied"
	RESULT_FAILED  = "failed"
)

// ControlActor owns the mode state machine: it turns mode, target
// temperature and HDO commands into session writes and confirms them against
// the following state reads.
type ControlActor struct {
	behavior    actor.Behavior
	machine     *service.ModeMachine
	session     *actor.PID
	timing      domain.TimingConfig
	eventStream *eventstream.EventStream
	sub         *eventstream.Subscription
	metrics     *metrics.Metrics

	logger *zap.Logger
}

func NewControlActor(gen domain.Generation, timing domain.TimingConfig, currentSensor string, session *actor.PID,
	eventStream *eventstream.EventStream, metrics *metrics.Metrics, logger *zap.Logger) *ControlActor {
	act := &ControlActor{
		behavior:    actor.NewBehavior(),
		machine:     service.NewModeMachine(gen, timing.VerifyCycles, currentSensor),
		session:     session,
		timing:      timing,
		eventStream: eventStream,
		metrics:     metrics,
		logger:      ActorLogger(domain.ACTOR_ID_CONTROL, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *ControlActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ControlActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("control@default started")
		root := ctx.ActorSystem().Root
		self := ctx.Self()
		state.sub = state.eventStream.Subscribe(func(value any) {
			if ev, ok := value.(domain.SessionStateChangedEvent); ok {
				root.Send(self, ev)
			}
		})
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.session, domain.GetSessionStateRequest{}, 2*time.Second), func(err error) any {
			return domain.GetSessionStateResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
		})
	case *actor.Restarting, *actor.Stopping:
		if state.sub != nil {
			state.eventStream.Unsubscribe(state.sub)
			state.sub = nil
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("control@default ActorHealthRequest")
		status := "idle"
		if state.machine.Pending(domain.ENTITY_ID_MODE) || state.machine.Pending(domain.ENTITY_ID_THERMOSTAT) {
			status = "verifying"
		}
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CONTROL,
			Healthy: true,
			State:   status,
		})
	case domain.GetSessionStateResponse:
		if !msg.HasResponseError() {
			state.onSession(msg.Session)
		}
	case domain.SessionStateChangedEvent:
		state.onSession(msg.Session)
	case domain.StateSampleReceived:
		state.logger.Debug("control@default StateSampleReceived", zap.Uint8("mode", msg.State.Mode), zap.Int("target", msg.State.TargetTemperature))
		state.handleOutcomes(state.machine.Observe(msg.State))
		state.publishDisplayed()
	case domain.SetModeRequest:
		state.logger.Debug("control@default SetModeRequest", zap.String("mode", msg.Mode))
		change, err := state.machine.RequestMode(msg.Mode)
		if err != nil {
			state.logger.Warn("control@default mode change rejected", zap.String("mode", msg.Mode), zap.Error(err))
			state.reject(ctx, msg, err)
			return
		}
		state.accept(ctx, msg, domain.ENTITY_ID_MODE, change)
	case domain.SetTargetTemperatureRequest:
		state.logger.Debug("control@default SetTargetTemperatureRequest", zap.Int("temperature", msg.Temperature))
		change, err := state.machine.RequestTargetTemperature(msg.Temperature)
		if err != nil {
			state.logger.Warn("control@default target temperature rejected", zap.Int("temperature", msg.Temperature), zap.Error(err))
			state.reject(ctx, msg, err)
			return
		}
		state.accept(ctx, msg, domain.ENTITY_ID_THERMOSTAT, change)
	case domain.SetHdoEnabledRequest:
		state.logger.Debug("control@default SetHdoEnabledRequest", zap.Bool("enabled", msg.Enabled))
		if !state.machine.Ready() {
			state.reject(ctx, msg, domain.ErrSessionNotReady)
			return
		}
		state.write(ctx, msg, OP_HDO_ENABLED, 0, [][]byte{sbprotocol.SetHdoEnabledFrame(msg.Enabled)})
	default:
		state.logger.Debug("control@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ControlActor) onSession(session domain.DeviceSession) {
	ready := session.State == domain.SessionReady
	if ready == state.machine.Ready() {
		return
	}
	state.handleOutcomes(state.machine.SetReady(ready))
	state.publishDisplayed()
}

func (state *ControlActor) accept(ctx actor.Context, req domain.BoilerCommandRequest, entity string, change service.Change) {
	if change.Superseded != nil {
		state.handleOutcomes([]service.Outcome{*change.Superseded})
	}
	state.eventStream.Publish(domain.ResultUpdateEvent(resultEntity(entity), RESULT_PENDING))
	state.publishDisplayed()
	state.write(ctx, req, entity, change.Seq, change.Frames)
}

// write sends frames to the session and completes the request once the
// device acknowledged them. seq identifies the pending change behind op.
func (state *ControlActor) write(ctx actor.Context, req domain.BoilerCommandRequest, op string, seq uint64, frames [][]byte) {
	replyTo := ForRequest(req).ReplyTo(ctx)
	timeout := 5 * state.timing.ResponseTimeout
	future := ctx.RequestFuture(state.session, domain.WriteCommandRequest{Op: op, Frames: frames}, timeout)
	ctx.ReenterAfter(future, func(res any, err error) {
		if err == nil {
			if resp, ok := res.(domain.WriteCommandResponse); ok {
				err = resp.GetResponseError()
			} else {
				err = fmt.Errorf("unexpected write response %T", res)
			}
		}
		state.onWritten(ctx, op, seq, replyTo, err)
	})
}

func (state *ControlActor) onWritten(ctx actor.Context, op string, seq uint64, replyTo *actor.PID, err error) {
	status := domain.COMMAND_STATUS_PENDING
	switch {
	case err != nil:
		state.logger.Warn("control@default write failed", zap.String("op", op), zap.Error(err))
		status = domain.COMMAND_STATUS_FAILED
		if outcome, ok := state.machine.WriteFailed(op, seq, err); ok {
			state.handleOutcomes([]service.Outcome{outcome})
			state.publishDisplayed()
		}
	case op == OP_HDO_ENABLED:
		status = domain.COMMAND_STATUS_ACCEPTED
	case !state.machine.WriteSucceeded(op, seq):
		state.logger.Info("control@default write of a superseded change", zap.String("op", op))
		status = domain.COMMAND_STATUS_FAILED
		err = domain.ErrChangeSuperseded
	}

	if replyTo != nil {
		ctx.Send(replyTo, domain.BoilerCommandResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
			Status:             status,
		})
	}
}

func (state *ControlActor) reject(ctx actor.Context, req domain.BoilerCommandRequest, err error) {
	ForRequest(req).Respond(ctx, domain.BoilerCommandResponse{
		ActorResponseMixIn: domain.ErrorResponse(err),
		Status:             domain.COMMAND_STATUS_FAILED,
	})
}

func (state *ControlActor) handleOutcomes(outcomes []service.Outcome) {
	for _, o := range outcomes {
		resultId := resultEntity(o.Entity)
		if o.Applied {
			state.logger.Info("control: change applied", zap.String("entity", o.Entity), zap.String("value", o.Requested))
			state.eventStream.Publish(domain.ResultUpdateEvent(resultId, RESULT_APPLIED))
			continue
		}
		if o.Superseded {
			state.logger.Info("control: change superseded", zap.Error(o.Failure))
			state.eventStream.Publish(domain.ResultUpdateEvent(resultId, RESULT_FAILED+": "+o.Failure.Reason))
			continue
		}
		if o.Failure != nil {
			state.logger.Warn("control: change reverted", zap.Error(o.Failure))
			state.metrics.VerificationFailed(o.Entity)
			state.eventStream.Publish(domain.ResultUpdateEvent(resultId, RESULT_FAILED+": "+o.Failure.Reason))
		}
	}
}

// publishDisplayed publishes the optimistic or confirmed mode and thermostat.
func (state *ControlActor) publishDisplayed() {
	if mode, ok := state.machine.DisplayedMode(); ok {
		state.eventStream.Publish(domain.ModeUpdateEvent(mode))
	}
	if thermostat, ok := state.machine.Thermostat(); ok {
		state.eventStream.Publish(domain.ThermostatUpdateEvent(thermostat))
	}
}

func resultEntity(entity string) string {
	if entity == domain.ENTITY_ID_THERMOSTAT {
		return domain.ENTITY_ID_THERMOSTAT_RESULT
	}
	return domain.ENTITY_ID_MODE_RESULT
}
