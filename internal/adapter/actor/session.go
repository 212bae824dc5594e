package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/port"
	"github.com/berfenger/smartboiler2mqtt/internal/core/service"
	"github.com/berfenger/smartboiler2mqtt/internal/metrics"
	. "github.com/berfenger/smartboiler2mqtt/internal/util/actorutil"
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// extra time given to a link task on top of the link timeout before the
// task itself is abandoned
const sessionTaskGrace = 1 * time.Second

// SessionActor owns the BLE link. Every query and write goes through it, one
// at a time.
type SessionActor struct {
	ActorWithStates
	stash       *Stash
	scheduler   *scheduler.TimerScheduler
	link        port.BoilerLink
	generation  domain.Generation
	timing      domain.TimingConfig
	backoff     service.Backoff
	session     domain.DeviceSession
	attempt     uint64
	cancelRetry scheduler.CancelFunc
	eventStream *eventstream.EventStream
	metrics     *metrics.Metrics

	logger *zap.Logger
}

type sessionConnectTick struct {
}

type sessionConnectResult struct {
	attempt uint64
	err     error
}

type sessionLinkOpened struct {
	attempt uint64
}

type sessionLinkLost struct {
	attempt uint64
	err     error
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewSessionActor(address string, pin uint16, gen domain.Generation, timing domain.TimingConfig, link port.BoilerLink,
	eventStream *eventstream.EventStream, metrics *metrics.Metrics, logger *zap.Logger) *SessionActor {
	act := &SessionActor{
		stash:       &Stash{},
		link:        link,
		generation:  gen,
		timing:      timing,
		backoff:     service.Backoff{Initial: timing.BackoffInitial, Max: timing.BackoffMax},
		session:     domain.DeviceSession{Address: address, Pin: pin, State: domain.SessionDisconnected},
		eventStream: eventStream,
		metrics:     metrics,
		logger:      ActorLogger(domain.ACTOR_ID_SESSION, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(SessionStartingState{actor: act})
	return act
}

func (state *SessionActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type SessionStartingState struct {
	ActorState
	actor *SessionActor
}

func (state SessionStartingState) Name() string {
	return "starting"
}

func (state SessionStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("session@starting started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.publishSession()
		state.actor.Become(SessionDisconnectedState{actor: state.actor})
		ctx.Send(ctx.Self(), sessionConnectTick{})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.actor.closeLink()
	default:
		state.actor.logger.Debug("session@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Disconnected state: waiting for the next connection attempt.

type SessionDisconnectedState struct {
	ActorState
	actor *SessionActor
}

func (state SessionDisconnectedState) Name() string {
	return "disconnected"
}

func (state SessionDisconnectedState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case sessionConnectTick:
		state.actor.logger.Debug("session@disconnected connectTick")
		state.actor.connect(ctx)
	default:
		state.actor.receiveCommon(ctx, state.Name(), msg)
	}
}

// Connecting state: a connect task is running. Covers the authenticating
// session state too.

type SessionConnectingState struct {
	ActorState
	actor *SessionActor
}

func (state SessionConnectingState) Name() string {
	return "connecting"
}

func (state SessionConnectingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case sessionLinkOpened:
		if msg.attempt != state.actor.attempt {
			return
		}
		state.actor.logger.Debug("session@connecting link opened, authenticating")
		state.actor.setState(domain.SessionAuthenticating, nil)
	case sessionConnectResult:
		if msg.attempt != state.actor.attempt {
			return
		}
		state.actor.onConnectResult(ctx, msg.err)
	default:
		state.actor.receiveCommon(ctx, state.Name(), msg)
	}
}

// Ready state: link authenticated and idle.

type SessionReadyState struct {
	ActorState
	actor *SessionActor
}

func (state SessionReadyState) Name() string {
	return "ready"
}

func (state SessionReadyState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.QueryTelemetryRequest:
		state.actor.logger.Debug("session@ready QueryTelemetryRequest", zap.Stringer("category", msg.Category))
		sender := ForRequest(msg).ReplyTo(ctx)
		category := msg.Category
		MapBackgroundTask(NewBackgroundTask(ctx, func() (*domain.QueryTelemetryResponse, error) {
			return state.actor.query(category)
		}), mapTaskResult[domain.QueryTelemetryResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.QueryTelemetryResponse{
					ActorResponseMixIn: domain.ErrorResponse(err),
					Category:           category,
				},
				replyTo: sender,
			}
		}).WithTimeout(state.actor.timing.ResponseTimeout + sessionTaskGrace).PipeTo(ctx.Self())
		state.actor.BecomeStacked(SessionBusyState{actor: state.actor})
	case domain.WriteCommandRequest:
		state.actor.logger.Debug("session@ready WriteCommandRequest", zap.String("op", msg.Op))
		sender := ForRequest(msg).ReplyTo(ctx)
		op := msg.Op
		frames := msg.Frames
		MapBackgroundTask(NewBackgroundTask(ctx, func() (*domain.WriteCommandResponse, error) {
			return state.actor.write(op, frames)
		}), mapTaskResult[domain.WriteCommandResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.WriteCommandResponse{
					ActorResponseMixIn: domain.ErrorResponse(err),
					Op:                 op,
				},
				replyTo: sender,
			}
		}).WithTimeout(state.actor.timing.ResponseTimeout + sessionTaskGrace).PipeTo(ctx.Self())
		state.actor.BecomeStacked(SessionBusyState{actor: state.actor})
	case sessionLinkLost:
		if msg.attempt != state.actor.attempt {
			return
		}
		state.actor.logger.Warn("session@ready link lost", zap.Error(msg.err))
		state.actor.metrics.ObserveError(msg.err)
		state.actor.disconnected(ctx, msg.err)
	default:
		state.actor.receiveCommon(ctx, state.Name(), msg)
	}
}

// Busy state: one link transaction in flight, everything else waits.

type SessionBusyState struct {
	ActorState
	actor *SessionActor
}

func (state SessionBusyState) Name() string {
	return "busy"
}

func (state SessionBusyState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.actor.logger.Debug("session@busy backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		ctx.Send(msg.replyTo, msg.message)
		state.actor.UnbecomeStacked()

		var err error
		if resp, ok := msg.message.(domain.ActorResponse); ok {
			err = resp.GetResponseError()
		}
		switch {
		case err == nil:
			state.actor.session.LastSeen = time.Now()
		case sbprotocol.IsRetryable(err):
			state.actor.logger.Error("session@busy link failure", zap.Error(err))
			state.actor.metrics.ObserveError(err)
			state.actor.closeLink()
			state.actor.disconnected(ctx, err)
		default:
			state.actor.logger.Warn("session@busy request failed", zap.Error(err))
			state.actor.metrics.ObserveError(err)
		}
		state.actor.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest, domain.GetSessionStateRequest:
		state.actor.receiveCommon(ctx, state.Name(), msg)
	case *actor.Stopping:
		state.actor.closeLink()
	default:
		state.actor.logger.Debug("session@busy stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Error state: authentication was rejected. Only a new pin starts another
// attempt, except for generations without a pin which retry slowly.

type SessionErrorState struct {
	ActorState
	actor *SessionActor
}

func (state SessionErrorState) Name() string {
	return "error"
}

func (state SessionErrorState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case sessionConnectTick:
		state.actor.logger.Debug("session@error connectTick")
		state.actor.connect(ctx)
	case domain.SetPairingPinRequest:
		if state.actor.setPin(ctx, msg) {
			state.actor.logger.Info("session@error new pin, reconnecting")
			state.actor.connect(ctx)
		}
	default:
		state.actor.receiveCommon(ctx, state.Name(), msg)
	}
}

// shared handlers

func (a *SessionActor) receiveCommon(ctx actor.Context, stateName string, msg any) {
	switch msg := msg.(type) {
	case domain.ActorHealthRequest:
		a.logger.Debug("session@" + stateName + " ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_SESSION,
			Healthy: true,
			State:   a.session.State.String(),
		})
	case domain.GetSessionStateRequest:
		ForRequest(msg).Respond(ctx, domain.GetSessionStateResponse{Session: a.session})
	case domain.SetPairingPinRequest:
		a.setPin(ctx, msg)
	case domain.QueryTelemetryRequest:
		a.logger.Debug("session@"+stateName+" QueryTelemetryRequest rejected", zap.Stringer("category", msg.Category))
		ForRequest(msg).Respond(ctx, domain.QueryTelemetryResponse{
			ActorResponseMixIn: domain.ErrorResponse(domain.ErrSessionNotReady),
			Category:           msg.Category,
		})
	case domain.WriteCommandRequest:
		a.logger.Debug("session@"+stateName+" WriteCommandRequest rejected", zap.String("op", msg.Op))
		ForRequest(msg).Respond(ctx, domain.WriteCommandResponse{
			ActorResponseMixIn: domain.ErrorResponse(domain.ErrSessionNotReady),
			Op:                 msg.Op,
		})
	case sessionConnectTick, sessionConnectResult, sessionLinkOpened, sessionLinkLost:
		a.logger.Debug("session@"+stateName+" stale", zap.String("type", fmt.Sprintf("%T", msg)))
	case *actor.Stopping:
		a.logger.Debug("session@" + stateName + " stopping")
		if a.cancelRetry != nil {
			a.cancelRetry()
		}
		a.closeLink()
	default:
		a.logger.Debug("session@"+stateName+" default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// setPin validates and stores the pin for the next authentication. A ready
// session keeps its link.
func (a *SessionActor) setPin(ctx actor.Context, msg domain.SetPairingPinRequest) bool {
	respond := func(err error) {
		status := domain.COMMAND_STATUS_ACCEPTED
		if err != nil {
			status = domain.COMMAND_STATUS_FAILED
		}
		ForRequest(msg).Respond(ctx, domain.BoilerCommandResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
			Status:             status,
		})
	}
	if !a.generation.HasPin {
		respond(domain.ErrPinNotSupported)
		return false
	}
	if err := domain.ValidatePin(msg.Pin); err != nil {
		respond(err)
		return false
	}
	a.logger.Info("session: pairing pin updated")
	a.session.Pin = msg.Pin
	a.eventStream.Publish(domain.PinUpdateEvent(msg.Pin))
	respond(nil)
	return true
}

func (a *SessionActor) connect(ctx actor.Context) {
	if a.cancelRetry != nil {
		a.cancelRetry()
		a.cancelRetry = nil
	}
	a.attempt++
	if a.attempt > 1 {
		a.metrics.Reconnect()
	}
	attempt := a.attempt
	pin := uint16(0)
	if a.generation.HasPin {
		pin = a.session.Pin
	}

	root := ctx.ActorSystem().Root
	self := ctx.Self()
	a.link.SetOpenedHandler(func() {
		root.Send(self, sessionLinkOpened{attempt: attempt})
	})
	a.link.SetDisconnectHandler(func(err error) {
		root.Send(self, sessionLinkLost{attempt: attempt, err: err})
	})

	a.logger.Debug("session: connecting", zap.String("address", a.session.Address), zap.Uint64("attempt", attempt))
	a.setState(domain.SessionConnecting, nil)

	timeout := a.timing.ConnectTimeout
	NewBackgroundTaskNoError(ctx, func() *sessionConnectResult {
		connectCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return &sessionConnectResult{attempt: attempt, err: a.link.Connect(connectCtx, pin)}
	}).Recover(func(err error) sessionConnectResult {
		return sessionConnectResult{attempt: attempt, err: &sbprotocol.TimeoutError{Op: "connect"}}
	}).WithTimeout(timeout + sessionTaskGrace).PipeTo(self)
	a.Become(SessionConnectingState{actor: a})
}

func (a *SessionActor) onConnectResult(ctx actor.Context, err error) {
	if err == nil {
		a.logger.Info("session: ready", zap.String("address", a.session.Address))
		a.backoff.Reset()
		a.session.LastSeen = time.Now()
		a.setState(domain.SessionReady, nil)
		a.Become(SessionReadyState{actor: a})
		return
	}
	a.metrics.ObserveError(err)

	var authErr *sbprotocol.AuthError
	if errors.As(err, &authErr) {
		a.logger.Error("session: authentication rejected", zap.Error(err))
		a.setState(domain.SessionError, err)
		a.Become(SessionErrorState{actor: a})
		if !a.generation.HasPin {
			a.cancelRetry = a.scheduler.SendOnce(a.timing.BackoffMax, ctx.Self(), sessionConnectTick{})
		}
		return
	}
	a.logger.Error("session: connect failed", zap.Error(err))
	a.closeLink()
	a.disconnected(ctx, err)
}

// disconnected moves to Disconnected and schedules the next attempt.
func (a *SessionActor) disconnected(ctx actor.Context, err error) {
	a.setState(domain.SessionDisconnected, err)
	a.Become(SessionDisconnectedState{actor: a})
	delay := a.backoff.Next()
	a.logger.Info("session: reconnecting", zap.Duration("in", delay), zap.Int("attempts", a.backoff.Attempts()))
	a.cancelRetry = a.scheduler.SendOnce(delay, ctx.Self(), sessionConnectTick{})
}

func (a *SessionActor) setState(s domain.SessionState, err error) {
	if a.session.State == s && errors.Is(err, a.session.LastError) {
		return
	}
	a.session.State = s
	a.session.LastError = err
	a.publishSession()
}

// publishSession announces the session state. The configured pin goes out
// with it so the pin entity is known from startup on.
func (a *SessionActor) publishSession() {
	a.metrics.SetSessionState(a.session.State)
	a.eventStream.Publish(domain.SessionStateChangedEvent{Session: a.session})
	for _, ev := range domain.SessionUpdateEvents(a.session) {
		a.eventStream.Publish(ev)
	}
	if a.generation.HasPin {
		a.eventStream.Publish(domain.PinUpdateEvent(a.session.Pin))
	}
}

func (a *SessionActor) closeLink() {
	if err := a.link.Close(); err != nil {
		a.logger.Debug("session: close link", zap.Error(err))
	}
}

func (a *SessionActor) query(category sbprotocol.Category) (*domain.QueryTelemetryResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timing.ResponseTimeout)
	defer cancel()
	frames, err := a.link.Query(ctx, category)
	if err != nil {
		return nil, err
	}
	sample, err := sbprotocol.Decode(category, frames)
	if err != nil {
		return nil, err
	}
	return &domain.QueryTelemetryResponse{
		Category: category,
		Sample:   sample,
	}, nil
}

func (a *SessionActor) write(op string, frames [][]byte) (*domain.WriteCommandResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timing.ResponseTimeout)
	defer cancel()
	if err := a.link.Write(ctx, frames...); err != nil {
		return nil, err
	}
	return &domain.WriteCommandResponse{Op: op}, nil
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
