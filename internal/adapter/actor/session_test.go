package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/port"
	"github.com/berfenger/smartboiler2mqtt/internal/util/actorutil"
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testTiming() domain.TimingConfig {
	return domain.TimingConfig{
		ConnectTimeout:      1 * time.Second,
		ResponseTimeout:     1 * time.Second,
		BackoffInitial:      100 * time.Millisecond,
		BackoffMax:          500 * time.Millisecond,
		StateInterval:       200 * time.Millisecond,
		ConsumptionInterval: 400 * time.Millisecond,
		FlushInterval:       500 * time.Millisecond,
		VerifyCycles:        3,
	}
}

func spawnSession(t *testing.T, boiler *sbprotocol.TestBoiler, gen domain.Generation, pin uint16) (*actor.ActorSystem, *actor.PID) {
	return spawnSessionWith(t, boiler, gen, pin, sessionOptions{})
}

type sessionOptions struct {
	// wrap decorates the link handed to the session
	wrap func(port.BoilerLink) port.BoilerLink

	// events receives the event stream from before the session starts
	events func(any)
}

func spawnSessionWith(t *testing.T, boiler *sbprotocol.TestBoiler, gen domain.Generation, pin uint16, opts sessionOptions) (*actor.ActorSystem, *actor.PID) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	var link port.BoilerLink = sbprotocol.NewClient(boiler, sbprotocol.WithFrameDelay(0), sbprotocol.WithWriteSettle(50*time.Millisecond))
	if opts.wrap != nil {
		link = opts.wrap(link)
	}
	if opts.events != nil {
		sub := as.EventStream.Subscribe(opts.events)
		t.Cleanup(func() { as.EventStream.Unsubscribe(sub) })
	}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewSessionActor("AA:BB:CC:DD:EE:FF", pin, gen, testTiming(), link, as.EventStream, nil, logger)
	})
	pid := as.Root.Spawn(props)
	t.Cleanup(func() {
		as.Root.Stop(pid)
		as.Shutdown()
	})
	return as, pid
}

func sessionOf(t *testing.T, as *actor.ActorSystem, pid *actor.PID) domain.DeviceSession {
	result, err := as.Root.RequestFuture(pid, domain.GetSessionStateRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	return result.(domain.GetSessionStateResponse).Session
}

func waitForSession(t *testing.T, as *actor.ActorSystem, pid *actor.PID, state domain.SessionState) {
	assert.Eventually(t, func() bool {
		return sessionOf(t, as, pid).State == state
	}, 5*time.Second, 50*time.Millisecond, "session never reached %s", state)
}

func TestSessionConnectsAndQueries(t *testing.T) {

	boiler := sbprotocol.NewTestBoiler()
	as, pid := spawnSession(t, boiler, domain.GenerationB, 0)

	waitForSession(t, as, pid, domain.SessionReady)

	result, err := as.Root.RequestFuture(pid, domain.QueryTelemetryRequest{Category: sbprotocol.CategoryState}, 3*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.QueryTelemetryResponse)
	require.NoError(t, resp.GetResponseError())
	require.NotNil(t, resp.Sample.State)
	assert.Equal(t, 48.5, resp.Sample.State.Temperature1)
	assert.Equal(t, 60, resp.Sample.State.TargetTemperature)

	result, err = as.Root.RequestFuture(pid, domain.QueryTelemetryRequest{Category: sbprotocol.CategoryConsumption}, 3*time.Second).Result()
	require.NoError(t, err)
	resp = result.(domain.QueryTelemetryResponse)
	require.NoError(t, resp.GetResponseError())
	assert.Equal(t, uint32(125000), resp.Sample.Consumption.RawWh)

	assert.False(t, sessionOf(t, as, pid).LastSeen.IsZero())
}

func TestSessionWritesCommands(t *testing.T) {

	boiler := sbprotocol.NewTestBoiler()
	as, pid := spawnSession(t, boiler, domain.GenerationB, 0)

	waitForSession(t, as, pid, domain.SessionReady)

	result, err := as.Root.RequestFuture(pid, domain.WriteCommandRequest{
		Op:     "set_mode",
		Frames: [][]byte{sbprotocol.SetModeFrame(3)},
	}, 3*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.WriteCommandResponse)
	require.NoError(t, resp.GetResponseError())
	assert.Equal(t, "set_mode", resp.Op)
	assert.Equal(t, uint8(3), boiler.CurrentState().Mode)
}

func TestSessionRejectsRequestsWhenNotReady(t *testing.T) {

	boiler := sbprotocol.NewTestBoiler()
	boiler.FailOpen = errors.New("adapter down")
	as, pid := spawnSession(t, boiler, domain.GenerationB, 0)

	assert.Eventually(t, func() bool { return boiler.Opens() >= 1 }, 2*time.Second, 20*time.Millisecond)

	result, err := as.Root.RequestFuture(pid, domain.QueryTelemetryRequest{Category: sbprotocol.CategoryState}, 2*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.QueryTelemetryResponse)
	assert.ErrorIs(t, resp.GetResponseError(), domain.ErrSessionNotReady)

	result, err = as.Root.RequestFuture(pid, domain.WriteCommandRequest{Op: "set_mode", Frames: [][]byte{sbprotocol.SetModeFrame(1)}}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(t, result.(domain.WriteCommandResponse).GetResponseError(), domain.ErrSessionNotReady)

	// keeps retrying with backoff
	assert.Eventually(t, func() bool { return boiler.Opens() >= 3 }, 3*time.Second, 20*time.Millisecond)
	assert.NotEqual(t, domain.SessionReady, sessionOf(t, as, pid).State)
}

func TestSessionWrongPinStaysInErrorUntilNewPin(t *testing.T) {

	boiler := sbprotocol.NewTestBoiler()
	boiler.Pin = 4321
	as, pid := spawnSession(t, boiler, domain.GenerationA, 1234)

	waitForSession(t, as, pid, domain.SessionError)
	session := sessionOf(t, as, pid)
	var authErr *sbprotocol.AuthError
	assert.ErrorAs(t, session.LastError, &authErr)
	assert.Contains(t, session.StateText(), "error: ")

	// no retry without a new pin
	opens := boiler.Opens()
	time.Sleep(700 * time.Millisecond)
	assert.Equal(t, opens, boiler.Opens())

	result, err := as.Root.RequestFuture(pid, domain.SetPairingPinRequest{Pin: 4321}, 2*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.BoilerCommandResponse)
	require.NoError(t, resp.GetResponseError())
	assert.Equal(t, domain.COMMAND_STATUS_ACCEPTED, resp.Status)

	waitForSession(t, as, pid, domain.SessionReady)
	assert.Equal(t, uint16(4321), sessionOf(t, as, pid).Pin)
}

func TestSessionValidatesPin(t *testing.T) {

	boiler := sbprotocol.NewTestBoiler()
	as, pid := spawnSession(t, boiler, domain.GenerationA, 1234)
	waitForSession(t, as, pid, domain.SessionReady)

	result, err := as.Root.RequestFuture(pid, domain.SetPairingPinRequest{Pin: 999}, 2*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.BoilerCommandResponse)
	assert.ErrorIs(t, resp.GetResponseError(), domain.ErrInvalidPin)
	assert.Equal(t, domain.COMMAND_STATUS_FAILED, resp.Status)

	// a valid pin is queued and the ready session keeps its link
	opens := boiler.Opens()
	result, err = as.Root.RequestFuture(pid, domain.SetPairingPinRequest{Pin: 5678}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.NoError(t, result.(domain.BoilerCommandResponse).GetResponseError())
	session := sessionOf(t, as, pid)
	assert.Equal(t, domain.SessionReady, session.State)
	assert.Equal(t, uint16(5678), session.Pin)
	assert.Equal(t, opens, boiler.Opens())
}

func TestSessionPinNotSupported(t *testing.T) {

	boiler := sbprotocol.NewTestBoiler()
	as, pid := spawnSession(t, boiler, domain.GenerationB, 0)

	result, err := as.Root.RequestFuture(pid, domain.SetPairingPinRequest{Pin: 4321}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(t, result.(domain.BoilerCommandResponse).GetResponseError(), domain.ErrPinNotSupported)
}

func TestSessionReconnectsAfterLinkLoss(t *testing.T) {

	boiler := sbprotocol.NewTestBoiler()
	as, pid := spawnSession(t, boiler, domain.GenerationB, 0)

	waitForSession(t, as, pid, domain.SessionReady)
	require.Equal(t, 1, boiler.Opens())

	boiler.Disconnect()

	assert.Eventually(t, func() bool { return boiler.Opens() >= 2 }, 3*time.Second, 20*time.Millisecond)
	waitForSession(t, as, pid, domain.SessionReady)
}

func TestSessionHealth(t *testing.T) {

	boiler := sbprotocol.NewTestBoiler()
	as, pid := spawnSession(t, boiler, domain.GenerationB, 0)

	result, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.ActorHealthResponse)
	assert.True(t, resp.Healthy)
	assert.Equal(t, domain.ACTOR_ID_SESSION, resp.Id)
}

// countingLink tracks how many link transactions run at the same time.
type countingLink struct {
	port.BoilerLink
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (l *countingLink) enter() func() {
	n := l.inFlight.Add(1)
	for {
		seen := l.maxSeen.Load()
		if n <= seen || l.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	l.calls.Add(1)
	return func() { l.inFlight.Add(-1) }
}

func (l *countingLink) Query(ctx context.Context, category sbprotocol.Category) ([][]byte, error) {
	defer l.enter()()
	return l.BoilerLink.Query(ctx, category)
}

func (l *countingLink) Write(ctx context.Context, frames ...[]byte) error {
	defer l.enter()()
	return l.BoilerLink.Write(ctx, frames...)
}

func TestSessionSerializesConcurrentRequests(t *testing.T) {

	boiler := sbprotocol.NewTestBoiler()
	var counter *countingLink
	as, pid := spawnSessionWith(t, boiler, domain.GenerationB, 0, sessionOptions{
		wrap: func(link port.BoilerLink) port.BoilerLink {
			counter = &countingLink{BoilerLink: link}
			return counter
		},
	})
	waitForSession(t, as, pid, domain.SessionReady)
	before := counter.calls.Load()

	const requests = 30
	var wg sync.WaitGroup
	errs := make(chan error, requests)
	for i := 0; i < requests; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			var req any
			switch i % 3 {
			case 0:
				req = domain.WriteCommandRequest{Op: "set_mode", Frames: [][]byte{sbprotocol.SetModeFrame(uint8(1 + i%2))}}
			case 1:
				req = domain.QueryTelemetryRequest{Category: sbprotocol.CategoryState}
			default:
				req = domain.QueryTelemetryRequest{Category: sbprotocol.CategoryConsumption}
			}
			result, err := as.Root.RequestFuture(pid, req, 20*time.Second).Result()
			if err != nil {
				errs <- err
				return
			}
			if resp, ok := result.(domain.ActorResponse); ok && resp.GetResponseError() != nil {
				errs <- resp.GetResponseError()
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NotErrorIs(t, err, domain.ErrLinkBusy)
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), counter.maxSeen.Load())
	assert.Equal(t, int32(requests), counter.calls.Load()-before)
	assert.Equal(t, domain.SessionReady, sessionOf(t, as, pid).State)
}

func TestSessionPublishesConfiguredPin(t *testing.T) {

	var mu sync.Mutex
	var pins []float64
	boiler := sbprotocol.NewTestBoiler()
	boiler.Pin = 1234
	as, pid := spawnSessionWith(t, boiler, domain.GenerationA, 1234, sessionOptions{
		events: func(value any) {
			if ev, ok := value.(domain.InputNumberSensorUpdateEvent); ok && ev.Id == domain.ENTITY_ID_PIN {
				mu.Lock()
				pins = append(pins, ev.Value)
				mu.Unlock()
			}
		},
	})

	waitForSession(t, as, pid, domain.SessionReady)
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, pins)
	assert.Equal(t, 1234.0, pins[0])
}

func TestSessionWithoutPinPublishesNoPin(t *testing.T) {

	var published atomic.Int32
	as, pid := spawnSessionWith(t, sbprotocol.NewTestBoiler(), domain.GenerationB, 0, sessionOptions{
		events: func(value any) {
			if ev, ok := value.(domain.SensorUpdateEvent); ok && ev.SensorId() == domain.ENTITY_ID_PIN {
				published.Add(1)
			}
		},
	})

	waitForSession(t, as, pid, domain.SessionReady)
	assert.Equal(t, int32(0), published.Load())
}
