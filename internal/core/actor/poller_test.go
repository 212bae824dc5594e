package actor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/metrics"
	"github.com/berfenger/smartboiler2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// stuckSession reports a fixed state and never answers telemetry queries.
func stuckSession(state domain.SessionState, queries *atomic.Int32) actor.ReceiveFunc {
	return func(ctx actor.Context) {
		switch ctx.Message().(type) {
		case domain.GetSessionStateRequest:
			ctx.Respond(domain.GetSessionStateResponse{Session: domain.DeviceSession{State: state}})
		case domain.QueryTelemetryRequest:
			queries.Add(1)
		}
	}
}

func spawnPoller(t *testing.T, state domain.SessionState) (*atomic.Int32, *metrics.Metrics) {
	logger := zap.NewNop()
	as := actorutil.NewActorSystemWithZapLogger(logger)
	t.Cleanup(as.Shutdown)

	queries := &atomic.Int32{}
	session := as.Root.Spawn(actor.PropsFromFunc(stuckSession(state, queries)))

	m := metrics.New()
	timing := domain.TimingConfig{
		ResponseTimeout:     time.Second,
		StateInterval:       50 * time.Millisecond,
		ConsumptionInterval: time.Hour,
	}
	as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(timing, session, nil, nil, as.EventStream, m, logger)
	}))
	return queries, m
}

func TestPollerSkipsTicksWhileNotReady(t *testing.T) {
	queries, m := spawnPoller(t, domain.SessionDisconnected)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.SkippedPolls.WithLabelValues("state", "not_ready")) >= 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), queries.Load())
}

func TestPollerSuppressesTicksWhilePollInFlight(t *testing.T) {
	queries, m := spawnPoller(t, domain.SessionReady)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.SkippedPolls.WithLabelValues("state", "in_flight")) >= 3
	}, 2*time.Second, 10*time.Millisecond)
	// info, state and consumption once each on ready
	assert.Equal(t, int32(3), queries.Load())
}
