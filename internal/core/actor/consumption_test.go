package actor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/adapter/repository"
	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/util/actorutil"
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConsumptionSurvivesRestart(t *testing.T) {

	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "smartboiler.db"))
	require.NoError(t, err)
	defer db.Close()
	repo := repository.NewConsumptionRepository(db)

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	var mu sync.Mutex
	var totals []float64
	sub := as.EventStream.Subscribe(func(value any) {
		if ev, ok := value.(domain.FloatSensorUpdateEvent); ok && ev.Id == domain.ENTITY_ID_CONSUMPTION {
			mu.Lock()
			totals = append(totals, ev.Value)
			mu.Unlock()
		}
	})
	defer as.EventStream.Unsubscribe(sub)
	lastTotal := func() (float64, int) {
		mu.Lock()
		defer mu.Unlock()
		if len(totals) == 0 {
			return 0, 0
		}
		return totals[len(totals)-1], len(totals)
	}

	// long flush interval: only the stop flush persists
	timing := domain.TimingConfig{FlushInterval: time.Hour}
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewConsumptionActor(repo, timing, as.EventStream, logger)
	})

	pid := as.Root.Spawn(props)
	for _, raw := range []uint32{100, 150, 30, 80} {
		as.Root.Send(pid, domain.ConsumptionSampleReceived{Consumption: sbprotocol.ConsumptionTelemetry{RawWh: raw}})
	}
	assert.Eventually(t, func() bool {
		_, n := lastTotal()
		return n == 4
	}, 2*time.Second, 10*time.Millisecond)
	total, _ := lastTotal()
	assert.Equal(t, 0.1, total)

	require.NoError(t, as.Root.StopFuture(pid).Wait())

	record, found, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(100), record.TotalWh)
	assert.Equal(t, uint32(80), record.LastRawWh)

	// a new actor resumes from the stored total and baseline
	pid = as.Root.Spawn(props)
	as.Root.Send(pid, domain.ConsumptionSampleReceived{Consumption: sbprotocol.ConsumptionTelemetry{RawWh: 1080}})
	assert.Eventually(t, func() bool {
		total, _ := lastTotal()
		return total == 1.1
	}, 2*time.Second, 10*time.Millisecond)

	result, err := as.Root.RequestFuture(pid, domain.FlushConsumptionRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	resp := result.(domain.FlushConsumptionResponse)
	require.NoError(t, resp.GetResponseError())
	assert.Equal(t, uint64(1100), resp.Record.TotalWh)

	as.Root.Stop(pid)
}
