package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/port"
	"github.com/berfenger/smartboiler2mqtt/internal/core/service"
	. "github.com/berfenger/smartboiler2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const consumptionStoreTimeout = 5 * time.Second

// ConsumptionActor is the only writer of the consumption total. The total is
// loaded on start and saved every flush interval and on stop.
type ConsumptionActor struct {
	behavior    actor.Behavior
	store       port.ConsumptionStore
	accumulator *service.ConsumptionAccumulator
	scheduler   *scheduler.TimerScheduler
	cancelFlush scheduler.CancelFunc
	timing      domain.TimingConfig
	eventStream *eventstream.EventStream

	logger *zap.Logger
}

type consumptionFlushTick struct {
}

func NewConsumptionActor(store port.ConsumptionStore, timing domain.TimingConfig, eventStream *eventstream.EventStream, logger *zap.Logger) *ConsumptionActor {
	act := &ConsumptionActor{
		behavior:    actor.NewBehavior(),
		store:       store,
		timing:      timing,
		eventStream: eventStream,
		logger:      ActorLogger(domain.ACTOR_ID_CONSUMPTION, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *ConsumptionActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ConsumptionActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("consumption@starting started")

		loadCtx, cancel := context.WithTimeout(context.Background(), consumptionStoreTimeout)
		record, found, err := state.store.Load(loadCtx)
		cancel()
		if err != nil {
			state.logger.Error("consumption@starting cannot load total", zap.Error(err))
			panic(err)
		}
		state.accumulator = service.NewConsumptionAccumulator(record)
		if found {
			state.logger.Info("consumption@starting total loaded", zap.Uint64("total_wh", record.TotalWh))
			state.eventStream.Publish(domain.ConsumptionUpdateEvent(record))
		}

		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.cancelFlush = state.scheduler.SendRepeatedly(state.timing.FlushInterval, state.timing.FlushInterval, ctx.Self(), consumptionFlushTick{})
		state.behavior.Become(state.DefaultReceive)
	default:
		state.logger.Debug("consumption@starting default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ConsumptionActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("consumption@default ActorHealthRequest")
		status := "saved"
		if state.accumulator.Dirty() {
			status = "dirty"
		}
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CONSUMPTION,
			Healthy: true,
			State:   status,
		})
	case domain.ConsumptionSampleReceived:
		delta := state.accumulator.Accumulate(msg.Consumption.RawWh)
		record := state.accumulator.Record()
		state.logger.Debug("consumption@default sample",
			zap.Uint32("raw_wh", msg.Consumption.RawWh), zap.Uint32("delta_wh", delta), zap.Uint64("total_wh", record.TotalWh))
		state.eventStream.Publish(domain.ConsumptionUpdateEvent(record))
	case consumptionFlushTick:
		if err := state.flush(); err != nil {
			state.logger.Error("consumption@default flush failed, retrying next tick", zap.Error(err))
		}
	case domain.FlushConsumptionRequest:
		err := state.flush()
		ForRequest(msg).Respond(ctx, domain.FlushConsumptionResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
			Record:             state.accumulator.Record(),
		})
	case *actor.Stopping, *actor.Restarting:
		if state.cancelFlush != nil {
			state.cancelFlush()
		}
		if err := state.flush(); err != nil {
			state.logger.Error("consumption@default final flush failed", zap.Error(err))
		}
	default:
		state.logger.Debug("consumption@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ConsumptionActor) flush() error {
	if !state.accumulator.Dirty() {
		return nil
	}
	record, version := state.accumulator.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), consumptionStoreTimeout)
	defer cancel()
	if err := state.store.Save(ctx, record); err != nil {
		return err
	}
	state.accumulator.MarkSaved(version)
	state.logger.Debug("consumption: total saved", zap.Uint64("total_wh", record.TotalWh))
	return nil
}
