package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/config"
	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/metrics"
	"github.com/berfenger/smartboiler2mqtt/internal/mqtt"
	"github.com/berfenger/smartboiler2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	mqttPublishTimeout   = 5 * time.Second
	mqttDiscoveryTimeout = 1 * time.Second
)

type MQTTActor struct {
	config   *config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash
	client   *mqtt.MQTTClient
	metrics  *metrics.Metrics
	logger   *zap.Logger

	queue    []publishBatch
	inFlight *publishBatch
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

type publishResult struct {
	Error error
}

type ParsedCommand struct {
	Command *mqtt.ParsedMQTTCommand
}

type rawMessage struct {
	topic   string
	message string
	retain  bool
}

// publishBatch holds the messages of one update request. Batches go out in
// arrival order; the next one starts once every message of the previous one
// is acknowledged.
type publishBatch struct {
	messages []rawMessage
	replyTo  *actor.PID
	pending  int
	err      error
}

func NewMQTTActor(config *config.Config, metrics *metrics.Metrics, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:   config,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		metrics:  metrics,
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

// newConnectedMQTTActor starts in the default behavior on top of an already
// connected client.
func newConnectedMQTTActor(config *config.Config, client *mqtt.MQTTClient, metrics *metrics.Metrics, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:   config,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		client:   client,
		metrics:  metrics,
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	root := ctx.ActorSystem().Root
	self := ctx.Self()
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			root.Send(self, MQTTConnectionLost{Error: err})
		})

		state.client.Connect(func(err error) {
			if err != nil {
				root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				root.Send(self, MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Info("mqtt@starting connected", zap.String("host", state.config.MQTT.Host))

		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)

		state.client.SubscribeToCommandTopic(func(c pahomqtt.Client, m pahomqtt.Message) {
			cmd, err := state.client.ParseMQTTCommand(m)
			if err != nil {
				state.logger.Warn("mqtt: ignoring command", zap.String("topic", m.Topic()), zap.Error(err))
				return
			}
			root.Send(self, ParsedCommand{Command: cmd})
		}, func(err error) {
			if err != nil {
				root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				root.Send(self, MQTTSubscribed{})
			}
		}, 1*time.Second)
	case MQTTSubscribed:
		state.logger.Debug("mqtt@starting subscribed")
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
		state.publishNext(ctx)
	case domain.PublishSensorUpdateRequest:
		// queued rather than stashed to keep arrival order
		state.enqueue(state.sensorUpdateBatch(msg))
	case MQTTConnectionLost:
		// let the supervisor restart the actor
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		status := "idle"
		if state.inFlight != nil {
			status = fmt.Sprintf("publishing, %d queued", len(state.queue))
		}
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: state.client.IsConnected(),
			State:   status,
		})
	case ParsedCommand:
		state.logger.Debug("mqtt@default parsedCommand", zap.Any("command", msg.Command))
		ctx.Send(ctx.Parent(), msg)
	case domain.PublishSensorUpdateRequest:
		state.logger.Debug("mqtt@default PublishSensorUpdateRequest", zap.String("type", fmt.Sprintf("%T", msg.Event)))
		state.enqueue(state.sensorUpdateBatch(msg))
		state.publishNext(ctx)
	case publishResult:
		state.onPublishResult(ctx, msg)
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@default PublishHADiscovery")
		err := state.PublishHomeAssistantDiscovery(ctx, msg)
		if err != nil {
			state.logger.Error("mqtt@default PublishHADiscovery error", zap.Error(err))
		}
		if msg.ReplyToRef != nil {
			ctx.Send((*actor.PID)(msg.ReplyToRef), domain.PublishDiscoveryResponse{ActorResponseMixIn: domain.ErrorResponse(err)})
		}
	case MQTTConnectionLost:
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) sensorUpdateBatch(msg domain.PublishSensorUpdateRequest) publishBatch {
	messages := event2MQTTMessages(state.client, msg.Event)
	for i := range messages {
		messages[i].retain = messages[i].retain || msg.Retain
	}
	var replyTo *actor.PID
	if msg.ReplyToRef != nil {
		replyTo = (*actor.PID)(msg.ReplyToRef)
	}
	return publishBatch{messages: messages, replyTo: replyTo}
}

func (state *MQTTActor) enqueue(batch publishBatch) {
	state.queue = append(state.queue, batch)
}

// publishNext starts the oldest queued batch unless one is awaiting
// acknowledgements.
func (state *MQTTActor) publishNext(ctx actor.Context) {
	root := ctx.ActorSystem().Root
	self := ctx.Self()
	for state.inFlight == nil && len(state.queue) > 0 {
		batch := state.queue[0]
		state.queue = state.queue[1:]
		if len(batch.messages) == 0 {
			state.reply(ctx, &batch)
			continue
		}
		batch.pending = len(batch.messages)
		state.inFlight = &batch
		for _, m := range batch.messages {
			state.logger.Sugar().Debugf("mqtt@publish: %s => %s", m.topic, m.message)
			state.client.Publish(m.topic, m.message, 1, m.retain, func(err error) {
				root.Send(self, publishResult{Error: err})
			}, mqttPublishTimeout)
		}
	}
}

func (state *MQTTActor) onPublishResult(ctx actor.Context, msg publishResult) {
	batch := state.inFlight
	if batch == nil {
		return
	}
	if msg.Error != nil {
		state.logger.Error("mqtt@default could not publish a message", zap.Error(msg.Error))
		state.metrics.PublishFailed()
		batch.err = msg.Error
	}
	batch.pending--
	if batch.pending > 0 {
		return
	}
	state.inFlight = nil
	state.reply(ctx, batch)
	state.publishNext(ctx)
}

func (state *MQTTActor) reply(ctx actor.Context, batch *publishBatch) {
	if batch.replyTo != nil {
		ctx.Send(batch.replyTo, domain.PublishSensorUpdateResponse{
			ActorResponseMixIn: domain.ErrorResponse(batch.err),
		})
	}
}

func event2MQTTMessages(client *mqtt.MQTTClient, event domain.SensorUpdateEvent) []rawMessage {
	switch msg := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return []rawMessage{{
			topic:   client.StateTopic(msg.Id),
			message: formatFloat(msg.Value, msg.Decimals),
		}}
	case domain.BinarySensorUpdateEvent:
		return []rawMessage{{
			topic:   client.StateTopic(msg.Id),
			message: bool2MQTTPayload(msg.Value),
			retain:  msg.Id == domain.ENTITY_ID_BOILER_ONLINE,
		}}
	case domain.TextSensorUpdateEvent:
		return []rawMessage{{
			topic:   client.StateTopic(msg.Id),
			message: msg.Value,
		}}
	case domain.SelectUpdateEvent:
		return []rawMessage{{
			topic:   client.StateTopic(msg.Id),
			message: msg.Value,
			retain:  true,
		}}
	case domain.InputNumberSensorUpdateEvent:
		return []rawMessage{{
			topic:   client.StateTopic(msg.Id),
			message: formatFloat(msg.Value, msg.Decimals),
			retain:  true,
		}}
	case domain.ClimateUpdateEvent:
		return []rawMessage{
			{topic: client.ClimateStateTopic(msg.Id, mqtt.CLIMATE_TOPIC_MODE), message: msg.Value.Mode, retain: true},
			{topic: client.ClimateStateTopic(msg.Id, mqtt.CLIMATE_TOPIC_ACTION), message: msg.Value.Action, retain: true},
			{topic: client.ClimateStateTopic(msg.Id, mqtt.CLIMATE_TOPIC_TARGET), message: fmt.Sprintf("%d", msg.Value.Target), retain: true},
			{topic: client.ClimateStateTopic(msg.Id, mqtt.CLIMATE_TOPIC_CURRENT), message: formatFloat(msg.Value.Current, 1), retain: true},
		}
	default:
		return nil
	}
}

func (state *MQTTActor) PublishHomeAssistantDiscovery(ctx actor.Context, req domain.PublishDiscoveryRequest) error {
	publish := func(topic string, msg any) error {
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		state.client.Publish(topic, payload, 0, true, func(err error) {
			if err != nil {
				state.logger.Warn("mqtt: discovery publish failed", zap.String("topic", topic), zap.Error(err))
			}
		}, mqttDiscoveryTimeout)
		return nil
	}
	for i := range req.Sensors {
		if err := publish(mqtt.HADiscoverySensorTopic(state.client, req.Sensors[i]),
			mqtt.GenericSensorToHADiscoveryMessage(state.client, req.Sensors[i])); err != nil {
			return err
		}
	}
	for i := range req.Selects {
		if err := publish(mqtt.HADiscoverySelectTopic(state.client, req.Selects[i]),
			mqtt.GenericSelectToHADiscoveryMessage(state.client, req.Selects[i])); err != nil {
			return err
		}
	}
	for i := range req.Climates {
		if err := publish(mqtt.HADiscoveryClimateTopic(state.client, req.Climates[i]),
			mqtt.GenericClimateToHADiscoveryMessage(state.client, req.Climates[i])); err != nil {
			return err
		}
	}
	for i := range req.InputNumbers {
		if err := publish(mqtt.HADiscoveryInputNumberTopic(state.client, req.InputNumbers[i]),
			mqtt.GenericInputNumberToHADiscoveryMessage(state.client, req.InputNumbers[i])); err != nil {
			return err
		}
	}
	return nil
}

func (state *MQTTActor) stop() {
	if state.client == nil {
		return
	}
	state.logger.Debug("mqtt: disconnect")
	state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
	state.client.Disconnect(500 * time.Millisecond)
}

func formatFloat(value float64, decimals uint) string {
	return fmt.Sprintf("%.*f", int(decimals), value)
}

func bool2MQTTPayload(value bool) string {
	if value {
		return mqtt.MQTT_PAYLOAD_ON
	}
	return mqtt.MQTT_PAYLOAD_OFF
}

// NewTestMQTTActor answers requests without a broker. Published updates are
// forwarded to observer when it is not nil.
func NewTestMQTTActor(config *config.Config, observer *actor.PID, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:   config,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(func(ctx actor.Context) {
		act.DummyReceive(ctx, observer)
	})
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context, observer *actor.PID) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@dummy ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case domain.PublishSensorUpdateRequest:
		if observer != nil {
			ctx.Send(observer, msg)
		}
		if msg.ReplyToRef != nil {
			ctx.Send((*actor.PID)(msg.ReplyToRef), domain.PublishSensorUpdateResponse{})
		}
	case domain.PublishDiscoveryRequest:
		if observer != nil {
			ctx.Send(observer, msg)
		}
	}
}
