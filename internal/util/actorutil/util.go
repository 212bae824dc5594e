package actorutil

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

var ErrUnknownCommand = errors.New("unknown command")

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps a command topic payload to a boiler request.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.BoilerCommandRequest, error) {
	payload := strings.TrimSpace(cmd.Payload)
	switch cmd.DeviceId {
	case domain.ENTITY_ID_MODE:
		return domain.SetModeRequest{Mode: strings.ToUpper(payload)}, nil
	case domain.ENTITY_ID_THERMOSTAT:
		value, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidTemperature, err)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, domain.ErrInvalidTemperature
		}
		// the boiler takes whole degrees
		return domain.SetTargetTemperatureRequest{Temperature: int(math.Round(value))}, nil
	case domain.ENTITY_ID_PIN:
		value, err := strconv.ParseFloat(payload, 64)
		if err != nil || value < 0 || value > 65535 {
			return nil, domain.ErrInvalidPin
		}
		return domain.SetPairingPinRequest{Pin: uint16(value)}, nil
	case domain.ENTITY_ID_HDO_ENABLED:
		switch strings.ToLower(payload) {
		case mqtt.MQTT_PAYLOAD_ON, "true", "1":
			return domain.SetHdoEnabledRequest{Enabled: true}, nil
		case mqtt.MQTT_PAYLOAD_OFF, "false", "0":
			return domain.SetHdoEnabledRequest{Enabled: false}, nil
		}
		return nil, fmt.Errorf("invalid hdo_enabled payload %q", payload)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.DeviceId)
}
