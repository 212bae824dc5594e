package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/smartboiler2mqtt/internal/adapter/actor"
	"github.com/berfenger/smartboiler2mqtt/internal/adapter/influx"
	"github.com/berfenger/smartboiler2mqtt/internal/adapter/repository"
	"github.com/berfenger/smartboiler2mqtt/internal/config"
	"github.com/berfenger/smartboiler2mqtt/internal/core/actor"
	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/entity"
	"github.com/berfenger/smartboiler2mqtt/internal/core/service"
	"github.com/berfenger/smartboiler2mqtt/internal/metrics"
	"github.com/berfenger/smartboiler2mqtt/internal/server"
	"github.com/berfenger/smartboiler2mqtt/internal/util/actorutil"
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	done <- true
}

func main() {

	// load and print config
	cfg, gen, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	// consumption storage
	db, err := repository.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		logger.Fatal("cannot open storage", zap.String("path", cfg.Storage.Path), zap.Error(err))
	}
	defer db.Close()

	// presentation sinks
	m := metrics.New()
	entities := entity.NewStore()
	publisher := service.NewPublisher(cfg.Entities.Enabled)
	entities.Attach(publisher)
	m.Attach(publisher)

	var sink *influx.Sink
	if cfg.Influx.Enable {
		sink = influx.NewSink(cfg.Influx, logger)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if !sink.Ping(pingCtx) {
			logger.Warn("influxdb not reachable, writes will be retried", zap.String("url", cfg.Influx.URL))
		}
		cancel()
		sink.Attach(publisher)
	}

	deps := actor.MasterDeps{
		Generation:  gen,
		Session:     sessionActorProvider(cfg, gen, m, logger),
		Store:       repository.NewConsumptionRepository(db),
		Publisher:   publisher,
		Metrics:     m,
		EventStream: as.EventStream,
	}
	if cfg.MQTT.Enable {
		deps.MQTT = mqttActorProvider(cfg, m, logger)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, deps, logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid, entities, m)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	<-done
	log.Println("Graceful shutdown complete.")

	// stopping the tree flushes the consumption total
	if err := ctx.StopFuture(pid).Wait(); err != nil {
		logger.Error("master did not stop cleanly", zap.Error(err))
	}
	as.Shutdown()

	// the stop flush above is still buffered in the influx sink
	if sink != nil {
		sink.Close()
	}
}

func initConfig() (*config.Config, domain.Generation, error) {

	// alias PORT => SMARTBOILER_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SMARTBOILER_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("smartboiler")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, domain.Generation{}, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if cfg.Boiler.Address == "" && cfg.Boiler.Name == "" {
		return nil, domain.Generation{}, errors.New("config param boiler.address (or boiler.name) is required")
	}

	gen, err := domain.GenerationByName(cfg.Boiler.Generation)
	if err != nil {
		return nil, domain.Generation{}, err
	}
	if gen.HasPin {
		if err := domain.ValidatePin(cfg.Boiler.Pin); err != nil {
			return nil, domain.Generation{}, fmt.Errorf("config param boiler.pin: %w", err)
		}
	}

	sensor, err := config.CheckCurrentSensor(cfg.Thermostat.CurrentSensor)
	if err != nil {
		return nil, domain.Generation{}, err
	}
	cfg.Thermostat.CurrentSensor = sensor

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, domain.Generation{}, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, domain.Generation{}, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if cfg.Poll.StateIntervalMillis != 0 && cfg.Poll.StateIntervalMillis < 1000 {
		return nil, domain.Generation{}, errors.New("config param poll.state_interval_millis should be >= 1000")
	}
	if cfg.Boiler.BackoffMaxMillis != 0 && cfg.Boiler.BackoffMaxMillis < cfg.Boiler.BackoffInitialMillis {
		return nil, domain.Generation{}, errors.New("config param boiler.backoff_max_millis must be >= boiler.backoff_initial_millis")
	}
	if cfg.Influx.Enable && (cfg.Influx.URL == "" || cfg.Influx.Bucket == "") {
		return nil, domain.Generation{}, errors.New("config params influx.url and influx.bucket are required when influx is enabled")
	}

	return &cfg, gen, nil
}

func sessionActorProvider(cfg *config.Config, gen domain.Generation, m *metrics.Metrics, logger *zap.Logger) actor.SessionActorProvider {
	link := sbprotocol.NewGattLink(sbprotocol.GattConfig{
		Address:              cfg.Boiler.Address,
		Name:                 cfg.Boiler.Name,
		HCIDevice:            cfg.Boiler.HCIDevice,
		WriteService:         cfg.Boiler.WriteService,
		WriteCharacteristic:  cfg.Boiler.WriteCharacteristic,
		NotifyService:        cfg.Boiler.NotifyService,
		NotifyCharacteristic: cfg.Boiler.NotifyCharacteristic,
	}, logger)
	timing := cfg.Timing(gen)

	return func(es *eventstream.EventStream) *adactor.SessionActor {
		client := sbprotocol.NewClient(link, sbprotocol.WithInstrument(m.LinkInstrument()), sbprotocol.WithLogger(logger))
		return adactor.NewSessionActor(cfg.Boiler.Address, cfg.Boiler.Pin, gen, timing, client, es, m, logger)
	}
}

func mqttActorProvider(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) actor.MQTTActorProvider {
	return func() *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, m, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
	viper.SetDefault("boiler.generation", "b")
	viper.SetDefault("boiler.hci_device", 0)
	viper.SetDefault("boiler.write_service", sbprotocol.DefaultWriteService)
	viper.SetDefault("boiler.write_characteristic", sbprotocol.DefaultWriteCharacteristic)
	viper.SetDefault("boiler.notify_service", sbprotocol.DefaultNotifyService)
	viper.SetDefault("boiler.notify_characteristic", sbprotocol.DefaultNotifyCharacteristic)
	viper.SetDefault("boiler.connect_timeout_millis", 20000)
	viper.SetDefault("boiler.response_timeout_millis", 5000)
	viper.SetDefault("boiler.backoff_initial_millis", 5000)
	viper.SetDefault("boiler.backoff_max_millis", 300000)
	viper.SetDefault("poll.state_interval_millis", 0)
	viper.SetDefault("poll.consumption_interval_millis", 600000)
	viper.SetDefault("poll.verify_cycles", 3)
	viper.SetDefault("thermostat.current_sensor", "temp2")
	viper.SetDefault("mqtt.enable", true)
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "smartboiler")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("storage.path", "smartboiler.db")
	viper.SetDefault("storage.flush_interval_millis", 300000)
	viper.SetDefault("influx.enable", false)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.Influx.Token = "*redacted*"
	cfg.Boiler.Pin = 0
	slog.Info("Using", "config", cfg)
}
