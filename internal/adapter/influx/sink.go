package influx

import (
	"context"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/config"
	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/port"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

const (
	measurement          = "smartboiler"
	defaultBatchSize     = 20
	defaultFlushInterval = 10 * time.Second
	pingTimeout          = 5 * time.Second
)

// Sink writes numeric and binary entity values to InfluxDB as points of the
// smartboiler measurement, tagged by entity.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *zap.Logger
}

func NewSink(cfg config.InfluxConfig, logger *zap.Logger) *Sink {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(defaultBatchSize).
			SetFlushInterval(uint(defaultFlushInterval.Milliseconds())),
	)
	s := &Sink{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger,
	}
	go s.handleWriteErrors(s.writeAPI.Errors())
	return s
}

func (s *Sink) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		s.logger.Warn("influx write failed", zap.Error(err))
	}
}

// Ping reports whether the server answers. The sink keeps buffering when it
// does not.
func (s *Sink) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	ok, err := s.client.Ping(ctx)
	if err != nil {
		s.logger.Warn("influx ping failed", zap.Error(err))
		return false
	}
	return ok
}

func (s *Sink) writeValue(id string, value any) {
	p := write.NewPoint(measurement,
		map[string]string{"entity": id},
		map[string]any{"value": value},
		time.Now())
	s.writeAPI.WritePoint(p)
}

func (s *Sink) Float(id string) port.Sink[float64] {
	return port.SinkFunc[float64](func(v float64) { s.writeValue(id, v) })
}

func (s *Sink) Binary(id string) port.Sink[bool] {
	return port.SinkFunc[bool](func(v bool) { s.writeValue(id, v) })
}

// Registrar is implemented by *service.Publisher.
type Registrar interface {
	RegisterFloat(id string, sink port.Sink[float64])
	RegisterBinary(id string, sink port.Sink[bool])
}

func (s *Sink) Attach(r Registrar) {
	for _, e := range domain.Entities {
		switch e.Kind {
		case domain.EntityFloat:
			r.RegisterFloat(e.Id, s.Float(e.Id))
		case domain.EntityBinary:
			r.RegisterBinary(e.Id, s.Binary(e.Id))
		}
	}
}

// Flush writes the buffered points without waiting for a full batch.
func (s *Sink) Flush() {
	s.writeAPI.Flush()
}

// Close flushes pending points and releases the client.
func (s *Sink) Close() {
	s.Flush()
	s.client.Close()
}
