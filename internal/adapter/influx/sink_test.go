package influx

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/config"
	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/service"
	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSinkWritesEntityPoints(t *testing.T) {

	var (
		mu     sync.Mutex
		bodies []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/write") {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, string(body))
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := NewSink(config.InfluxConfig{Enable: true, URL: server.URL, Token: "token", Org: "home", Bucket: "boiler"}, zap.NewNop())
	pub := service.NewPublisher(nil)
	sink.Attach(pub)

	for _, e := range domain.StateUpdateEvents(sbprotocol.StateTelemetry{Temperature1: 48.5, HeatOn: true}) {
		pub.Publish(e)
	}
	pub.Publish(domain.ModeUpdateEvent("SMART"))
	sink.Flush()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		all := strings.Join(bodies, "\n")
		return strings.Contains(all, "smartboiler,entity=temp1 value=48.5") &&
			strings.Contains(all, "smartboiler,entity=heat_on value=true") &&
			!strings.Contains(all, "entity=mode")
	}, 5*time.Second, 50*time.Millisecond)

	sink.Close()
}

func TestSinkCloseWritesBufferedPoints(t *testing.T) {

	var (
		mu     sync.Mutex
		bodies []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/write") {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, string(body))
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := NewSink(config.InfluxConfig{Enable: true, URL: server.URL, Token: "token", Org: "home", Bucket: "boiler"}, zap.NewNop())
	pub := service.NewPublisher(nil)
	sink.Attach(pub)

	// one point stays below the batch size and the flush interval
	pub.Publish(domain.ConsumptionUpdateEvent(domain.ConsumptionRecord{TotalWh: 1500}))
	sink.Close()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.Contains(strings.Join(bodies, "\n"), "smartboiler,entity=consumption value=1.5")
	}, 5*time.Second, 50*time.Millisecond)
}
