package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/entity"
	"github.com/berfenger/smartboiler2mqtt/internal/metrics"
	"github.com/berfenger/smartboiler2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeMaster answers like the master actor with a ready session and a
// generation B boiler.
func fakeMaster(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: true, State: "ok"})
	case domain.GetSessionStateRequest:
		ctx.Respond(domain.GetSessionStateResponse{Session: domain.DeviceSession{Address: "AA:BB", State: domain.SessionReady}})
	case domain.SetModeRequest:
		switch msg.Mode {
		case "nope":
			ctx.Respond(domain.BoilerCommandResponse{ActorResponseMixIn: domain.ErrorResponse(domain.ErrInvalidMode), Status: domain.COMMAND_STATUS_FAILED})
			return
		case "stale":
			ctx.Respond(domain.BoilerCommandResponse{ActorResponseMixIn: domain.ErrorResponse(domain.ErrChangeSuperseded), Status: domain.COMMAND_STATUS_FAILED})
			return
		}
		ctx.Respond(domain.BoilerCommandResponse{Status: domain.COMMAND_STATUS_PENDING})
	case domain.SetPairingPinRequest:
		ctx.Respond(domain.BoilerCommandResponse{ActorResponseMixIn: domain.ErrorResponse(domain.ErrPinNotSupported), Status: domain.COMMAND_STATUS_FAILED})
	case domain.SetHdoEnabledRequest:
		ctx.Respond(domain.BoilerCommandResponse{ActorResponseMixIn: domain.ErrorResponse(domain.ErrSessionNotReady), Status: domain.COMMAND_STATUS_FAILED})
	case domain.SetTargetTemperatureRequest:
		ctx.Respond(domain.BoilerCommandResponse{Status: domain.COMMAND_STATUS_PENDING})
	}
}

func newTestHandler(t *testing.T) (http.Handler, *entity.Store) {
	as := actorutil.NewActorSystemWithZapLogger(zap.NewNop())
	t.Cleanup(as.Shutdown)
	pid := as.Root.Spawn(actor.PropsFromFunc(fakeMaster))

	store := entity.NewStore()
	s := &Server{
		rootContext: as.Root,
		masterActor: pid,
		entities:    store,
		metrics:     metrics.New(),
	}
	return s.RegisterRoutes(), store
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(h, http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "health_check: OK", rec.Body.String())
}

func TestEntities(t *testing.T) {
	h, store := newTestHandler(t)
	store.Float(domain.ENTITY_ID_CONSUMPTION).Receive(12.5)

	rec := do(h, http.MethodGet, "/api/entities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var values []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &values))
	require.Len(t, values, 1)
	assert.Equal(t, domain.ENTITY_ID_CONSUMPTION, values[0]["id"])
	assert.Equal(t, 12.5, values[0]["value"])

	rec = do(h, http.MethodGet, "/api/entities/"+domain.ENTITY_ID_CONSUMPTION, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodGet, "/api/entities/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSession(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(h, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var result sessionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "AA:BB", result.Address)
	assert.Equal(t, domain.SessionReady.String(), result.State)
}

func TestCommands(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name   string
		path   string
		body   string
		code   int
		status string
	}{
		{"mode accepted", "/api/mode", `{"mode":"normal"}`, http.StatusAccepted, domain.COMMAND_STATUS_PENDING},
		{"mode invalid", "/api/mode", `{"mode":"nope"}`, http.StatusBadRequest, domain.COMMAND_STATUS_FAILED},
		{"mode superseded", "/api/mode", `{"mode":"stale"}`, http.StatusConflict, domain.COMMAND_STATUS_FAILED},
		{"thermostat", "/api/thermostat", `{"temperature":55}`, http.StatusAccepted, domain.COMMAND_STATUS_PENDING},
		{"pin unsupported", "/api/pin", `{"pin":1234}`, http.StatusBadRequest, domain.COMMAND_STATUS_FAILED},
		{"hdo not ready", "/api/hdo", `{"enabled":true}`, http.StatusServiceUnavailable, domain.COMMAND_STATUS_FAILED},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code)
			var result commandResult
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
			assert.Equal(t, tt.status, result.Status)
		})
	}

	rec := do(h, http.MethodPost, "/api/thermostat", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "smartboiler_reconnects_total")
}
