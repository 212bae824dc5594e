package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type commandResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type sessionResult struct {
	Address  string `json:"address"`
	State    string `json:"state"`
	LastSeen string `json:"last_seen,omitempty"`
	Error    string `json:"error,omitempty"`
}

type modeBody struct {
	Mode string `json:"mode"`
}

type thermostatBody struct {
	Temperature *int `json:"temperature"`
}

type pinBody struct {
	Pin *uint16 `json:"pin"`
}

type hdoBody struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/api/version", s.VersionHandler)
	e.GET("/api/session", s.SessionHandler)
	e.GET("/api/entities", s.EntitiesHandler)
	e.GET("/api/entities/:id", s.EntityHandler)
	e.POST("/api/mode", s.ModeHandler)
	e.POST("/api/thermostat", s.ThermostatHandler)
	e.POST("/api/pin", s.PinHandler)
	e.POST("/api/hdo", s.HdoHandler)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, requestTimeout).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) VersionHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"version":  versioninfo.Short(),
		"revision": versioninfo.Revision,
	})
}

func (s *Server) SessionHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetSessionStateRequest{}, requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, commandResult{Status: domain.COMMAND_STATUS_FAILED, Error: err.Error()})
	}
	response, ok := res.(domain.GetSessionStateResponse)
	if !ok {
		return c.NoContent(http.StatusInternalServerError)
	}
	session := response.Session
	result := sessionResult{
		Address: session.Address,
		State:   session.State.String(),
	}
	if !session.LastSeen.IsZero() {
		result.LastSeen = session.LastSeen.Format(time.RFC3339)
	}
	if session.LastError != nil {
		result.Error = session.LastError.Error()
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) EntitiesHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.entities.Snapshot())
}

func (s *Server) EntityHandler(c echo.Context) error {
	value, ok := s.entities.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown entity")
	}
	return c.JSON(http.StatusOK, value)
}

func (s *Server) ModeHandler(c echo.Context) error {
	var body modeBody
	if err := c.Bind(&body); err != nil || body.Mode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be {\"mode\": \"<mode>\"}")
	}
	return s.command(c, domain.SetModeRequest{Mode: body.Mode})
}

func (s *Server) ThermostatHandler(c echo.Context) error {
	var body thermostatBody
	if err := c.Bind(&body); err != nil || body.Temperature == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be {\"temperature\": <celsius>}")
	}
	return s.command(c, domain.SetTargetTemperatureRequest{Temperature: *body.Temperature})
}

func (s *Server) PinHandler(c echo.Context) error {
	var body pinBody
	if err := c.Bind(&body); err != nil || body.Pin == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be {\"pin\": <pin>}")
	}
	return s.command(c, domain.SetPairingPinRequest{Pin: *body.Pin})
}

func (s *Server) HdoHandler(c echo.Context) error {
	var body hdoBody
	if err := c.Bind(&body); err != nil || body.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be {\"enabled\": <bool>}")
	}
	return s.command(c, domain.SetHdoEnabledRequest{Enabled: *body.Enabled})
}

func (s *Server) command(c echo.Context, request domain.BoilerCommandRequest) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, request, requestTimeout).Result()
	if err != nil {
		return c.JSON(http.StatusGatewayTimeout, commandResult{Status: domain.COMMAND_STATUS_FAILED, Error: err.Error()})
	}
	response, ok := res.(domain.BoilerCommandResponse)
	if !ok {
		return c.NoContent(http.StatusInternalServerError)
	}
	if err := response.GetResponseError(); err != nil {
		return c.JSON(commandErrorStatus(err), commandResult{Status: response.Status, Error: err.Error()})
	}
	return c.JSON(http.StatusAccepted, commandResult{Status: response.Status})
}

func commandErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidMode),
		errors.Is(err, domain.ErrInvalidTemperature),
		errors.Is(err, domain.ErrInvalidPin),
		errors.Is(err, domain.ErrPinNotSupported):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrChangeSuperseded):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
