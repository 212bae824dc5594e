package config

import (
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
)

const (
	defaultConnectTimeout  = 20 * time.Second
	defaultResponseTimeout = 5 * time.Second
	defaultBackoffInitial  = 5 * time.Second
	defaultBackoffMax      = 5 * time.Minute
	defaultFlushInterval   = 5 * time.Minute
	defaultConsumption     = 10 * time.Minute
	defaultVerifyCycles    = 3
)

func millisOr(millis uint32, fallback time.Duration) time.Duration {
	if millis == 0 {
		return fallback
	}
	return time.Duration(millis) * time.Millisecond
}

// Timing resolves the configured durations. Zero values select defaults; the
// state poll interval defaults to the generation's interval.
func (c Config) Timing(gen domain.Generation) domain.TimingConfig {
	state := millisOr(c.Poll.StateIntervalMillis, gen.DefaultPollInterval)
	verify := c.Poll.VerifyCycles
	if verify == 0 {
		verify = defaultVerifyCycles
	}
	return domain.TimingConfig{
		ConnectTimeout:      millisOr(c.Boiler.ConnectTimeoutMillis, defaultConnectTimeout),
		ResponseTimeout:     millisOr(c.Boiler.ResponseTimeoutMillis, defaultResponseTimeout),
		BackoffInitial:      millisOr(c.Boiler.BackoffInitialMillis, defaultBackoffInitial),
		BackoffMax:          millisOr(c.Boiler.BackoffMaxMillis, defaultBackoffMax),
		StateInterval:       state,
		ConsumptionInterval: millisOr(c.Poll.ConsumptionIntervalMillis, defaultConsumption),
		FlushInterval:       millisOr(c.Storage.FlushIntervalMillis, defaultFlushInterval),
		VerifyCycles:        verify,
	}
}
