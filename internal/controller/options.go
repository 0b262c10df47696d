package controller

import (
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-fleet/internal/audit"
	"github.com/nerrad567/gray-logic-fleet/internal/discovery"
	"github.com/nerrad567/gray-logic-fleet/internal/events"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-fleet/internal/policy"
)

// DispatchRecorder receives one time series point per dispatch attempt.
type DispatchRecorder interface {
	WriteDispatch(deviceID, action, outcome string, d time.Duration, at time.Time)
}

// Options configures a Controller. Only Discovery is required; every
// collaborator left nil gets a working default or is skipped.
type Options struct {
	Discovery      discovery.Options
	RequestTimeout time.Duration
	Events         events.Config

	// AutoSubscribe starts an event receiver for devices found by a
	// rediscovery while receivers are running. When false such devices
	// wait for the next StartEventReceivers.
	AutoSubscribe bool

	// RefreshInterval enables periodic rediscovery in Run.
	RefreshInterval time.Duration
	// StaleAfter prunes devices not seen for this long during Run.
	StaleAfter time.Duration

	// Policy is the initial policy. Nil blocks nothing.
	Policy *policy.Policy

	Browser    discovery.Browser // nil: multicast DNS via zeroconf
	Dialer     events.Dialer     // nil: MQTT
	HTTPClient *http.Client      // nil: per-component defaults

	Audit   audit.Repository
	Metrics *metrics.Metrics
	Series  DispatchRecorder
	Logger  *logging.Logger
}

// OptionsFromConfig builds Options from the application config. The
// collaborators (Audit, Metrics, Series, Logger) are left for the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Discovery:       discovery.OptionsFromConfig(cfg),
		RequestTimeout:  cfg.GetRequestTimeout(),
		Events:          events.ConfigFrom(cfg),
		AutoSubscribe:   cfg.Discovery.AutoSubscribe,
		RefreshInterval: cfg.GetRefreshInterval(),
		StaleAfter:      cfg.GetStaleAfter(),
		Policy:          policy.FromConfig(cfg.Policy),
		Dialer:          events.NewMQTTDialer(cfg.Events),
	}
}
