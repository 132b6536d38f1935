package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tunnelctl"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	connects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tunnel",
			Name:      "spawns_total",
			Help:      "Number of tunnel processes spawned, by mode (manual|reconnect).",
		}, []string{"profile", "mode"},
	)
	confirmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tunnel",
			Name:      "connections_confirmed_total",
			Help:      "Number of spawns that stayed alive through the confirmation window.",
		}, []string{"profile"},
	)
	disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tunnel",
			Name:      "disconnects_total",
			Help:      "Number of operator-initiated disconnects.",
		}, []string{"profile"},
	)
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tunnel",
			Name:      "exits_total",
			Help:      "Number of unexpected process exits by failure class.",
		}, []string{"profile", "class"},
	)
	spawnErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tunnel",
			Name:      "spawn_errors_total",
			Help:      "Number of processes that could not be created or failed at runtime.",
		}, []string{"profile"},
	)
	reconnectsScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconnect",
			Name:      "scheduled_total",
			Help:      "Number of reconnect attempts scheduled.",
		}, []string{"profile"},
	)
	reconnectsExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconnect",
			Name:      "exhausted_total",
			Help:      "Number of times the reconnect ceiling was reached.",
		}, []string{"profile"},
	)
	backoffDelay = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconnect",
			Name:      "backoff_seconds",
			Help:      "Scheduled reconnect delays.",
			Buckets:   []float64{1, 2, 4, 8, 16, 30},
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tunnel",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between connection states.",
		}, []string{"profile", "from", "to"},
	)
	enabledProfiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "profiles_enabled",
			Help:      "Number of enabled profiles.",
		},
	)
	connectedProfiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "profiles_connected",
			Help:      "Number of enabled profiles with a live tunnel.",
		},
	)
	processRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tunnel",
			Name:      "process_rss_bytes",
			Help:      "Resident memory of the live tunnel process.",
		}, []string{"profile"},
	)
	processCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tunnel",
			Name:      "process_cpu_percent",
			Help:      "CPU usage of the live tunnel process.",
		}, []string{"profile"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		connects, confirmed, disconnects, exits, spawnErrors,
		reconnectsScheduled, reconnectsExhausted, backoffDelay,
		stateTransitions, enabledProfiles, connectedProfiles, processRSS, processCPU,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register succeeds.

func IncSpawn(profile string, reconnect bool) {
	if regOK.Load() {
		mode := "manual"
		if reconnect {
			mode = "reconnect"
		}
		connects.WithLabelValues(profile, mode).Inc()
	}
}

func IncConfirmed(profile string) {
	if regOK.Load() {
		confirmed.WithLabelValues(profile).Inc()
	}
}

func IncDisconnect(profile string) {
	if regOK.Load() {
		disconnects.WithLabelValues(profile).Inc()
	}
}

func IncExit(profile, class string) {
	if regOK.Load() {
		exits.WithLabelValues(profile, class).Inc()
	}
}

func IncSpawnError(profile string) {
	if regOK.Load() {
		spawnErrors.WithLabelValues(profile).Inc()
	}
}

func ObserveReconnectScheduled(profile string, delay time.Duration) {
	if regOK.Load() {
		reconnectsScheduled.WithLabelValues(profile).Inc()
		backoffDelay.Observe(delay.Seconds())
	}
}

func IncReconnectExhausted(profile string) {
	if regOK.Load() {
		reconnectsExhausted.WithLabelValues(profile).Inc()
	}
}

func RecordStateTransition(profile, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(profile, from, to).Inc()
	}
}

func SetProfileCounts(connected, enabled int) {
	if regOK.Load() {
		connectedProfiles.Set(float64(connected))
		enabledProfiles.Set(float64(enabled))
	}
}

func SetProcessResources(profile string, rssBytes uint64, cpuPercent float64) {
	if regOK.Load() {
		processRSS.WithLabelValues(profile).Set(float64(rssBytes))
		processCPU.WithLabelValues(profile).Set(cpuPercent)
	}
}

// ForgetProfile drops per-profile series once the profile is gone or idle.
func ForgetProfile(profile string) {
	if regOK.Load() {
		processRSS.DeleteLabelValues(profile)
		processCPU.DeleteLabelValues(profile)
	}
}
