package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the daemon's Prometheus collectors.
type Metrics struct {
	RefreshCycles prometheus.Counter
	RefreshErrors prometheus.Counter
	MotionEvents  *prometheus.CounterVec
	ManifestClips *prometheus.GaugeVec
	ModuleUp      *prometheus.GaugeVec
	RelaySessions prometheus.Gauge
	RelayStartups prometheus.Counter
	AuthRefreshes prometheus.Counter
}

// New builds and registers the collector set on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blinkd",
			Name:      "refresh_cycles_total",
			Help:      "Completed account refresh cycles.",
		}),
		RefreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blinkd",
			Name:      "refresh_errors_total",
			Help:      "Refresh cycles that failed at the discovery stage.",
		}),
		MotionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blinkd",
			Name:      "motion_events_total",
			Help:      "Motion events, per camera.",
		}, []string{"camera"}),
		ManifestClips: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "blinkd",
			Name:      "local_storage_clips",
			Help:      "Locally stored clip records known per sync module.",
		}, []string{"module"}),
		ModuleUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "blinkd",
			Name:      "sync_module_available",
			Help:      "Whether the sync module completed startup (1) or not (0).",
		}, []string{"module"}),
		RelaySessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blinkd",
			Name:      "relay_sessions",
			Help:      "Currently running liveview relay sessions.",
		}),
		RelayStartups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blinkd",
			Name:      "relay_sessions_total",
			Help:      "Liveview relay sessions started.",
		}),
		AuthRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blinkd",
			Name:      "auth_refreshes_total",
			Help:      "Access token refreshes performed.",
		}),
	}

	reg.MustRegister(
		m.RefreshCycles,
		m.RefreshErrors,
		m.MotionEvents,
		m.ManifestClips,
		m.ModuleUp,
		m.RelaySessions,
		m.RelayStartups,
		m.AuthRefreshes,
	)
	return m
}
