package monitor

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "vmmonitor"

type Metrics struct {
	cycles         prometheus.Counter
	vmsChecked     prometheus.Counter
	eventsDetected prometheus.Counter
	probeFallbacks prometheus.Counter
	restarts       *prometheus.CounterVec
	checkDuration  prometheus.Histogram
}

func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	ret := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_total",
			Help:      "Completed monitoring cycles.",
		}),
		vmsChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "vms_checked_total",
			Help:      "Per-VM checks performed.",
		}),
		eventsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_detected_total",
			Help:      "Probes that found the target event.",
		}),
		probeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "probe_fallbacks_total",
			Help:      "Probes that degraded to the not-found fallback.",
		}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "restarts_total",
			Help:      "Orchestrated restarts by outcome.",
		}, []string{"outcome"}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "check_duration_seconds",
			Help:      "Time taken to check one VM, restart included.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
	}

	collectors := []prometheus.Collector{
		ret.cycles,
		ret.vmsChecked,
		ret.eventsDetected,
		ret.probeFallbacks,
		ret.restarts,
		ret.checkDuration,
	}

	for _, collector := range collectors {
		err := registry.Register(collector)
		if err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return ret, nil
}
