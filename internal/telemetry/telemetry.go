// Package telemetry exposes Prometheus metrics for the monitoring loop.
package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/radiolith/jamguard/internal/monitor"
)

// Collector bundles the metrics published by the monitoring loop.
// All methods are safe to call from multiple goroutines.
type Collector struct {
	registry *prometheus.Registry

	cyclesTotal      prometheus.Counter
	anomaliesTotal   *prometheus.CounterVec // Cycles flagged, by detector
	channelChanges   *prometheus.CounterVec // Reactive switches and scheduled hops
	secureRoundTrips *prometheus.CounterVec
	peakAmplitude    prometheus.Gauge
	peakSpread       prometheus.Histogram
	trainingSeconds  prometheus.Gauge
}

// New creates a Collector and registers its metrics on the given
// registry. Creating a second Collector on the same registry reuses
// the already registered metrics.
func New(registry *prometheus.Registry) *Collector {
	return &Collector{
		registry: registry,
		cyclesTotal: register(registry, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jamguard_cycles_total",
			Help: "Completed recovery cycles.",
		})),
		anomaliesTotal: register(registry, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jamguard_anomalies_total",
			Help: "Cycles flagged by each detector.",
		}, []string{"detector"})),
		channelChanges: register(registry, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jamguard_channel_changes_total",
			Help: "Channel changes, split into reactive switches and scheduled hops.",
		}, []string{"kind"})),
		secureRoundTrips: register(registry, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jamguard_secure_roundtrips_total",
			Help: "Confirmation message round trips by result.",
		}, []string{"result"})),
		peakAmplitude: register(registry, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jamguard_peak_amplitude",
			Help: "Max spectrum amplitude of the most recently scored waveform.",
		})),
		peakSpread: register(registry, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jamguard_peak_amplitude_spread",
			Help:    "Distribution of max spectrum amplitudes across cycles.",
			Buckets: prometheus.LinearBuckets(0, 50, 8),
		})),
		trainingSeconds: register(registry, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jamguard_classifier_training_seconds",
			Help: "Wall time spent fitting the jamming classifier.",
		})),
	}
}

func register[C prometheus.Collector](registry prometheus.Registerer, c C) C {
	if err := registry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(C)
		}
		panic(err)
	}
	return c
}

// ObserveCycle records the outcome of one completed recovery cycle.
func (c *Collector) ObserveCycle(result *monitor.CycleResult) {
	if result == nil {
		return
	}

	c.cyclesTotal.Inc()
	c.peakAmplitude.Set(result.PeakAmplitude)
	c.peakSpread.Observe(result.PeakAmplitude)

	if result.Anomalous {
		c.anomaliesTotal.WithLabelValues("energy").Inc()
	}
	if result.Jammed {
		c.anomaliesTotal.WithLabelValues("classifier").Inc()
	}

	if result.Switched {
		c.channelChanges.WithLabelValues("reactive").Inc()
	}
	c.channelChanges.WithLabelValues("scheduled").Inc()

	outcome := "failed"
	if result.Secured {
		outcome = "ok"
	}
	c.secureRoundTrips.WithLabelValues(outcome).Inc()
}

// ObserveSecureFailure records a confirmation round trip that failed
// and aborted its cycle.
func (c *Collector) ObserveSecureFailure() {
	c.secureRoundTrips.WithLabelValues("failed").Inc()
}

// SetTrainingDuration records how long classifier training took.
func (c *Collector) SetTrainingDuration(d time.Duration) {
	c.trainingSeconds.Set(d.Seconds())
}

// Handler serves the collector's registry in the Prometheus exposition
// format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
