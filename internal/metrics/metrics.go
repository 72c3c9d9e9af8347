package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	TrackedBuses prometheus.Gauge
	ActiveAlerts prometheus.Gauge
	MapMarkers   prometheus.Gauge

	Fetches       *prometheus.CounterVec // channel, result labels
	Discarded     *prometheus.CounterVec // channel label
	Selections    prometheus.Counter
	ViewportFits  prometheus.Counter
	FetchDuration *prometheus.HistogramVec // channel label

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	DBSwitches *prometheus.CounterVec // reason label: update|ping_failure

	RequestTimeout prometheus.Gauge // seconds
	FitDebounce    prometheus.Gauge // seconds
}

func NewCollector(requestTimeout, fitDebounce time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TrackedBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busbeacon_tracked_buses",
			Help: "Number of buses in the latest snapshot.",
		}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busbeacon_active_alerts",
			Help: "Number of buses within the alert radius.",
		}),
		MapMarkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busbeacon_map_markers",
			Help: "Number of markers currently placed on the map surface.",
		}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busbeacon_fetches_total",
			Help: "Completed fetches by channel and result.",
		}, []string{"channel", "result"}),
		Discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busbeacon_fetch_results_discarded_total",
			Help: "Fetch results dropped because a newer request superseded them.",
		}, []string{"channel"}),
		Selections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busbeacon_selections_total",
			Help: "Total bus selections.",
		}),
		ViewportFits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busbeacon_viewport_fits_total",
			Help: "Total viewport fits applied to the map surface.",
		}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "busbeacon_fetch_duration_seconds",
			Help:    "Duration of transit API and stop lookups.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"channel"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busbeacon_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busbeacon_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busbeacon_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busbeacon_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		DBSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busbeacon_db_switches_total",
			Help: "Number of stop database switches.",
		}, []string{"reason"}),
		RequestTimeout: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busbeacon_request_timeout_seconds",
			Help: "Per-request transit API timeout in seconds.",
		}),
		FitDebounce: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busbeacon_fit_debounce_seconds",
			Help: "Viewport fit debounce delay in seconds.",
		}),
	}

	reg.MustRegister(
		c.TrackedBuses, c.ActiveAlerts, c.MapMarkers,
		c.Fetches, c.Discarded, c.Selections, c.ViewportFits, c.FetchDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.DBSwitches, c.RequestTimeout, c.FitDebounce,
	)

	c.RequestTimeout.Set(requestTimeout.Seconds())
	c.FitDebounce.Set(fitDebounce.Seconds())

	return c
}

// ObserveFetch records one completed fetch on a channel.
func (c *Collector) ObserveFetch(channel, result string, d time.Duration) {
	c.Fetches.WithLabelValues(channel, result).Inc()
	c.FetchDuration.WithLabelValues(channel).Observe(d.Seconds())
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
	slog.Info("metrics listening", "addr", addr)
	return srv
}
