package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveTrackers prometheus.Gauge
	HubConnections prometheus.Gauge
	HubTopics      prometheus.Gauge

	UpdatesProcessed prometheus.Counter
	UpdatesRejected  *prometheus.CounterVec // reason label: validation_error|authorization_error|...

	BroadcastDelivered prometheus.Counter
	HeartbeatPrunes    prometheus.Counter

	NotificationsSent    *prometheus.CounterVec // kind label: approaching_stop|schedule_delay|trip_status
	NotificationsDeduped prometheus.Counter

	NATSMirrored   prometheus.Counter
	NATSMirrorErrs prometheus.Counter
	NATSConnected  prometheus.Gauge

	UpdateDuration prometheus.Histogram
	MirrorDuration prometheus.Histogram

	GeofenceRadius prometheus.Gauge
	DelayThreshold prometheus.Gauge // minutes
}

func NewCollector(geofenceRadiusMeters float64, delayThresholdMin int) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveTrackers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_active_trips",
			Help: "Number of trips with live speed trackers.",
		}),
		HubConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_hub_connections",
			Help: "Number of connected WebSocket clients.",
		}),
		HubTopics: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_hub_topics",
			Help: "Number of topics with at least one subscriber.",
		}),
		UpdatesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_updates_processed_total",
			Help: "Total position updates accepted.",
		}),
		UpdatesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_updates_rejected_total",
			Help: "Total position updates rejected.",
		}, []string{"reason"}),
		BroadcastDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_broadcast_delivered_total",
			Help: "Total messages enqueued to subscribers.",
		}),
		HeartbeatPrunes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_heartbeat_prunes_total",
			Help: "Total clients dropped for missed heartbeats or full buffers.",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_notifications_sent_total",
			Help: "Total notification events dispatched.",
		}, []string{"kind"}),
		NotificationsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_notifications_deduped_total",
			Help: "Total notification events suppressed by the per-day dedup.",
		}),
		NATSMirrored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_mirrored_total",
			Help: "Total broadcasts mirrored to NATS subjects.",
		}),
		NATSMirrorErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_mirror_errors_total",
			Help: "Total NATS mirror publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		UpdateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_update_duration_seconds",
			Help:    "Duration of the position update pipeline.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		MirrorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_mirror_duration_seconds",
			Help:    "Duration to marshal and publish a NATS mirror message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		GeofenceRadius: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_geofence_radius_meters",
			Help: "Configured stop geofence radius in meters.",
		}),
		DelayThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_delay_threshold_minutes",
			Help: "Configured delay alert threshold in minutes.",
		}),
	}

	// Register
	reg.MustRegister(
		c.ActiveTrackers, c.HubConnections, c.HubTopics,
		c.UpdatesProcessed, c.UpdatesRejected,
		c.BroadcastDelivered, c.HeartbeatPrunes,
		c.NotificationsSent, c.NotificationsDeduped,
		c.NATSMirrored, c.NATSMirrorErrs, c.NATSConnected,
		c.UpdateDuration, c.MirrorDuration,
		c.GeofenceRadius, c.DelayThreshold,
	)

	c.GeofenceRadius.Set(geofenceRadiusMeters)
	c.DelayThreshold.Set(float64(delayThresholdMin))

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// GatewayMetrics adapts the collector to the gateway's metrics interface.
type GatewayMetrics struct{ C *Collector }

func (m GatewayMetrics) ProcessedInc()                  { m.C.UpdatesProcessed.Inc() }
func (m GatewayMetrics) RejectedInc(reason string)      { m.C.UpdatesRejected.WithLabelValues(reason).Inc() }
func (m GatewayMetrics) ObserveUpdate(d time.Duration)  { m.C.UpdateDuration.Observe(d.Seconds()) }
func (m GatewayMetrics) TrackersSet(n int)              { m.C.ActiveTrackers.Set(float64(n)) }

// HubMetrics adapts the collector to the broadcast hub's metrics interface.
type HubMetrics struct{ C *Collector }

func (m HubMetrics) ConnectionsSet(n int) { m.C.HubConnections.Set(float64(n)) }
func (m HubMetrics) TopicsSet(n int)      { m.C.HubTopics.Set(float64(n)) }
func (m HubMetrics) DeliveredAdd(n int)   { m.C.BroadcastDelivered.Add(float64(n)) }
func (m HubMetrics) PrunedInc()           { m.C.HeartbeatPrunes.Inc() }

// NotifyMetrics adapts the collector to the notifier's metrics interface.
type NotifyMetrics struct{ C *Collector }

func (m NotifyMetrics) SentInc(kind string) { m.C.NotificationsSent.WithLabelValues(kind).Inc() }
func (m NotifyMetrics) DedupedInc()         { m.C.NotificationsDeduped.Inc() }

// BridgeMetrics adapts the collector to the NATS bridge's metrics interface.
type BridgeMetrics struct{ C *Collector }

func (m BridgeMetrics) MirroredInc()                   { m.C.NATSMirrored.Inc() }
func (m BridgeMetrics) MirrorErrInc()                  { m.C.NATSMirrorErrs.Inc() }
func (m BridgeMetrics) MirrorObserve(d time.Duration)  { m.C.MirrorDuration.Observe(d.Seconds()) }
func (m BridgeMetrics) SetConnected(connected bool) {
	if connected {
		m.C.NATSConnected.Set(1)
	} else {
		m.C.NATSConnected.Set(0)
	}
}
