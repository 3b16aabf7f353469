package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendwatch/logger"
)

const namespace = "lendwatch"

// Discovery paths.
const (
	PathPrimary  = "primary"
	PathFallback = "fallback"
)

// Tick outcomes.
const (
	TickApplied  = "applied"
	TickDropped  = "dropped"
	TickRejected = "rejected"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total number of ledger RPC calls.",
		},
		[]string{"method", "result"},
	)

	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Duration of ledger RPC calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"method"},
	)

	priceTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "ticks_total",
			Help:      "Price ticks seen by the aggregator by outcome.",
		},
		[]string{"result"},
	)

	subscribedFeeds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "subscribed_feeds",
			Help:      "Number of feeds in the consolidated price subscription.",
		},
	)

	feedConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "connections_total",
			Help:      "Price stream connection attempts by outcome.",
		},
		[]string{"result"},
	)

	discoveryRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "runs_total",
			Help:      "Obligation discovery passes by path.",
		},
		[]string{"path"},
	)

	decodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "decode_failures_total",
			Help:      "Accounts skipped because they failed to decode.",
		},
	)

	unresolvedReserves = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "unresolved_total",
			Help:      "Reserves dropped because their mint could not be resolved.",
		},
	)

	snapshotCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "cycles_total",
			Help:      "Snapshot cycles by outcome.",
		},
		[]string{"result"},
	)

	snapshotObligations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "obligations",
			Help:      "Obligations in the last written snapshot.",
		},
	)

	snapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a snapshot cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

func init() {
	Registry.MustRegister(
		rpcRequests,
		rpcDuration,
		priceTicks,
		subscribedFeeds,
		feedConnects,
		discoveryRuns,
		decodeFailures,
		unresolvedReserves,
		snapshotCycles,
		snapshotObligations,
		snapshotDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler returns an HTTP handler exposing the Prometheus metrics registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRPC records the outcome and latency of one RPC call.
func ObserveRPC(method string, err error, duration time.Duration) {
	rpcRequests.WithLabelValues(method, resultLabel(err)).Inc()
	rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
	Emit("rpc", "rpc_call", duration.Milliseconds(), TypeDuration, logger.Fields{
		"method": method,
		"result": resultLabel(err),
	})
}

// RecordTick counts a price tick by outcome. Ticks are too frequent to mirror
// as events; the aggregator heartbeat reports their totals instead.
func RecordTick(result string) {
	priceTicks.WithLabelValues(result).Inc()
}

func SetSubscribedFeeds(n int) {
	subscribedFeeds.Set(float64(n))
	Emit("hermes", "subscribed_feeds", n, TypeGauge, nil)
}

func RecordFeedConnect(err error) {
	feedConnects.WithLabelValues(resultLabel(err)).Inc()
	Emit("hermes", "feed_connect", 1, TypeCounter, logger.Fields{"result": resultLabel(err)})
}

func RecordDiscovery(path string) {
	discoveryRuns.WithLabelValues(path).Inc()
	Emit("discovery", "discovery_runs", 1, TypeCounter, logger.Fields{"path": path})
}

func RecordDecodeFailures(n int) {
	if n > 0 {
		decodeFailures.Add(float64(n))
		Emit("discovery", "decode_failures", n, TypeCounter, nil)
	}
}

func RecordUnresolved(n int) {
	if n > 0 {
		unresolvedReserves.Add(float64(n))
		Emit("resolver", "unresolved_reserves", n, TypeCounter, nil)
	}
}

// RecordSnapshot records a finished snapshot cycle. The obligation gauge only
// moves on success so it always reflects the file on disk.
func RecordSnapshot(err error, obligations int, duration time.Duration) {
	snapshotCycles.WithLabelValues(resultLabel(err)).Inc()
	snapshotDuration.Observe(duration.Seconds())
	if err == nil {
		snapshotObligations.Set(float64(obligations))
	}
	Emit("snapshot", "snapshot_cycle", obligations, TypeGauge, logger.Fields{
		"result":      resultLabel(err),
		"duration_ms": duration.Milliseconds(),
	})
}

// RecordPriceHeartbeat mirrors the aggregator's periodic totals.
func RecordPriceHeartbeat(tracked, live int, applied, rejected, dropped int64) {
	Emit("price_aggregator", "live_prices", live, TypeGauge, logger.Fields{
		"tracked_mints": tracked,
		"applied":       applied,
		"rejected":      rejected,
		"dropped":       dropped,
	})
}
