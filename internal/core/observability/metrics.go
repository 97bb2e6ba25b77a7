package observability

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mapsearch_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	filterEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filter_evaluations_total",
			Help: "Dataset filter runs by outcome.",
		},
		[]string{"outcome"},
	)

	filterDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filter_evaluation_duration_seconds",
			Help:    "Time from dispatch to result for one dataset.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	filterFeatures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filter_features_total",
			Help: "Features entering and leaving the filter engine.",
		},
		[]string{"stage"},
	)

	workerFaults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "filter_worker_faults_total",
			Help: "Filter workers that panicked or exited without a result.",
		},
	)

	staleResults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "filter_stale_results_total",
			Help: "Refilter results discarded because a newer filter list was set.",
		},
	)

	stateDecodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "state_decode_total",
			Help: "URL state decodes by outcome.",
		},
		[]string{"outcome"},
	)

	datasetCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_cache_results_total",
			Help: "Dataset cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	layerUpdateEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_update_events_total",
			Help: "Layer update events by op and outcome.",
		},
		[]string{"op", "outcome"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, buildInfo,
		filterEvaluations, filterDurationSeconds, filterFeatures,
		workerFaults, staleResults, stateDecodes,
		datasetCacheResults, layerUpdateEvents,
	}
}

func init() {
	prometheus.MustRegister(collectors()...)
}

// Init additionally exposes the service metrics on reg. A nil reg is a no-op.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveFilter records one dataset filter run.
func ObserveFilter(err error, dur time.Duration, in, out int) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	filterEvaluations.WithLabelValues(outcome).Inc()
	filterDurationSeconds.Observe(dur.Seconds())
	if err == nil {
		filterFeatures.WithLabelValues("in").Add(float64(in))
		filterFeatures.WithLabelValues("out").Add(float64(out))
	}
}

func IncFilterBypass() {
	filterEvaluations.WithLabelValues("bypass").Inc()
}

func IncWorkerFault() { workerFaults.Inc() }

func IncStaleResult() { staleResults.Inc() }

func IncStateDecode(outcome string) {
	stateDecodes.WithLabelValues(outcome).Inc()
}

func IncDatasetCacheHit()  { datasetCacheResults.WithLabelValues("hit").Inc() }
func IncDatasetCacheMiss() { datasetCacheResults.WithLabelValues("miss").Inc() }

func ObserveLayerUpdate(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	layerUpdateEvents.WithLabelValues(op, outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
