// Package observability holds the Prometheus instruments recorded by the pipeline and servers.
package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type set struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	upstream       *prometheus.HistogramVec
	buildInfo      *prometheus.GaugeVec
	runs           *prometheus.CounterVec
	stage          *prometheus.HistogramVec
	scenes         *prometheus.CounterVec
	pairs          *prometheus.CounterVec
	resultCache    *prometheus.CounterVec
	cacheOps       *prometheus.HistogramVec
	invalidatedAt  *prometheus.GaugeVec
	invalidatedKey prometheus.Counter
}

var cur atomic.Pointer[set]

func init() {
	Init(prometheus.DefaultRegisterer, true)
}

func newSet() *set {
	return &set{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
			},
			[]string{"method", "route", "status"},
		),
		upstream: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_latency_seconds",
				Help:    "Latency of upstream calls (catalog, assets, geocoder) in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"upstream"},
		),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ndvi_build_info",
				Help: "Build information for the binary.",
			},
			[]string{"version"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Lake pipeline runs by outcome.",
			},
			[]string{"outcome"},
		),
		stage: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_seconds",
				Help:    "Duration of pipeline stages in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 18),
			},
			[]string{"stage"},
		),
		scenes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_scenes_total",
				Help: "Scenes seen by the pipeline by outcome.",
			},
			[]string{"outcome"},
		),
		pairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_trend_pairs_total",
				Help: "Ring/season trend fits by season and outcome.",
			},
			[]string{"season", "outcome"},
		),
		resultCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "result_cache_total",
				Help: "Report cache lookups by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		),
		cacheOps: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cache_op_seconds",
				Help:    "Redis operation latency by op and result.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"op", "result"},
		),
		invalidatedAt: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "collection_invalidated_at_seconds",
				Help: "Unix time of the last applied scene-ingest invalidation per collection.",
			},
			[]string{"collection"},
		),
		invalidatedKey: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "result_cache_invalidated_keys_total",
				Help: "Cached reports dropped by invalidation events.",
			},
		),
	}
}

// Init swaps in a fresh instrument set registered on reg. With enabled=false
// the instruments still work but are not exported.
func Init(reg prometheus.Registerer, enabled bool) {
	s := newSet()
	if enabled && reg != nil {
		for _, c := range []prometheus.Collector{
			s.httpRequests, s.httpDuration, s.upstream, s.buildInfo, s.runs, s.stage,
			s.scenes, s.pairs, s.resultCache, s.cacheOps, s.invalidatedAt, s.invalidatedKey,
		} {
			if err := reg.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					panic(err)
				}
			}
		}
	}
	cur.Store(s)
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	s := cur.Load()
	st := strconv.Itoa(status)
	s.httpRequests.WithLabelValues(method, route, st).Inc()
	s.httpDuration.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	cur.Load().upstream.WithLabelValues(upstream).Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	cur.Load().buildInfo.WithLabelValues(version).Set(1)
}

func IncRun(outcome string) {
	cur.Load().runs.WithLabelValues(outcome).Inc()
}

func ObserveStage(stage string, durationSeconds float64) {
	cur.Load().stage.WithLabelValues(stage).Observe(durationSeconds)
}

func AddScenes(outcome string, n int) {
	if n <= 0 {
		return
	}
	cur.Load().scenes.WithLabelValues(outcome).Add(float64(n))
}

func IncTrendPair(season, outcome string) {
	cur.Load().pairs.WithLabelValues(season, outcome).Inc()
}

func IncResultCache(tier string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cur.Load().resultCache.WithLabelValues(tier, outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cur.Load().cacheOps.WithLabelValues(op, result).Observe(durationSeconds)
}

func SetCollectionInvalidatedAt(collection string, unix int64) {
	if collection == "" {
		collection = "unknown"
	}
	cur.Load().invalidatedAt.WithLabelValues(collection).Set(float64(unix))
}

func AddInvalidatedKeys(n int) {
	if n <= 0 {
		return
	}
	cur.Load().invalidatedKey.Add(float64(n))
}
