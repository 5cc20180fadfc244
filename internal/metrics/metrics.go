// Package metrics exposes the counters spec.md §3 calls out by name
// ("Helper pool. Plus counters (requests, replies, queue depth, average
// service time)") as Prometheus collectors, grounded on nabbar-golib's
// prometheus integration (its go.mod pulls in
// github.com/prometheus/client_golang, used across its httpserver/
// and monitor/ packages for exactly this kind of counters-behind-a-struct
// pattern).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector proxycore registers, so a caller can
// either wire it into a *prometheus.Registry of their own or use the
// package-level default via NewDefault.
type Registry struct {
	HelperRequests    *prometheus.CounterVec
	HelperReplies     *prometheus.CounterVec
	HelperTimeouts    *prometheus.CounterVec
	HelperQueueDepth  *prometheus.GaugeVec
	HelperServiceTime *prometheus.HistogramVec

	ConnectionsOpen   prometheus.Gauge
	ConnectionsClosed prometheus.Counter
	PipelineDepth     prometheus.Histogram

	ACLCacheHits   prometheus.Counter
	ACLCacheMisses prometheus.Counter
	ACLAsyncWaits  *prometheus.CounterVec // by term kind
}

// New builds a Registry and registers every collector against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		HelperRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxycore", Subsystem: "helper", Name: "requests_total",
			Help: "Total requests submitted to a helper pool.",
		}, []string{"pool"}),
		HelperReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxycore", Subsystem: "helper", Name: "replies_total",
			Help: "Total replies received from a helper pool, by result kind.",
		}, []string{"pool", "result"}),
		HelperTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxycore", Subsystem: "helper", Name: "timeouts_total",
			Help: "Total requests that timed out waiting on a helper pool.",
		}, []string{"pool"}),
		HelperQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "proxycore", Subsystem: "helper", Name: "queue_depth",
			Help: "Current undispatched request count per helper pool.",
		}, []string{"pool"}),
		HelperServiceTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "proxycore", Subsystem: "helper", Name: "service_time_seconds",
			Help:    "Helper request service time from submit to reply.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pool"}),
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "proxycore", Subsystem: "conn", Name: "open",
			Help: "Currently open client connections.",
		}),
		ConnectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "proxycore", Subsystem: "conn", Name: "closed_total",
			Help: "Total client connections closed.",
		}),
		PipelineDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "proxycore", Subsystem: "conn", Name: "pipeline_depth",
			Help:    "Observed pipeline depth at request-context creation.",
			Buckets: []float64{0, 1, 2, 3, 4, 6, 8},
		}),
		ACLCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "proxycore", Subsystem: "acl", Name: "user_cache_hits_total",
			Help: "proxy_match_cache hits avoiding a re-evaluation.",
		}),
		ACLCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "proxycore", Subsystem: "acl", Name: "user_cache_misses_total",
			Help: "proxy_match_cache misses requiring re-evaluation.",
		}),
		ACLAsyncWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxycore", Subsystem: "acl", Name: "async_waits_total",
			Help: "ACL checklist suspensions, by term kind.",
		}, []string{"term"}),
	}

	for _, c := range []prometheus.Collector{
		m.HelperRequests, m.HelperReplies, m.HelperTimeouts, m.HelperQueueDepth, m.HelperServiceTime,
		m.ConnectionsOpen, m.ConnectionsClosed, m.PipelineDepth,
		m.ACLCacheHits, m.ACLCacheMisses, m.ACLAsyncWaits,
	} {
		reg.MustRegister(c)
	}
	return m
}

// NewDefault registers against prometheus.DefaultRegisterer.
func NewDefault() *Registry { return New(prometheus.DefaultRegisterer) }
