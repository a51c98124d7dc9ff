package readcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "inkwell_readcache_hits",
	Help: "Number of read cache hits",
})

var cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "inkwell_readcache_misses",
	Help: "Number of read cache misses (including degraded reads)",
})

var readFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "inkwell_readcache_read_failures",
	Help: "Number of cache reads that failed for a reason other than a miss",
})

var degradedInvalidations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "inkwell_readcache_degraded_invalidations",
	Help: "Number of cache invalidations that failed, leaving entries to expire by TTL",
})
