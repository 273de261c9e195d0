package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogcore_cache_hits_total",
		Help: "Cache hits per tier",
	}, []string{"tier"})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogcore_cache_misses_total",
		Help: "Cache misses across all tiers",
	})
	cacheFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogcore_cache_fallbacks_total",
		Help: "Operations that fell back to the local tier",
	})
	localEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogcore_cache_local_evictions_total",
		Help: "Entries evicted from the local tier",
	})
	lockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogcore_lock_contention_total",
		Help: "Failed lock acquisition attempts",
	})
	loaderCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogcore_cache_loader_calls_total",
		Help: "Invocations of the source-of-truth loader",
	})
	outboxSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogcore_outbox_sent_total",
		Help: "Outbox records delivered to the broker",
	})
	outboxDeadLetter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogcore_outbox_dead_letter_total",
		Help: "Outbox records that exhausted their retry budget",
	})
	outboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blogcore_outbox_pending",
		Help: "Outbox records awaiting delivery",
	})
	idempotencyDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogcore_idempotency_duplicates_total",
		Help: "Messages rejected as already processed",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordCacheHit(tier string) { cacheHits.WithLabelValues(tier).Inc() }
func RecordCacheMiss()           { cacheMisses.Inc() }
func RecordCacheFallback()       { cacheFallbacks.Inc() }
func RecordLocalEviction()       { localEvictions.Inc() }
func RecordLockContention()      { lockContention.Inc() }
func RecordLoaderCall()          { loaderCalls.Inc() }
func RecordOutboxSent()          { outboxSent.Inc() }
func RecordOutboxDeadLetter()    { outboxDeadLetter.Inc() }
func SetOutboxPending(n float64) { outboxPending.Set(n) }
func RecordDuplicateMessage()    { idempotencyDuplicates.Inc() }
