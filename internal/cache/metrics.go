package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	groupCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drawabledb_group_cache_hits_total",
		Help: "Group-existence cache hits that skipped a shared-store upsert.",
	})
	groupCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drawabledb_group_cache_misses_total",
		Help: "Group-existence cache misses that reached the shared store.",
	})
	seenCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drawabledb_seen_cache_hits_total",
		Help: "Seen-state cache hits.",
	})
	seenCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drawabledb_seen_cache_misses_total",
		Help: "Seen-state cache misses resolved against the shared store.",
	})
	videoCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drawabledb_video_cache_hits_total",
		Help: "Video-classification cache hits.",
	})
	videoCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drawabledb_video_cache_misses_total",
		Help: "Video classifications computed and memoized.",
	})
	metaCacheSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drawabledb_meta_cache_skipped_lookups_total",
		Help: "Shared-store lookups skipped because a loaded presence cache ruled the id out.",
	})
)
