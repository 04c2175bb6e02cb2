// Package metrics registers the pipeline's Prometheus collectors, the
// ambient observability layer the teacher's HTTP API lacks but the rest of
// the example pack (etalazz-vsa, rockstar-0000-aistore) reaches for via
// github.com/prometheus/client_golang.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plcmirror",
		Name:      "pages_fetched_total",
		Help:      "Export pages fetched, by source.",
	}, []string{"source"})

	OpsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plcmirror",
		Name:      "ops_ingested_total",
		Help:      "Operations written to the store, by mode.",
	}, []string{"mode"})

	OpsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "plcmirror",
		Name:      "ops_deduplicated_total",
		Help:      "Operations dropped by the poller's boundary-dedup filter.",
	})

	BackfillBytesDecompressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "plcmirror",
		Name:      "backfill_bytes_decompressed_total",
		Help:      "Bytes read out of weekly bundle gzip streams.",
	})

	BulkLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "plcmirror",
		Name:      "bulk_load_duration_seconds",
		Help:      "Wall-clock duration of the backfill COPY transaction.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)
