// Package metrics exposes the farm's prometheus collectors. Counters are
// registered on the default registry and served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FlagsIngested counts rows actually inserted by the ingest API,
	// after normalization and deduplication.
	FlagsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "farm",
		Name:      "flags_ingested_total",
		Help:      "Flags accepted and stored by the ingest API.",
	})

	// FlagsDropped counts ingest entries discarded during normalization
	// (bad shape, format mismatch, expired on arrival).
	FlagsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "farm",
		Name:      "flags_dropped_total",
		Help:      "Ingest entries dropped during normalization.",
	})

	// FlagsExpired counts PENDING flags aged out by the expiry sweep.
	FlagsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "farm",
		Name:      "flags_expired_total",
		Help:      "Flags expired before a verdict arrived.",
	})

	// Verdicts counts game-system verdicts by outcome
	// (accepted/rejected/unknown).
	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farm",
		Name:      "verdicts_total",
		Help:      "Game-system verdicts recorded, by outcome.",
	}, []string{"outcome"})

	// SubmitBatchSize observes the size of each batch handed to the
	// game system.
	SubmitBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "farm",
		Name:      "submit_batch_size",
		Help:      "Flags per submission batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
	})

	// SubmitErrors counts failed submission attempts (network, timeout,
	// malformed response).
	SubmitErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "farm",
		Name:      "submit_errors_total",
		Help:      "Submission attempts that returned no verdicts.",
	})
)
