// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics holds the process-wide Prometheus collectors for the
// parts of the system that go-ethereum/metrics (wired directly into
// txpool's own counters) doesn't cover: fork-choice and chain-buffer
// health, which benefit from the richer histogram/bucket support a
// dedicated Prometheus registry gives the operator's dashboards.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CandidateDepth tracks how many block candidates are currently
	// buffered, across every validation status.
	CandidateDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kestrel",
		Subsystem: "chain",
		Name:      "candidate_buffer_depth",
		Help:      "Number of block candidates currently held in the buffer.",
	})

	// ChainHeight tracks the current canonical chain height.
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kestrel",
		Subsystem: "chain",
		Name:      "height",
		Help:      "Height of the current canonical chain tip.",
	})

	// ReorgDepth records how many blocks were replayed for each accepted
	// chain reorganization, including the trivial depth-1 "extend the tip"
	// case.
	ReorgDepth = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Subsystem: "chain",
		Name:      "reorg_depth_blocks",
		Help:      "Number of blocks replayed to apply an accepted candidate chain.",
		Buckets:   prometheus.LinearBuckets(1, 1, 8),
	})

	// RejectedTotal counts candidates rejected at any stage of the
	// validation pipeline, labeled by the reason they failed.
	RejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Subsystem: "chain",
		Name:      "candidates_rejected_total",
		Help:      "Block candidates rejected, labeled by rejection reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(CandidateDepth, ChainHeight, ReorgDepth, RejectedTotal)
}
