// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"net/http"

	gethmetrics "github.com/ethereum/go-ethereum/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves this process's registered Prometheus collectors plus a
// bridged view of go-ethereum/metrics' own default registry, in the text
// exposition format, for an operator to scrape.
func Handler() http.Handler {
	gatherers := prometheus.Gatherers{
		prometheus.DefaultGatherer,
		NewGethGatherer(gethmetrics.DefaultRegistry),
	}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}
