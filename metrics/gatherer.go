// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"sort"
	"strings"

	gethmetrics "github.com/ethereum/go-ethereum/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// gethGatherer implements prometheus.Gatherer over a go-ethereum/metrics
// registry, the one txpool registers its pending/replaced/rejected
// counters into directly (package txpool has no Prometheus dependency of
// its own), so promhttp can serve both registries at the one /metrics
// endpoint. Grounded on the teacher's metrics/prometheus/prometheus.go
// Gatherer; adapted from the teacher's concrete *metrics.Counter/*metrics.Gauge
// struct types to the interface-based Gauge/Counter/Meter this module's
// pinned go-ethereum version exposes.
type gethGatherer struct {
	registry gethmetrics.Registry
}

var _ prometheus.Gatherer = (*gethGatherer)(nil)

// NewGethGatherer wraps registry as a prometheus.Gatherer.
func NewGethGatherer(registry gethmetrics.Registry) prometheus.Gatherer {
	return &gethGatherer{registry: registry}
}

func (g *gethGatherer) Gather() ([]*dto.MetricFamily, error) {
	var names []string
	g.registry.Each(func(name string, _ interface{}) {
		names = append(names, name)
	})
	sort.Strings(names)

	mfs := make([]*dto.MetricFamily, 0, len(names))
	for _, name := range names {
		if mf := gethMetricFamily(name, g.registry.Get(name)); mf != nil {
			mfs = append(mfs, mf)
		}
	}
	return mfs, nil
}

func gethMetricFamily(name string, metric interface{}) *dto.MetricFamily {
	fqName := "kestrel_geth_" + strings.ReplaceAll(name, "/", "_")
	switch m := metric.(type) {
	case gethmetrics.Gauge:
		return &dto.MetricFamily{
			Name: ptrTo(fqName),
			Type: dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{
				Gauge: &dto.Gauge{Value: ptrTo(float64(m.Snapshot().Value()))},
			}},
		}
	case gethmetrics.GaugeFloat64:
		return &dto.MetricFamily{
			Name: ptrTo(fqName),
			Type: dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{
				Gauge: &dto.Gauge{Value: ptrTo(m.Snapshot().Value())},
			}},
		}
	case gethmetrics.Counter:
		return &dto.MetricFamily{
			Name: ptrTo(fqName),
			Type: dto.MetricType_COUNTER.Enum(),
			Metric: []*dto.Metric{{
				Counter: &dto.Counter{Value: ptrTo(float64(m.Snapshot().Count()))},
			}},
		}
	case gethmetrics.Meter:
		snap := m.Snapshot()
		return &dto.MetricFamily{
			Name: ptrTo(fqName),
			Type: dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{
				Gauge: &dto.Gauge{Value: ptrTo(float64(snap.Count()))},
			}},
		}
	default:
		// Histograms, timers and healthchecks aren't used by anything this
		// module registers today; skipped rather than guessed at, same as
		// the teacher's Gatherer skips types it has no mapping for.
		return nil
	}
}

func ptrTo[T any](v T) *T { return &v }
