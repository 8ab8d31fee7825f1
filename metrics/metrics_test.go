// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerServesRegisteredCollectors(t *testing.T) {
	CandidateDepth.Set(7)
	ChainHeight.Set(42)
	RejectedTotal.WithLabelValues("chain: vrf proof invalid").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "kestrel_chain_candidate_buffer_depth 7")
	require.Contains(t, body, "kestrel_chain_height 42")
	require.Contains(t, body, `kestrel_chain_candidates_rejected_total{reason="chain: vrf proof invalid"}`)
}

func TestReorgDepthHistogramAcceptsObservations(t *testing.T) {
	ReorgDepth.Observe(1)
	ReorgDepth.Observe(3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.True(t, strings.Contains(rec.Body.String(), "kestrel_chain_reorg_depth_blocks"))
}
