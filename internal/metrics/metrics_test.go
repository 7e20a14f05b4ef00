package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"portcall/internal/metrics"
)

func TestCountersByOutcome(t *testing.T) {
	m := metrics.New()
	m.Command("plan.revise", nil)
	m.Command("plan.revise", errors.New("boom"))
	m.Revision("blocked")
	m.Conflict("CRANE_OVERLAP", "blocking")
	m.Mirrored(2)
	m.SetMirrorLag(7)
	m.ObserveHTTP("GET", "/v0/plans/{plan_id}", "200", 15*time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.Revisions.WithLabelValues("blocked")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Conflicts.WithLabelValues("CRANE_OVERLAP", "blocking")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.MirrorApplied))
	require.Equal(t, 7.0, testutil.ToFloat64(m.MirrorLag))
	require.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/v0/plans/{plan_id}", "200")))
	require.Equal(t, 2, testutil.CollectAndCount(m.Commands))
}

func TestNilMetricsAreIgnored(t *testing.T) {
	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.Command("x", nil)
		m.Revision("accepted")
		m.Mirrored(1)
		m.ObserveHTTP("GET", "/", "200", time.Second)
	})
}

func TestInstancesDoNotShareRegistry(t *testing.T) {
	a, b := metrics.New(), metrics.New()
	a.Revision("accepted")
	require.Zero(t, testutil.ToFloat64(b.Revisions.WithLabelValues("accepted")))
}
