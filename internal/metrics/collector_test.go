package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mxverify/mxverify/internal/probe"
)

func TestProbeCompletedFoldsOutcomeSignals(t *testing.T) {
	c := newCollector(prometheus.NewRegistry())

	c.ProbeCompleted("yahoo", probe.StatusValid,
		&probe.Outcome{HostExists: true, Deliverable: true}, 120*time.Millisecond)
	c.ProbeCompleted("yahoo", probe.StatusUnknown,
		&probe.Outcome{HostExists: true, Greylisted: true, RequiresRecheck: true}, 80*time.Millisecond)
	c.ProbeCompleted("outlook", probe.StatusInvalid,
		&probe.Outcome{HostExists: true, Disabled: true}, 50*time.Millisecond)

	if got := testutil.ToFloat64(c.probesTotal.With(prometheus.Labels{
		"organization": "yahoo", "status": "valid",
	})); got != 1 {
		t.Errorf("probes{yahoo,valid} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.greylistsTotal.With(prometheus.Labels{
		"organization": "yahoo",
	})); got != 1 {
		t.Errorf("greylists{yahoo} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.blacklistsTotal.With(prometheus.Labels{
		"organization": "outlook",
	})); got != 1 {
		t.Errorf("blacklists{outlook} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.probeDuration); got != 2 {
		t.Errorf("probe duration series = %d, want 2 organizations", got)
	}
}

func TestProbeCompletedNilOutcome(t *testing.T) {
	c := newCollector(prometheus.NewRegistry())

	c.ProbeCompleted("unknown", probe.StatusUnknown, nil, 10*time.Millisecond)

	if got := testutil.ToFloat64(c.probesTotal.With(prometheus.Labels{
		"organization": "unknown", "status": "unknown",
	})); got != 1 {
		t.Errorf("probes{unknown,unknown} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.greylistsTotal); got != 0 {
		t.Errorf("greylist series = %d, want none", got)
	}
}

func TestMXResolved(t *testing.T) {
	c := newCollector(prometheus.NewRegistry())

	c.MXResolved("resolved")
	c.MXResolved("resolved")
	c.MXResolved("no_mx")

	if got := testutil.ToFloat64(c.mxResolutionTotal.With(prometheus.Labels{
		"outcome": "resolved",
	})); got != 2 {
		t.Errorf("mx resolutions{resolved} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.mxResolutionTotal.With(prometheus.Labels{
		"outcome": "no_mx",
	})); got != 1 {
		t.Errorf("mx resolutions{no_mx} = %v, want 1", got)
	}
}
