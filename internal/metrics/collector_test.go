package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDeliveriesShareOneFamily(t *testing.T) {
	sent := testutil.ToFloat64(DeliveriesSent)
	failed := testutil.ToFloat64(DeliveriesFail)

	DeliveriesSent.Inc()
	DeliveriesSent.Inc()
	DeliveriesFail.Inc()

	if got := testutil.ToFloat64(DeliveriesSent) - sent; got != 2 {
		t.Errorf("sent delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(DeliveriesFail) - failed; got != 1 {
		t.Errorf("failed delta = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(deliveries, "schoolcomm_deliveries_total"); n != 2 {
		t.Errorf("expected 2 outcome series, got %d", n)
	}
}

func TestMessagesByIntentLabels(t *testing.T) {
	c := MessagesByIntent.WithLabelValues("attendance")
	before := testutil.ToFloat64(c)
	MessagesByIntent.WithLabelValues("attendance").Inc()
	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("attendance delta = %v, want 1", got)
	}
}

func TestSendLatencyObserved(t *testing.T) {
	SendLatency.WithLabelValues("log").Observe(0.07)

	const want = `
# HELP schoolcomm_send_latency_seconds Transport send latency per attempt.
# TYPE schoolcomm_send_latency_seconds histogram
`
	err := testutil.GatherAndCompare(Registry, strings.NewReader(want+latencyBody()), "schoolcomm_send_latency_seconds")
	if err != nil {
		t.Fatal(err)
	}
}

// latencyBody renders the expected series for a single 0.07s observation on
// the "log" transport.
func latencyBody() string {
	var b strings.Builder
	for _, le := range []string{"0.05", "0.1", "0.25", "0.5", "1", "2", "5", "10", "+Inf"} {
		n := "1"
		if le == "0.05" {
			n = "0"
		}
		b.WriteString(`schoolcomm_send_latency_seconds_bucket{transport="log",le="` + le + `"} ` + n + "\n")
	}
	b.WriteString(`schoolcomm_send_latency_seconds_sum{transport="log"} 0.07` + "\n")
	b.WriteString(`schoolcomm_send_latency_seconds_count{transport="log"} 1` + "\n")
	return b.String()
}

func TestRegistryGathersRuntimeCollectors(t *testing.T) {
	families, err := Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, mf := range families {
		if mf.GetName() == "go_goroutines" {
			found = true
		}
	}
	if !found {
		t.Error("go collector not registered")
	}
}
