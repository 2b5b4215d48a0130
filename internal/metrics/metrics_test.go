package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorSummary(t *testing.T) {
	c := NewCollector()
	for i := 1; i <= 100; i++ {
		c.RecordMetric(NLQLatencyMS, float64(i))
	}

	s, ok := c.Summary(NLQLatencyMS)
	if !ok {
		t.Fatal("expected summary")
	}
	want := Summary{Count: 100, Min: 1, Max: 100, Avg: 50.5, P50: 50, P95: 95, P99: 99}
	if s != want {
		t.Fatalf("summary = %+v, want %+v", s, want)
	}

	if _, ok := c.Summary("unknown"); ok {
		t.Fatal("unknown metric should have no summary")
	}
}

func TestCollectorBounds(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCollector()
	c.maxValues = 3
	c.now = func() time.Time { return now }

	c.RecordMetric("x", 100)
	now = now.Add(2 * time.Hour)
	for _, v := range []float64{1, 2, 3, 4} {
		c.RecordMetric("x", v)
	}

	s, _ := c.Summary("x")
	if s.Count != 3 || s.Min != 2 || s.Max != 4 {
		t.Fatalf("summary = %+v", s)
	}

	now = now.Add(2 * time.Hour)
	if summaries := c.Summaries(); len(summaries) != 0 {
		t.Fatalf("expired samples reported: %+v", summaries)
	}
}

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()
	c.IncrementCounter(NLQFallbacks)
	c.IncrementCounter(NLQFallbacks)
	c.Add(NLQTimeouts, 3)

	if got := c.Counter(NLQFallbacks); got != 2 {
		t.Fatalf("fallbacks = %v", got)
	}
	if got := c.Counters()[NLQTimeouts]; got != 3 {
		t.Fatalf("timeouts = %v", got)
	}

	c.Reset()
	if len(c.Counters()) != 0 {
		t.Fatal("reset should clear counters")
	}
}

type panickySink struct{}

func (panickySink) RecordMetric(string, float64) { panic("backend down") }
func (panickySink) IncrementCounter(string)      { panic("backend down") }

func TestTeeAndSafe(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	sink := Tee(a, Safe(panickySink{}, nil), b)

	sink.IncrementCounter(NLQCacheHits)
	sink.RecordMetric(NLQConfidence, 0.9)

	for _, c := range []*Collector{a, b} {
		if c.Counter(NLQCacheHits) != 1 {
			t.Fatal("counter not fanned out")
		}
		if s, ok := c.Summary(NLQConfidence); !ok || s.Max != 0.9 {
			t.Fatal("metric not fanned out")
		}
	}
}

func TestPrometheusSink(t *testing.T) {
	before := testutil.ToFloat64(Events.WithLabelValues(NLQFallbacks))

	var sink PrometheusSink
	sink.IncrementCounter(NLQFallbacks)
	sink.IncrementCounter(NLQFallbacks)

	if got := testutil.ToFloat64(Events.WithLabelValues(NLQFallbacks)) - before; got != 2 {
		t.Fatalf("events delta = %v, want 2", got)
	}

	sink.RecordMetric("custom_metric", 12)
	if got := testutil.CollectAndCount(Observations); got < 1 {
		t.Fatalf("observations = %d", got)
	}
}
