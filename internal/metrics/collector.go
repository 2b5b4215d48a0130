package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	DefaultMaxValues = 1000
	DefaultMaxAge    = time.Hour
)

type Summary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

type sample struct {
	value float64
	at    time.Time
}

// Collector keeps a bounded, recent window of values per metric for the
// JSON metrics endpoint.
type Collector struct {
	maxValues int
	maxAge    time.Duration
	now       func() time.Time

	mu       sync.Mutex
	samples  map[string][]sample
	counters map[string]float64
}

func NewCollector() *Collector {
	return &Collector{
		maxValues: DefaultMaxValues,
		maxAge:    DefaultMaxAge,
		now:       time.Now,
		samples:   make(map[string][]sample),
		counters:  make(map[string]float64),
	}
}

func (c *Collector) RecordMetric(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples[name] = c.trim(append(c.samples[name], sample{value: value, at: c.now()}))
}

func (c *Collector) IncrementCounter(name string) {
	c.Add(name, 1)
}

func (c *Collector) Add(name string, delta float64) {
	c.mu.Lock()
	c.counters[name] += delta
	c.mu.Unlock()
}

func (c *Collector) Counter(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

func (c *Collector) Counters() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]float64, len(c.counters))
	for k, v := range c.counters {
		out[k] = v
	}
	return out
}

func (c *Collector) Summary(name string) (Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summaryLocked(name)
}

func (c *Collector) Summaries() map[string]Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Summary, len(c.samples))
	for name := range c.samples {
		if s, ok := c.summaryLocked(name); ok {
			out[name] = s
		}
	}
	return out
}

func (c *Collector) Reset() {
	c.mu.Lock()
	c.samples = make(map[string][]sample)
	c.counters = make(map[string]float64)
	c.mu.Unlock()
}

func (c *Collector) summaryLocked(name string) (Summary, bool) {
	kept := c.trim(c.samples[name])
	c.samples[name] = kept
	if len(kept) == 0 {
		return Summary{}, false
	}

	sorted := make([]float64, len(kept))
	var sum float64
	for i, s := range kept {
		sorted[i] = s.value
		sum += s.value
	}
	sort.Float64s(sorted)

	return Summary{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Avg:   math.Round(sum/float64(len(sorted))*100) / 100,
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
	}, true
}

// trim drops samples older than maxAge, then the oldest beyond maxValues.
func (c *Collector) trim(samples []sample) []sample {
	cutoff := c.now().Add(-c.maxAge)
	start := 0
	for start < len(samples) && samples[start].at.Before(cutoff) {
		start++
	}
	if n := len(samples) - start; n > c.maxValues {
		start += n - c.maxValues
	}
	if start == 0 {
		return samples
	}
	return append([]sample(nil), samples[start:]...)
}

// nearest-rank
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
