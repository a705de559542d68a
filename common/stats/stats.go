// Package stats provides a minimal scoped metrics interface backed by
// go-metrics, so callers don't depend on the registry implementation
// directly. A StatsReceiver can be passed down a call tree and scoped at
// each level:
//
//	stat.Scope("scheduler").Counter("deploysCounter").Inc(1)
//
// Hierarchical names are joined with '/'.
package stats

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
)

type StatsReceiver interface {
	// Returns a stats receiver that will automatically namespace elements
	// with the given scope args.
	Scope(scope ...string) StatsReceiver

	Counter(name ...string) metrics.Counter
	Gauge(name ...string) metrics.Gauge
	Latency(name ...string) *Latency

	// Renders the current value of every instrument as JSON.
	Render(pretty bool) []byte
}

// DefaultStatsReceiver returns a receiver backed by a fresh registry.
func DefaultStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{registry: metrics.NewRegistry()}
}

// NilStatsReceiver discards everything, for tests and optional stats.
func NilStatsReceiver() StatsReceiver {
	return &nilStatsReceiver{}
}

type defaultStatsReceiver struct {
	registry metrics.Registry
	scope    []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{registry: s.registry, scope: append(append([]string{}, s.scope...), scope...)}
}

func (s *defaultStatsReceiver) Counter(name ...string) metrics.Counter {
	return s.registry.GetOrRegister(s.scoped(name), metrics.NewCounter).(metrics.Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) metrics.Gauge {
	return s.registry.GetOrRegister(s.scoped(name), metrics.NewGauge).(metrics.Gauge)
}

func (s *defaultStatsReceiver) Latency(name ...string) *Latency {
	h := s.registry.GetOrRegister(s.scoped(name), func() metrics.Histogram {
		return metrics.NewHistogram(metrics.NewExpDecaySample(1028, 0.015))
	}).(metrics.Histogram)
	return &Latency{hist: h}
}

func (s *defaultStatsReceiver) Render(pretty bool) []byte {
	out := map[string]interface{}{}
	s.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			out[name] = m.Count()
		case metrics.Gauge:
			out[name] = m.Value()
		case metrics.Histogram:
			h := m.Snapshot()
			out[name] = map[string]interface{}{
				"count":  h.Count(),
				"avg_ms": h.Mean(),
				"max_ms": h.Max(),
				"p95_ms": h.Percentile(0.95),
			}
		}
	})
	var b []byte
	if pretty {
		b, _ = json.MarshalIndent(out, "", "  ")
	} else {
		b, _ = json.Marshal(out)
	}
	return b
}

func (s *defaultStatsReceiver) scoped(name []string) string {
	elems := append(append([]string{}, s.scope...), name...)
	for i, e := range elems {
		elems[i] = strings.Replace(e, "/", "_SLASH_", -1)
	}
	return strings.Join(elems, "/")
}

// Latency records callsite latency into a histogram of milliseconds.
//
//	defer stat.Latency("deployLatency_ms").Time().Stop()
type Latency struct {
	hist metrics.Histogram
}

func (l *Latency) Time() *StopWatch {
	return &StopWatch{hist: l.hist, start: time.Now()}
}

type StopWatch struct {
	hist  metrics.Histogram
	start time.Time
}

func (s *StopWatch) Stop() {
	if s.hist != nil {
		s.hist.Update(int64(time.Since(s.start) / time.Millisecond))
	}
}

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver        { return s }
func (s *nilStatsReceiver) Counter(name ...string) metrics.Counter    { return metrics.NilCounter{} }
func (s *nilStatsReceiver) Gauge(name ...string) metrics.Gauge        { return metrics.NilGauge{} }
func (s *nilStatsReceiver) Latency(name ...string) *Latency           { return &Latency{} }
func (s *nilStatsReceiver) Render(pretty bool) []byte                 { return []byte("{}") }
