// Package metrics keeps per operation response time distributions.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// DefaultObjectives are the quantiles every timer tracks.
var DefaultObjectives = map[float64]float64{
	0.5:  0.05,
	0.75: 0.02,
	0.9:  0.01,
	0.95: 0.005,
	0.99: 0.001,
}

// Timers is a set of response time summaries keyed by operation name.
type Timers struct {
	mu         sync.RWMutex
	cfg        timerConfig
	vec        *prometheus.SummaryVec
	registerer prometheus.Registerer
	// extra holds in process summaries for quantiles tracked after construction,
	// tracked maps every exactly tracked quantile to its summary.
	extra   []*prometheus.SummaryVec
	tracked map[float64]*prometheus.SummaryVec
}

// Option configures Timers.
type Option func(*timerConfig)

type timerConfig struct {
	namespace  string
	objectives map[float64]float64
	maxAge     time.Duration
	registerer prometheus.Registerer
}

// WithNamespace sets the metric namespace.
func WithNamespace(namespace string) Option {
	return func(c *timerConfig) {
		c.namespace = namespace
	}
}

// WithObjectives adds quantiles to track, e.g. the percentiles used by the
// exclusion rules. Values map a quantile to its allowed absolute error.
func WithObjectives(objectives map[float64]float64) Option {
	return func(c *timerConfig) {
		for q, e := range objectives {
			c.objectives[q] = e
		}
	}
}

// WithMaxAge sets how long an observation stays in the distribution.
func WithMaxAge(maxAge time.Duration) Option {
	return func(c *timerConfig) {
		c.maxAge = maxAge
	}
}

// WithRegisterer registers the summaries, typically with the registry served on
// /metrics. Without it the summaries are only used in process.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *timerConfig) {
		c.registerer = r
	}
}

// NewTimers returns an empty set of timers.
func NewTimers(opts ...Option) (*Timers, error) {
	cfg := &timerConfig{
		namespace:  "apm",
		objectives: map[float64]float64{},
		maxAge:     prometheus.DefMaxAge,
	}
	for q, e := range DefaultObjectives {
		cfg.objectives[q] = e
	}
	for _, opt := range opts {
		opt(cfg)
	}

	vec := newSummaryVec(cfg, cfg.objectives)
	if cfg.registerer != nil {
		if err := cfg.registerer.Register(vec); err != nil {
			return nil, err
		}
	}

	t := &Timers{cfg: *cfg, vec: vec, registerer: cfg.registerer, tracked: map[float64]*prometheus.SummaryVec{}}
	for q := range cfg.objectives {
		t.tracked[q] = vec
	}
	return t, nil
}

func newSummaryVec(cfg *timerConfig, objectives map[float64]float64) *prometheus.SummaryVec {
	return prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:  cfg.namespace,
		Name:       "response_time_seconds",
		Help:       "Response time of monitored operations.",
		Objectives: objectives,
		MaxAge:     cfg.maxAge,
	}, []string{"operation"})
}

// TrackQuantiles starts tracking the given quantiles exactly. Values outside
// (0, 1) and quantiles already tracked are ignored. Summaries for new
// quantiles are kept in process and start empty; until they hold observations
// Percentile interpolates between the quantiles tracked before.
func (t *Timers) TrackQuantiles(quantiles ...float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	objectives := map[float64]float64{}
	for _, q := range quantiles {
		if q <= 0 || q >= 1 || t.tracked[q] != nil {
			continue
		}
		objectives[q] = math.Min(q, 1-q) / 10
	}
	if len(objectives) == 0 {
		return
	}
	vec := newSummaryVec(&t.cfg, objectives)
	t.extra = append(t.extra, vec)
	for q := range objectives {
		t.tracked[q] = vec
	}
}

// Observe records one execution of operation.
func (t *Timers) Observe(operation string, d time.Duration) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.vec.WithLabelValues(operation).Observe(d.Seconds())
	for _, vec := range t.extra {
		vec.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// Percentile returns the p quantile (0..1) of operation's recorded durations.
// A quantile that is not tracked is interpolated linearly between the closest
// tracked ones around it. ok is false while nothing has been recorded, or
// when p lies outside the tracked range.
func (t *Timers) Percentile(operation string, p float64) (d time.Duration, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if count, _ := readSummary(t.vec, operation); count == 0 {
		return 0, false
	}
	if vec, tracked := t.tracked[p]; tracked {
		if _, values := readSummary(vec, operation); hasValue(values, p) {
			return seconds(values[p]), true
		}
	}

	points := map[float64]float64{}
	for _, vec := range append([]*prometheus.SummaryVec{t.vec}, t.extra...) {
		_, values := readSummary(vec, operation)
		for q, v := range values {
			if !math.IsNaN(v) {
				points[q] = v
			}
		}
	}
	v, ok := interpolate(points, p)
	if !ok {
		return 0, false
	}
	return seconds(v), true
}

func hasValue(values map[float64]float64, q float64) bool {
	v, ok := values[q]
	return ok && !math.IsNaN(v)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// interpolate reads the value at p from (quantile, value) points.
func interpolate(points map[float64]float64, p float64) (float64, bool) {
	if v, ok := points[p]; ok {
		return v, true
	}
	quantiles := make([]float64, 0, len(points))
	for q := range points {
		quantiles = append(quantiles, q)
	}
	sort.Float64s(quantiles)
	i := sort.SearchFloat64s(quantiles, p)
	if i == 0 || i == len(quantiles) {
		return 0, false
	}
	lo, hi := quantiles[i-1], quantiles[i]
	return points[lo] + (points[hi]-points[lo])*(p-lo)/(hi-lo), true
}

// readSummary returns the sample count and quantile values of operation in vec.
func readSummary(vec *prometheus.SummaryVec, operation string) (uint64, map[float64]float64) {
	observer, err := vec.GetMetricWithLabelValues(operation)
	if err != nil {
		return 0, nil
	}
	metric, ok := observer.(prometheus.Metric)
	if !ok {
		return 0, nil
	}
	m := &dto.Metric{}
	if err := metric.Write(m); err != nil {
		return 0, nil
	}
	summary := m.GetSummary()
	values := make(map[float64]float64, len(summary.GetQuantile()))
	for _, q := range summary.GetQuantile() {
		values[q.GetQuantile()] = q.GetValue()
	}
	return summary.GetSampleCount(), values
}

// Count returns how many durations were recorded for operation.
func (t *Timers) Count(operation string) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count, _ := readSummary(t.vec, operation)
	return count
}

// Unregister removes the summaries from the registerer they were added to.
func (t *Timers) Unregister() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.registerer != nil {
		t.registerer.Unregister(t.vec)
	}
}
