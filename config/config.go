package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// UnlimitedPerMinute disables a rate limit.
const UnlimitedPerMinute = 1_000_000

// Config is the sampling and reporting configuration. Percentages are 0..100,
// percentiles are fractions in 0..1.
type Config struct {
	// DefaultRateLimitSpansPerMinute limits reported spans of operation types
	// without an explicit entry in RateLimitSpansPerMinutePerType.
	DefaultRateLimitSpansPerMinute float64            `yaml:"defaultRateLimitSpansPerMinute"`
	RateLimitSpansPerMinutePerType map[string]float64 `yaml:"rateLimitSpansPerMinutePerType"`

	// DefaultSamplePercentage applies to root spans without a per type entry.
	DefaultSamplePercentage float64            `yaml:"defaultSamplePercentage"`
	SamplePercentagePerType map[string]float64 `yaml:"samplePercentagePerType"`

	// OnlyReportSpansWithName, when not empty, drops spans whose final name is
	// not in the list.
	OnlyReportSpansWithName []string `yaml:"onlyReportSpansWithName"`

	ExcludeExternalRequestsFasterThanMs           float64 `yaml:"excludeExternalRequestsFasterThanMs"`
	ExcludeExternalRequestsWhenFasterThanXPercent float64 `yaml:"excludeExternalRequestsWhenFasterThanXPercent"`

	ExcludeCallTreeFromReportWhenFasterThanXPercentOfRequests float64 `yaml:"excludeCallTreeFromReportWhenFasterThanXPercentOfRequests"`

	// MinExecutionTimePercent prunes call tree nodes faster than this share of
	// the root's execution time.
	MinExecutionTimePercent float64 `yaml:"minExecutionTimePercent"`

	ProfilerActive                 bool    `yaml:"profilerActive"`
	OnlyCollectNCallTreesPerMinute float64 `yaml:"onlyCollectNCallTreesPerMinute"`
}

// Default returns the configuration used when nothing is configured: report
// everything, profile every root span, prune nothing.
func Default() *Config {
	return &Config{
		DefaultRateLimitSpansPerMinute: UnlimitedPerMinute,
		RateLimitSpansPerMinutePerType: map[string]float64{},
		DefaultSamplePercentage:        100,
		SamplePercentagePerType:        map[string]float64{},
		ProfilerActive:                 true,
		OnlyCollectNCallTreesPerMinute: UnlimitedPerMinute,
	}
}

// Validate rejects values the sampling pipeline cannot interpret.
func (c *Config) Validate() error {
	if err := checkPercent("defaultSamplePercentage", c.DefaultSamplePercentage); err != nil {
		return err
	}
	for operationType, pct := range c.SamplePercentagePerType {
		if err := checkPercent("samplePercentagePerType."+operationType, pct); err != nil {
			return err
		}
	}
	if err := checkPercent("minExecutionTimePercent", c.MinExecutionTimePercent); err != nil {
		return err
	}
	if err := checkPercentile("excludeExternalRequestsWhenFasterThanXPercent", c.ExcludeExternalRequestsWhenFasterThanXPercent); err != nil {
		return err
	}
	if err := checkPercentile("excludeCallTreeFromReportWhenFasterThanXPercentOfRequests", c.ExcludeCallTreeFromReportWhenFasterThanXPercentOfRequests); err != nil {
		return err
	}
	if c.ExcludeExternalRequestsFasterThanMs < 0 {
		return errors.Errorf("config validation error: excludeExternalRequestsFasterThanMs should not be negative, got %v", c.ExcludeExternalRequestsFasterThanMs)
	}
	return nil
}

func checkPercent(name string, v float64) error {
	if v < 0 || v > 100 {
		return errors.Errorf("config validation error: %s should be within [0, 100], got %v", name, v)
	}
	return nil
}

func checkPercentile(name string, v float64) error {
	if v < 0 || v > 1 {
		return errors.Errorf("config validation error: %s should be within [0, 1], got %v", name, v)
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.RateLimitSpansPerMinutePerType = cloneMap(c.RateLimitSpansPerMinutePerType)
	out.SamplePercentagePerType = cloneMap(c.SamplePercentagePerType)
	if c.OnlyReportSpansWithName != nil {
		out.OnlyReportSpansWithName = append([]string(nil), c.OnlyReportSpansWithName...)
	}
	return &out
}

func cloneMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "decode sampling config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and parses a YAML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read sampling config %s", path)
	}
	return Parse(data)
}
