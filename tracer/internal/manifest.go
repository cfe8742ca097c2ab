package internal

// Manifest is an immutable set of rate limiters: one default limiter plus one
// per explicitly configured operation type. A configuration change builds a new
// Manifest and swaps it in whole, so readers never see a half built set.
type Manifest struct {
	defaultLimiter *RateLimiter
	byType         map[string]*RateLimiter
}

// NewManifest builds limiters from per minute rates.
func NewManifest(defaultPerMinute float64, perMinuteByType map[string]float64, clock Clock) *Manifest {
	m := &Manifest{
		defaultLimiter: NewPerMinuteRateLimiter(defaultPerMinute, clock),
		byType:         make(map[string]*RateLimiter, len(perMinuteByType)),
	}
	for operationType, perMinute := range perMinuteByType {
		m.byType[operationType] = NewPerMinuteRateLimiter(perMinute, clock)
	}
	return m
}

// LimiterFor returns the limiter responsible for operationType. The result is
// nil when that rate is unlimited.
func (m *Manifest) LimiterFor(operationType string) *RateLimiter {
	if m == nil {
		return nil
	}
	if limiter, ok := m.byType[operationType]; ok {
		return limiter
	}
	return m.defaultLimiter
}
