package gtime

import (
	"fmt"
	"time"
)

const (
	SecondsPerMinute = 60
	SecondsPerHour   = SecondsPerMinute * 60
	SecondsPerDay    = SecondsPerHour * 24
)

// ResolveTimeSecond formats an uptime given in seconds, e.g. "2d 3h 4m 5s".
func ResolveTimeSecond(seconds int) string {
	day := seconds / SecondsPerDay
	seconds %= SecondsPerDay
	hour := seconds / SecondsPerHour
	seconds %= SecondsPerHour
	minute := seconds / SecondsPerMinute
	second := seconds % SecondsPerMinute
	if day > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", day, hour, minute, second)
	}
	return fmt.Sprintf("%dh %dm %ds", hour, minute, second)
}

// Millis returns d in fractional milliseconds, the unit reports use.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
