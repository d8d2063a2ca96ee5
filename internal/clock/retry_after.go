package clock

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseDurationHint converts provider rate-limit hints such as "1s", "6m0s"
// or a bare number of seconds into a duration. It returns 0 when s cannot be
// interpreted.
func ParseDurationHint(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}

	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}

	var minutes, seconds int
	if n, err := fmt.Sscanf(s, "%dm%ds", &minutes, &seconds); n == 2 && err == nil {
		return time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second
	}
	return 0
}

// RetryAfter interprets a Retry-After header value relative to now. Both the
// delay-seconds and HTTP-date forms are accepted; dates in the past yield 0.
func RetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if d := ParseDurationHint(value); d > 0 {
		return d
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
