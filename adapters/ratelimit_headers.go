package adapters

import (
	"strconv"
	"time"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
	"github.com/SynergyMesh-master/KeyStonOps-sub004/internal/clock"
)

// UpstreamRateLimit is the quota a remote service reports about itself. It is
// informational only; admission is decided by the local RateLimiter.
type UpstreamRateLimit struct {
	Limit     *int
	Remaining *int
	ResetAt   time.Time
}

// Exhausted reports whether the last response said no requests remain.
func (u UpstreamRateLimit) Exhausted() bool {
	return u.Remaining != nil && *u.Remaining <= 0
}

// epochThreshold separates unix-second reset stamps (GitHub style) from
// relative second counts.
const epochThreshold = 1_000_000_000

// ParseRateLimitHeaders reads the common x-ratelimit-* header families:
//
//	x-ratelimit-limit / -remaining / -reset (unix seconds or relative seconds)
//	x-ratelimit-limit-requests / -remaining-requests / -reset-requests ("6m0s")
//
// ok is false when the response carries none of them.
func ParseRateLimitHeaders(resp *resilientbridge.Response, now time.Time) (info UpstreamRateLimit, ok bool) {
	if resp == nil {
		return info, false
	}
	parseInt := func(keys ...string) *int {
		for _, k := range keys {
			if v := resp.Header(k); v != "" {
				if i, err := strconv.Atoi(v); err == nil {
					return &i
				}
			}
		}
		return nil
	}

	info.Limit = parseInt("x-ratelimit-limit", "x-ratelimit-limit-requests")
	info.Remaining = parseInt("x-ratelimit-remaining", "x-ratelimit-remaining-requests")

	if v := resp.Header("x-ratelimit-reset"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			if ts > epochThreshold {
				info.ResetAt = time.Unix(ts, 0).UTC()
			} else if ts >= 0 {
				info.ResetAt = now.Add(time.Duration(ts) * time.Second)
			}
		}
	} else if d := clock.ParseDurationHint(resp.Header("x-ratelimit-reset-requests")); d > 0 {
		info.ResetAt = now.Add(d)
	}

	ok = info.Limit != nil || info.Remaining != nil || !info.ResetAt.IsZero()
	return info, ok
}
