package roleexec

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FailureKind is the rate_limit/general classification from spec.md §4.5.
type FailureKind string

const (
	FailureGeneral   FailureKind = "general"
	FailureRateLimit FailureKind = "rate_limit"
)

var rateLimitMarkers = []string{"429", "rate limit", "too many requests", "quota", "throttle"}

// ClassifyFailure implements spec.md §4.5 step 9's failure-path
// classification.
func ClassifyFailure(combined string, parsed map[string]any) FailureKind {
	lower := strings.ToLower(combined)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lower, marker) {
			return FailureRateLimit
		}
	}
	if code, ok := parsed["code"]; ok && isFourTwentyNine(code) {
		return FailureRateLimit
	}
	if status, ok := parsed["status"]; ok && isFourTwentyNine(status) {
		return FailureRateLimit
	}
	return FailureGeneral
}

func isFourTwentyNine(v any) bool {
	switch t := v.(type) {
	case float64:
		return t == 429
	case int:
		return t == 429
	case string:
		return t == "429"
	}
	return false
}

var retryAfterPattern = regexp.MustCompile(`(?i)retry-after|retry after|retry in`)
var retryAfterValuePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(ms|seconds|secs|sec|s|minutes|min|m)?`)
var httpDatePattern = regexp.MustCompile(`(?i)(mon|tue|wed|thu|fri|sat|sun), \d{2} \w{3} \d{4} \d{2}:\d{2}:\d{2} gmt`)

// ParseRetryAfter implements spec.md §4.5 step 9's Retry-After extraction:
// tokens matching retry-after/retry after/retry in followed by a number
// and optional unit, or an HTTP-date. Returns zero duration if absent.
func ParseRetryAfter(combined string) (time.Duration, bool) {
	loc := retryAfterPattern.FindStringIndex(combined)
	if loc == nil {
		return 0, false
	}

	rest := combined[loc[1]:]
	if m := httpDatePattern.FindString(rest); m != "" {
		if t, err := time.Parse("Mon, 02 Jan 2006 15:04:05 GMT", strings.ToUpper(m[:3])+m[3:]); err == nil {
			d := time.Until(t)
			if d < 0 {
				d = 0
			}
			return d, true
		}
	}

	if m := retryAfterValuePattern.FindStringSubmatch(rest); m != nil && m[1] != "" {
		n, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			return durationFromUnit(n, m[2]), true
		}
	}

	return 0, false
}

func durationFromUnit(n float64, unit string) time.Duration {
	switch strings.ToLower(unit) {
	case "ms":
		return time.Duration(n * float64(time.Millisecond))
	case "m", "min", "minutes":
		return time.Duration(n * float64(time.Minute))
	default: // "", "s", "sec", "secs", "seconds"
		return time.Duration(n * float64(time.Second))
	}
}

// Backoff computes exponential backoff with jitter for attempt (1-based),
// per spec.md §4.5 step 9: base * 2^(attempt-1), capped at max, scaled by
// a 0.75-1.25x jitter factor.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if d > max || d <= 0 {
		d = max
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * jitter)
}

// RateLimitDelay resolves the delay for a rate-limited attempt:
// min(Retry-After, envMaxMs) when present, else exponential backoff.
func RateLimitDelay(retryAfter time.Duration, haveRetryAfter bool, attempt int, base, max time.Duration) time.Duration {
	if haveRetryAfter {
		if retryAfter > max {
			return max
		}
		return retryAfter
	}
	return Backoff(attempt, base, max)
}
