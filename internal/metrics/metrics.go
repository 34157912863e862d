// Package metrics tracks the handful of reason-qualified counters the
// spec's testable properties reference (e.g. INJECTION_SKIPPED). No
// external backend is wired — this ambient stack's observability surface
// is log/slog; these counters exist for in-process assertions, not for
// scraping.
package metrics

import "sync"

var (
	mu       sync.Mutex
	counters = map[string]int64{}
)

func key(name, reason string) string {
	if reason == "" {
		return name
	}
	return name + ":" + reason
}

// Inc increments name, optionally split out by reason.
func Inc(name, reason string) {
	mu.Lock()
	defer mu.Unlock()
	counters[key(name, reason)]++
}

// Get returns the current count for name/reason, 0 if never incremented.
func Get(name, reason string) int64 {
	mu.Lock()
	defer mu.Unlock()
	return counters[key(name, reason)]
}

// Reset clears every counter. Test-only: production code never resets.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	counters = map[string]int64{}
}
