// Package epoch quantizes unix timestamps onto the weekly grid used by the ledger.
package epoch

const (
	// Week is the width of one epoch in seconds.
	Week int64 = 7 * 86400
	// MaxLock is the longest permitted lock, four 365-day years in seconds.
	MaxLock int64 = 4 * 365 * 86400
)

// Quantize rounds t down to the nearest epoch boundary.
func Quantize(t int64) int64 {
	q := t / Week * Week
	if t < 0 && q != t {
		q -= Week
	}
	return q
}

// Next returns the first epoch boundary strictly after t.
func Next(t int64) int64 {
	return Quantize(t) + Week
}
