package notary

import "time"

func maxDate(a time.Time, b ...time.Time) time.Time {
	for _, v := range b {
		if v.After(a) {
			a = v
		}
	}

	return a
}

// nextBoundary returns the first start + k*period strictly after now.
// Boundaries missed in between are skipped.
func nextBoundary(start time.Time, period time.Duration, now time.Time) time.Time {
	if now.Before(start) {
		return start
	}

	k := now.Sub(start)/period + 1
	return start.Add(k * period)
}
