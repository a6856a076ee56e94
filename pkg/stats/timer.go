package stats

import "time"

// Time measures fn with the wall clock and records the elapsed nanoseconds.
// When fn returns an error nothing is recorded, so failed operations never
// pollute the latency distribution; the error comes back unchanged.
//
// fn should be a reusable closure. A closure allocated fresh on every call
// folds its own construction cost into the measured latency and skews short
// measurements.
func (h *Histogram) Time(fn func() error) error {
	start := time.Now()
	if err := fn(); err != nil {
		return err
	}
	return h.RecordValue(time.Since(start).Nanoseconds())
}
