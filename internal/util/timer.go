package util

import "time"

// Timer measures wall-clock time for one stage or one analysis.
type Timer struct {
	start time.Time
}

// StartTimer starts a timer at the current instant.
func StartTimer() Timer {
	return Timer{start: time.Now()}
}

// Elapsed is the time since start; a zero Timer reports 0.
func (t Timer) Elapsed() time.Duration {
	if t.start.IsZero() {
		return 0
	}
	return time.Since(t.start)
}

// ElapsedSeconds is Elapsed in fractional seconds, the unit results report.
func (t Timer) ElapsedSeconds() float64 {
	return t.Elapsed().Seconds()
}

// ElapsedMs is Elapsed in whole milliseconds, for log fields.
func (t Timer) ElapsedMs() int64 {
	return t.Elapsed().Milliseconds()
}
