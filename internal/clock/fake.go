package clock

import "time"

// FakeClock reports a fixed instant until told to move. Not safe for
// concurrent use; tests drive it from a single goroutine.
type FakeClock struct {
	current time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start.UTC()}
}

func (f *FakeClock) Now() time.Time { return f.current }

// Advance moves the reported instant by d.
func (f *FakeClock) Advance(d time.Duration) {
	f.current = f.current.Add(d)
}
