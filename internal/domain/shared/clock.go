package shared

import "time"

// Clock abstracts time so retry sleeps and staleness thresholds can be
// controlled in tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// RealClock is the production Clock backed by system time.
type RealClock struct{}

// Now returns the current system time in UTC.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Sleep blocks for the given duration.
func (RealClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// NewRealClock creates a RealClock instance.
func NewRealClock() Clock {
	return RealClock{}
}

// MockClock is a controllable Clock for tests. Sleep advances the clock
// instead of blocking, so retry loops run instantly.
type MockClock struct {
	CurrentTime time.Time
}

// NewMockClock creates a MockClock starting at the given time.
// A zero time starts the clock at the current system time.
func NewMockClock(start time.Time) *MockClock {
	if start.IsZero() {
		start = time.Now()
	}
	return &MockClock{CurrentTime: start}
}

// Now returns the mock's current time.
func (m *MockClock) Now() time.Time {
	return m.CurrentTime
}

// Sleep advances the mock clock without blocking.
func (m *MockClock) Sleep(d time.Duration) {
	m.CurrentTime = m.CurrentTime.Add(d)
}

// Advance moves the mock clock forward by the given duration.
func (m *MockClock) Advance(d time.Duration) {
	m.CurrentTime = m.CurrentTime.Add(d)
}

// SetTime sets the mock clock to a specific time.
func (m *MockClock) SetTime(t time.Time) {
	m.CurrentTime = t
}
