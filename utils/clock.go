package utils

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

type RealClock struct{}

func (self RealClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (self RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (self RealClock) Now() time.Time {
	return time.Now()
}

// A manually controlled clock. Sleep and After return immediately,
// the test is expected to drive time forward with Set().
type MockClock struct {
	mu      sync.Mutex
	MockNow time.Time
}

func (self *MockClock) Now() time.Time {
	self.mu.Lock()
	defer self.mu.Unlock()

	return self.MockNow
}

func (self *MockClock) Set(t time.Time) {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.MockNow = t
}

func (self *MockClock) After(d time.Duration) <-chan time.Time {
	return time.After(0)
}

func (self *MockClock) Sleep(d time.Duration) {
	time.Sleep(0)
}

func NewMockClock(now time.Time) *MockClock {
	return &MockClock{
		MockNow: now,
	}
}
