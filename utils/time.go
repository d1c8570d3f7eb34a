package utils

import (
	"sync"
	"time"

	"github.com/Velocidex/json"
	vjson "www.velocidex.com/golang/psutils/json"
)

var (
	clock_mu sync.Mutex

	// The global clock. All time access goes through this so tests
	// can mock it out.
	g_clock Clock = &RealClock{}
)

func GetTime() Clock {
	clock_mu.Lock()
	defer clock_mu.Unlock()

	return g_clock
}

// Install a mock clock and return a closer that restores the previous
// one.
func MockTime(new_clock Clock) func() {
	clock_mu.Lock()
	defer clock_mu.Unlock()

	old_clock := g_clock
	g_clock = new_clock

	return func() {
		clock_mu.Lock()
		defer clock_mu.Unlock()

		g_clock = old_clock
	}
}

// Take care of marshaling all timestamps in UTC
func MarshalTimes(v interface{}, opts *json.EncOpts) ([]byte, error) {
	switch t := v.(type) {
	case time.Time:
		// Marshal the time in the desired timezone.
		return t.UTC().MarshalJSON()

	case *time.Time:
		return t.UTC().MarshalJSON()

	}
	return nil, json.EncoderCallbackSkip
}

func init() {
	vjson.RegisterCustomEncoder(time.Time{}, MarshalTimes)
	vjson.RegisterCustomEncoder(&time.Time{}, MarshalTimes)
}
