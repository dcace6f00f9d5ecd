// Package clock provides the registry's time source. Every time-gated rule
// reads the current time through a Clock so tests can move time explicitly.
package clock

import (
	"sync"
	"time"

	"github.com/luxfi/timer/mockable"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock in UTC.
type System struct{}

// Now returns time.Now in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Mock is a settable clock over mockable.Clock. It reports wall time until
// Set is called. It is safe for concurrent use.
type Mock struct {
	clk     mockable.Clock
	advance sync.Mutex
}

// NewMock returns a Mock fixed at t.
func NewMock(t time.Time) *Mock {
	m := &Mock{}
	m.clk.Set(t.UTC())
	return m
}

// Set fixes the clock at t.
func (m *Mock) Set(t time.Time) {
	m.clk.Set(t.UTC())
}

// Advance moves the clock forward by d, fixing it first if it follows wall
// time.
func (m *Mock) Advance(d time.Duration) {
	m.advance.Lock()
	defer m.advance.Unlock()
	m.clk.Set(m.clk.Time().UTC().Add(d))
}

// Sync returns the clock to wall time.
func (m *Mock) Sync() {
	m.clk.Sync()
}

// Now returns the fixed time, or wall time when not fixed.
func (m *Mock) Now() time.Time {
	return m.clk.Time().UTC()
}
