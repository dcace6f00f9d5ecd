package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockSetAndAdvance(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMock(t0)
	assert.Equal(t, t0, m.Now())

	m.Advance(90 * time.Second)
	assert.Equal(t, t0.Add(90*time.Second), m.Now())

	t1 := t0.Add(time.Hour)
	m.Set(t1)
	assert.Equal(t, t1, m.Now())
}

func TestMockSyncFollowsWallClock(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	m.Sync()
	assert.WithinDuration(t, time.Now(), m.Now(), time.Second)
}

func TestMockAdvanceFromWallClockFixesTime(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	m.Sync()
	m.Advance(time.Hour)
	fixed := m.Now()
	assert.WithinDuration(t, time.Now().Add(time.Hour), fixed, time.Second)

	time.Sleep(2 * time.Millisecond)
	assert.Equal(t, fixed, m.Now())
	assert.Equal(t, time.UTC, fixed.Location())
}

func TestMockConcurrentAdvance(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMock(t0)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Advance(time.Second)
		}()
	}
	wg.Wait()
	assert.Equal(t, t0.Add(50*time.Second), m.Now())
}
