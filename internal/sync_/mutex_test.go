package sync_

import (
	"sync"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

// Verify that intended interfaces are implemented
var _ RMutexer[int] = NewMutexed(123)
var _ Mutexer[int] = NewMutexed(123)
var _ RMutexer[int] = NewRWMutexed(123)
var _ Mutexer[int] = NewRWMutexed(123)
var _ RMutexer[int] = NewRWMutexed(123).RMutexer()

func TestSimple(t *testing.T) {
	assert := assert_.New(t)
	rw := NewRWMutexed(123)
	r := rw.RMutexer()
	assert.Equal(123, rw.Get())
	assert.Equal(123, r.Get())
	assert.Equal(123, rw.Swap(456))
	assert.Equal(456, r.Get())

	m := NewMutexed("a")
	m.Set("b")
	assert.Equal("b", m.Swap("c"))
	assert.Equal("c", m.Get())
}

func TestRace(t *testing.T) {
	assert := assert_.New(t)
	rw := NewRWMutexed(map[string]int{})
	start := NewEvent()
	wg := sync.WaitGroup{}

	// Increment by 2500 with 50 goroutines in parallel
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start.Wait()
			for j := 0; j < 50; j++ {
				_ = rw.Locked(func(m map[string]int) error {
					m["count"]++
					return nil
				})
			}
		}()
	}

	// Read 2500 times with another 50 goroutines in parallel
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start.Wait()
			for j := 0; j < 50; j++ {
				_ = rw.RLocked(func(m map[string]int) error {
					_ = m["count"]
					return nil
				})
			}
		}()
	}

	start.Set()
	wg.Wait()

	assert.Equal(2500, rw.Get()["count"])
}
