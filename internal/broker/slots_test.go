package broker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotsManager_AssignAndRelease(t *testing.T) {
	slots := NewSlotsManager()

	assert.True(t, slots.AssignSlot("s1"))
	assert.False(t, slots.AssignSlot("s1"), "second reservation must fail")
	assert.True(t, slots.IsAssigned("s1"))

	slots.ReleaseSlot("s1")
	assert.False(t, slots.IsAssigned("s1"))
	assert.True(t, slots.AssignSlot("s1"), "slot reusable after release")
}

func TestSlotsManager_ReleaseIsIdempotent(t *testing.T) {
	slots := NewSlotsManager()
	slots.ReleaseSlot("never-assigned")
	assert.True(t, slots.AssignSlot("never-assigned"))
	slots.ReleaseSlot("never-assigned")
	slots.ReleaseSlot("never-assigned")
	assert.False(t, slots.IsAssigned("never-assigned"))
}

func TestSlotsManager_ConcurrentAssign(t *testing.T) {
	slots := NewSlotsManager()

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if slots.AssignSlot("contested") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one goroutine may win the slot")
}
