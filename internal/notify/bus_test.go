package notify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_NotifiesInRegistrationOrder(t *testing.T) {
	b := NewBus()
	var calls []string

	b.Subscribe(func() { calls = append(calls, "a") })
	b.Subscribe(func() { calls = append(calls, "b") })
	b.Subscribe(func() { calls = append(calls, "c") })

	b.Notify()
	assert.Equal(t, []string{"a", "b", "c"}, calls)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	count := 0

	unsubscribe := b.Subscribe(func() { count++ })
	b.Notify()
	unsubscribe()
	unsubscribe()
	b.Notify()

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, b.subscriberCount())
}

func TestBus_UnsubscribeDuringNotify(t *testing.T) {
	b := NewBus()
	var calls []string

	var unsubscribeB func()
	b.Subscribe(func() {
		calls = append(calls, "a")
		unsubscribeB()
	})
	unsubscribeB = b.Subscribe(func() { calls = append(calls, "b") })
	b.Subscribe(func() { calls = append(calls, "c") })

	b.Notify()
	assert.Equal(t, []string{"a", "b", "c"}, calls, "current pass is unaffected")

	calls = nil
	b.Notify()
	assert.Equal(t, []string{"a", "c"}, calls, "next pass skips the removed callback")
}

func TestBus_SubscribeDuringNotify(t *testing.T) {
	b := NewBus()
	calls := 0
	added := false

	b.Subscribe(func() {
		if !added {
			added = true
			b.Subscribe(func() { calls++ })
		}
	})

	b.Notify()
	assert.Equal(t, 0, calls)
	b.Notify()
	assert.Equal(t, 1, calls)
}

func TestBus_ConcurrentSubscribe(t *testing.T) {
	b := NewBus()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsubscribe := b.Subscribe(func() {})
			b.Notify()
			unsubscribe()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, b.subscriberCount())
}
