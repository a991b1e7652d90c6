// Package notify fans out "cache updated" signals to registered observers.
package notify

import "sync"

type subscription struct {
	id int64
	fn func()
}

// Bus is an in-process observer registry. Callbacks receive no payload;
// they re-read whatever state they are interested in.
type Bus struct {
	mu     sync.Mutex
	nextID int64
	subs   []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it again.
// Calling the returned function more than once is a no-op.
func (b *Bus) Subscribe(fn func()) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// Notify calls every callback registered when the pass starts, in
// registration order, on the caller's goroutine. Subscriptions changed
// during the pass apply from the next one.
func (b *Bus) Notify() {
	b.mu.Lock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn()
	}
}

func (b *Bus) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) remove(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			// copy so an in-flight pass keeps its own view
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}
