// Package events carries cart-update notifications between the cart
// components of a page.
package events

import (
	"sync"

	"github.com/wondertwin-ai/samplecart/internal/cart"
)

// Sources of cart updates.
const (
	SourceCartItems   = "cart-items"
	SourceCartDrawer  = "cart-drawer-items"
	SourceProductForm = "product-form"
	SourceFreeSample  = "free-sample"
)

// CartUpdate is published after a component mutated the cart.
type CartUpdate struct {
	Source    string
	Cart      *cart.Cart
	VariantID int64
}

// Handler receives cart updates.
type Handler func(CartUpdate)

// Bus fans cart updates out to subscribers. Handlers run synchronously on
// the publisher's goroutine, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id int
	fn Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns the function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers u to every current subscriber.
func (b *Bus) Publish(u CartUpdate) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(u)
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
