package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wondertwin-ai/samplecart/internal/cart"
)

func TestPublishOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Subscribe(func(u CartUpdate) { got = append(got, "a:"+u.Source) })
	bus.Subscribe(func(u CartUpdate) { got = append(got, "b:"+u.Source) })

	bus.Publish(CartUpdate{Source: SourceCartItems, Cart: &cart.Cart{ItemCount: 1}, VariantID: 7})
	assert.Equal(t, []string{"a:cart-items", "b:cart-items"}, got)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsub := bus.Subscribe(func(CartUpdate) { calls++ })
	other := bus.Subscribe(func(CartUpdate) {})
	assert.Equal(t, 2, bus.Len())

	unsub()
	unsub()
	assert.Equal(t, 1, bus.Len())

	bus.Publish(CartUpdate{Source: SourceCartDrawer})
	assert.Equal(t, 0, calls)

	other()
	assert.Equal(t, 0, bus.Len())
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus()
	var unsub func()
	calls := 0
	unsub = bus.Subscribe(func(CartUpdate) {
		calls++
		unsub()
	})

	bus.Publish(CartUpdate{})
	bus.Publish(CartUpdate{})
	assert.Equal(t, 1, calls)
}
