package sample

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wondertwin-ai/samplecart/internal/cart"
	"github.com/wondertwin-ai/samplecart/internal/cartapi"
	"github.com/wondertwin-ai/samplecart/internal/events"
	"github.com/wondertwin-ai/samplecart/internal/sections"
	"github.com/wondertwin-ai/samplecart/internal/ui"
)

// fakeAPI keeps a cart in memory and applies add/update the way the cart API
// does, merging identical reward lines.
type fakeAPI struct {
	mu      sync.Mutex
	cart    *cart.Cart
	adds    int
	updates []map[string]int
	addErr  error

	// refreshErr, when set, applies the add but reports the refetch failed.
	refreshErr error

	// gate, when set, blocks Add until closed; entered is signalled first.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeAPI) Add(ctx context.Context, items ...cartapi.AddItem) (*cart.Cart, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds++
	if f.addErr != nil {
		return nil, f.addErr
	}
	next := *f.cart
	next.Items = append([]cart.LineItem(nil), f.cart.Items...)
	for _, it := range items {
		merged := false
		for i := range next.Items {
			if next.Items[i].Variant() == it.ID {
				next.Items[i].Quantity += it.Quantity
				merged = true
			}
		}
		if !merged {
			next.Items = append(next.Items, cart.LineItem{
				Key: "s:1", ID: it.ID, VariantID: it.ID, Quantity: it.Quantity,
				Properties: cart.Properties(it.Properties),
			})
		}
		next.ItemCount += it.Quantity
	}
	next.Sections = map[string]string{
		"cart-icon-bubble": `<div class="shopify-section"><span>2</span></div>`,
	}
	f.cart = &next
	if f.refreshErr != nil {
		added := &cart.Cart{Sections: next.Sections}
		for _, it := range items {
			for _, li := range next.Items {
				if li.Variant() == it.ID {
					added.Items = append(added.Items, li)
				}
			}
		}
		return nil, &cartapi.RefreshError{Added: added, Err: f.refreshErr}
	}
	return &next, nil
}

func (f *fakeAPI) Update(ctx context.Context, updates map[string]int) (*cart.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updates)
	next := *f.cart
	next.Items = nil
	next.ItemCount = 0
	next.TotalPrice = 0
	for _, li := range f.cart.Items {
		if q, ok := updates[li.Key]; ok {
			li.Quantity = q
			li.LinePrice = li.Price * int64(q)
		}
		if li.Quantity == 0 {
			continue
		}
		next.Items = append(next.Items, li)
		next.ItemCount += li.Quantity
		next.TotalPrice += li.LinePrice
	}
	f.cart = &next
	return &next, nil
}

func (f *fakeAPI) rewardLines() []cart.LineItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	rewards, _ := f.cart.Partition()
	return rewards
}

var fastTimings = Timings{
	ProgressAnimation:  time.Millisecond,
	HideAfterAdd:       5 * time.Millisecond,
	NotificationIn:     time.Millisecond,
	NotificationHold:   5 * time.Millisecond,
	NotificationRemove: time.Millisecond,
}

func newSyncer(t *testing.T, api CartAPI, rec *ui.Recorder, bus *events.Bus) *Syncer {
	t.Helper()
	s := NewSyncer(Config{
		API:       api,
		Widgets:   Static{widget("fs-1", 10000)},
		Presenter: rec,
		Sections: []sections.Spec{
			{ID: "cart-icon-bubble", Section: "cart-icon-bubble", Selector: ".shopify-section"},
		},
		Timings: fastTimings,
		Bus:     bus,
	})
	t.Cleanup(s.Close)
	return s
}

func TestSyncerAdd(t *testing.T) {
	c := newCart(regular("a:1", 1, 1, 10000))
	api := &fakeAPI{cart: c}
	rec := &ui.Recorder{}
	bus := events.NewBus()
	var published []events.CartUpdate
	bus.Subscribe(func(u events.CartUpdate) { published = append(published, u) })
	s := newSyncer(t, api, rec, bus)

	res := s.Check(context.Background(), c)

	require.NoError(t, res.Err)
	assert.Equal(t, ActionAdd, res.Decision.Action)
	assert.Equal(t, 1, api.adds)
	rewards := api.rewardLines()
	require.Len(t, rewards, 1)
	assert.Equal(t, int64(sampleVariant), rewards[0].Variant())
	assert.Equal(t, "true", rewards[0].Properties[cart.RewardPropertyKey])

	assert.Equal(t, []ui.Command{ui.RenderSection("cart-icon-bubble", "<span>2</span>")}, rec.Of(ui.KindRenderSection))
	require.Len(t, published, 1)
	assert.Equal(t, events.SourceFreeSample, published[0].Source)

	require.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, time.Millisecond)
	assert.Len(t, rec.Of(ui.KindEndProgressAnimation), 1)
	assert.Equal(t, []ui.Command{ui.HideWidget("fs-1")}, rec.Of(ui.KindHideWidget))
	assert.Len(t, rec.Of(ui.KindShowNotification), 1)
	assert.Len(t, rec.Of(ui.KindFadeNotification), 1)
	assert.Len(t, rec.Of(ui.KindRemoveNotification), 1)
}

func TestSyncerDoubleTriggerAddsOnce(t *testing.T) {
	c := newCart(regular("a:1", 1, 1, 12000))
	api := &fakeAPI{cart: c, gate: make(chan struct{}), entered: make(chan struct{}, 2)}
	s := newSyncer(t, api, &ui.Recorder{}, nil)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = s.Check(context.Background(), c)
	}()
	<-api.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = s.Check(context.Background(), c)
	}()
	// Let the second check queue up behind the in-flight add.
	time.Sleep(20 * time.Millisecond)
	close(api.gate)
	wg.Wait()

	assert.Equal(t, 1, api.adds)
	assert.Equal(t, ActionAdd, results[0].Decision.Action)
	assert.Equal(t, ActionNone, results[1].Decision.Action)
	rewards := api.rewardLines()
	require.Len(t, rewards, 1)
	assert.Equal(t, 1, rewards[0].Quantity)
}

func TestSyncerQueuedNewerStateWins(t *testing.T) {
	c := newCart(regular("a:1", 1, 1, 12000))
	api := &fakeAPI{cart: c, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := newSyncer(t, api, &ui.Recorder{}, nil)

	var wg sync.WaitGroup
	var first, queued Result
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = s.Check(context.Background(), c)
	}()
	<-api.entered

	// The shopper lowered the quantity while the add was in flight; this
	// state already carries the reward and is below the threshold.
	newer := newCart(regular("a:1", 1, 1, 5000), reward("s:1", sampleVariant))
	wg.Add(1)
	go func() {
		defer wg.Done()
		queued = s.Check(context.Background(), newer)
	}()
	time.Sleep(20 * time.Millisecond)
	close(api.gate)
	wg.Wait()

	require.NoError(t, first.Err)
	require.NoError(t, queued.Err)
	assert.Equal(t, ActionAdd, first.Decision.Action)
	assert.Equal(t, ActionRemove, queued.Decision.Action)
	assert.Equal(t, []string{"s:1"}, queued.Decision.Keys)
	assert.Equal(t, 1, api.adds)
	assert.Empty(t, api.rewardLines())
}

func TestSyncerAddWithoutRefreshCommits(t *testing.T) {
	c := newCart(regular("a:1", 1, 1, 12000))
	api := &fakeAPI{cart: c, refreshErr: errors.New("cart.js: 502")}
	rec := &ui.Recorder{}
	s := newSyncer(t, api, rec, nil)

	res := s.Check(context.Background(), c)

	var refreshErr *cartapi.RefreshError
	require.True(t, errors.As(res.Err, &refreshErr))
	assert.Equal(t, ActionAdd, res.Decision.Action)
	require.NotNil(t, res.Cart)
	assert.Equal(t, 2, res.Cart.ItemCount)
	rewards, _ := res.Cart.Partition()
	require.Len(t, rewards, 1)
	assert.Equal(t, []ui.Command{ui.RenderSection("cart-icon-bubble", "<span>2</span>")}, rec.Of(ui.KindRenderSection))

	// A later trigger on the same pre-add state must not add again.
	again := s.Check(context.Background(), c)
	assert.Equal(t, ActionNone, again.Decision.Action)
	assert.Equal(t, 1, api.adds)
	lines := api.rewardLines()
	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].Quantity)
}

func TestSyncerRemoveShowsWidgetAgain(t *testing.T) {
	c := newCart(regular("a:1", 1, 1, 6000), reward("s:1", sampleVariant))
	api := &fakeAPI{cart: c}
	rec := &ui.Recorder{}
	s := newSyncer(t, api, rec, nil)

	res := s.Check(context.Background(), c)

	require.NoError(t, res.Err)
	assert.Equal(t, ActionRemove, res.Decision.Action)
	require.Len(t, api.updates, 1)
	assert.Equal(t, map[string]int{"s:1": 0}, api.updates[0])
	assert.Empty(t, api.rewardLines())

	assert.Equal(t, []ui.Command{ui.HideWidget("fs-1")}, rec.Of(ui.KindHideWidget))
	assert.Equal(t, []ui.Command{ui.ShowWidget("fs-1")}, rec.Of(ui.KindShowWidget))
	progress := rec.Of(ui.KindSetProgress)
	require.Len(t, progress, 1)
	assert.Equal(t, 60, progress[0].Value)
	assert.Equal(t, 6000, int(res.Cart.TotalPrice))
}

func TestSyncerSwallowsAddFailure(t *testing.T) {
	c := newCart(regular("a:1", 1, 1, 10000))
	boom := &cartapi.APIError{HTTPStatus: 422, Status: 422, Message: "Cart Error", Description: "sold out"}
	api := &fakeAPI{cart: c, addErr: boom}
	rec := &ui.Recorder{}
	s := newSyncer(t, api, rec, nil)

	res := s.Check(context.Background(), c)

	var apiErr *cartapi.APIError
	require.True(t, errors.As(res.Err, &apiErr))
	assert.Same(t, c, res.Cart)
	assert.Empty(t, rec.Of(ui.KindRenderSection))
	assert.Empty(t, rec.Of(ui.KindShowNotification))

	// Without a committed response the next check retries from its own state.
	api.addErr = nil
	res = s.Check(context.Background(), c)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, api.adds)
}

func TestSyncerWithoutWidgetsIsNoop(t *testing.T) {
	api := &fakeAPI{cart: newCart(reward("s:1", sampleVariant))}
	rec := &ui.Recorder{}
	s := NewSyncer(Config{API: api, Presenter: rec, Timings: fastTimings})
	defer s.Close()

	res := s.Check(context.Background(), api.cart)

	assert.Equal(t, ActionNone, res.Decision.Action)
	assert.Empty(t, rec.Commands())
	assert.Empty(t, api.updates)
}

func TestSyncerCloseCancelsTimers(t *testing.T) {
	c := newCart(regular("a:1", 1, 1, 10000))
	api := &fakeAPI{cart: c}
	rec := &ui.Recorder{}
	s := NewSyncer(Config{API: api, Widgets: Static{widget("fs-1", 10000)}, Presenter: rec})

	s.Check(context.Background(), c)
	require.Positive(t, s.Pending())
	s.Close()

	assert.Equal(t, 0, s.Pending())
	assert.Empty(t, rec.Of(ui.KindShowNotification))
}

func TestSyncerStaleStateAfterSyncUsesResponse(t *testing.T) {
	c := newCart(regular("a:1", 1, 1, 12000))
	api := &fakeAPI{cart: c}
	s := newSyncer(t, api, &ui.Recorder{}, nil)

	first := s.Check(context.Background(), c)
	require.Equal(t, ActionAdd, first.Decision.Action)

	// A second trigger handed the same pre-sync state arrives after the add
	// finished.
	second := s.Check(context.Background(), c)

	assert.Equal(t, ActionNone, second.Decision.Action)
	assert.Same(t, first.Cart, second.Cart)
	assert.Equal(t, 1, api.adds)
}
