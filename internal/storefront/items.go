// Package storefront holds the cart adapters: the callers that perform a cart
// mutation for a user action, present its outcome and then hand the returned
// state to the free sample syncer.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wondertwin-ai/samplecart/internal/cart"
	"github.com/wondertwin-ai/samplecart/internal/cartapi"
	"github.com/wondertwin-ai/samplecart/internal/events"
	"github.com/wondertwin-ai/samplecart/internal/sample"
	"github.com/wondertwin-ai/samplecart/internal/sections"
	"github.com/wondertwin-ai/samplecart/internal/ui"
)

// API is the cart API surface the adapters use.
type API interface {
	Cart(ctx context.Context) (*cart.Cart, error)
	Change(ctx context.Context, line, quantity int) (*cart.Cart, error)
	Add(ctx context.Context, items ...cartapi.AddItem) (*cart.Cart, error)
	Update(ctx context.Context, updates map[string]int) (*cart.Cart, error)
	Note(ctx context.Context, note string) error
	RenderSection(ctx context.Context, sectionID string) (string, error)
}

// Strings are the user-facing cart messages.
type Strings struct {
	Error         string                `yaml:"error"`
	QuantityError string                `yaml:"quantity_error"`
	Quantity      cart.QuantityMessages `yaml:"quantity"`
}

// DefaultStrings are the storefront's English cart strings.
var DefaultStrings = Strings{
	Error:         "There was an error while updating your cart. Please try again.",
	QuantityError: "You can only add [quantity] of this item to your cart.",
	Quantity:      cart.DefaultQuantityMessages,
}

func (s Strings) withDefaults() Strings {
	if s.Error == "" {
		s.Error = DefaultStrings.Error
	}
	if s.QuantityError == "" {
		s.QuantityError = DefaultStrings.QuantityError
	}
	return s
}

// LiveRegionHold is how long the cart status region stays announced.
const LiveRegionHold = time.Second

// Refresh targets used when another component changed the cart.
var (
	drawerRefresh = []sections.Spec{
		{ID: "cart-drawer-items", Section: "cart-drawer", Selector: "cart-drawer-items"},
		{ID: "cart-drawer__footer", Section: "cart-drawer", Selector: ".cart-drawer__footer"},
	}
	mainRefresh = []sections.Spec{
		{ID: "cart-items", Section: "main-cart-items", Selector: "cart-items"},
	}
)

// Config wires an Items adapter.
type Config struct {
	API       API
	Syncer    *sample.Syncer
	Bus       *events.Bus
	Presenter ui.Presenter
	Sections  []sections.Spec
	Strings   Strings
	// Source is events.SourceCartItems for the cart page and
	// events.SourceCartDrawer for the drawer.
	Source         string
	LiveRegionHold time.Duration
	Logger         *slog.Logger
}

// Items is the cart line list: quantity changes, removals and the refresh
// that follows changes made elsewhere.
type Items struct {
	api       API
	syncer    *sample.Syncer
	bus       *events.Bus
	presenter ui.Presenter
	sections  []sections.Spec
	strings   Strings
	source    string
	hold      time.Duration
	logger    *slog.Logger
	sched     *sample.Scheduler

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu    sync.Mutex
	shown *cart.Cart
}

// NewItems creates the adapter and subscribes it to cart updates published
// by other components. Close releases the subscription and pending timers.
func NewItems(cfg Config) *Items {
	if cfg.Source == "" {
		cfg.Source = events.SourceCartItems
	}
	if cfg.Presenter == nil {
		cfg.Presenter = ui.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LiveRegionHold <= 0 {
		cfg.LiveRegionHold = LiveRegionHold
	}
	if cfg.Sections == nil {
		cfg.Sections = sections.Defaults("", "")
	}
	ctx, cancel := context.WithCancel(context.Background())
	it := &Items{
		api:       cfg.API,
		syncer:    cfg.Syncer,
		bus:       cfg.Bus,
		presenter: cfg.Presenter,
		sections:  cfg.Sections,
		strings:   cfg.Strings.withDefaults(),
		source:    cfg.Source,
		hold:      cfg.LiveRegionHold,
		logger:    cfg.Logger.With("component", cfg.Source),
		sched:     sample.NewScheduler(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if it.bus != nil {
		it.unsubscribe = it.bus.Subscribe(it.onCartUpdate)
	}
	return it
}

// Close unsubscribes from the bus and cancels pending timers.
func (it *Items) Close() {
	if it.unsubscribe != nil {
		it.unsubscribe()
	}
	it.cancel()
	it.sched.Close()
}

// Init fetches the cart once and runs the free sample check against it.
func (it *Items) Init(ctx context.Context) (*cart.Cart, error) {
	c, err := it.api.Cart(ctx)
	if err != nil {
		it.logger.Error("loading cart", "err", err)
		return nil, err
	}
	it.setShown(c)
	return it.check(ctx, c), nil
}

// QuantityChanged validates a quantity typed into a line's input and, when
// it passes, changes the line. A rejected value is reported on the input and
// reset without any request.
func (it *Items) QuantityChanged(ctx context.Context, line, value int, rule cart.QuantityRule, variantID int64) (*cart.Cart, error) {
	if err := cart.ValidateQuantity(value, rule, it.strings.Quantity); err != nil {
		it.presenter.Apply(ui.SetValidity(line, err.Error()), ui.ResetInput(line))
		return nil, err
	}
	it.presenter.Apply(ui.SetValidity(line, ""))
	return it.change(ctx, line, value, variantID)
}

// ChangeLine sets the quantity of a 1-based line.
func (it *Items) ChangeLine(ctx context.Context, line, quantity int) (*cart.Cart, error) {
	return it.change(ctx, line, quantity, 0)
}

// Remove removes a line.
func (it *Items) Remove(ctx context.Context, line int) (*cart.Cart, error) {
	return it.change(ctx, line, 0, 0)
}

func (it *Items) change(ctx context.Context, line, quantity int, variantID int64) (*cart.Cart, error) {
	if line < 1 {
		return nil, fmt.Errorf("line %d: lines are 1-based", line)
	}
	it.presenter.Apply(ui.SetLoading(line, true), ui.LineStatus(true))
	defer it.presenter.Apply(ui.SetLoading(line, false))

	onPage := it.shownCount()
	state, err := it.api.Change(ctx, line, quantity)
	if err != nil {
		var apiErr *cartapi.APIError
		if errors.As(err, &apiErr) {
			it.presenter.Apply(ui.ResetInput(line))
			it.announce(line, apiErr.UserMessage())
			return nil, err
		}
		it.logger.Error("changing line", "err", err, "line", line, "quantity", quantity)
		it.presenter.Apply(ui.CartError(it.strings.Error))
		return nil, err
	}

	it.presenter.Apply(ui.SetEmpty(state.ItemCount == 0))
	cmds, err := sections.Render(it.sections, state.Sections)
	if err != nil {
		it.logger.Warn("section render incomplete", "err", err)
	}
	it.presenter.Apply(cmds...)
	it.announce(line, it.quantityMessage(state, line, quantity, onPage))
	it.setShown(state)

	state = it.check(ctx, state)
	if it.bus != nil {
		it.bus.Publish(events.CartUpdate{Source: it.source, Cart: state, VariantID: variantID})
	}
	return state, nil
}

// quantityMessage explains a change the cart API did not apply as asked,
// typically because of inventory limits.
func (it *Items) quantityMessage(state *cart.Cart, line, requested, onPage int) string {
	if onPage != len(state.Items) {
		return ""
	}
	li, ok := state.Line(line)
	if !ok {
		return it.strings.Error
	}
	if li.Quantity == requested {
		return ""
	}
	return strings.Replace(it.strings.QuantityError, "[quantity]", strconv.Itoa(li.Quantity), 1)
}

func (it *Items) announce(line int, message string) {
	it.presenter.Apply(ui.LineError(line, message), ui.LineStatus(false), ui.LiveRegion(true))
	it.sched.After(it.hold, func() { it.presenter.Apply(ui.LiveRegion(false)) })
}

func (it *Items) check(ctx context.Context, c *cart.Cart) *cart.Cart {
	if it.syncer == nil {
		return c
	}
	res := it.syncer.Check(ctx, c)
	if res.Cart == nil {
		return c
	}
	if res.Cart != c {
		it.setShown(res.Cart)
	}
	return res.Cart
}

func (it *Items) onCartUpdate(u events.CartUpdate) {
	// The free sample flow renders the cart sections itself.
	if u.Source == it.source || u.Source == events.SourceFreeSample {
		return
	}
	if u.Cart != nil {
		it.setShown(u.Cart)
	}
	if err := it.Refresh(it.ctx); err != nil {
		it.logger.Warn("refreshing after cart update", "err", err, "source", u.Source)
	}
}

// Refresh re-renders the adapter's own section from the cart page.
func (it *Items) Refresh(ctx context.Context) error {
	specs := mainRefresh
	if it.source == events.SourceCartDrawer {
		specs = drawerRefresh
	}
	doc, err := it.api.RenderSection(ctx, specs[0].Section)
	if err != nil {
		return err
	}
	rendered := map[string]string{specs[0].Section: doc}
	cmds, err := sections.Render(specs, rendered)
	it.presenter.Apply(cmds...)
	return err
}

func (it *Items) setShown(c *cart.Cart) {
	it.mu.Lock()
	it.shown = c
	it.mu.Unlock()
}

func (it *Items) shownCount() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.shown == nil {
		return -1
	}
	return len(it.shown.Items)
}
