package sample

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wondertwin-ai/samplecart/internal/cart"
	"github.com/wondertwin-ai/samplecart/internal/cartapi"
	"github.com/wondertwin-ai/samplecart/internal/events"
	"github.com/wondertwin-ai/samplecart/internal/money"
	"github.com/wondertwin-ai/samplecart/internal/sections"
	"github.com/wondertwin-ai/samplecart/internal/ui"
)

// CartAPI is the part of the cart API the sample flow mutates through.
type CartAPI interface {
	Add(ctx context.Context, items ...cartapi.AddItem) (*cart.Cart, error)
	Update(ctx context.Context, updates map[string]int) (*cart.Cart, error)
}

// Timings are the cosmetic delays of the flow.
type Timings struct {
	ProgressAnimation  time.Duration `yaml:"progress_animation"`
	HideAfterAdd       time.Duration `yaml:"hide_after_add"`
	NotificationIn     time.Duration `yaml:"notification_in"`
	NotificationHold   time.Duration `yaml:"notification_hold"`
	NotificationRemove time.Duration `yaml:"notification_remove"`
}

// DefaultTimings match the storefront's CSS transitions.
var DefaultTimings = Timings{
	ProgressAnimation:  450 * time.Millisecond,
	HideAfterAdd:       2 * time.Second,
	NotificationIn:     100 * time.Millisecond,
	NotificationHold:   4 * time.Second,
	NotificationRemove: 300 * time.Millisecond,
}

func (t Timings) withDefaults() Timings {
	if t.ProgressAnimation <= 0 {
		t.ProgressAnimation = DefaultTimings.ProgressAnimation
	}
	if t.HideAfterAdd <= 0 {
		t.HideAfterAdd = DefaultTimings.HideAfterAdd
	}
	if t.NotificationIn <= 0 {
		t.NotificationIn = DefaultTimings.NotificationIn
	}
	if t.NotificationHold <= 0 {
		t.NotificationHold = DefaultTimings.NotificationHold
	}
	if t.NotificationRemove <= 0 {
		t.NotificationRemove = DefaultTimings.NotificationRemove
	}
	return t
}

// Config wires a Syncer.
type Config struct {
	API       CartAPI
	Widgets   WidgetSource
	Presenter ui.Presenter
	Sections  []sections.Spec
	Money     *money.Formatter
	Timings   Timings
	// Bus, when set, receives a CartUpdate after every sync mutation.
	Bus    *events.Bus
	Logger *slog.Logger
}

// Result reports what a check did.
type Result struct {
	Decision Decision
	// Cart is the state after the check: the mutation response when a call
	// succeeded, otherwise the state the check evaluated.
	Cart *cart.Cart
	// Err is the sync failure that was logged and swallowed, if any.
	Err error
}

// Syncer applies the engine's decisions against the cart API. Checks are
// serialized: a check arriving while a sync call is in flight waits for it.
// A check handed the very state the last sync was decided from evaluates
// that sync's response instead; any other state is taken as given.
type Syncer struct {
	engine    *Engine
	api       CartAPI
	widgets   WidgetSource
	presenter ui.Presenter
	sections  []sections.Spec
	timings   Timings
	bus       *events.Bus
	logger    *slog.Logger
	sched     *Scheduler

	mu     sync.Mutex
	latest *cart.Cart
	basis  *cart.Cart // state the latest sync was decided from
}

// NewSyncer creates a Syncer.
func NewSyncer(cfg Config) *Syncer {
	presenter := cfg.Presenter
	if presenter == nil {
		presenter = ui.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	widgets := cfg.Widgets
	if widgets == nil {
		widgets = Static(nil)
	}
	return &Syncer{
		engine:    NewEngine(cfg.Money),
		api:       cfg.API,
		widgets:   widgets,
		presenter: presenter,
		sections:  cfg.Sections,
		timings:   cfg.Timings.withDefaults(),
		bus:       cfg.Bus,
		logger:    logger,
		sched:     NewScheduler(),
	}
}

// Engine returns the engine the syncer evaluates with.
func (s *Syncer) Engine() *Engine { return s.engine }

// Check evaluates c, updates the widgets and performs at most one cart
// mutation. Failures of that mutation are logged and reported in Result.Err.
func (s *Syncer) Check(ctx context.Context, c *cart.Cart) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest != nil && c == s.basis {
		// The last sync was decided from this state; its response supersedes it.
		c = s.latest
	}

	res := Result{Decision: Decision{Action: ActionNone}, Cart: c}
	widgets, err := s.widgets.Widgets(ctx)
	if err != nil {
		s.logger.Error("free sample widgets unavailable", "err", err)
		res.Err = err
		return res
	}
	if _, ok := reference(widgets); !ok {
		return res
	}

	ev := s.engine.Evaluate(c, widgets)
	s.present(ev.Commands)
	res.Decision = ev.Decision

	switch ev.Decision.Action {
	case ActionAdd:
		next, err := s.api.Add(ctx, cartapi.AddItem{
			ID:         ev.Decision.Variant,
			Quantity:   1,
			Properties: map[string]string{cart.RewardPropertyKey: cart.RewardPropertyValue},
		})
		var refreshErr *cartapi.RefreshError
		switch {
		case errors.As(err, &refreshErr):
			// The reward is in the cart; carry on from the add's own answer.
			s.logger.Warn("free sample added, cart not refreshed", "err", refreshErr.Err, "variant", ev.Decision.Variant)
			next = c.WithLines(refreshErr.Added.Items)
			next.Sections = refreshErr.Added.Sections
			res.Err = err
		case err != nil:
			s.logger.Error("free sample add failed", "err", err, "variant", ev.Decision.Variant)
			res.Err = err
			return res
		}
		s.commit(c, next)
		res.Cart = next
		s.afterAdd(next, widgets)
	case ActionRemove:
		next, err := s.api.Update(ctx, ev.Decision.Updates())
		if err != nil {
			s.logger.Error("free sample removal failed", "err", err, "keys", ev.Decision.Keys)
			res.Err = err
			return res
		}
		s.commit(c, next)
		res.Cart = next
		s.afterRemove(next, widgets)
	}
	return res
}

// Close cancels pending timers. The syncer must not be used afterwards.
func (s *Syncer) Close() {
	s.sched.Close()
}

// Pending returns the number of scheduled effects not yet applied.
func (s *Syncer) Pending() int {
	return s.sched.Pending()
}

func (s *Syncer) commit(basis, next *cart.Cart) {
	s.basis = basis
	s.latest = next
	if s.bus != nil {
		s.bus.Publish(events.CartUpdate{Source: events.SourceFreeSample, Cart: next})
	}
}

func (s *Syncer) afterAdd(next *cart.Cart, widgets []Widget) {
	s.renderSections(next)

	hide := make([]ui.Command, 0, len(widgets))
	for _, w := range widgets {
		hide = append(hide, ui.HideWidget(w.ID))
	}
	s.sched.After(s.timings.HideAfterAdd, func() { s.presenter.Apply(hide...) })

	s.sched.After(s.timings.NotificationIn, func() { s.presenter.Apply(ui.ShowNotification()) })
	s.sched.After(s.timings.NotificationHold, func() {
		s.presenter.Apply(ui.FadeNotification())
		s.sched.After(s.timings.NotificationRemove, func() { s.presenter.Apply(ui.RemoveNotification()) })
	})
}

func (s *Syncer) afterRemove(next *cart.Cart, widgets []Widget) {
	s.renderSections(next)
	s.present(s.engine.Display(next, widgets))
}

func (s *Syncer) renderSections(next *cart.Cart) {
	cmds, err := sections.Render(s.sections, next.Sections)
	if err != nil {
		s.logger.Warn("free sample section render incomplete", "err", err)
	}
	if len(cmds) > 0 {
		s.presenter.Apply(cmds...)
	}
}

// present applies commands and schedules the end of every progress
// animation they start.
func (s *Syncer) present(cmds []ui.Command) {
	if len(cmds) == 0 {
		return
	}
	s.presenter.Apply(cmds...)
	for _, c := range cmds {
		if c.Kind != ui.KindSetProgress {
			continue
		}
		id := c.Target
		s.sched.After(s.timings.ProgressAnimation, func() {
			s.presenter.Apply(ui.EndProgressAnimation(id))
		})
	}
}
