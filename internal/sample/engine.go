package sample

import (
	"fmt"
	"strings"

	"github.com/wondertwin-ai/samplecart/internal/cart"
	"github.com/wondertwin-ai/samplecart/internal/money"
	"github.com/wondertwin-ai/samplecart/internal/ui"
)

// Action is the cart mutation a check asks for.
type Action string

const (
	ActionNone   Action = "none"
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Decision is the outcome of the synchronization step: at most one call.
type Decision struct {
	Action Action
	// Variant is the reward to add (ActionAdd).
	Variant int64
	// Keys are the reward lines to zero out (ActionRemove), in cart order.
	Keys []string
}

// Updates returns the update payload for a removal.
func (d Decision) Updates() map[string]int {
	out := make(map[string]int, len(d.Keys))
	for _, k := range d.Keys {
		out[k] = 0
	}
	return out
}

// Evaluation is what a check produces: display commands for every widget and
// one synchronization decision.
type Evaluation struct {
	Commands []ui.Command
	Decision Decision
}

// Engine evaluates cart state against sample widgets. It has no side effects.
type Engine struct {
	money *money.Formatter
}

// NewEngine returns an Engine formatting amounts with f (en-US/USD when nil).
func NewEngine(f *money.Formatter) *Engine {
	if f == nil {
		f = money.New(money.Options{})
	}
	return &Engine{money: f}
}

// Evaluate computes widget display and the sync decision for c.
func (e *Engine) Evaluate(c *cart.Cart, widgets []Widget) Evaluation {
	rewards, regular := c.Partition()
	return Evaluation{
		Commands: e.display(c, rewards, regular, widgets),
		Decision: decide(c, rewards, regular, widgets),
	}
}

// Display computes widget visibility and progress only.
func (e *Engine) Display(c *cart.Cart, widgets []Widget) []ui.Command {
	rewards, regular := c.Partition()
	return e.display(c, rewards, regular, widgets)
}

func (e *Engine) display(c *cart.Cart, rewards, regular []cart.LineItem, widgets []Widget) []ui.Command {
	var cmds []ui.Command
	for _, w := range widgets {
		if !w.Configured() {
			continue
		}
		if c.IsEmpty() || len(regular) == 0 || hasReward(rewards, w.ProductID) {
			cmds = append(cmds, ui.HideWidget(w.ID))
			continue
		}
		cmds = append(cmds, ui.ShowWidget(w.ID))
		cmds = append(cmds, e.progress(w, c.TotalPrice)...)
	}
	return cmds
}

func (e *Engine) progress(w Widget, subtotal int64) []ui.Command {
	pct := Progress(subtotal, w.Threshold)
	cmds := []ui.Command{
		ui.SetProgress(w.ID, pct, roundTo5(pct),
			fmt.Sprintf("Progress towards free sample: %d%% complete", pct)),
	}

	remaining := w.Threshold - subtotal
	if remaining > 0 {
		amount := e.money.WithCurrency(w.Currency).Format(remaining)
		text := strings.Replace(w.progressMessage(), AmountPlaceholder, amount, 1)
		return append(cmds, ui.SetMessage(w.ID, text, false))
	}
	return append(cmds,
		ui.SetMessage(w.ID, w.successMessage(), true),
		ui.MarkFulfilled(w.ID),
	)
}

// decide runs once per check, independent of how many widgets share a reward.
//
// Only the first configured widget's threshold and product are consulted.
// Pages with several widgets pointing at different rewards or thresholds get
// the first widget's behaviour; independent reward tiers are not supported.
func decide(c *cart.Cart, rewards, regular []cart.LineItem, widgets []Widget) Decision {
	ref, ok := reference(widgets)
	if !ok {
		return Decision{Action: ActionNone}
	}

	if c.IsEmpty() || len(regular) == 0 || c.TotalPrice < ref.Threshold {
		if len(rewards) == 0 {
			return Decision{Action: ActionNone}
		}
		keys := make([]string, 0, len(rewards))
		for _, li := range rewards {
			keys = append(keys, li.Key)
		}
		return Decision{Action: ActionRemove, Keys: keys}
	}

	if !thresholdReached(c.TotalPrice, widgets) || hasReward(rewards, ref.ProductID) {
		return Decision{Action: ActionNone}
	}
	return Decision{Action: ActionAdd, Variant: ref.ProductID}
}

// Progress is the rounded percentage of threshold reached, clamped to [0,100].
func Progress(subtotal, threshold int64) int {
	if threshold <= 0 {
		return 100
	}
	if subtotal <= 0 {
		return 0
	}
	p := (subtotal*200 + threshold) / (2 * threshold)
	if p > 100 {
		return 100
	}
	return int(p)
}

func roundTo5(pct int) int {
	return (pct*2 + 5) / 10 * 5
}

func reference(widgets []Widget) (Widget, bool) {
	for _, w := range widgets {
		if w.Configured() {
			return w, true
		}
	}
	return Widget{}, false
}

func thresholdReached(subtotal int64, widgets []Widget) bool {
	for _, w := range widgets {
		if w.Configured() && subtotal >= w.Threshold {
			return true
		}
	}
	return false
}

func hasReward(rewards []cart.LineItem, variant int64) bool {
	for _, li := range rewards {
		if li.Variant() == variant {
			return true
		}
	}
	return false
}
