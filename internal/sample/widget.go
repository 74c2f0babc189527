// Package sample implements the free sample reward flow: deciding, from the
// cart and the sample widgets on a page, what each widget shows and whether
// the reward line must be added to or removed from the cart.
package sample

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default widget messages. [amount] is replaced by the remaining amount.
const (
	DefaultProgressMessage = "Add [amount] more to get a free sample!"
	DefaultSuccessMessage  = "🎉 Congratulations! Free sample unlocked!"
	AmountPlaceholder      = "[amount]"
)

// Widget describes one free sample widget on the page.
type Widget struct {
	ID string `yaml:"id" json:"id"`
	// Threshold is the subtotal, in minor units, that unlocks the reward.
	Threshold int64 `yaml:"threshold" json:"threshold"`
	// ProductID is the reward variant added to the cart.
	ProductID int64 `yaml:"product_id" json:"product_id"`
	// Currency optionally overrides the display currency (ISO code).
	Currency        string `yaml:"currency,omitempty" json:"currency,omitempty"`
	ProgressMessage string `yaml:"progress_message,omitempty" json:"progress_message,omitempty"`
	SuccessMessage  string `yaml:"success_message,omitempty" json:"success_message,omitempty"`
}

// Configured reports whether the widget takes part in the flow. Widgets
// without a reward product or a positive threshold are ignored.
func (w Widget) Configured() bool {
	return w.ProductID != 0 && w.Threshold > 0
}

func (w Widget) progressMessage() string {
	if w.ProgressMessage == "" {
		return DefaultProgressMessage
	}
	return w.ProgressMessage
}

func (w Widget) successMessage() string {
	if w.SuccessMessage == "" {
		return DefaultSuccessMessage
	}
	return w.SuccessMessage
}

// WidgetSource yields the widgets currently on the page. It is consulted on
// every check so configuration changes apply without a restart.
type WidgetSource interface {
	Widgets(ctx context.Context) ([]Widget, error)
}

// Static is a fixed widget list.
type Static []Widget

func (s Static) Widgets(context.Context) ([]Widget, error) {
	out := make([]Widget, len(s))
	copy(out, s)
	return out, nil
}

// FileSource reads widgets from a YAML file on every call.
type FileSource struct {
	Path string
}

type widgetFile struct {
	Widgets []Widget `yaml:"widgets"`
}

func (f FileSource) Widgets(context.Context) ([]Widget, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading widgets %s: %w", f.Path, err)
	}
	var wf widgetFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing widgets %s: %w", f.Path, err)
	}
	return wf.Widgets, nil
}
