package storefront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wondertwin-ai/samplecart/internal/cart"
	"github.com/wondertwin-ai/samplecart/internal/cartapi"
	"github.com/wondertwin-ai/samplecart/internal/events"
	"github.com/wondertwin-ai/samplecart/internal/sample"
	"github.com/wondertwin-ai/samplecart/internal/ui"
)

// ProductForm adds products to the cart from outside the line list.
type ProductForm struct {
	API       API
	Syncer    *sample.Syncer
	Bus       *events.Bus
	Presenter ui.Presenter
	Strings   Strings
	Logger    *slog.Logger
}

// Add adds quantity units of variant, runs the free sample check and tells
// the rest of the page the cart changed.
func (f *ProductForm) Add(ctx context.Context, variant int64, quantity int) (*cart.Cart, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("add variant %d: quantity %d must be positive", variant, quantity)
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	presenter := f.Presenter
	if presenter == nil {
		presenter = ui.Discard
	}

	state, err := f.API.Add(ctx, cartapi.AddItem{ID: variant, Quantity: quantity})
	if err != nil {
		logger.Error("adding to cart", "err", err, "variant", variant)
		msg := f.Strings.withDefaults().Error
		var apiErr *cartapi.APIError
		if errors.As(err, &apiErr) {
			msg = apiErr.UserMessage()
		}
		presenter.Apply(ui.CartError(msg))
		return nil, err
	}
	if f.Syncer != nil {
		if res := f.Syncer.Check(ctx, state); res.Cart != nil {
			state = res.Cart
		}
	}
	if f.Bus != nil {
		f.Bus.Publish(events.CartUpdate{Source: events.SourceProductForm, Cart: state, VariantID: variant})
	}
	return state, nil
}

// Note is the cart note field.
type Note struct {
	API    API
	Logger *slog.Logger
}

// Update saves the note. Notes do not affect the free sample reward, so no
// check follows.
func (n *Note) Update(ctx context.Context, text string) error {
	if err := n.API.Note(ctx, text); err != nil {
		logger := n.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("updating cart note", "err", err)
		return err
	}
	return nil
}
