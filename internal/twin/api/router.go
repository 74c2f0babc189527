// Package api implements the storefront AJAX cart API of the twin.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wondertwin-ai/samplecart/internal/cart"
	"github.com/wondertwin-ai/samplecart/internal/twin/store"
	"github.com/wondertwin-ai/samplecart/pkg/twincore"
	"github.com/wondertwin-ai/samplecart/pkg/webhook"
)

// Webhook topics.
const (
	TopicCartCreate = "carts/create"
	TopicCartUpdate = "carts/update"
)

// Handler holds all API handler state.
type Handler struct {
	store      *store.MemoryStore
	dispatcher *webhook.Dispatcher
	mw         *twincore.Middleware
	tokens     *TokenIssuer
	sections   *Sections
	logger     *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s *store.MemoryStore, d *webhook.Dispatcher, mw *twincore.Middleware, tokens *TokenIssuer, sections *Sections, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: s, dispatcher: d, mw: mw, tokens: tokens, sections: sections, logger: logger}
}

// Routes mounts the cart API routes. Every mutating endpoint answers both
// with and without the .js suffix.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RateLimit(cartCookie))
		// Fault injection for cart routes only (not admin)
		r.Use(h.mw.FaultInjection)

		r.Get("/cart.js", h.GetCart)
		r.Get("/cart.json", h.GetCart)
		r.Get("/cart", h.GetCartPage)

		for _, suffix := range []string{"", ".js"} {
			r.With(h.mw.Idempotency).Post("/cart/add"+suffix, h.AddToCart)
			r.Post("/cart/change"+suffix, h.ChangeLine)
			r.Post("/cart/update"+suffix, h.UpdateCart)
			r.Post("/cart/clear"+suffix, h.ClearCart)
		}
	})
}

func cartCookie(r *http.Request) string {
	if ck, err := r.Cookie(cookieName); err == nil {
		return ck.Value
	}
	return ""
}

// cartToken returns the cart the request belongs to, issuing a new cart
// cookie when the request has none or it is invalid or expired.
func (h *Handler) cartToken(w http.ResponseWriter, r *http.Request) (string, error) {
	if v := cartCookie(r); v != "" {
		tok, err := h.tokens.Parse(v)
		if err == nil {
			return tok, nil
		}
		h.logger.Debug("discarding cart cookie", "err", err)
	}
	tok := store.NewToken()
	ck, err := h.tokens.cookie(tok)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, ck)
	return tok, nil
}

// view returns the payload for the cart under token; unknown carts are empty.
func (h *Handler) view(token string) *cart.Cart {
	c, ok := h.store.Cart(token)
	if !ok {
		c = store.Cart{Token: token}
	}
	return h.store.View(c)
}

// writeErr writes store errors in their cart API envelope.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	var ce *store.Error
	if !errors.As(err, &ce) {
		h.logger.Error("cart request failed", "err", err)
		twincore.CartError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	if ce.Short {
		twincore.CartErrors(w, ce.Status, ce.Description)
		return
	}
	twincore.CartError(w, ce.Status, ce.Description)
}

// cartWebhook is the carts/* webhook body.
type cartWebhook struct {
	ID        string          `json:"id"`
	Token     string          `json:"token"`
	Note      string          `json:"note"`
	LineItems []cart.LineItem `json:"line_items"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (h *Handler) notify(res store.Result) {
	if h.dispatcher == nil {
		return
	}
	topic := TopicCartUpdate
	if res.Created {
		topic = TopicCartCreate
	}
	v := h.store.View(res.Cart)
	h.dispatcher.Enqueue(topic, cartWebhook{
		ID:        res.Cart.ID,
		Token:     res.Cart.Token,
		Note:      res.Cart.Note,
		LineItems: v.Items,
		CreatedAt: res.Cart.CreatedAt,
		UpdatedAt: res.Cart.UpdatedAt,
	})
}
