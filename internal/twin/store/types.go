package store

import (
	"fmt"
	"net/http"
	"time"
)

// Product is a catalog product. TemplateSuffix "sample" marks reward products.
type Product struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Handle         string `json:"handle"`
	TemplateSuffix string `json:"template_suffix,omitempty"`
}

// Variant is a purchasable variant. Inventory < 0 means untracked.
type Variant struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Title     string `json:"title"`
	Price     int64  `json:"price"`
	Inventory int    `json:"inventory"`
}

// Line is one stored cart line.
type Line struct {
	Key        string            `json:"key"`
	VariantID  int64             `json:"variant_id"`
	Quantity   int               `json:"quantity"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Cart is a stored cart, keyed by its token. ID is the sequential id
// webhooks carry.
type Cart struct {
	ID         string            `json:"id"`
	Token      string            `json:"token"`
	Note       string            `json:"note"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Lines      []Line            `json:"lines"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// AddLine is one requested addition.
type AddLine struct {
	VariantID  int64
	Quantity   int
	Properties map[string]string
}

// LineRef selects a line for a change: a 1-based index, a line key or a
// variant id, in that order of precedence.
type LineRef struct {
	Index     int
	Key       string
	VariantID int64
}

// Error is a cart API failure. Short errors use the {"status","errors"}
// envelope the change endpoint answers with; the rest use the
// {"status","message","description"} envelope.
type Error struct {
	Status      int
	Description string
	Short       bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("cart error %d: %s", e.Status, e.Description)
}

func errUnknownVariant() *Error {
	return &Error{Status: http.StatusNotFound, Description: "Cannot find variant"}
}

func errSoldOut(title string) *Error {
	return &Error{Status: http.StatusUnprocessableEntity, Description: fmt.Sprintf("The product '%s' is already sold out.", title)}
}

func errNotEnough(title string, available int) *Error {
	return &Error{Status: http.StatusUnprocessableEntity, Description: fmt.Sprintf("You can only add %d %s to the cart.", available, title)}
}

func errMissingItems() *Error {
	return &Error{Status: http.StatusBadRequest, Description: "Required parameter missing or invalid: items"}
}

func errInvalidLine() *Error {
	return &Error{Status: http.StatusBadRequest, Description: "no valid id or line parameter", Short: true}
}

func errInvalidQuantity() *Error {
	return &Error{Status: http.StatusBadRequest, Description: "quantity must be zero or more", Short: true}
}
