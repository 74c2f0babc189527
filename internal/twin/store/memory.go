// Package store holds the cart API twin's state: the product catalog and the
// carts, keyed by cart token.
package store

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/wondertwin-ai/samplecart/internal/cart"
	pkgstore "github.com/wondertwin-ai/samplecart/pkg/store"
)

// MemoryStore holds all twin state in memory.
type MemoryStore struct {
	Products *pkgstore.Store[Product]
	Variants *pkgstore.Store[Variant]
	Carts    *pkgstore.Store[Cart]

	Clock    *pkgstore.Clock
	currency string
}

// New creates a store seeded with the default catalog. Carts are priced in
// currency (ISO 4217).
func New(currency string) *MemoryStore {
	if currency == "" {
		currency = "USD"
	}
	s := &MemoryStore{
		Products: pkgstore.New[Product]("prod"),
		Variants: pkgstore.New[Variant]("var"),
		Carts:    pkgstore.New[Cart]("cart"),
		Clock:    pkgstore.NewClock(),
		currency: currency,
	}
	s.seed()
	return s
}

func idKey(id int64) string { return strconv.FormatInt(id, 10) }

// Seed catalog ids, stable so fixtures and tests can refer to them.
const (
	SerumVariant     int64 = 1001
	CreamVariant     int64 = 1002
	BalmVariant      int64 = 1003
	SoldOutVariant   int64 = 1004
	SampleVariant    int64 = 4242
	SampleProductID  int64 = 404
	defaultInventory       = 100
)

func (s *MemoryStore) seed() {
	products := []Product{
		{ID: 101, Title: "Hydrating Serum", Handle: "hydrating-serum"},
		{ID: 102, Title: "Night Cream", Handle: "night-cream"},
		{ID: 103, Title: "Lip Balm", Handle: "lip-balm"},
		{ID: 104, Title: "Clay Mask", Handle: "clay-mask"},
		{ID: SampleProductID, Title: "Travel Size Sample", Handle: "travel-size-sample", TemplateSuffix: cart.RewardTemplateSuffix},
	}
	variants := []Variant{
		{ID: SerumVariant, ProductID: 101, Title: "Default Title", Price: 2500, Inventory: defaultInventory},
		{ID: CreamVariant, ProductID: 102, Title: "50 ml", Price: 4000, Inventory: 5},
		{ID: BalmVariant, ProductID: 103, Title: "Default Title", Price: 800, Inventory: -1},
		{ID: SoldOutVariant, ProductID: 104, Title: "Default Title", Price: 3200, Inventory: 0},
		{ID: SampleVariant, ProductID: SampleProductID, Title: "Default Title", Price: 0, Inventory: 1000},
	}
	for _, p := range products {
		s.Products.Set(idKey(p.ID), p)
	}
	for _, v := range variants {
		s.Variants.Set(idKey(v.ID), v)
	}
}

// Currency returns the ISO code carts are priced in.
func (s *MemoryStore) Currency() string { return s.currency }

// Variant looks up a variant and its product.
func (s *MemoryStore) Variant(id int64) (Variant, Product, bool) {
	v, ok := s.Variants.Get(idKey(id))
	if !ok {
		return Variant{}, Product{}, false
	}
	p, _ := s.Products.Get(idKey(v.ProductID))
	return v, p, true
}

// NewToken returns a fresh cart token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newLineKey(variantID int64) string {
	return fmt.Sprintf("%d:%s", variantID, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Cart returns the stored cart for token.
func (s *MemoryStore) Cart(token string) (Cart, bool) {
	return s.Carts.Get(token)
}

// Result is the outcome of a cart mutation.
type Result struct {
	Cart Cart
	// Added holds the lines an add touched, with their resulting quantities.
	Added []Line
	// Created is set when the mutation created the cart.
	Created bool
}

// mutate applies fn to a private copy of the cart under token, creating it
// when absent. Nothing is stored when fn fails.
func (s *MemoryStore) mutate(token string, fn func(c *Cart) error) (Result, error) {
	var created bool
	c, err := s.Carts.Update(token, func(c Cart, exists bool) (Cart, error) {
		now := s.Clock.Now()
		if !exists {
			c = Cart{ID: s.Carts.NextID(), Token: token, CreatedAt: now}
			created = true
		}
		c.Lines = slices.Clone(c.Lines)
		c.Attributes = maps.Clone(c.Attributes)
		if err := fn(&c); err != nil {
			return c, err
		}
		c.Lines = slices.DeleteFunc(c.Lines, func(l Line) bool { return l.Quantity <= 0 })
		c.UpdatedAt = now
		return c, nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Cart: c, Created: created}, nil
}

// reserved returns how many units of variant the cart holds, skipping the
// line at index skip (-1 for none).
func reserved(c *Cart, variant int64, skip int) int {
	n := 0
	for i, l := range c.Lines {
		if i != skip && l.VariantID == variant {
			n += l.Quantity
		}
	}
	return n
}

// addLocked adds one line to c, merging with a line of the same variant and
// identical properties. It returns the index of the touched line.
func (s *MemoryStore) addLocked(c *Cart, add AddLine) (int, error) {
	if add.Quantity < 0 {
		return -1, errInvalidQuantity()
	}
	v, p, ok := s.Variant(add.VariantID)
	if !ok {
		return -1, errUnknownVariant()
	}
	if v.Inventory >= 0 {
		if v.Inventory == 0 {
			return -1, errSoldOut(p.Title)
		}
		if reserved(c, v.ID, -1)+add.Quantity > v.Inventory {
			return -1, errNotEnough(p.Title, v.Inventory)
		}
	}
	props := add.Properties
	if len(props) == 0 {
		props = nil
	}
	for i, l := range c.Lines {
		if l.VariantID == v.ID && maps.Equal(l.Properties, props) {
			c.Lines[i].Quantity += add.Quantity
			return i, nil
		}
	}
	c.Lines = append(c.Lines, Line{
		Key:        newLineKey(v.ID),
		VariantID:  v.ID,
		Quantity:   add.Quantity,
		Properties: maps.Clone(props),
	})
	return len(c.Lines) - 1, nil
}

// Add adds lines to the cart in one step; any failing line rejects the whole
// add. A zero quantity is treated as one.
func (s *MemoryStore) Add(token string, lines []AddLine) (Result, error) {
	if len(lines) == 0 {
		return Result{}, errMissingItems()
	}
	var touched []int
	res, err := s.mutate(token, func(c *Cart) error {
		for _, add := range lines {
			if add.Quantity == 0 {
				add.Quantity = 1
			}
			i, err := s.addLocked(c, add)
			if err != nil {
				return err
			}
			if !slices.Contains(touched, i) {
				touched = append(touched, i)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	for _, i := range touched {
		res.Added = append(res.Added, res.Cart.Lines[i])
	}
	return res, nil
}

func findLine(c *Cart, ref LineRef) int {
	switch {
	case ref.Index > 0:
		if ref.Index <= len(c.Lines) {
			return ref.Index - 1
		}
	case ref.Key != "":
		for i, l := range c.Lines {
			if l.Key == ref.Key {
				return i
			}
		}
	case ref.VariantID != 0:
		for i, l := range c.Lines {
			if l.VariantID == ref.VariantID {
				return i
			}
		}
	}
	return -1
}

// setQuantityLocked sets line i to quantity, clamped to what inventory allows
// after the cart's other lines of the same variant.
func (s *MemoryStore) setQuantityLocked(c *Cart, i, quantity int) {
	l := c.Lines[i]
	if v, _, ok := s.Variant(l.VariantID); ok && v.Inventory >= 0 {
		if avail := v.Inventory - reserved(c, l.VariantID, i); quantity > avail {
			quantity = max(avail, 0)
		}
	}
	c.Lines[i].Quantity = quantity
}

// Change sets the quantity of one line. Quantity 0 removes the line; larger
// quantities than inventory allows are clamped.
func (s *MemoryStore) Change(token string, ref LineRef, quantity int) (Result, error) {
	if quantity < 0 {
		return Result{}, errInvalidQuantity()
	}
	return s.mutate(token, func(c *Cart) error {
		i := findLine(c, ref)
		if i < 0 {
			return errInvalidLine()
		}
		s.setQuantityLocked(c, i, quantity)
		return nil
	})
}

// Update describes a bulk update. Updates is keyed by line key or variant id;
// ByIndex sets quantities positionally.
type Update struct {
	Updates    map[string]int
	ByIndex    []int
	Note       *string
	Attributes map[string]string
}

// Update applies a bulk update. Variant ids not in the cart are added.
func (s *MemoryStore) Update(token string, u Update) (Result, error) {
	return s.mutate(token, func(c *Cart) error {
		for i, q := range u.ByIndex {
			if i >= len(c.Lines) {
				break
			}
			if q < 0 {
				return errInvalidQuantity()
			}
			s.setQuantityLocked(c, i, q)
		}
		keys := slices.Sorted(maps.Keys(u.Updates))
		for _, k := range keys {
			q := u.Updates[k]
			if q < 0 {
				return errInvalidQuantity()
			}
			if i := findLine(c, LineRef{Key: k}); i >= 0 {
				s.setQuantityLocked(c, i, q)
				continue
			}
			id, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				return errInvalidLine()
			}
			if i := findLine(c, LineRef{VariantID: id}); i >= 0 {
				s.setQuantityLocked(c, i, q)
				continue
			}
			if q > 0 {
				if _, err := s.addLocked(c, AddLine{VariantID: id, Quantity: q}); err != nil {
					return err
				}
			}
		}
		if u.Note != nil {
			c.Note = *u.Note
		}
		for k, v := range u.Attributes {
			if c.Attributes == nil {
				c.Attributes = make(map[string]string)
			}
			if v == "" {
				delete(c.Attributes, k)
			} else {
				c.Attributes[k] = v
			}
		}
		return nil
	})
}

// Clear removes every line, keeping note and attributes.
func (s *MemoryStore) Clear(token string) (Result, error) {
	return s.mutate(token, func(c *Cart) error {
		c.Lines = nil
		return nil
	})
}

// LineItem renders a stored line the way the cart API returns it.
func (s *MemoryStore) LineItem(l Line) cart.LineItem {
	li := cart.LineItem{
		Key:        l.Key,
		ID:         l.VariantID,
		VariantID:  l.VariantID,
		Quantity:   l.Quantity,
		Properties: cart.Properties(maps.Clone(l.Properties)),
	}
	v, p, ok := s.Variant(l.VariantID)
	if !ok {
		li.Title = "Unavailable product"
		return li
	}
	li.ProductID = v.ProductID
	li.Title = p.Title
	if v.Title != "" && v.Title != "Default Title" {
		li.Title += " - " + v.Title
	}
	li.Price = v.Price
	li.LinePrice = v.Price * int64(l.Quantity)
	li.Product = &cart.Product{ID: p.ID, Title: p.Title, TemplateSuffix: p.TemplateSuffix}
	return li
}

// View renders a stored cart as the cart API payload.
func (s *MemoryStore) View(c Cart) *cart.Cart {
	out := &cart.Cart{
		Token:      c.Token,
		Note:       c.Note,
		Attributes: maps.Clone(c.Attributes),
		Currency:   s.currency,
		Items:      make([]cart.LineItem, 0, len(c.Lines)),
	}
	for _, l := range c.Lines {
		li := s.LineItem(l)
		out.Items = append(out.Items, li)
		out.TotalPrice += li.LinePrice
		out.ItemCount += li.Quantity
	}
	out.ItemsSubtotalPrice = out.TotalPrice
	return out
}

// stateSnapshot is the JSON-serializable state for admin endpoints.
type stateSnapshot struct {
	Products map[string]Product `json:"products,omitempty"`
	Variants map[string]Variant `json:"variants,omitempty"`
	Carts    map[string]Cart    `json:"carts"`
}

// Snapshot returns the full state as a JSON-serializable value.
func (s *MemoryStore) Snapshot() any {
	return stateSnapshot{
		Products: s.Products.Snapshot(),
		Variants: s.Variants.Snapshot(),
		Carts:    s.Carts.Snapshot(),
	}
}

// LoadState replaces the carts, and the catalog when the body carries one.
func (s *MemoryStore) LoadState(data []byte) error {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	for k, v := range snap.Variants {
		if v.ID == 0 || idKey(v.ID) != k {
			return fmt.Errorf("variant %q: id must match its key", k)
		}
	}
	if snap.Products != nil {
		s.Products.LoadSnapshot(snap.Products)
	}
	if snap.Variants != nil {
		s.Variants.LoadSnapshot(snap.Variants)
	}
	s.Carts.LoadSnapshot(snap.Carts)
	return nil
}

// Reset clears all carts and restores the seed catalog.
func (s *MemoryStore) Reset() {
	s.Carts.Reset()
	s.Products.Reset()
	s.Variants.Reset()
	s.Clock.Reset()
	s.seed()
}
