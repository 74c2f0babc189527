// Package cart models the storefront cart payload returned by the cart API
// (cart.js, add.js, change.js, update.js) and the rules that classify its
// line items.
package cart

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
)

// Reward classification markers. A line item is a reward item when its product
// uses the reserved template suffix or it carries the reward property.
const (
	RewardTemplateSuffix = "sample"
	RewardPropertyKey    = "free_sample"
	RewardPropertyValue  = "true"
)

// Product is the subset of product data the cart API embeds in a line item.
type Product struct {
	ID             int64  `json:"id,omitempty"`
	Title          string `json:"title,omitempty"`
	TemplateSuffix string `json:"template_suffix,omitempty"`
}

// Properties are the free-form line item properties. The cart API may send
// null, strings, numbers or booleans; everything is kept as its string form.
type Properties map[string]string

// UnmarshalJSON accepts null and non-string scalar values.
func (p *Properties) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = nil
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding line item properties: %w", err)
	}
	out := make(Properties, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case nil:
			continue
		case string:
			out[k] = tv
		case bool:
			out[k] = strconv.FormatBool(tv)
		case float64:
			out[k] = strconv.FormatFloat(tv, 'f', -1, 64)
		default:
			b, err := json.Marshal(tv)
			if err != nil {
				return fmt.Errorf("decoding property %q: %w", k, err)
			}
			out[k] = string(b)
		}
	}
	*p = out
	return nil
}

// LineItem is one line of the cart.
type LineItem struct {
	Key        string     `json:"key"`
	ID         int64      `json:"id"`
	VariantID  int64      `json:"variant_id"`
	ProductID  int64      `json:"product_id"`
	Title      string     `json:"title"`
	Quantity   int        `json:"quantity"`
	Price      int64      `json:"price"`
	LinePrice  int64      `json:"line_price"`
	Properties Properties `json:"properties"`
	Product    *Product   `json:"product,omitempty"`
}

// TemplateSuffix returns the product template classifier, or "" when the
// cart API did not embed product data.
func (li LineItem) TemplateSuffix() string {
	if li.Product == nil {
		return ""
	}
	return li.Product.TemplateSuffix
}

// IsReward reports whether the line is a free sample.
func (li LineItem) IsReward() bool {
	if li.TemplateSuffix() == RewardTemplateSuffix {
		return true
	}
	return li.Properties[RewardPropertyKey] == RewardPropertyValue
}

// Variant returns the variant identifier of the line. Older payloads only
// carry id, newer ones carry both.
func (li LineItem) Variant() int64 {
	if li.VariantID != 0 {
		return li.VariantID
	}
	return li.ID
}

// Cart is the full cart state. Sections is only populated on responses to
// mutating calls that requested rendered sections.
type Cart struct {
	Token              string            `json:"token"`
	Note               string            `json:"note"`
	Attributes         map[string]string `json:"attributes,omitempty"`
	Currency           string            `json:"currency"`
	TotalPrice         int64             `json:"total_price"`
	ItemsSubtotalPrice int64             `json:"items_subtotal_price"`
	ItemCount          int               `json:"item_count"`
	Items              []LineItem        `json:"items"`
	Sections           map[string]string `json:"sections,omitempty"`
}

// Parse decodes a cart payload.
func Parse(data []byte) (*Cart, error) {
	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing cart: %w", err)
	}
	return &c, nil
}

// Line returns the 1-based line, matching the cart API's line numbering.
func (c *Cart) Line(n int) (LineItem, bool) {
	if c == nil || n < 1 || n > len(c.Items) {
		return LineItem{}, false
	}
	return c.Items[n-1], true
}

// Partition splits the items into reward and regular lines, preserving order.
func (c *Cart) Partition() (rewards, regular []LineItem) {
	if c == nil {
		return nil, nil
	}
	for _, li := range c.Items {
		if li.IsReward() {
			rewards = append(rewards, li)
		} else {
			regular = append(regular, li)
		}
	}
	return rewards, regular
}

// IsEmpty reports whether the cart holds no units at all.
func (c *Cart) IsEmpty() bool {
	return c == nil || c.ItemCount == 0
}

// WithLines returns a copy of c with lines applied by key: a known key takes
// the new line, an unknown key is appended. Counts and totals follow the
// difference. Sections are not carried over.
func (c *Cart) WithLines(lines []LineItem) *Cart {
	next := *c
	next.Items = slices.Clone(c.Items)
	next.Sections = nil
	for _, li := range lines {
		i := slices.IndexFunc(next.Items, func(cur LineItem) bool { return cur.Key == li.Key })
		var prev LineItem
		if i < 0 {
			next.Items = append(next.Items, li)
		} else {
			prev = next.Items[i]
			next.Items[i] = li
		}
		next.ItemCount += li.Quantity - prev.Quantity
		next.TotalPrice += li.LinePrice - prev.LinePrice
		next.ItemsSubtotalPrice += li.LinePrice - prev.LinePrice
	}
	return &next
}
