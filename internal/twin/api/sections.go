package api

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/wondertwin-ai/samplecart/internal/cart"
	"github.com/wondertwin-ai/samplecart/internal/money"
)

// Section ids the twin can render.
const (
	SectionMainItems  = "main-cart-items"
	SectionMainFooter = "main-cart-footer"
	SectionIcon       = "cart-icon-bubble"
	SectionLiveRegion = "cart-live-region-text"
	SectionDrawer     = "cart-drawer"
)

var sectionTemplates = template.Must(template.New("sections").Parse(`
{{define "line"}}<tr class="cart-item" id="CartItem-{{.Index}}" data-key="{{.Key}}">
<td class="cart-item__details"><a class="cart-item__name">{{.Title}}</a>{{if .Sample}}<span class="cart-item__sample">Free sample</span>{{end}}</td>
<td class="cart-item__quantity"><quantity-input class="quantity"><input class="quantity__input" type="number" name="updates[]" value="{{.Quantity}}" data-index="{{.Index}}"></quantity-input>
<div class="cart-item__error" id="Line-item-error-{{.Index}}"><span class="cart-item__error-text"></span></div></td>
<td class="cart-item__totals"><span class="price">{{.LinePrice}}</span></td></tr>{{end}}

{{define "main-cart-items"}}<cart-items class="{{if .Empty}}is-empty{{end}}"><div class="js-contents">
{{if .Empty}}<p class="cart__empty-text">Your cart is empty</p>{{else}}<table class="cart-items"><tbody>{{range .Lines}}{{template "line" .}}{{end}}</tbody></table>{{end}}
</div></cart-items>{{end}}

{{define "main-cart-footer"}}<div class="cart__footer{{if .Empty}} is-empty{{end}}"><div class="js-contents">
<div class="totals"><h2 class="totals__total">Estimated total</h2><p class="totals__total-value">{{.Total}}</p></div>
</div></div>{{end}}

{{define "cart-icon-bubble"}}<a href="/cart" class="header__icon header__icon--cart" id="cart-icon-bubble">{{if .Count}}<div class="cart-count-bubble"><span aria-hidden="true">{{.Count}}</span><span class="visually-hidden">{{.Count}} items</span></div>{{end}}</a>{{end}}

{{define "cart-live-region-text"}}<p class="visually-hidden">New subtotal: {{.Total}}</p>{{end}}

{{define "cart-drawer"}}<cart-drawer class="drawer{{if .Empty}} is-empty{{end}}"><div class="drawer__inner">
<cart-drawer-items class="{{if .Empty}}is-empty{{end}}"><table class="cart-items"><tbody>{{range .Lines}}{{template "line" .}}{{end}}</tbody></table></cart-drawer-items>
<div class="cart-drawer__footer"><div class="totals"><p class="totals__total-value">{{.Total}}</p></div></div>
</div></cart-drawer>{{end}}
`))

// Sections renders cart sections for one store locale.
type Sections struct {
	money *money.Formatter
}

// NewSections creates a renderer that formats prices with f.
func NewSections(f *money.Formatter) *Sections {
	return &Sections{money: f}
}

type lineView struct {
	Index     int
	Key       string
	Title     string
	Quantity  int
	LinePrice string
	Sample    bool
}

type sectionView struct {
	Lines []lineView
	Total string
	Count int
	Empty bool
}

// Known reports whether id names a renderable section.
func (s *Sections) Known(id string) bool {
	return id != "line" && id != "sections" && sectionTemplates.Lookup(id) != nil
}

func (s *Sections) view(c *cart.Cart) sectionView {
	v := sectionView{
		Total: s.money.Format(c.TotalPrice),
		Count: c.ItemCount,
		Empty: c.ItemCount == 0,
	}
	for i, li := range c.Items {
		v.Lines = append(v.Lines, lineView{
			Index:     i + 1,
			Key:       li.Key,
			Title:     li.Title,
			Quantity:  li.Quantity,
			LinePrice: s.money.Format(li.LinePrice),
			Sample:    li.IsReward(),
		})
	}
	return v
}

// Render renders one section wrapped the way the storefront delivers it.
func (s *Sections) Render(id string, c *cart.Cart) (string, error) {
	if !s.Known(id) {
		return "", fmt.Errorf("unknown section %q", id)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<div id="shopify-section-%s" class="shopify-section">`, template.HTMLEscapeString(id))
	if err := sectionTemplates.ExecuteTemplate(&buf, id, s.view(c)); err != nil {
		return "", fmt.Errorf("rendering section %s: %w", id, err)
	}
	buf.WriteString(`</div>`)
	return buf.String(), nil
}

// RenderAll renders the known ids into a map. Unknown ids map to nothing,
// as the storefront returns null for them.
func (s *Sections) RenderAll(ids []string, c *cart.Cart) (map[string]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if !s.Known(id) {
			continue
		}
		html, err := s.Render(id, c)
		if err != nil {
			return nil, err
		}
		out[id] = html
	}
	return out, nil
}
