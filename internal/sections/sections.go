// Package sections turns server-rendered section HTML into the fragments the
// page swaps in after a cart mutation.
package sections

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/wondertwin-ai/samplecart/internal/ui"
)

// Spec names one section to request and where its fragment goes.
type Spec struct {
	// ID is the page element that receives the fragment.
	ID string `yaml:"id" json:"id"`
	// Section is the section id sent to the cart API.
	Section string `yaml:"section" json:"section"`
	// Selector picks the fragment inside the rendered section.
	Selector string `yaml:"selector" json:"selector"`
}

// Defaults returns the standard cart page sections. The main items and
// footer section ids vary per template.
func Defaults(mainItems, mainFooter string) []Spec {
	if mainItems == "" {
		mainItems = "main-cart-items"
	}
	if mainFooter == "" {
		mainFooter = "main-cart-footer"
	}
	return []Spec{
		{ID: "main-cart-items", Section: mainItems, Selector: ".js-contents"},
		{ID: "cart-icon-bubble", Section: "cart-icon-bubble", Selector: ".shopify-section"},
		{ID: "cart-live-region-text", Section: "cart-live-region-text", Selector: ".shopify-section"},
		{ID: "main-cart-footer", Section: mainFooter, Selector: ".js-contents"},
	}
}

// IDs returns the section ids to request.
func IDs(specs []Spec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Section)
	}
	return out
}

// ErrNoMatch is returned when a selector matches nothing in a section.
var ErrNoMatch = errors.New("selector matched nothing")

// Render builds one RenderSection command per spec whose section was
// returned. Sections that are missing are skipped; fragments that cannot be
// extracted are reported in the joined error and skipped.
func Render(specs []Spec, rendered map[string]string) ([]ui.Command, error) {
	var cmds []ui.Command
	var errs []error
	for _, s := range specs {
		src, ok := rendered[s.Section]
		if !ok || src == "" {
			continue
		}
		inner, err := InnerHTML(src, s.Selector)
		if err != nil {
			errs = append(errs, fmt.Errorf("section %s: %w", s.Section, err))
			continue
		}
		cmds = append(cmds, ui.RenderSection(s.ID, inner))
	}
	return cmds, errors.Join(errs...)
}

// InnerHTML parses doc and returns the inner HTML of the first element
// matching the CSS selector.
func InnerHTML(doc, selector string) (string, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return "", fmt.Errorf("selector %q: %w", selector, err)
	}
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parsing section: %w", err)
	}
	n := sel.MatchFirst(root)
	if n == nil {
		return "", fmt.Errorf("%w: %q", ErrNoMatch, selector)
	}
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("rendering fragment: %w", err)
		}
	}
	return buf.String(), nil
}
