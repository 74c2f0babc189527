// Package cartapi is a client for the storefront AJAX cart API: cart.js,
// add, change, update and section rendering.
package cartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/wondertwin-ai/samplecart/internal/cart"
)

// Routes are the cart endpoints, relative to the base URL. Stores can mount
// them under a locale prefix, so they are configuration, not constants.
type Routes struct {
	Root   string `yaml:"root"`
	Cart   string `yaml:"cart"`
	Add    string `yaml:"add"`
	Change string `yaml:"change"`
	Update string `yaml:"update"`
}

// DefaultRoutes match a store served at the domain root.
var DefaultRoutes = Routes{
	Root:   "/",
	Cart:   "/cart",
	Add:    "/cart/add",
	Change: "/cart/change",
	Update: "/cart/update",
}

func (r Routes) withDefaults() Routes {
	if r.Root == "" {
		r.Root = DefaultRoutes.Root
	}
	if r.Cart == "" {
		r.Cart = DefaultRoutes.Cart
	}
	if r.Add == "" {
		r.Add = DefaultRoutes.Add
	}
	if r.Change == "" {
		r.Change = DefaultRoutes.Change
	}
	if r.Update == "" {
		r.Update = DefaultRoutes.Update
	}
	return r
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Routes  Routes
	// Sections are the section ids requested with every mutating call.
	Sections []string
	// SectionsURL is the page path the sections are rendered for.
	SectionsURL string
	// RateLimit throttles outbound requests; 0 disables throttling.
	RateLimit rate.Limit
	Burst     int
	// HTTPClient defaults to a client with a cookie jar, so the cart cookie
	// sticks across calls.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to one store's cart API on behalf of one cart (cookie jar).
// It is safe for concurrent use.
type Client struct {
	base        *url.URL
	routes      Routes
	sections    []string
	sectionsURL string
	http        *http.Client
	limiter     *rate.Limiter
	flight      singleflight.Group
	logger      *slog.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		hc = &http.Client{Jar: jar, Timeout: 15 * time.Second}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sectionsURL := cfg.SectionsURL
	if sectionsURL == "" {
		sectionsURL = "/cart"
	}

	return &Client{
		base:        base,
		routes:      cfg.Routes.withDefaults(),
		sections:    cfg.Sections,
		sectionsURL: sectionsURL,
		http:        hc,
		limiter:     limiter,
		logger:      logger,
	}, nil
}

// Sections returns the section ids requested with mutating calls.
func (c *Client) Sections() []string {
	return c.sections
}

// AddItem is one line to add.
type AddItem struct {
	ID         int64             `json:"id"`
	Quantity   int               `json:"quantity"`
	Properties map[string]string `json:"properties,omitempty"`
}

type mutation struct {
	Line        int               `json:"line,omitempty"`
	Quantity    *int              `json:"quantity,omitempty"`
	Items       []AddItem         `json:"items,omitempty"`
	Updates     map[string]int    `json:"updates,omitempty"`
	Note        *string           `json:"note,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Sections    []string          `json:"sections,omitempty"`
	SectionsURL string            `json:"sections_url,omitempty"`
}

// Cart fetches the current cart. Concurrent callers share one request; the
// returned cart must be treated as read-only. The shared request outlives a
// caller that gives up; each caller only waits as long as its own ctx.
func (c *Client) Cart(ctx context.Context) (*cart.Cart, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.flight.DoChan("cart", func() (any, error) {
		body, err := c.do(shared, http.MethodGet, c.path(c.routes.Root, "cart.js"), nil)
		if err != nil {
			return nil, err
		}
		return decodeCart(body)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("cart api cart.js: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cart.Cart), nil
	}
}

// Change sets the quantity of a 1-based line. Quantity 0 removes it.
func (c *Client) Change(ctx context.Context, line, quantity int) (*cart.Cart, error) {
	if line < 1 {
		return nil, fmt.Errorf("line must be 1-based, got %d", line)
	}
	q := quantity
	return c.mutate(ctx, c.routes.Change, mutation{Line: line, Quantity: &q})
}

// Add adds items in one call. The add endpoint answers with the added lines
// only, so the full cart is fetched afterwards and carries the sections the
// add rendered. When that fetch fails the add has still happened and the
// error is a *RefreshError.
func (c *Client) Add(ctx context.Context, items ...AddItem) (*cart.Cart, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("add: no items")
	}
	added, err := c.mutate(ctx, c.routes.Add, mutation{Items: items})
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodGet, c.path(c.routes.Root, "cart.js"), nil)
	if err != nil {
		return nil, &RefreshError{Added: added, Err: err}
	}
	full, err := decodeCart(body)
	if err != nil {
		return nil, &RefreshError{Added: added, Err: err}
	}
	full.Sections = added.Sections
	return full, nil
}

// Update sets quantities by line key in one call.
func (c *Client) Update(ctx context.Context, updates map[string]int) (*cart.Cart, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("update: no updates")
	}
	return c.mutate(ctx, c.routes.Update, mutation{Updates: updates})
}

// Note replaces the cart note. The response is only checked for errors.
func (c *Client) Note(ctx context.Context, note string) error {
	body, err := json.Marshal(mutation{Note: &note})
	if err != nil {
		return fmt.Errorf("encoding note: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, c.path(c.routes.Update, ""), body)
	if err != nil {
		return err
	}
	return checkPayload(resp)
}

// RenderSection fetches one rendered section as HTML.
func (c *Client) RenderSection(ctx context.Context, sectionID string) (string, error) {
	p := c.path(c.routes.Cart, "") + "?section_id=" + url.QueryEscape(sectionID)
	body, err := c.do(ctx, http.MethodGet, p, nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) mutate(ctx context.Context, route string, m mutation) (*cart.Cart, error) {
	m.Sections = c.sections
	m.SectionsURL = c.sectionsURL
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, c.path(route, ""), body)
	if err != nil {
		return nil, err
	}
	return decodeCart(resp)
}

func (c *Client) path(route, leaf string) string {
	if leaf == "" {
		return route
	}
	return strings.TrimRight(route, "/") + "/" + leaf
}

// do performs the request and returns the body. Non-2xx responses become
// *APIError; transport failures are wrapped.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("cart api %s: %w", path, err)
		}
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return nil, fmt.Errorf("cart api %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cart api %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cart api %s: reading response: %w", path, err)
	}
	c.logger.Debug("cart api",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if apiErr := parseAPIError(data); apiErr != nil {
			apiErr.HTTPStatus = resp.StatusCode
			return nil, apiErr
		}
		return nil, &APIError{
			HTTPStatus: resp.StatusCode,
			Status:     resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
		}
	}
	return data, nil
}

func decodeCart(data []byte) (*cart.Cart, error) {
	if err := checkPayload(data); err != nil {
		return nil, err
	}
	return cart.Parse(data)
}
