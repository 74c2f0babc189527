package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/wondertwin-ai/samplecart/internal/cart"
	"github.com/wondertwin-ai/samplecart/internal/cartapi"
	"github.com/wondertwin-ai/samplecart/internal/config"
	"github.com/wondertwin-ai/samplecart/internal/events"
	"github.com/wondertwin-ai/samplecart/internal/money"
	"github.com/wondertwin-ai/samplecart/internal/sample"
	"github.com/wondertwin-ai/samplecart/internal/storefront"
	"github.com/wondertwin-ai/samplecart/internal/ui"
)

const cartCookie = "cart"

// session is one page's worth of components sharing a cart cookie.
type session struct {
	cfg       *config.Config
	base      *url.URL
	jar       http.CookieJar
	client    *cartapi.Client
	bus       *events.Bus
	syncer    *sample.Syncer
	items     *storefront.Items
	form      *storefront.ProductForm
	note      *storefront.Note
	money     *money.Formatter
	presenter ui.Presenter
	logger    *slog.Logger
	path      string
}

func newSession(opts *options, stdout, stderr io.Writer) (*session, error) {
	logger := opts.logger(stderr)
	cfg, err := config.Load(config.Path(opts.configPath))
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(cfg.Store.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	if err := loadCookie(jar, base, opts.sessionPath); err != nil {
		return nil, err
	}

	cc := cfg.Client(logger)
	cc.HTTPClient = &http.Client{Jar: jar, Timeout: 15 * time.Second}
	client, err := cartapi.New(cc)
	if err != nil {
		return nil, err
	}

	formatter := cfg.Money()
	presenter := ui.NewJSONLines(stdout)
	bus := events.NewBus()
	syncer := sample.NewSyncer(sample.Config{
		API:       client,
		Widgets:   cfg.WidgetSource(),
		Presenter: presenter,
		Sections:  cfg.SectionSpecs(),
		Money:     formatter,
		Timings:   cfg.Timings,
		Bus:       bus,
		Logger:    logger,
	})
	items := storefront.NewItems(storefront.Config{
		API:       client,
		Syncer:    syncer,
		Bus:       bus,
		Presenter: presenter,
		Sections:  cfg.SectionSpecs(),
		Strings:   cfg.Strings,
		Logger:    logger,
	})

	return &session{
		cfg:    cfg,
		base:   base,
		jar:    jar,
		client: client,
		bus:    bus,
		syncer: syncer,
		items:  items,
		form: &storefront.ProductForm{
			API:       client,
			Syncer:    syncer,
			Bus:       bus,
			Presenter: presenter,
			Strings:   cfg.Strings,
			Logger:    logger,
		},
		note:      &storefront.Note{API: client, Logger: logger},
		money:     formatter,
		presenter: presenter,
		logger:    logger,
		path:      opts.sessionPath,
	}, nil
}

func loadCookie(jar http.CookieJar, base *url.URL, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading session %s: %w", path, err)
	}
	if v := strings.TrimSpace(string(data)); v != "" {
		jar.SetCookies(base, []*http.Cookie{{Name: cartCookie, Value: v, Path: "/"}})
	}
	return nil
}

// saveCookie persists the current cart cookie.
func (s *session) saveCookie() error {
	if s.path == "" {
		return nil
	}
	for _, ck := range s.jar.Cookies(s.base) {
		if ck.Name == cartCookie {
			return os.WriteFile(s.path, []byte(ck.Value+"\n"), 0o600)
		}
	}
	return nil
}

// drain waits until the delayed effects of the last check have run.
func (s *session) drain(ctx context.Context) {
	t := time.NewTicker(25 * time.Millisecond)
	defer t.Stop()
	for s.syncer.Pending() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// summary is the last line every command prints.
type summary struct {
	Token     string  `json:"token"`
	ItemCount int     `json:"item_count"`
	Total     string  `json:"total"`
	Rewards   []int64 `json:"rewards,omitempty"`
}

func (s *session) summarize(c *cart.Cart) summary {
	out := summary{Token: c.Token, ItemCount: c.ItemCount, Total: s.money.Format(c.TotalPrice)}
	rewards, _ := c.Partition()
	for _, li := range rewards {
		out.Rewards = append(out.Rewards, li.Variant())
	}
	return out
}

func (s *session) Close() error {
	s.items.Close()
	s.syncer.Close()
	return s.saveCookie()
}
