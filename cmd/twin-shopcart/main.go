// twin-shopcart is a behavioral twin of a storefront's AJAX cart API
// (cart.js, add.js, change.js, update.js and section rendering). It gives
// samplesync and the storefront adapters a cart to run against in tests and
// local development.
package main

import (
	"log"
	"os"

	"github.com/wondertwin-ai/samplecart/internal/money"
	"github.com/wondertwin-ai/samplecart/internal/twin/api"
	"github.com/wondertwin-ai/samplecart/internal/twin/store"
	"github.com/wondertwin-ai/samplecart/pkg/admin"
	"github.com/wondertwin-ai/samplecart/pkg/twincore"
	"github.com/wondertwin-ai/samplecart/pkg/webhook"
)

func main() {
	cfg := twincore.ParseFlags("twin-shopcart")
	if cfg.Port == 0 {
		cfg.Port = 4100
	}

	twin := twincore.New(cfg)
	memStore := store.New(cfg.Currency)

	// Webhook secret from env, flag or default
	webhookSecret := os.Getenv("SHOPIFY_WEBHOOK_SECRET")
	if webhookSecret == "" {
		webhookSecret = cfg.WebhookSecret
	}
	if webhookSecret == "" {
		webhookSecret = "shpss_sim_test_secret"
	}

	dispatcher := webhook.NewDispatcher(webhook.Config{
		URL:         cfg.WebhookURL,
		Secret:      webhookSecret,
		Signer:      webhook.HMACSigner{},
		Shop:        "twin-shopcart.myshopify.com",
		Logger:      twin.Logger,
		AutoDeliver: cfg.WebhookURL != "",
		Now:         memStore.Clock.Now,
	})

	// Cart cookies are signed with a per-process key unless one is pinned,
	// so restarting the twin drops every cart.
	tokens, err := api.NewTokenIssuer([]byte(os.Getenv("SHOPCART_COOKIE_SECRET")), api.DefaultCartTTL, memStore.Clock.Now)
	if err != nil {
		log.Fatalf("cart tokens: %v", err)
	}
	sections := api.NewSections(money.New(money.Options{Country: cfg.Country, Currency: cfg.Currency}))

	// API handlers
	apiHandler := api.NewHandler(memStore, dispatcher, twin.Middleware(), tokens, sections, twin.Logger)
	apiHandler.Routes(twin.Router)

	// Admin control plane
	adminHandler := admin.NewHandler(memStore, twin.Middleware(), memStore.Clock)
	adminHandler.SetFlusher(dispatcher)
	adminHandler.SetConfig(twin)
	adminHandler.Routes(twin.Router)

	// Load seed data if provided
	if cfg.SeedFile != "" {
		data, err := os.ReadFile(cfg.SeedFile)
		if err != nil {
			log.Fatalf("failed to read seed file: %v", err)
		}
		if err := memStore.LoadState(data); err != nil {
			log.Fatalf("failed to load seed data: %v", err)
		}
		twin.Logger.Info("loaded seed data", "file", cfg.SeedFile)
	}

	twin.Logger.Info("twin-shopcart ready",
		"port", cfg.Port,
		"currency", memStore.Currency(),
		"webhook_url", cfg.WebhookURL,
		"sample_variant", store.SampleVariant,
	)

	if err := twin.Serve(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
