package client

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wondertwin-ai/samplecart/internal/twin/store"
	"github.com/wondertwin-ai/samplecart/pkg/admin"
	"github.com/wondertwin-ai/samplecart/pkg/twincore"
)

func setup(t *testing.T) (*AdminClient, *store.MemoryStore, *twincore.Twin) {
	t.Helper()
	twin := twincore.New(&twincore.Config{Name: "twin-shopcart-test"})
	memStore := store.New("USD")
	admin.NewHandler(memStore, twin.Middleware(), memStore.Clock).Routes(twin.Router)
	srv := httptest.NewServer(twin.Router)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/"), memStore, twin
}

func TestHealth(t *testing.T) {
	c, _, _ := setup(t)
	ok, body := c.Health(context.Background())
	if !ok || !strings.Contains(body, "ok") {
		t.Errorf("expected healthy twin, got %v %q", ok, body)
	}

	down := New("http://127.0.0.1:1")
	if ok, _ := down.Health(context.Background()); ok {
		t.Error("expected unreachable twin to be unhealthy")
	}
}

func TestSeedAndReset(t *testing.T) {
	c, memStore, _ := setup(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "seed.json")
	seed := `{"carts":{"tok":{"token":"tok","lines":[{"key":"1001:a","variant_id":1001,"quantity":2}]}}}`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Seed(ctx, path); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if cart, ok := memStore.Cart("tok"); !ok || len(cart.Lines) != 1 {
		t.Fatalf("expected seeded cart, got %+v", cart)
	}

	if _, err := c.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(memStore.Carts.Snapshot()) != 0 {
		t.Error("expected carts cleared")
	}

	if _, err := c.Seed(ctx, filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected missing seed file to fail")
	}
}

func TestAdvanceTime(t *testing.T) {
	c, memStore, _ := setup(t)
	if _, err := c.AdvanceTime(context.Background(), 48*time.Hour); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if memStore.Clock.Offset() != 48*time.Hour {
		t.Errorf("expected 48h offset, got %s", memStore.Clock.Offset())
	}
}

func TestFaults(t *testing.T) {
	c, _, twin := setup(t)
	ctx := context.Background()

	if _, err := c.InjectFault(ctx, "/cart/add.js", 503, 1); err != nil {
		t.Fatalf("inject: %v", err)
	}
	if f := twin.Middleware().Faults.Check("/cart/add.js"); f == nil || f.StatusCode != 503 {
		t.Errorf("expected registered fault, got %+v", f)
	}
	if _, err := c.RemoveFault(ctx, "cart/add.js"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := c.RemoveFault(ctx, "cart/add.js"); err == nil {
		t.Error("expected removing a missing fault to fail")
	}
}

func TestFlushWithoutDispatcher(t *testing.T) {
	c, _, _ := setup(t)
	body, err := c.FlushWebhooks(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !strings.Contains(body, "no webhooks configured") {
		t.Errorf("unexpected flush body %q", body)
	}
}
