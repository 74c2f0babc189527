package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type received struct {
	mu      sync.Mutex
	topics  []string
	bodies  [][]byte
	headers []http.Header
}

func (rc *received) server(t *testing.T, failFirst int32) *httptest.Server {
	t.Helper()
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= failFirst {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		rc.mu.Lock()
		rc.topics = append(rc.topics, r.Header.Get(HeaderTopic))
		rc.bodies = append(rc.bodies, body)
		rc.headers = append(rc.headers, r.Header.Clone())
		rc.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewDispatcherDefaults(t *testing.T) {
	d := NewDispatcher(Config{})
	if d.maxRetries != 3 {
		t.Errorf("expected default maxRetries=3, got %d", d.maxRetries)
	}
	if d.retryDelay != time.Second {
		t.Errorf("expected default retryDelay=1s, got %v", d.retryDelay)
	}
}

func TestEnqueueUsesClock(t *testing.T) {
	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	d := NewDispatcher(Config{Now: func() time.Time { return at }})

	a := d.Enqueue("carts/create", map[string]any{"token": "t1"})
	b := d.Enqueue("carts/update", map[string]any{"token": "t1"})

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct event ids, got %q and %q", a.ID, b.ID)
	}
	if !a.CreatedAt.Equal(at) {
		t.Errorf("expected clock time, got %s", a.CreatedAt)
	}
	if q := d.QueuedEvents(); len(q) != 2 || q[1].Topic != "carts/update" {
		t.Errorf("unexpected queue: %+v", q)
	}
}

func TestFlushDeliversPayloadWithHeaders(t *testing.T) {
	var rc received
	srv := rc.server(t, 0)

	d := NewDispatcher(Config{
		URL:        srv.URL,
		Secret:     "shpss_test",
		Signer:     HMACSigner{},
		Shop:       "sample-shop.myshopify.com",
		MaxRetries: 1,
	})
	evt := d.Enqueue("carts/update", map[string]any{"token": "t1", "item_count": 2})

	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if len(rc.bodies) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(rc.bodies))
	}

	var body map[string]any
	json.Unmarshal(rc.bodies[0], &body)
	if body["token"] != "t1" {
		t.Errorf("expected the payload as body, got %s", rc.bodies[0])
	}
	h := rc.headers[0]
	if h.Get(HeaderTopic) != "carts/update" || h.Get(HeaderWebhookID) != evt.ID {
		t.Errorf("unexpected topic/id headers: %v", h)
	}
	if h.Get(HeaderShopDomain) != "sample-shop.myshopify.com" {
		t.Errorf("unexpected shop header %q", h.Get(HeaderShopDomain))
	}
	if !Verify(rc.bodies[0], "shpss_test", h.Get(HeaderHMAC)) {
		t.Error("signature does not verify")
	}

	if len(d.QueuedEvents()) != 0 {
		t.Error("expected empty queue after flush")
	}
	if all := d.AllEvents(); len(all) != 1 || all[0].ID != evt.ID {
		t.Errorf("expected flushed event in history, got %+v", all)
	}
}

func TestFlushRetries(t *testing.T) {
	var rc received
	srv := rc.server(t, 2)

	d := NewDispatcher(Config{URL: srv.URL, MaxRetries: 3, RetryDelay: time.Millisecond})
	d.Enqueue("carts/update", nil)

	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("Flush should succeed after retries, got: %v", err)
	}
	if n := len(d.Deliveries()); n != 3 {
		t.Errorf("expected 3 delivery records, got %d", n)
	}
}

func TestFlushAllRetriesFail(t *testing.T) {
	var rc received
	srv := rc.server(t, 100)

	d := NewDispatcher(Config{URL: srv.URL, MaxRetries: 2, RetryDelay: time.Millisecond})
	d.Enqueue("carts/update", nil)

	if err := d.FlushWebhooks(); err == nil {
		t.Fatal("expected error when all retries fail")
	}
	for _, del := range d.Deliveries() {
		if del.StatusCode != http.StatusInternalServerError {
			t.Errorf("expected 500 in delivery record, got %d", del.StatusCode)
		}
	}
}

func TestFlushNoURL(t *testing.T) {
	d := NewDispatcher(Config{})
	d.Enqueue("carts/update", nil)
	if err := d.Flush(context.Background()); err != nil {
		t.Fatalf("expected no error when URL is empty, got: %v", err)
	}
	if len(d.Deliveries()) != 0 {
		t.Error("expected no deliveries without URL")
	}
}

func TestAutoDeliver(t *testing.T) {
	var rc received
	srv := rc.server(t, 0)

	d := NewDispatcher(Config{MaxRetries: 1, AutoDeliver: true})
	d.SetURL(srv.URL)
	d.Enqueue("carts/create", nil)
	d.Wait()

	if len(rc.topics) != 1 || rc.topics[0] != "carts/create" {
		t.Errorf("expected one carts/create delivery, got %v", rc.topics)
	}
	if len(d.QueuedEvents()) != 0 {
		t.Error("auto-delivered events must not stay queued")
	}
}

func TestSetSecretChangesSignature(t *testing.T) {
	var rc received
	srv := rc.server(t, 0)

	d := NewDispatcher(Config{URL: srv.URL, Secret: "old", Signer: HMACSigner{}, MaxRetries: 1})
	d.SetSecret("new")
	d.Enqueue("carts/update", map[string]int{"n": 1})
	d.Flush(context.Background())

	sig := rc.headers[0].Get(HeaderHMAC)
	if !Verify(rc.bodies[0], "new", sig) || Verify(rc.bodies[0], "old", sig) {
		t.Error("expected signature with the updated secret")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	if Verify([]byte("{}"), "s", "%%%not-base64") {
		t.Error("expected invalid base64 to fail")
	}
	if Verify([]byte("{}"), "s", Signature([]byte("{ }"), "s")) {
		t.Error("expected different payload to fail")
	}
}

func TestReset(t *testing.T) {
	d := NewDispatcher(Config{})
	d.Enqueue("carts/update", nil)
	d.Flush(context.Background())
	d.Enqueue("carts/update", nil)
	d.Reset()

	if len(d.AllEvents()) != 0 || len(d.QueuedEvents()) != 0 || len(d.Deliveries()) != 0 {
		t.Error("expected everything cleared")
	}
}
