package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wondertwin-ai/samplecart/pkg/store"
	"github.com/wondertwin-ai/samplecart/pkg/twincore"
)

type mockState struct {
	carts       map[string]int
	resetCalled bool
}

func newMockState() *mockState {
	return &mockState{carts: map[string]int{"tok_1": 2}}
}

func (m *mockState) Snapshot() any { return m.carts }

func (m *mockState) LoadState(data []byte) error {
	var c map[string]int
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	m.carts = c
	return nil
}

func (m *mockState) Reset() {
	m.resetCalled = true
	m.carts = map[string]int{}
}

type mockFlusher struct {
	err     error
	flushed bool
}

func (m *mockFlusher) FlushWebhooks() error {
	m.flushed = true
	return m.err
}

type fixture struct {
	srv   *httptest.Server
	mw    *twincore.Middleware
	state *mockState
	clock *store.Clock
}

func setup(t *testing.T, withClock bool, flusher WebhookFlusher) *fixture {
	t.Helper()
	twin := twincore.New(&twincore.Config{Name: "test-admin", Burst: 10})
	f := &fixture{mw: twin.Middleware(), state: newMockState()}
	if withClock {
		f.clock = store.NewClock()
	}
	h := NewHandler(f.state, f.mw, f.clock)
	h.SetConfig(twin)
	if flusher != nil {
		h.SetFlusher(flusher)
	}
	r := chi.NewRouter()
	h.Routes(r)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, f.srv.URL+path, rd)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	f := setup(t, false, nil)
	status, body := f.do(t, http.MethodGet, "/admin/health", "")
	if status != http.StatusOK || body["status"] != "ok" {
		t.Errorf("unexpected health response: %d %+v", status, body)
	}
}

func TestResetClearsStateMiddlewareAndClock(t *testing.T) {
	f := setup(t, true, nil)
	f.clock.Advance(time.Hour)
	f.mw.Faults.Set("/cart/add.js", twincore.FaultConfig{StatusCode: 500})
	f.mw.ReqLog.Add(twincore.RequestLogEntry{Method: "GET", Path: "/cart.js"})
	f.mw.Idempotent.Store("k", 200, []byte(`{}`))

	if status, _ := f.do(t, http.MethodPost, "/admin/reset", ""); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if !f.state.resetCalled {
		t.Error("expected state reset")
	}
	if f.clock.Offset() != 0 {
		t.Errorf("expected clock reset, got %s", f.clock.Offset())
	}
	if len(f.mw.Faults.All()) != 0 || len(f.mw.ReqLog.Entries()) != 0 {
		t.Error("expected faults and request log cleared")
	}
	if _, _, ok := f.mw.Idempotent.Check("k"); ok {
		t.Error("expected idempotency keys cleared")
	}
}

func TestStateRoundTrip(t *testing.T) {
	f := setup(t, false, nil)

	status, body := f.do(t, http.MethodGet, "/admin/state", "")
	if status != http.StatusOK || body["tok_1"] != float64(2) {
		t.Fatalf("unexpected state: %d %+v", status, body)
	}
	if status, _ := f.do(t, http.MethodPost, "/admin/state", `{"tok_9":4}`); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if f.state.carts["tok_9"] != 4 {
		t.Errorf("expected loaded state, got %+v", f.state.carts)
	}
	if status, _ := f.do(t, http.MethodPost, "/admin/state", "{bad json"); status != http.StatusBadRequest {
		t.Errorf("expected 400 for bad state, got %d", status)
	}
}

func TestConfig(t *testing.T) {
	f := setup(t, false, nil)

	status, body := f.do(t, http.MethodPost, "/admin/config", `{"latency":"50ms","rate_limit":2}`)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %+v", status, body)
	}
	if body["latency"] != "50ms" || body["rate_limit"] != float64(2) {
		t.Errorf("config not applied: %+v", body)
	}

	status, _ = f.do(t, http.MethodPost, "/admin/config", `{"currency":"EUR"}`)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for immutable key, got %d", status)
	}
	status, _ = f.do(t, http.MethodPost, "/admin/config", `{"fail_rate":3}`)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for out of range fail_rate, got %d", status)
	}
}

func TestConfigUnavailable(t *testing.T) {
	mw := twincore.NewMiddleware(&twincore.Config{}, nil)
	r := chi.NewRouter()
	NewHandler(newMockState(), mw, nil).Routes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/config")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestFaultLifecycle(t *testing.T) {
	f := setup(t, false, nil)

	status, body := f.do(t, http.MethodPost, "/admin/fault/cart/add.js", `{"status_code":422}`)
	if status != http.StatusOK || body["endpoint"] != "/cart/add.js" {
		t.Fatalf("unexpected inject response: %d %+v", status, body)
	}
	fault := f.mw.Faults.Check("/cart/add.js")
	if fault == nil || fault.StatusCode != 422 || fault.Rate != 1.0 {
		t.Fatalf("expected registered fault with default rate, got %+v", fault)
	}

	status, body = f.do(t, http.MethodGet, "/admin/faults", "")
	if _, ok := body["/cart/add.js"]; status != http.StatusOK || !ok {
		t.Errorf("expected fault in listing, got %+v", body)
	}

	if status, _ := f.do(t, http.MethodDelete, "/admin/fault/cart/add.js", ""); status != http.StatusOK {
		t.Errorf("expected 200 on remove, got %d", status)
	}
	if status, _ := f.do(t, http.MethodDelete, "/admin/fault/cart/add.js", ""); status != http.StatusNotFound {
		t.Errorf("expected 404 on second remove, got %d", status)
	}
	if status, _ := f.do(t, http.MethodPost, "/admin/fault/cart.js", "{bad"); status != http.StatusBadRequest {
		t.Errorf("expected 400 for bad fault, got %d", status)
	}
}

func TestRequests(t *testing.T) {
	f := setup(t, false, nil)
	f.mw.ReqLog.Add(twincore.RequestLogEntry{Method: "POST", Path: "/cart/add.js"})

	resp, err := http.Get(f.srv.URL + "/admin/requests")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var entries []twincore.RequestLogEntry
	json.NewDecoder(resp.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].Path != "/cart/add.js" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestTime(t *testing.T) {
	f := setup(t, true, nil)

	status, body := f.do(t, http.MethodPost, "/admin/time/advance", `{"duration":"336h"}`)
	if status != http.StatusOK || body["offset"] != "336h0m0s" {
		t.Fatalf("unexpected advance response: %d %+v", status, body)
	}
	_, body = f.do(t, http.MethodGet, "/admin/time", "")
	if _, ok := body["simulated"]; !ok {
		t.Error("expected simulated time")
	}

	for _, bad := range []string{`{"duration":"soon"}`, "{bad"} {
		if status, _ := f.do(t, http.MethodPost, "/admin/time/advance", bad); status != http.StatusBadRequest {
			t.Errorf("expected 400 for %s, got %d", bad, status)
		}
	}
}

func TestTimeWithoutClock(t *testing.T) {
	f := setup(t, false, nil)

	if status, _ := f.do(t, http.MethodPost, "/admin/time/advance", `{"duration":"1h"}`); status != http.StatusBadRequest {
		t.Errorf("expected 400 without clock, got %d", status)
	}
	_, body := f.do(t, http.MethodGet, "/admin/time", "")
	if _, ok := body["simulated"]; ok {
		t.Error("did not expect simulated time without clock")
	}
}

func TestFlushWebhooks(t *testing.T) {
	f := setup(t, false, nil)
	_, body := f.do(t, http.MethodPost, "/admin/webhooks/flush", "")
	if body["status"] != "no webhooks configured" {
		t.Errorf("unexpected status: %+v", body)
	}

	ok := &mockFlusher{}
	f = setup(t, false, ok)
	if status, _ := f.do(t, http.MethodPost, "/admin/webhooks/flush", ""); status != http.StatusOK || !ok.flushed {
		t.Errorf("expected flush, got %d", status)
	}

	failing := &mockFlusher{err: errors.New("delivery failed")}
	f = setup(t, false, failing)
	if status, _ := f.do(t, http.MethodPost, "/admin/webhooks/flush", ""); status != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", status)
	}
}
