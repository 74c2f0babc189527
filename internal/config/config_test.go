package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wondertwin-ai/samplecart/internal/cartapi"
	"github.com/wondertwin-ai/samplecart/internal/sample"
	"github.com/wondertwin-ai/samplecart/internal/sections"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "samplecart.yaml", `
store:
  base_url: https://shop.example.com/pl
  country: PL
  routes:
    add: /pl/cart/add
timings:
  hide_after_add: 1500ms
widgets:
  - id: sample-1
    threshold: 10000
    product_id: 4242
    progress_message: "Brakuje [amount]"
rate_limit:
  per_second: 5
  burst: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.BaseURL != "https://shop.example.com/pl" || cfg.Store.Country != "PL" {
		t.Errorf("unexpected store %+v", cfg.Store)
	}
	wantRoutes := cartapi.Routes{Root: "/", Cart: "/cart", Add: "/pl/cart/add", Change: "/cart/change", Update: "/cart/update"}
	if diff := cmp.Diff(wantRoutes, cfg.Store.Routes); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}
	if cfg.Timings.HideAfterAdd != 1500*time.Millisecond {
		t.Errorf("expected 1.5s hide, got %s", cfg.Timings.HideAfterAdd)
	}
	if cfg.Timings.NotificationHold != sample.DefaultTimings.NotificationHold {
		t.Errorf("expected default notification hold kept, got %s", cfg.Timings.NotificationHold)
	}
	wantWidgets := []sample.Widget{{ID: "sample-1", Threshold: 10000, ProductID: 4242, ProgressMessage: "Brakuje [amount]"}}
	if diff := cmp.Diff(wantWidgets, cfg.Widgets); diff != "" {
		t.Errorf("widgets mismatch (-want +got):\n%s", diff)
	}
	if cfg.Money().Currency() != "PLN" {
		t.Errorf("expected PLN from country, got %s", cfg.Money().Currency())
	}
	cc := cfg.Client(nil)
	if cc.RateLimit != 5 || cc.Burst != 2 || len(cc.Sections) != 4 {
		t.Errorf("unexpected client config %+v", cc)
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.BaseURL != DefaultBaseURL {
		t.Errorf("expected default base url, got %q", cfg.Store.BaseURL)
	}
	if diff := cmp.Diff(sections.Defaults("", ""), cfg.SectionSpecs()); diff != "" {
		t.Errorf("default sections mismatch (-want +got):\n%s", diff)
	}
	if cfg.Strings.Error == "" {
		t.Error("expected default strings")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "store: [\n"},
		{"relative base url", "store:\n  base_url: /cart\n"},
		{"negative rate", "rate_limit:\n  per_second: -1\n"},
		{"widget without id", "widgets:\n  - threshold: 100\n    product_id: 1\n"},
		{"duplicate widget", "widgets:\n  - id: a\n  - id: a\n"},
		{"incomplete section", "sections:\n  - id: cart-items\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "samplecart.yaml", tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWidgetsFileResolvesRelativeToConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "widgets.yaml", "widgets:\n  - id: w\n    threshold: 500\n    product_id: 9\n")
	path := writeFile(t, dir, "samplecart.yaml", "widgets_file: widgets.yaml\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.WidgetsFile != filepath.Join(dir, "widgets.yaml") {
		t.Errorf("unexpected widgets file %q", cfg.WidgetsFile)
	}
	widgets, err := cfg.WidgetSource().Widgets(context.Background())
	if err != nil {
		t.Fatalf("widgets: %v", err)
	}
	if len(widgets) != 1 || widgets[0].Threshold != 500 {
		t.Errorf("unexpected widgets %+v", widgets)
	}
}

func TestPath(t *testing.T) {
	t.Setenv(EnvVar, "")
	if got := Path(""); got != DefaultFile {
		t.Errorf("expected default, got %q", got)
	}
	t.Setenv(EnvVar, "/etc/samplecart.yaml")
	if got := Path(""); got != "/etc/samplecart.yaml" {
		t.Errorf("expected env path, got %q", got)
	}
	if got := Path("flag.yaml"); got != "flag.yaml" {
		t.Errorf("expected flag path, got %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "samplecart.yaml")
	cfg := defaultConfig()
	cfg.Widgets = []sample.Widget{{ID: "w", Threshold: 100, ProductID: 1}}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
