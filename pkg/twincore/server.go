// Package twincore provides the base HTTP server, CLI flags, middleware chain,
// and response helpers of the cart API twin.
package twincore

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Config holds the twin configuration, parsed from CLI flags.
type Config struct {
	Port          int
	Latency       time.Duration
	FailRate      float64
	WebhookURL    string
	WebhookSecret string
	SeedFile      string
	Verbose       bool
	// RateLimit is the sustained requests per second allowed per cart; 0
	// disables limiting.
	RateLimit float64
	Burst     int
	Country   string
	Currency  string
	Name      string // twin name for logging
}

// ParseFlags parses the twin's CLI flags and returns a Config.
func ParseFlags(twinName string) *Config {
	return ParseArgs(twinName, flag.CommandLine, os.Args[1:])
}

// ParseArgs parses args into a Config using fs.
func ParseArgs(twinName string, fs *flag.FlagSet, args []string) *Config {
	cfg := &Config{Name: twinName}
	fs.IntVar(&cfg.Port, "port", 0, "HTTP listen port (default: auto-assigned)")
	fs.DurationVar(&cfg.Latency, "latency", 0, "Base simulated latency")
	fs.Float64Var(&cfg.FailRate, "fail-rate", 0.0, "Random failure rate 0.0-1.0")
	fs.StringVar(&cfg.WebhookURL, "webhook-url", "", "URL to send carts/update webhooks to")
	fs.StringVar(&cfg.WebhookSecret, "webhook-secret", "", "Secret for X-Shopify-Hmac-Sha256 signatures")
	fs.StringVar(&cfg.SeedFile, "seed-file", "", "Path to JSON fixture for initial state")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Enable request/response logging")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", 0, "Requests per second per cart (0 = unlimited)")
	fs.IntVar(&cfg.Burst, "burst", 10, "Rate limit burst size")
	fs.StringVar(&cfg.Country, "country", "US", "Store country (ISO 3166 code)")
	fs.StringVar(&cfg.Currency, "currency", "USD", "Store currency (ISO 4217 code)")
	fs.Parse(args)

	if cfg.Port == 0 {
		if p := os.Getenv("PORT"); p != "" {
			fmt.Sscanf(p, "%d", &cfg.Port)
		}
	}
	return cfg
}

// Twin is the base server. It wraps a chi router with the common middleware
// and provides lifecycle management.
type Twin struct {
	Config *Config
	Router *chi.Mux
	Logger *slog.Logger
	mw     *Middleware
}

// New creates a new Twin with the given config.
func New(cfg *Config) *Twin {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	r := chi.NewRouter()
	mw := NewMiddleware(cfg, logger)

	// Latency and failure middleware are always mounted so runtime config
	// updates take effect immediately; both check their setting per request.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.CORS)
	r.Use(mw.RequestLog)
	r.Use(mw.LatencyInjection)
	r.Use(mw.RandomFailure)

	return &Twin{
		Config: cfg,
		Router: r,
		Logger: logger,
		mw:     mw,
	}
}

// Middleware returns the middleware instance (fault injection, rate limits).
func (t *Twin) Middleware() *Middleware {
	return t.mw
}

// GetConfig returns the current runtime configuration as a map.
func (t *Twin) GetConfig() map[string]any {
	t.mw.mu.RLock()
	defer t.mw.mu.RUnlock()
	return map[string]any{
		"name":        t.Config.Name,
		"port":        t.Config.Port,
		"latency":     t.Config.Latency.String(),
		"fail_rate":   t.Config.FailRate,
		"webhook_url": t.Config.WebhookURL,
		"verbose":     t.Config.Verbose,
		"rate_limit":  t.Config.RateLimit,
		"burst":       t.Config.Burst,
		"country":     t.Config.Country,
		"currency":    t.Config.Currency,
	}
}

// UpdateConfig updates runtime configuration fields from a map. Every field
// is validated before any is applied.
func (t *Twin) UpdateConfig(updates map[string]any) error {
	type configUpdate struct {
		latency    *time.Duration
		failRate   *float64
		verbose    *bool
		webhookURL *string
		rateLimit  *float64
		burst      *int
	}
	var cu configUpdate

	for k, v := range updates {
		switch k {
		case "latency":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("latency must be a duration string")
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("invalid latency duration: %w", err)
			}
			if d < 0 {
				return fmt.Errorf("latency must not be negative")
			}
			cu.latency = &d
		case "fail_rate":
			f, ok := v.(float64)
			if !ok {
				return fmt.Errorf("fail_rate must be a number")
			}
			if f < 0 || f > 1 {
				return fmt.Errorf("fail_rate must be between 0.0 and 1.0")
			}
			cu.failRate = &f
		case "verbose":
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("verbose must be a boolean")
			}
			cu.verbose = &b
		case "webhook_url":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("webhook_url must be a string")
			}
			cu.webhookURL = &s
		case "rate_limit":
			f, ok := v.(float64)
			if !ok || f < 0 {
				return fmt.Errorf("rate_limit must be a non-negative number")
			}
			cu.rateLimit = &f
		case "burst":
			f, ok := v.(float64)
			if !ok || f < 1 || f != float64(int(f)) {
				return fmt.Errorf("burst must be a positive integer")
			}
			b := int(f)
			cu.burst = &b
		case "name", "port", "country", "currency":
			return fmt.Errorf("%s cannot be changed at runtime", k)
		default:
			return fmt.Errorf("unknown config key: %s", k)
		}
	}

	t.mw.mu.Lock()
	defer t.mw.mu.Unlock()
	if cu.latency != nil {
		t.Config.Latency = *cu.latency
	}
	if cu.failRate != nil {
		t.Config.FailRate = *cu.failRate
	}
	if cu.verbose != nil {
		t.Config.Verbose = *cu.verbose
	}
	if cu.webhookURL != nil {
		t.Config.WebhookURL = *cu.webhookURL
	}
	if cu.rateLimit != nil || cu.burst != nil {
		if cu.rateLimit != nil {
			t.Config.RateLimit = *cu.rateLimit
		}
		if cu.burst != nil {
			t.Config.Burst = *cu.burst
		}
		t.mw.limits.reset()
	}
	return nil
}

// Serve starts the HTTP server and blocks until a shutdown signal.
func (t *Twin) Serve() error {
	addr := fmt.Sprintf(":%d", t.Config.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      t.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		t.Logger.Info("starting twin", "name", t.Config.Name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serving %s: %w", addr, err)
	case <-done:
	}
	t.Logger.Info("shutting down twin", "name", t.Config.Name)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// ServeHTTP implements http.Handler so Twin can be used directly in tests.
func (t *Twin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.Router.ServeHTTP(w, r)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Error writes a JSON error response for the admin plane.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    http.StatusText(status),
			"code":    status,
		},
	})
}

// CartError writes an error in the storefront cart API format.
func CartError(w http.ResponseWriter, status int, description string) {
	JSON(w, status, cartErrorBody(status, description))
}

// CartErrors writes the short {"errors": ...} form the change endpoint uses
// for invalid lines.
func CartErrors(w http.ResponseWriter, status int, errors string) {
	JSON(w, status, map[string]any{"status": status, "errors": errors})
}

func cartErrorBody(status int, description string) map[string]any {
	return map[string]any{
		"status":      status,
		"message":     "Cart Error",
		"description": description,
	}
}
