// samplesync drives the free sample reward flow against a storefront's cart
// API from the command line. Every command prints the page updates it would
// make as JSON lines on stdout.
//
// Usage:
//
//	samplesync check                     Load the cart and run the free sample check
//	samplesync change <line> <qty>       Validate and change a line quantity
//	samplesync remove <line>             Remove a line
//	samplesync add <variant> [qty]       Add a variant as the product form does
//	samplesync note <text>               Save the cart note
//	samplesync watch                     Re-check whenever the widget file changes
//	samplesync twin <reset|seed|...>     Control a twin-shopcart store
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/samplecart/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// DefaultSessionFile keeps the cart cookie between invocations.
const DefaultSessionFile = ".samplecart-session"

type options struct {
	configPath  string
	sessionPath string
	verbose     bool
	timeout     time.Duration
	wait        bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "samplesync",
		Short:         "Run the free sample reward flow against a cart API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (default $"+config.EnvVar+" or "+config.DefaultFile+")")
	pf.StringVar(&opts.sessionPath, "session", DefaultSessionFile, "File keeping the cart cookie; empty starts a new cart every run")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	pf.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for one command")
	pf.BoolVar(&opts.wait, "wait", false, "Wait for delayed widget and notification updates before exiting")

	root.AddCommand(
		newCheckCmd(opts),
		newChangeCmd(opts),
		newRemoveCmd(opts),
		newAddCmd(opts),
		newNoteCmd(opts),
		newWatchCmd(opts),
		newTwinCmd(opts),
	)
	return root
}

func (o *options) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "samplesync: %v\n", err)
		os.Exit(1)
	}
}
