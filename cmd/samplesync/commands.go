package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/samplecart/internal/cart"
	"github.com/wondertwin-ai/samplecart/internal/sample"
)

// run builds a session, runs fn with the command timeout and prints the
// resulting cart summary.
func run(cmd *cobra.Command, opts *options, fn func(ctx context.Context, s *session) (*cart.Cart, error)) (err error) {
	s, err := newSession(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("saving session: %w", cerr)
		}
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	c, err := fn(ctx, s)
	if err != nil {
		return err
	}
	if opts.wait {
		s.drain(ctx)
	}
	if c != nil {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"cart": s.summarize(c)})
	}
	return nil
}

func intArg(arg, name string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a number", name, arg)
	}
	return n, nil
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the cart and run the free sample check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, s *session) (*cart.Cart, error) {
				return s.items.Init(ctx)
			})
		},
	}
}

func newChangeCmd(opts *options) *cobra.Command {
	var rule cart.QuantityRule
	cmd := &cobra.Command{
		Use:   "change <line> <quantity>",
		Short: "Validate and change the quantity of a 1-based cart line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := intArg(args[0], "line")
			if err != nil {
				return err
			}
			qty, err := intArg(args[1], "quantity")
			if err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, s *session) (*cart.Cart, error) {
				c, err := s.items.Init(ctx)
				if err != nil {
					return nil, err
				}
				li, ok := c.Line(line)
				if !ok {
					return nil, fmt.Errorf("cart has no line %d", line)
				}
				return s.items.QuantityChanged(ctx, line, qty, rule, li.Variant())
			})
		},
	}
	cmd.Flags().IntVar(&rule.Min, "min", 0, "Minimum quantity")
	cmd.Flags().IntVar(&rule.Max, "max", 0, "Maximum quantity (0 = unbounded)")
	cmd.Flags().IntVar(&rule.Step, "step", 1, "Quantity increment")
	return cmd
}

func newRemoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <line>",
		Short: "Remove a 1-based cart line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := intArg(args[0], "line")
			if err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, s *session) (*cart.Cart, error) {
				if _, err := s.items.Init(ctx); err != nil {
					return nil, err
				}
				return s.items.Remove(ctx, line)
			})
		},
	}
}

func newAddCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "add <variant> [quantity]",
		Short: "Add a variant to the cart as the product form does",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			variant, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("variant %q is not a number", args[0])
			}
			qty := 1
			if len(args) == 2 {
				if qty, err = intArg(args[1], "quantity"); err != nil {
					return err
				}
			}
			return run(cmd, opts, func(ctx context.Context, s *session) (*cart.Cart, error) {
				return s.form.Add(ctx, variant, qty)
			})
		},
	}
}

func newNoteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "note <text>",
		Short: "Save the cart note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, s *session) (*cart.Cart, error) {
				if err := s.note.Update(ctx, args[0]); err != nil {
					return nil, err
				}
				return s.client.Cart(ctx)
			})
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the free sample check whenever the widget file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()
			if s.cfg.WidgetsFile == "" {
				return fmt.Errorf("watch needs widgets_file in the config")
			}

			ctx := cmd.Context()
			if _, err := s.items.Init(ctx); err != nil {
				return err
			}
			s.logger.Info("watching widgets", "file", s.cfg.WidgetsFile)
			return sample.WatchFile(ctx, s.cfg.WidgetsFile, debounce, s.logger, func() {
				if _, err := s.items.Init(ctx); err != nil {
					s.logger.Warn("re-check after widget change", "err", err)
				}
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "Collapse file events within this window")
	return cmd
}
