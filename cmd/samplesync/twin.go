package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/samplecart/internal/client"
	"github.com/wondertwin-ai/samplecart/internal/config"
)

// newTwinCmd groups the control plane commands for a twin-shopcart store.
func newTwinCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "twin",
		Short: "Control a twin-shopcart store through its admin endpoints",
	}

	admin := func(cmd *cobra.Command, fn func(ctx context.Context, ac *client.AdminClient) (string, error)) error {
		cfg, err := config.Load(config.Path(opts.configPath))
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
		defer cancel()
		out, err := fn(ctx, client.New(cfg.Store.BaseURL))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "health",
			Short: "Check the twin is up",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return admin(cmd, func(ctx context.Context, ac *client.AdminClient) (string, error) {
					ok, body := ac.Health(ctx)
					if !ok {
						return "", fmt.Errorf("twin unhealthy: %s", body)
					}
					return body, nil
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Drop every cart and restore the seed catalog",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return admin(cmd, func(ctx context.Context, ac *client.AdminClient) (string, error) {
					return ac.Reset(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "seed <file>",
			Short: "Load carts and catalog from a JSON state file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return admin(cmd, func(ctx context.Context, ac *client.AdminClient) (string, error) {
					return ac.Seed(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "advance <duration>",
			Short: "Move the twin's clock forward, e.g. 337h to expire carts",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration: %w", err)
				}
				return admin(cmd, func(ctx context.Context, ac *client.AdminClient) (string, error) {
					return ac.AdvanceTime(ctx, d)
				})
			},
		},
		newFaultCmd(admin),
		&cobra.Command{
			Use:   "unfault <path>",
			Short: "Remove the fault on a cart route",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return admin(cmd, func(ctx context.Context, ac *client.AdminClient) (string, error) {
					return ac.RemoveFault(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "flush",
			Short: "Deliver queued carts/* webhooks",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return admin(cmd, func(ctx context.Context, ac *client.AdminClient) (string, error) {
					return ac.FlushWebhooks(ctx)
				})
			},
		},
	)
	return cmd
}

func newFaultCmd(admin func(*cobra.Command, func(context.Context, *client.AdminClient) (string, error)) error) *cobra.Command {
	var rate float64
	cmd := &cobra.Command{
		Use:   "fault <path> <status>",
		Short: "Make a cart route fail, e.g. fault /cart/add.js 503",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := strconv.Atoi(args[1])
			if err != nil || status < 100 || status > 599 {
				return fmt.Errorf("status %q must be an HTTP status code", args[1])
			}
			return admin(cmd, func(ctx context.Context, ac *client.AdminClient) (string, error) {
				return ac.InjectFault(ctx, args[0], status, rate)
			})
		},
	}
	cmd.Flags().Float64Var(&rate, "rate", 1, "Probability the fault fires, 0.0-1.0")
	return cmd
}
