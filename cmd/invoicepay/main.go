package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/smallbiznis/invoicepay/internal/clock"
	"github.com/smallbiznis/invoicepay/internal/config"
	"github.com/smallbiznis/invoicepay/internal/gateway"
	"github.com/smallbiznis/invoicepay/internal/invoice"
	"github.com/smallbiznis/invoicepay/internal/migration"
	"github.com/smallbiznis/invoicepay/internal/observability"
	"github.com/smallbiznis/invoicepay/internal/payment"
	"github.com/smallbiznis/invoicepay/internal/poller"
	"github.com/smallbiznis/invoicepay/internal/reconciliation"
	"github.com/smallbiznis/invoicepay/internal/server"
	"github.com/smallbiznis/invoicepay/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "invoicepay",
		Short:   "Invoice service with Cashfree payment reconciliation",
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				config.Module,
				observability.Module,
				db.Module,
				clock.Module,
				migration.Module,
				server.Module,
				poller.Module,
				poller.Schedule,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				fx.NopLogger,
				config.Module,
				observability.Module,
				db.Module,
				migration.Module,
			)
			return runOnce(cmd.Context(), app)
		},
	}
}

func reconcileCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Verify pending payments against the gateway once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			var summary poller.Summary
			app := fx.New(
				fx.NopLogger,
				config.Module,
				observability.Module,
				db.Module,
				clock.Module,
				gateway.Module,
				invoice.Module,
				reconciliation.Module,
				payment.Module,
				poller.Module,
				fx.Invoke(func(lc fx.Lifecycle, p *poller.Poller) {
					lc.Append(fx.Hook{
						OnStart: func(ctx context.Context) error {
							runCtx, cancel := context.WithTimeout(context.Background(), timeout)
							defer cancel()
							var err error
							summary, err = p.RunOnce(runCtx, poller.TriggerManual)
							return err
						},
					})
				}),
			)
			if err := runOnce(cmd.Context(), app); err != nil {
				return err
			}
			if summary.Skipped != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "reconcile skipped: %s\n", summary.Skipped)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d settled=%d failed=%d\n", summary.Checked, summary.Settled, summary.Failed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "upper bound for the sweep")

	return cmd
}

func runOnce(ctx context.Context, app *fx.App) error {
	if err := app.Err(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	startCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	return app.Stop(stopCtx)
}
