// Command sandbox runs simulated payment and payout services for local
// development against payflow.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payflow/pkg/logging"
	"payflow/pkg/sandbox"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type options struct {
	paymentAddr string
	payoutAddr  string
	rate        string
	config      sandbox.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{config: sandbox.DefaultConfig()}

	cmd := &cobra.Command{
		Use:           "sandbox",
		Short:         "Run simulated payment and payout services",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.paymentAddr, "payments", ":3001", "payment service listen address")
	flags.StringVar(&opts.payoutAddr, "payouts", ":3002", "payout service listen address")
	flags.IntVar(&opts.config.StatusReadsToFinal, "status-reads", opts.config.StatusReadsToFinal, "status reads before a payment leaves processing")
	flags.IntVar(&opts.config.FeedReadsToSettle, "feed-reads", opts.config.FeedReadsToSettle, "feed reads before a payout is processed")
	flags.StringVar(&opts.config.PayoutCurrency, "payout-currency", opts.config.PayoutCurrency, "currency payouts are made in")
	flags.StringVar(&opts.rate, "rate", opts.config.Rate.String(), "conversion rate from payment to payout amount")
	flags.StringVar(&opts.config.FailingCents, "failing-cents", opts.config.FailingCents, "payments with these cents fail")
	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	logger, err := logging.NewLoggerFromEnv()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logging.SetGlobal(logger)
	defer logger.Sync()

	config := opts.config
	if config.Rate, err = decimal.NewFromString(opts.rate); err != nil {
		return fmt.Errorf("invalid rate %q: %w", opts.rate, err)
	}

	sb := sandbox.New(config)
	servers := []*http.Server{
		{Addr: opts.paymentAddr, Handler: sb.PaymentHandler(), ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second},
		{Addr: opts.payoutAddr, Handler: sb.PayoutHandler(), ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second},
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info("sandbox listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
