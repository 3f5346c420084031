package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"payflow/pkg/api"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and reconcile submitted payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := api.NewServer(a.tracker, cfg.API, api.Options{
		Dashboard:  a.dashboard,
		Registerer: a.registry,
		Gatherer:   a.registry,
		Namespace:  cfg.Metrics.Namespace,
	})
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()

	a.logger.Info("payflow serving",
		zap.String("addr", cfg.API.Address),
		zap.String("payments", cfg.Upstream.PaymentURL),
		zap.String("payouts", cfg.Upstream.PayoutURL),
	)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}
