package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"payflow/pkg/idempotency"
	"payflow/pkg/payment"
	"payflow/pkg/reconcile"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type submitOptions struct {
	*rootOptions
	key      string
	customer string
}

func newSubmitCmd(root *rootOptions) *cobra.Command {
	opts := &submitOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "submit <amount> <currency>",
		Short: "Submit one payment and follow it until it settles or fails",
		Example: `  payflow submit 100.00 USD
  payflow submit 100.00 USD --key 3f1c2a9e-7d4b-4c1a-9f0e-2b8d6c5a4e31`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.key, "key", "", "idempotency key of an earlier attempt to retry")
	cmd.Flags().StringVar(&opts.customer, "customer", "", "customer identifier")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <paymentID>",
		Short: "Follow an already submitted payment until it settles or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return follow(cmd, opts, func(ctx context.Context, a *app) (*reconcile.Session, error) {
				return a.tracker.Track(ctx, args[0])
			})
		},
	}
}

func runSubmit(cmd *cobra.Command, opts *submitOptions, args []string) error {
	amount, err := decimal.NewFromString(args[0])
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[0], err)
	}
	req := payment.Request{Amount: amount, Currency: args[1], CustomerID: opts.customer}

	attempt := idempotency.NewAttempt(req)
	if opts.key != "" {
		if attempt, err = idempotency.ResumeAttempt(opts.key, req); err != nil {
			return err
		}
	}

	return follow(cmd, opts.rootOptions, func(ctx context.Context, a *app) (*reconcile.Session, error) {
		fmt.Fprintf(cmd.ErrOrStderr(), "idempotency key: %s\n", attempt.Key())
		return a.tracker.Submit(ctx, attempt)
	})
}

// follow starts a session with start and prints its observations as JSON
// lines until it stops. Interrupting cancels the session.
func follow(cmd *cobra.Command, opts *rootOptions, start func(context.Context, *app) (*reconcile.Session, error)) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	a, err := newApp(ctx, cfg, printObservation(out))
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := start(ctx, a)
	if err != nil {
		return err
	}

	select {
	case <-session.Done():
	case <-ctx.Done():
		a.tracker.Cancel(context.Background(), session.ID())
	}

	// Closing waits for the observer to see the last observation.
	if err := a.Close(); err != nil {
		return err
	}
	snap := session.Snapshot()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return err
	}
	if snap.Status == reconcile.StatusPaymentFailed || snap.Status == reconcile.StatusPayoutFailed {
		return fmt.Errorf("payment %s ended in %s", snap.PaymentID, snap.Status)
	}
	return nil
}

type observationLine struct {
	Kind    reconcile.ObservationKind `json:"kind"`
	From    reconcile.CombinedStatus  `json:"from,omitempty"`
	To      reconcile.CombinedStatus  `json:"to,omitempty"`
	Attempt int                       `json:"attempt"`
	Error   string                    `json:"error,omitempty"`
	Reason  string                    `json:"reason,omitempty"`
}

func printObservation(w io.Writer) func(reconcile.Observation) {
	enc := json.NewEncoder(w)
	return func(o reconcile.Observation) {
		line := observationLine{Kind: o.Kind, Attempt: o.Attempt, Reason: o.Reason}
		if o.Kind == reconcile.ObservationTransition {
			line.From, line.To = o.From, o.To
		}
		if o.Err != nil {
			line.Error = o.Err.Error()
		}
		enc.Encode(line)
	}
}
