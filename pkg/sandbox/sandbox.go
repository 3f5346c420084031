// Package sandbox simulates the payment and payout services in memory. It is
// used by the sandbox binary for local runs and by tests of the HTTP gateways.
package sandbox

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"payflow/pkg/logging"
	"payflow/pkg/payment"

	"github.com/shopspring/decimal"
)

// Config controls how the simulated services advance.
type Config struct {
	// StatusReadsToFinal is the number of status reads of a payment after
	// which it leaves "processing".
	StatusReadsToFinal int `yaml:"status_reads_to_final"`

	// FeedReadsToSettle is the number of payout feed reads after which a
	// pending payout is processed.
	FeedReadsToSettle int `yaml:"feed_reads_to_settle"`

	// PayoutCurrency and Rate convert payment amounts into payouts.
	PayoutCurrency string          `yaml:"payout_currency"`
	Rate           decimal.Decimal `yaml:"rate"`

	// FailingCents makes payments whose amount ends in these cents fail.
	FailingCents string `yaml:"failing_cents"`
}

// DefaultConfig converts USD to INR at 83.25 and fails amounts ending in .13.
func DefaultConfig() Config {
	return Config{
		StatusReadsToFinal: 2,
		FeedReadsToSettle:  2,
		PayoutCurrency:     "INR",
		Rate:               decimal.RequireFromString("83.25"),
		FailingCents:       "13",
	}
}

// Route names accepted by InjectFailures.
const (
	RouteSubmit  = "submit"
	RouteStatus  = "status"
	RouteList    = "list"
	RoutePayouts = "payouts"
)

type paymentEntry struct {
	rec         payment.Record
	fingerprint string
	reads       int
}

type payoutEntry struct {
	payout payment.Payout
	reads  int
}

type keyEntry struct {
	fingerprint string
	paymentID   string
}

// Sandbox is the shared state behind the two simulated services. The payout
// service only learns about payments by scanning this state on feed reads,
// the same way a real payout processor would consume a settlement stream.
type Sandbox struct {
	config Config
	logger *logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	payments map[string]*paymentEntry
	order    []string
	keys     map[string]keyEntry
	payouts  []*payoutEntry
	paid     map[string]bool
	seq      int
	failures map[string]int
}

// New creates an empty sandbox.
func New(config Config) *Sandbox {
	if config.StatusReadsToFinal < 0 {
		config.StatusReadsToFinal = 0
	}
	if config.FeedReadsToSettle < 0 {
		config.FeedReadsToSettle = 0
	}
	if config.PayoutCurrency == "" {
		config.PayoutCurrency = "INR"
	}
	if config.Rate.IsZero() {
		config.Rate = decimal.RequireFromString("83.25")
	}
	return &Sandbox{
		config:   config,
		logger:   logging.Global().Named("sandbox"),
		now:      time.Now,
		payments: make(map[string]*paymentEntry),
		keys:     make(map[string]keyEntry),
		paid:     make(map[string]bool),
		failures: make(map[string]int),
	}
}

// InjectFailures makes the next n requests on route answer 503.
func (s *Sandbox) InjectFailures(route string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] += n
}

// SetPaymentStatus forces the status of a payment, e.g. to simulate a late revision.
func (s *Sandbox) SetPaymentStatus(id string, status payment.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.payments[id]
	if ok {
		e.rec.Status = status
	}
	return ok
}

// AddPayout appends a payout record to the feed, e.g. to simulate a retried payout.
func (s *Sandbox) AddPayout(p payment.Payout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		s.seq++
		p.ID = fmt.Sprintf("pout_%d", s.seq)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.payouts = append(s.payouts, &payoutEntry{payout: p})
	s.paid[p.PaymentID] = true
}

// fail consumes one injected failure for route. Caller holds mu.
func (s *Sandbox) fail(route string) bool {
	if s.failures[route] > 0 {
		s.failures[route]--
		return true
	}
	return false
}

// submit creates or replays a payment.
func (s *Sandbox) submit(req payment.Request) (payment.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp := req.Fingerprint()
	if k, ok := s.keys[req.IdempotencyKey]; ok {
		if k.fingerprint != fp {
			return payment.Record{}, false, payment.ErrIdempotencyConflict
		}
		return s.payments[k.paymentID].rec, false, nil
	}

	s.seq++
	rec := payment.Record{
		ID:        fmt.Sprintf("pay_%d", s.seq),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    payment.StatusProcessing,
		CreatedAt: s.now().UTC(),
	}
	s.payments[rec.ID] = &paymentEntry{rec: rec, fingerprint: fp}
	s.order = append(s.order, rec.ID)
	s.keys[req.IdempotencyKey] = keyEntry{fingerprint: fp, paymentID: rec.ID}

	s.logger.Debug("payment created", logging.PaymentID(rec.ID), logging.IdempotencyKey(req.IdempotencyKey))
	return rec, true, nil
}

// status reads a payment and advances it.
func (s *Sandbox) status(id string) (payment.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.payments[id]
	if !ok {
		return payment.Record{}, false
	}
	e.reads++
	if e.rec.Status == payment.StatusProcessing && e.reads >= s.config.StatusReadsToFinal {
		e.rec.Status = s.outcome(e.rec)
		s.logger.Debug("payment finished", logging.PaymentID(id), logging.Status(string(e.rec.Status)))
	}
	return e.rec, true
}

func (s *Sandbox) outcome(rec payment.Record) payment.Status {
	if s.config.FailingCents != "" && strings.HasSuffix(rec.Amount.StringFixed(2), "."+s.config.FailingCents) {
		return payment.StatusFailed
	}
	return payment.StatusSucceeded
}

// list returns all payments in creation order.
func (s *Sandbox) list() []payment.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]payment.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.payments[id].rec)
	}
	return out
}

// feed creates payouts for newly succeeded payments, advances pending ones
// and returns the whole feed, newest first.
func (s *Sandbox) feed() []payment.Payout {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		e := s.payments[id]
		if e.rec.Status != payment.StatusSucceeded || s.paid[id] {
			continue
		}
		s.seq++
		s.payouts = append(s.payouts, &payoutEntry{payout: payment.Payout{
			ID:        fmt.Sprintf("pout_%d", s.seq),
			PaymentID: id,
			Amount:    e.rec.Amount.Mul(s.config.Rate).Round(payment.MinorUnits(s.config.PayoutCurrency)),
			Currency:  s.config.PayoutCurrency,
			Status:    payment.PayoutPending,
			CreatedAt: s.now().UTC(),
		}})
		s.paid[id] = true
	}

	out := make([]payment.Payout, 0, len(s.payouts))
	for _, p := range s.payouts {
		if p.payout.Status == payment.PayoutPending {
			p.reads++
			if p.reads > s.config.FeedReadsToSettle {
				p.payout.Status = payment.PayoutProcessed
			}
		}
		out = append(out, p.payout)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
