package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"payflow/pkg/logging"
	"payflow/pkg/metrics"
	"payflow/pkg/payment"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyStarted is returned by Start on a session that was started before.
	ErrAlreadyStarted = errors.New("reconcile: session already started")

	// ErrNoPaymentID is returned when a session is created for a record without an identifier.
	ErrNoPaymentID = errors.New("reconcile: payment record has no identifier")
)

// ObservationKind tells what an Observation reports.
type ObservationKind string

const (
	// ObservationTransition reports a change of the combined status.
	ObservationTransition ObservationKind = "transition"
	// ObservationPollFailure reports a failed poll cycle. The status is unchanged.
	ObservationPollFailure ObservationKind = "poll_failure"
	// ObservationTimeout is the ReconciliationTimeout advisory.
	ObservationTimeout ObservationKind = "reconciliation_timeout"
	// ObservationDegraded is the PollingDegraded advisory.
	ObservationDegraded ObservationKind = "polling_degraded"
)

// Observation is one entry of a session's observation stream.
type Observation struct {
	Kind      ObservationKind
	SessionID string
	PaymentID string

	// From and To are set for transitions. For other kinds both hold the
	// current status.
	From CombinedStatus
	To   CombinedStatus

	Attempt int

	// Err is the error category for failures and advisories: one of
	// payment.ErrTransientPollFailure, payment.ErrReconciliationTimeout
	// or payment.ErrPollingDegraded.
	Err error

	// Reason is the payment.ClassifyError label of the underlying failure.
	Reason string

	At time.Time
}

// Snapshot is a read-only copy of a session's state.
type Snapshot struct {
	SessionID           string          `json:"sessionId"`
	PaymentID           string          `json:"paymentId"`
	Status              CombinedStatus  `json:"status"`
	Attempts            int             `json:"attempts"`
	ConsecutiveFailures int             `json:"consecutiveFailures"`
	Active              bool            `json:"active"`
	Cancelled           bool            `json:"cancelled"`
	TimedOut            bool            `json:"timedOut"`
	Degraded            bool            `json:"degraded"`
	LastError           string          `json:"lastError,omitempty"`
	Payment             *payment.Record `json:"payment,omitempty"`
	Payout              *payment.Payout `json:"payout,omitempty"`
	StartedAt           time.Time       `json:"startedAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// Session reconciles one payment against the payout feed. It owns one
// goroutine and one timer while running; both are released when the session
// reaches a terminal status or is cancelled.
type Session struct {
	id      string
	config  Config
	poller  *Poller
	matcher *Matcher
	metrics metrics.MetricsCollector
	logger  *logging.Logger

	observations chan Observation
	done         chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	startOnce  sync.Once
	started    bool
	cancelOnce sync.Once

	mu    sync.RWMutex
	state Snapshot

	timeoutRaised  bool
	degradedRaised bool
}

// NewSession creates a session for a submitted payment.
func NewSession(initial payment.Record, svc payment.Service, feed payment.PayoutFeed, config Config) (*Session, error) {
	return NewSessionWithMetrics(initial, svc, feed, config, metrics.NoOpCollector{})
}

// NewSessionWithMetrics creates a session that reports calls, transitions and
// advisories to collector.
func NewSessionWithMetrics(initial payment.Record, svc payment.Service, feed payment.PayoutFeed, config Config, collector metrics.MetricsCollector) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if initial.ID == "" {
		return nil, ErrNoPaymentID
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	id := uuid.NewString()
	rec := initial
	now := time.Now()

	s := &Session{
		id:           id,
		config:       config,
		poller:       NewPoller(svc, config.CallTimeout, collector),
		matcher:      NewMatcher(feed, config.CallTimeout, collector),
		metrics:      collector,
		logger:       logging.Global().Named("reconcile").With(logging.SessionID(id), logging.PaymentID(initial.ID)),
		observations: make(chan Observation, config.ObservationBuffer),
		done:         make(chan struct{}),
		state: Snapshot{
			SessionID: id,
			PaymentID: initial.ID,
			Status:    StatusSubmitted,
			Payment:   &rec,
			StartedAt: now,
			UpdatedAt: now,
		},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// PaymentID returns the identifier of the reconciled payment.
func (s *Session) PaymentID() string { return s.state.PaymentID }

// Start begins polling. The first cycle runs immediately. Cancelling ctx has
// the same effect as calling Cancel.
func (s *Session) Start(ctx context.Context) error {
	err := ErrAlreadyStarted
	s.startOnce.Do(func() {
		err = nil
		if s.ctx.Err() != nil {
			s.stopUnstarted()
			return
		}

		s.mu.Lock()
		s.started = true
		s.state.Active = true
		s.mu.Unlock()

		stop := context.AfterFunc(ctx, s.Cancel)
		go func() {
			defer stop()
			s.run()
		}()
	})
	if err != nil && !s.hasStarted() {
		// Cancelled before start: nothing to run.
		return nil
	}
	return err
}

// stopUnstarted closes the streams of a session that never ran.
func (s *Session) stopUnstarted() {
	s.finish()
	close(s.observations)
	close(s.done)
}

func (s *Session) hasStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Cancel stops the session. After Cancel returns no further remote calls are
// made for this session and its timer has been released. Safe to call more
// than once and from any goroutine, including one that consumes Observations.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		if !s.state.Status.IsTerminal() {
			s.state.Cancelled = true
		}
		s.mu.Unlock()
		s.cancel()
	})

	// A session that was never started stops here, so Done and
	// Observations close without a later Start.
	s.startOnce.Do(s.stopUnstarted)
	<-s.done
}

// Done is closed once the session has stopped polling.
func (s *Session) Done() <-chan struct{} { return s.done }

// Observations returns the observation stream. It is closed when the session
// stops. The session blocks on a full stream, so callers must drain it.
func (s *Session) Observations() <-chan Observation { return s.observations }

// Status returns the current combined status.
func (s *Session) Status() CombinedStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Status
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.state
	if snap.Payment != nil {
		rec := *snap.Payment
		snap.Payment = &rec
	}
	if snap.Payout != nil {
		p := *snap.Payout
		snap.Payout = &p
	}
	return snap
}

func (s *Session) run() {
	defer close(s.done)
	defer close(s.observations)
	defer s.finish()

	timer := time.NewTimer(0)
	defer timer.Stop()

	s.logger.Debug("session started", zap.Duration("interval", s.config.PollInterval))

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("session cancelled", logging.Status(string(s.Status())))
			return
		case <-timer.C:
		}

		if s.cycle() {
			return
		}
		timer.Reset(s.config.PollInterval)
	}
}

// finish marks the session inactive.
func (s *Session) finish() {
	s.mu.Lock()
	s.state.Active = false
	s.state.UpdatedAt = time.Now()
	s.mu.Unlock()
}

// cycle runs one poll cycle and reports whether the session should stop.
func (s *Session) cycle() bool {
	ctx := s.ctx
	paymentID := s.state.PaymentID

	s.mu.Lock()
	s.state.Attempts++
	attempt := s.state.Attempts
	s.mu.Unlock()

	var failure error

	if ctx.Err() != nil {
		return true
	}
	rec, err := s.poller.Poll(ctx, paymentID)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		failure = err
	} else if !s.applyPayment(rec, attempt) {
		return true
	}

	if s.Status().payoutPhase() {
		if ctx.Err() != nil {
			return true
		}
		p, err := s.matcher.Match(ctx, paymentID)
		if ctx.Err() != nil {
			return true
		}
		if err != nil {
			if failure == nil {
				failure = err
			}
		} else if !s.applyPayout(p, attempt) {
			return true
		}
	}

	if !s.afterCycle(failure, attempt) {
		return true
	}
	return s.Status().IsTerminal()
}

// applyPayment merges a payment read into the state. It returns false if the
// session was cancelled while emitting.
func (s *Session) applyPayment(rec *payment.Record, attempt int) bool {
	s.mu.Lock()
	current := s.state.Status
	cached := s.state.Payment
	if cached == nil || rec.Status.Rank() >= cached.Status.Rank() {
		cp := *rec
		s.state.Payment = &cp
	}
	next := nextOnPayment(current, rec.Status)
	s.mu.Unlock()

	if current.Rank() >= StatusAwaitingPayout.Rank() && rec.Status == payment.StatusFailed {
		s.logger.Warn("payment reported failed after success; payout outcome decides",
			logging.Status(string(current)), logging.Attempt(attempt))
	}

	return s.transition(current, next, attempt)
}

// applyPayout merges a matcher result into the state.
func (s *Session) applyPayout(p *payment.Payout, attempt int) bool {
	if p == nil {
		return true
	}

	s.mu.Lock()
	current := s.state.Status
	cached := s.state.Payout
	if cached == nil || cached.ID != p.ID || p.Status.Rank() >= cached.Status.Rank() {
		s.state.Payout = p
	}
	next := nextOnPayout(current, p)
	s.mu.Unlock()

	if next != current {
		s.logger.Debug("payout matched", logging.PayoutID(p.ID), logging.Status(string(p.Status)))
	}
	return s.transition(current, next, attempt)
}

func (s *Session) transition(from, to CombinedStatus, attempt int) bool {
	if from == to {
		return true
	}

	s.mu.Lock()
	s.state.Status = to
	s.state.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.metrics.RecordTransition(string(from), string(to))
	s.logger.Info("status changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		logging.Attempt(attempt),
	)

	return s.emit(Observation{
		Kind:    ObservationTransition,
		From:    from,
		To:      to,
		Attempt: attempt,
	})
}

// afterCycle updates failure streaks and raises advisories.
func (s *Session) afterCycle(failure error, attempt int) bool {
	s.mu.Lock()
	status := s.state.Status
	s.state.UpdatedAt = time.Now()
	if failure == nil {
		s.state.ConsecutiveFailures = 0
		s.state.LastError = ""
		s.degradedRaised = false
		s.state.Degraded = false
	} else {
		s.state.ConsecutiveFailures++
		s.state.LastError = payment.ClassifyError(failure)
	}
	streak := s.state.ConsecutiveFailures

	raiseDegraded := failure != nil && s.config.DegradedThreshold > 0 &&
		streak >= s.config.DegradedThreshold && !s.degradedRaised
	if raiseDegraded {
		s.degradedRaised = true
		s.state.Degraded = true
	}

	raiseTimeout := !status.IsTerminal() && s.config.MaxAttempts > 0 &&
		attempt >= s.config.MaxAttempts && !s.timeoutRaised
	if raiseTimeout {
		s.timeoutRaised = true
		s.state.TimedOut = true
	}
	s.mu.Unlock()

	if failure != nil {
		reason := payment.ClassifyError(failure)
		s.logger.Debug("poll cycle failed",
			logging.Attempt(attempt),
			zap.Int("consecutive_failures", streak),
			zap.String("reason", reason),
			zap.Error(failure),
		)
		if !s.emit(Observation{
			Kind:    ObservationPollFailure,
			From:    status,
			To:      status,
			Attempt: attempt,
			Err:     payment.ErrTransientPollFailure,
			Reason:  reason,
		}) {
			return false
		}
	}

	if raiseDegraded {
		s.metrics.RecordAdvisory(string(ObservationDegraded))
		s.logger.Warn("polling degraded", zap.Int("consecutive_failures", streak))
		if !s.emit(Observation{
			Kind:    ObservationDegraded,
			From:    status,
			To:      status,
			Attempt: attempt,
			Err:     payment.ErrPollingDegraded,
			Reason:  payment.ClassifyError(failure),
		}) {
			return false
		}
	}

	if raiseTimeout {
		s.metrics.RecordAdvisory(string(ObservationTimeout))
		s.logger.Warn("reconciliation timeout", logging.Attempt(attempt), logging.Status(string(status)))
		if !s.emit(Observation{
			Kind:    ObservationTimeout,
			From:    status,
			To:      status,
			Attempt: attempt,
			Err:     payment.ErrReconciliationTimeout,
		}) {
			return false
		}
	}
	return true
}

// emit delivers o unless the session is cancelled first.
func (s *Session) emit(o Observation) bool {
	o.SessionID = s.id
	o.PaymentID = s.state.PaymentID
	o.At = time.Now()

	select {
	case s.observations <- o:
		return true
	case <-s.ctx.Done():
		return false
	}
}
