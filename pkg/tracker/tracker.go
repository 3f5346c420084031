// Package tracker owns the reconciliation sessions a process is running.
//
// Sessions are started on the tracker's own context, so they outlive the
// request that created them. Every observation a session emits is followed
// by a snapshot write; stopped sessions leave the registry and are served
// from the snapshot store afterwards.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"payflow/pkg/idempotency"
	"payflow/pkg/logging"
	"payflow/pkg/metrics"
	"payflow/pkg/payment"
	"payflow/pkg/reconcile"
	"payflow/pkg/store"
	"payflow/pkg/submit"

	"go.uber.org/zap"
)

var (
	// ErrSessionNotFound is returned for session IDs neither live nor stored.
	ErrSessionNotFound = errors.New("tracker: session not found")

	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("tracker: closed")
)

// SnapshotWriter accepts snapshots for persistence. writer.SnapshotWriter
// implements it.
type SnapshotWriter interface {
	Write(ctx context.Context, snap reconcile.Snapshot) error
}

// Observer is called for every observation, from the session's follower
// goroutine. It must not block.
type Observer func(reconcile.Observation)

// Config wires the tracker's collaborators.
type Config struct {
	Reconcile reconcile.Config

	// Journal binds idempotency keys to payment IDs (nil = in-memory).
	Journal idempotency.Journal

	// Observer is optional.
	Observer Observer

	Metrics metrics.MetricsCollector
}

// Tracker starts, lists and cancels reconciliation sessions.
type Tracker struct {
	submitter *submit.Client
	svc       payment.Service
	feed      payment.PayoutFeed
	store     store.Store
	writer    SnapshotWriter
	config    Config
	metrics   metrics.MetricsCollector
	logger    *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	closed    bool
	sessions  map[string]*reconcile.Session
	byPayment map[string]string
}

// New creates a tracker. svc and feed are the (already resilient) upstreams,
// st is read for stopped sessions and w receives every snapshot.
func New(svc payment.Service, feed payment.PayoutFeed, st store.Store, w SnapshotWriter, config Config) (*Tracker, error) {
	if err := config.Reconcile.Validate(); err != nil {
		return nil, err
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		submitter: submit.NewClientWithMetrics(svc, config.Journal, config.Metrics),
		svc:       svc,
		feed:      feed,
		store:     st,
		writer:    w,
		config:    config,
		metrics:   config.Metrics,
		logger:    logging.Global().Named("tracker"),
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*reconcile.Session),
		byPayment: make(map[string]string),
	}, nil
}

// Submit sends the attempt and starts reconciling the resulting payment.
// Retrying an attempt that already has a live session returns that session.
func (t *Tracker) Submit(ctx context.Context, attempt *idempotency.Attempt) (*reconcile.Session, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	rec, err := t.submitter.Submit(ctx, attempt)
	if err != nil {
		return nil, err
	}
	return t.start(*rec)
}

// SubmitRequest submits req under a freshly generated idempotency key.
func (t *Tracker) SubmitRequest(ctx context.Context, req payment.Request) (*reconcile.Session, string, error) {
	attempt := idempotency.NewAttempt(req)
	s, err := t.Submit(ctx, attempt)
	return s, attempt.Key(), err
}

// Track starts a session for a payment submitted earlier, by this process or
// another one. The current payment record is read once to seed the session.
func (t *Tracker) Track(ctx context.Context, paymentID string) (*reconcile.Session, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	if s := t.liveByPayment(paymentID); s != nil {
		return s, nil
	}

	rec, err := t.svc.GetStatus(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", paymentID, err)
	}
	return t.start(*rec)
}

func (t *Tracker) start(rec payment.Record) (*reconcile.Session, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if id, ok := t.byPayment[rec.ID]; ok {
		s := t.sessions[id]
		t.mu.Unlock()
		return s, nil
	}

	s, err := reconcile.NewSessionWithMetrics(rec, t.svc, t.feed, t.config.Reconcile, t.metrics)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.sessions[s.ID()] = s
	t.byPayment[rec.ID] = s.ID()
	active := len(t.sessions)
	t.wg.Add(1)
	t.mu.Unlock()

	t.metrics.RecordActiveSessions(active)

	go t.follow(s)
	if err := s.Start(t.ctx); err != nil {
		return nil, err
	}
	t.persist(s.Snapshot())

	t.logger.Info("session started",
		logging.SessionID(s.ID()),
		logging.PaymentID(rec.ID),
		logging.Status(string(rec.Status)),
	)
	return s, nil
}

// follow drains a session's observations until it stops, then retires it.
func (t *Tracker) follow(s *reconcile.Session) {
	defer t.wg.Done()

	log := t.logger.With(logging.SessionID(s.ID()), logging.PaymentID(s.PaymentID()))
	for obs := range s.Observations() {
		t.log(log, obs)
		if t.config.Observer != nil {
			t.config.Observer(obs)
		}
		t.persist(s.Snapshot())
	}

	<-s.Done()
	final := s.Snapshot()
	t.persist(final)

	t.mu.Lock()
	delete(t.sessions, s.ID())
	if t.byPayment[s.PaymentID()] == s.ID() {
		delete(t.byPayment, s.PaymentID())
	}
	active := len(t.sessions)
	t.mu.Unlock()

	t.metrics.RecordActiveSessions(active)
	log.Info("session stopped",
		logging.Status(string(final.Status)),
		logging.Attempt(final.Attempts),
		zap.Bool("cancelled", final.Cancelled),
	)
}

func (t *Tracker) log(log *logging.Logger, obs reconcile.Observation) {
	switch obs.Kind {
	case reconcile.ObservationTransition:
		log.Info("status changed",
			zap.String("from", string(obs.From)),
			zap.String("to", string(obs.To)),
			logging.Attempt(obs.Attempt),
		)
	case reconcile.ObservationPollFailure:
		log.Debug("poll failed", zap.String("reason", obs.Reason), logging.Attempt(obs.Attempt))
	default:
		log.Warn("session advisory", zap.String("kind", string(obs.Kind)), logging.Attempt(obs.Attempt))
	}
}

func (t *Tracker) persist(snap reconcile.Snapshot) {
	if t.writer == nil {
		return
	}
	if err := t.writer.Write(context.Background(), snap); err != nil {
		t.logger.Warn("snapshot not persisted", logging.SessionID(snap.SessionID), zap.Error(err))
	}
}

// Get returns the snapshot of a live session, or the stored one.
func (t *Tracker) Get(ctx context.Context, sessionID string) (*reconcile.Snapshot, error) {
	t.mu.RLock()
	s, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if ok {
		snap := s.Snapshot()
		return &snap, nil
	}

	if t.store == nil {
		return nil, ErrSessionNotFound
	}
	snap, err := t.store.Load(ctx, sessionID)
	if store.IsNotFound(err) {
		return nil, ErrSessionNotFound
	}
	return snap, err
}

// List returns every stored session, with live sessions overlaid by their
// current snapshot. Newest first.
func (t *Tracker) List(ctx context.Context) ([]reconcile.Snapshot, error) {
	live := t.liveSnapshots()

	var stored []reconcile.Snapshot
	if t.store != nil {
		var err error
		stored, err = t.store.List(ctx)
		if err != nil && len(stored) == 0 {
			return nil, err
		}
		if err != nil {
			t.logger.Warn("partial session list", zap.Error(err))
		}
	}

	out := make([]reconcile.Snapshot, 0, len(live)+len(stored))
	for _, snap := range stored {
		if _, ok := live[snap.SessionID]; ok {
			continue
		}
		out = append(out, snap)
	}
	for _, snap := range live {
		out = append(out, snap)
	}
	store.SortNewestFirst(out)
	return out, nil
}

// Cancel stops a live session and returns its final snapshot. Cancelling a
// stopped session returns its stored snapshot unchanged.
func (t *Tracker) Cancel(ctx context.Context, sessionID string) (*reconcile.Snapshot, error) {
	t.mu.RLock()
	s, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if !ok {
		return t.Get(ctx, sessionID)
	}

	s.Cancel()
	snap := s.Snapshot()
	t.persist(snap)
	return &snap, nil
}

// Active returns the number of live sessions.
func (t *Tracker) Active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Close cancels every live session and waits for their final snapshots to
// be handed to the writer.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	return t.config.closeJournal()
}

func (c Config) closeJournal() error {
	if c.Journal == nil {
		return nil
	}
	return c.Journal.Close()
}

func (t *Tracker) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

func (t *Tracker) liveByPayment(paymentID string) *reconcile.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id, ok := t.byPayment[paymentID]; ok {
		return t.sessions[id]
	}
	return nil
}

func (t *Tracker) liveSnapshots() map[string]reconcile.Snapshot {
	t.mu.RLock()
	sessions := make([]*reconcile.Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.RUnlock()

	out := make(map[string]reconcile.Snapshot, len(sessions))
	for _, s := range sessions {
		out[s.ID()] = s.Snapshot()
	}
	return out
}
