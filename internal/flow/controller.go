package flow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"anonfeedback-backend/internal/metrics"
	"anonfeedback-backend/internal/models"
	"anonfeedback-backend/internal/notify"
	"anonfeedback-backend/internal/payment"
	"anonfeedback-backend/internal/repository"
	"anonfeedback-backend/internal/routing"
	"anonfeedback-backend/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Rounds is the part of the round repository the flow needs.
type Rounds interface {
	FindByID(ctx context.Context, id string) (models.Round, error)
	AppendFeedback(ctx context.Context, roundID, content string) (models.Round, error)
}

type Config struct {
	// Cost is the fee in the token's smallest unit, the same for every round.
	Cost        *big.Int
	Destination common.Address
	// AttemptTTL is how long an idle attempt is kept before Prune drops it.
	AttemptTTL time.Duration
	// FeedbackURL builds the public link to a round, used in notifications.
	FeedbackURL func(roundID string) string
}

// Controller owns every in-flight feedback attempt. Provider calls are always
// made without holding mu, since providers may deliver events synchronously.
type Controller struct {
	rounds   Rounds
	provider payment.Provider
	wallets  *wallet.Registry
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time

	mu       sync.Mutex
	attempts map[string]*attempt
	byHandle map[string]string
}

func NewController(rounds Rounds, provider payment.Provider, wallets *wallet.Registry, notifier notify.Notifier, m *metrics.Metrics, logger *zap.Logger, cfg Config) *Controller {
	if cfg.FeedbackURL == nil {
		cfg.FeedbackURL = routing.FeedbackPath
	}
	c := &Controller{
		rounds:   rounds,
		provider: provider,
		wallets:  wallets,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With(zap.String("component", "flow")),
		cfg:      cfg,
		now:      time.Now,
		attempts: map[string]*attempt{},
		byHandle: map[string]string{},
	}
	provider.OnEvent(c.HandlePaymentEvent)
	return c
}

// Start opens an attempt for an existing round.
func (c *Controller) Start(ctx context.Context, roundID string) (Snapshot, error) {
	round, err := c.rounds.FindByID(ctx, roundID)
	if err != nil {
		return Snapshot{}, err
	}

	now := c.now()
	a := &attempt{
		id:        uuid.New().String(),
		roundID:   round.ID,
		state:     Composing,
		wallet:    wallet.NewSession(),
		round:     round,
		createdAt: now,
		updatedAt: now,
	}

	c.mu.Lock()
	c.attempts[a.id] = a
	c.metrics.ActiveAttempts.Set(float64(len(c.attempts)))
	c.mu.Unlock()
	return a.snapshot(), nil
}

func (c *Controller) Get(id string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.attempts[id]
	if !ok {
		return Snapshot{}, ErrAttemptNotFound
	}
	return a.snapshot(), nil
}

// Challenge returns the message the respondent signs to connect an injected wallet.
func (c *Controller) Challenge(id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.attempts[id]; !ok {
		return "", ErrAttemptNotFound
	}
	return wallet.Challenge(id), nil
}

// Compose replaces the draft text. Editing is allowed while composing and after
// a failure, so a retry never needs retyping.
func (c *Controller) Compose(id, text string) (Snapshot, error) {
	return c.update(id, func(a *attempt) error {
		if a.state != Composing && a.state != Failed {
			return ErrInvalidTransition
		}
		a.text = text
		return nil
	})
}

// Submit locks in the draft and moves on to wallet connection, or straight to
// payment if a wallet is already connected.
func (c *Controller) Submit(id string) (Snapshot, error) {
	return c.update(id, func(a *attempt) error {
		if a.state != Composing {
			return ErrInvalidTransition
		}
		if strings.TrimSpace(a.text) == "" {
			return repository.ErrValidation
		}
		if a.wallet.State().IsConnected() {
			a.state = AwaitingPayment
		} else {
			a.state = AwaitingWalletConnection
		}
		return nil
	})
}

// ConnectWallet is never retried on the respondent's behalf. Connecting while
// still composing is allowed and does not advance the state.
func (c *Controller) ConnectWallet(id, connector string, proof wallet.Proof) (Snapshot, error) {
	return c.update(id, func(a *attempt) error {
		if a.wallet.State().IsConnected() {
			return nil
		}
		if a.state != Composing && a.state != AwaitingWalletConnection {
			return ErrInvalidTransition
		}
		if _, err := a.wallet.Connect(c.wallets, connector, wallet.Challenge(a.id), proof); err != nil {
			return err
		}
		if a.state == AwaitingWalletConnection {
			a.state = AwaitingPayment
		}
		return nil
	})
}

// Pay initiates the fee payment. An attempt holds at most one live handle;
// calling Pay again returns it instead of starting a second payment.
func (c *Controller) Pay(ctx context.Context, id string) (Snapshot, error) {
	c.mu.Lock()
	a, ok := c.attempts[id]
	if !ok {
		c.mu.Unlock()
		return Snapshot{}, ErrAttemptNotFound
	}
	if a.state != AwaitingPayment {
		c.mu.Unlock()
		return Snapshot{}, ErrInvalidTransition
	}
	if a.handle != nil {
		snap := a.snapshot()
		c.mu.Unlock()
		return snap, nil
	}
	req := payment.Request{
		Reference:   a.id,
		Amount:      new(big.Int).Set(c.cfg.Cost),
		Destination: c.cfg.Destination,
		Payer:       a.wallet.State().Address,
	}
	c.mu.Unlock()

	handle, err := c.provider.Initiate(ctx, req)
	if err != nil {
		c.logger.Warn("payment initiation failed",
			zap.String("attempt_id", id),
			zap.String("provider", c.provider.Name()),
			zap.Error(err))
		return Snapshot{}, err
	}

	c.mu.Lock()
	a, ok = c.attempts[id]
	if !ok || a.state != AwaitingPayment || a.handle != nil {
		c.mu.Unlock()
		c.provider.Cancel(handle.ID)
		if !ok {
			return Snapshot{}, ErrAttemptNotFound
		}
		return Snapshot{}, ErrInvalidTransition
	}
	a.handle = &handle
	a.updatedAt = c.now()
	c.byHandle[handle.ID] = a.id
	snap := a.snapshot()
	c.mu.Unlock()
	return snap, nil
}

// ReportTransaction passes a broadcast transaction hash to providers that need
// it (the direct transfer pathway).
func (c *Controller) ReportTransaction(ctx context.Context, id, txHash string) (Snapshot, error) {
	reporter, ok := c.provider.(payment.BroadcastReporter)
	if !ok {
		return Snapshot{}, payment.ErrNotSupported
	}

	c.mu.Lock()
	a, ok := c.attempts[id]
	if !ok {
		c.mu.Unlock()
		return Snapshot{}, ErrAttemptNotFound
	}
	if a.state != AwaitingPayment || a.handle == nil {
		c.mu.Unlock()
		return Snapshot{}, ErrInvalidTransition
	}
	handleID := a.handle.ID
	c.mu.Unlock()

	if err := reporter.ReportBroadcast(ctx, handleID, txHash); err != nil {
		return Snapshot{}, err
	}
	return c.Get(id)
}

// Retry resumes a failed attempt. If the fee was already paid only the append
// is repeated; otherwise a new payment is required.
func (c *Controller) Retry(ctx context.Context, id string) (Snapshot, error) {
	c.mu.Lock()
	a, ok := c.attempts[id]
	if !ok {
		c.mu.Unlock()
		return Snapshot{}, ErrAttemptNotFound
	}
	if a.state != Failed {
		c.mu.Unlock()
		return Snapshot{}, ErrInvalidTransition
	}
	if !a.paid {
		released := c.clearHandle(a)
		a.state = AwaitingPayment
		a.failedFrom, a.failure = "", ""
		a.updatedAt = c.now()
		snap := a.snapshot()
		c.mu.Unlock()
		c.cancelHandles(released)
		return snap, nil
	}
	if strings.TrimSpace(a.text) == "" {
		c.mu.Unlock()
		return Snapshot{}, repository.ErrValidation
	}
	c.beginSubmitting(a)
	c.mu.Unlock()

	c.submit(ctx, id)
	return c.Get(id)
}

// HandlePaymentEvent is the provider sink. Events may arrive on any goroutine,
// in any order relative to respondent actions; events for unknown or settled
// handles are dropped.
func (c *Controller) HandlePaymentEvent(ev payment.Event) {
	c.metrics.PaymentEvents.WithLabelValues(c.provider.Name(), string(ev.Type)).Inc()

	c.mu.Lock()
	id, ok := c.byHandle[ev.HandleID]
	a := c.attempts[id]
	if !ok || a == nil || a.state != AwaitingPayment || a.handle == nil || a.handle.ID != ev.HandleID {
		c.mu.Unlock()
		c.logger.Debug("dropping payment event",
			zap.String("handle_id", ev.HandleID),
			zap.String("type", string(ev.Type)))
		return
	}
	if ev.TxRef != "" {
		a.txRef = ev.TxRef
	}
	a.updatedAt = c.now()

	switch ev.Type {
	case payment.EventStarted:
		a.pending = true
		c.mu.Unlock()
		return
	case payment.EventFailed:
		c.fail(a, AwaitingPayment, fmt.Errorf("%w: %s", payment.ErrPaymentFailed, ev.Reason))
		c.mu.Unlock()
		return
	case payment.EventCompleted:
		if ev.Amount == nil || ev.Amount.Cmp(c.cfg.Cost) < 0 {
			c.fail(a, AwaitingPayment, fmt.Errorf("%w: amount below feedback cost", payment.ErrPaymentFailed))
			c.mu.Unlock()
			return
		}
		a.paid = true
		c.beginSubmitting(a)
		c.mu.Unlock()
		c.submit(context.Background(), id)
	default:
		c.mu.Unlock()
	}
}

// Prune drops attempts idle for longer than the TTL. Attempts mid-append are
// kept.
func (c *Controller) Prune() int {
	if c.cfg.AttemptTTL <= 0 {
		return 0
	}
	cutoff := c.now().Add(-c.cfg.AttemptTTL)

	c.mu.Lock()
	removed := 0
	var released []string
	for id, a := range c.attempts {
		if a.state == Submitting || a.updatedAt.After(cutoff) {
			continue
		}
		released = append(released, c.clearHandle(a)...)
		delete(c.attempts, id)
		removed++
	}
	c.metrics.ActiveAttempts.Set(float64(len(c.attempts)))
	c.mu.Unlock()

	c.cancelHandles(released)
	return removed
}

// update applies fn to the attempt under mu and returns the new snapshot.
func (c *Controller) update(id string, fn func(a *attempt) error) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.attempts[id]
	if !ok {
		return Snapshot{}, ErrAttemptNotFound
	}
	if err := fn(a); err != nil {
		return Snapshot{}, err
	}
	a.updatedAt = c.now()
	return a.snapshot(), nil
}

// beginSubmitting and fail must be called with mu held.
func (c *Controller) beginSubmitting(a *attempt) {
	a.state = Submitting
	a.pending = false
	a.failedFrom, a.failure = "", ""
	a.updatedAt = c.now()
}

func (c *Controller) fail(a *attempt, from State, err error) {
	a.state = Failed
	a.failedFrom = from
	a.failure = err.Error()
	a.pending = false
	a.updatedAt = c.now()
	c.metrics.FlowFailures.WithLabelValues(string(from)).Inc()
	c.logger.Warn("feedback attempt failed",
		zap.String("attempt_id", a.id),
		zap.String("round_id", a.roundID),
		zap.String("from", string(from)),
		zap.Error(err))
}

// clearHandle detaches the attempt's handle and returns its id for
// cancelHandles, which must run after mu is released.
func (c *Controller) clearHandle(a *attempt) []string {
	if a.handle == nil {
		return nil
	}
	id := a.handle.ID
	delete(c.byHandle, id)
	a.handle = nil
	return []string{id}
}

func (c *Controller) cancelHandles(ids []string) {
	for _, id := range ids {
		c.provider.Cancel(id)
	}
}

// submit appends the feedback for an attempt already in Submitting. The
// repository call runs without mu; Submitting blocks every other transition
// meanwhile.
func (c *Controller) submit(ctx context.Context, id string) {
	c.mu.Lock()
	a, ok := c.attempts[id]
	if !ok || a.state != Submitting {
		c.mu.Unlock()
		return
	}
	roundID, text := a.roundID, a.text
	c.mu.Unlock()

	round, err := c.rounds.AppendFeedback(ctx, roundID, text)

	c.mu.Lock()
	if err != nil {
		c.fail(a, Submitting, err)
		c.mu.Unlock()
		return
	}
	a.state = Submitted
	a.round = round
	a.text = ""
	a.updatedAt = c.now()
	released := c.clearHandle(a)
	txRef := a.txRef
	c.mu.Unlock()

	c.cancelHandles(released)
	c.metrics.FeedbackSubmitted.Inc()
	c.logger.Info("feedback submitted",
		zap.String("attempt_id", id),
		zap.String("round_id", roundID),
		zap.String("tx", txRef))

	if len(round.Feedback) > 0 {
		fb := round.Feedback[len(round.Feedback)-1]
		go func() {
			subject, body := notify.FeedbackMessage(round, fb, c.cfg.FeedbackURL(round.ID))
			if err := c.notifier.Publish(context.Background(), subject, body); err != nil {
				c.logger.Error("error publishing notification", zap.Error(err))
			}
		}()
	}
}

// IsNotFound reports whether err means the round or attempt does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound) || errors.Is(err, ErrAttemptNotFound)
}
