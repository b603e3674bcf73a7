package payment

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const WidgetName = "widget"

// WidgetCallback is the body the hosted widget posts for each status change.
type WidgetCallback struct {
	PaymentID string `json:"paymentId" validate:"required"`
	Type      string `json:"type" validate:"required,oneof=started completed failed"`
	TxHash    string `json:"txHash"`
	// Amount is a decimal token amount; empty means the requested amount.
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

// WidgetProvider delegates the whole transfer to a hosted payment button and
// treats its started/completed/failed callbacks as the payment events.
type WidgetProvider struct {
	appID  string
	asset  Asset
	logger *zap.Logger

	mu      sync.Mutex
	sink    Sink
	pending map[string]Request
}

func NewWidgetProvider(appID string, asset Asset, logger *zap.Logger) *WidgetProvider {
	return &WidgetProvider{
		appID:   appID,
		asset:   asset,
		logger:  logger.With(zap.String("provider", WidgetName)),
		pending: map[string]Request{},
	}
}

func (w *WidgetProvider) Name() string { return WidgetName }

func (w *WidgetProvider) OnEvent(sink Sink) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sink = sink
}

func (w *WidgetProvider) Initiate(ctx context.Context, req Request) (Handle, error) {
	if w.appID == "" {
		return Handle{}, fmt.Errorf("%w: widget app id not configured", ErrProviderUnavailable)
	}

	id := uuid.New().String()
	w.mu.Lock()
	w.pending[id] = req
	w.mu.Unlock()

	h := newHandle(id, WidgetName, w.asset, req)
	h.Widget = &WidgetParams{
		AppID:     w.appID,
		ToChain:   w.asset.ChainID,
		ToToken:   w.asset.Token.Hex(),
		ToAddress: req.Destination.Hex(),
		ToUnits:   FormatUnits(req.Amount, w.asset.Decimals),
	}
	return h, nil
}

func (w *WidgetProvider) Cancel(handleID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, handleID)
}

// Pending reports how many handles are awaiting a final callback.
func (w *WidgetProvider) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// HandleCallback translates one widget callback into a payment event.
// Completed and failed callbacks retire the handle.
func (w *WidgetProvider) HandleCallback(cb WidgetCallback) error {
	typ := EventType(cb.Type)
	switch typ {
	case EventStarted, EventCompleted, EventFailed:
	default:
		return fmt.Errorf("payment: unknown widget event %q", cb.Type)
	}

	var paid *big.Int
	if typ == EventCompleted && cb.Amount != "" {
		parsed, err := ParseUnits(cb.Amount, w.asset.Decimals)
		if err != nil {
			return err
		}
		paid = parsed
	}

	w.mu.Lock()
	req, ok := w.pending[cb.PaymentID]
	if ok && typ != EventStarted {
		delete(w.pending, cb.PaymentID)
	}
	sink := w.sink
	w.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}

	ev := Event{
		HandleID: cb.PaymentID,
		Type:     typ,
		TxRef:    cb.TxHash,
		Reason:   cb.Reason,
		At:       time.Now(),
	}
	if typ == EventCompleted {
		if paid == nil {
			paid = new(big.Int).Set(req.Amount)
		}
		ev.Amount = paid
	}

	w.logger.Info("widget callback",
		zap.String("payment_id", cb.PaymentID),
		zap.String("type", cb.Type),
		zap.String("tx", cb.TxHash))
	if sink != nil {
		sink(ev)
	}
	return nil
}
