// Package payment defines the capability used to collect the feedback fee and
// its two implementations: a direct ERC-20 transfer verified on chain, and a
// hosted payment widget reporting through callbacks.
package payment

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrPaymentFailed       = errors.New("payment failed")
	ErrUnknownHandle       = errors.New("unknown payment handle")
	ErrNotSupported        = errors.New("operation not supported by payment provider")
	ErrInvalidTransaction  = errors.New("invalid transaction reference")
)

type EventType string

const (
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is one observable step of a payment. Amount is set on completed events
// and is expressed in the token's smallest unit.
type Event struct {
	HandleID string
	Type     EventType
	TxRef    string
	Amount   *big.Int
	Reason   string
	At       time.Time
}

// Sink receives events. It may be called from any goroutine.
type Sink func(Event)

// Asset identifies the stablecoin the fee is paid in.
type Asset struct {
	ChainID  int64
	Token    common.Address
	Decimals int
}

type Request struct {
	// Reference ties the payment back to the caller's record, e.g. an attempt id.
	Reference   string
	Amount      *big.Int
	Destination common.Address
	// Payer is the connected wallet; the zero address means any sender.
	Payer common.Address
}

// WidgetParams are the values the client passes to the hosted payment button.
type WidgetParams struct {
	AppID     string `json:"appId"`
	ToChain   int64  `json:"toChain"`
	ToToken   string `json:"toToken"`
	ToAddress string `json:"toAddress"`
	ToUnits   string `json:"toUnits"`
}

// Handle describes an initiated payment and what the client must do next.
type Handle struct {
	ID          string        `json:"id"`
	Provider    string        `json:"provider"`
	Amount      string        `json:"amount"`
	Units       string        `json:"units"`
	ChainID     int64         `json:"chainId"`
	Token       string        `json:"token"`
	Destination string        `json:"destination"`
	Widget      *WidgetParams `json:"widget,omitempty"`
}

type Provider interface {
	Name() string
	// OnEvent registers the sink for all handles created by this provider.
	OnEvent(sink Sink)
	Initiate(ctx context.Context, req Request) (Handle, error)
	// Cancel forgets a handle the caller no longer tracks. Unknown or already
	// finished handles are ignored.
	Cancel(handleID string)
}

// BroadcastReporter is implemented by providers that need the client to report
// the hash of a transaction it broadcast itself.
type BroadcastReporter interface {
	ReportBroadcast(ctx context.Context, handleID, txHash string) error
}

func newHandle(id, provider string, asset Asset, req Request) Handle {
	return Handle{
		ID:          id,
		Provider:    provider,
		Amount:      FormatUnits(req.Amount, asset.Decimals),
		Units:       req.Amount.String(),
		ChainID:     asset.ChainID,
		Token:       asset.Token.Hex(),
		Destination: req.Destination.Hex(),
	}
}
