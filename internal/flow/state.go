// Package flow runs the feedback submission for one respondent: compose the
// text, connect a wallet, pay the fixed fee, then append the feedback to the
// round.
package flow

import (
	"errors"
	"time"

	"anonfeedback-backend/internal/models"
	"anonfeedback-backend/internal/payment"
	"anonfeedback-backend/internal/wallet"
)

type State string

const (
	Composing                State = "composing"
	AwaitingWalletConnection State = "awaiting_wallet_connection"
	AwaitingPayment          State = "awaiting_payment"
	Submitting               State = "submitting"
	Submitted                State = "submitted"
	Failed                   State = "failed"
)

var (
	ErrAttemptNotFound   = errors.New("feedback attempt not found")
	ErrInvalidTransition = errors.New("action not allowed in current state")
)

type attempt struct {
	id      string
	roundID string
	state   State
	text    string
	wallet  *wallet.Session

	handle     *payment.Handle
	txRef      string
	pending    bool
	paid       bool
	failedFrom State
	failure    string

	round     models.Round
	createdAt time.Time
	updatedAt time.Time
}

type WalletView struct {
	Status    wallet.Status `json:"status"`
	Address   string        `json:"address,omitempty"`
	Connector string        `json:"connector,omitempty"`
}

// Snapshot is a read-only copy of an attempt. Round is the round as last
// returned by the repository, so after submission it already contains the new
// entry.
type Snapshot struct {
	ID         string          `json:"id"`
	RoundID    string          `json:"roundId"`
	State      State           `json:"state"`
	Text       string          `json:"text"`
	Wallet     WalletView      `json:"wallet"`
	Payment    *payment.Handle `json:"payment,omitempty"`
	TxRef      string          `json:"txRef,omitempty"`
	Pending    bool            `json:"pending"`
	Paid       bool            `json:"paid"`
	FailedFrom State           `json:"failedFrom,omitempty"`
	Failure    string          `json:"failure,omitempty"`
	Round      models.Round    `json:"round"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func (a *attempt) snapshot() Snapshot {
	ws := a.wallet.State()
	wv := WalletView{Status: ws.Status, Connector: ws.Connector}
	if ws.IsConnected() {
		wv.Address = ws.Address.Hex()
	}
	var h *payment.Handle
	if a.handle != nil {
		cp := *a.handle
		h = &cp
	}
	return Snapshot{
		ID:         a.id,
		RoundID:    a.roundID,
		State:      a.state,
		Text:       a.text,
		Wallet:     wv,
		Payment:    h,
		TxRef:      a.txRef,
		Pending:    a.pending,
		Paid:       a.paid,
		FailedFrom: a.failedFrom,
		Failure:    a.failure,
		Round:      a.round,
		CreatedAt:  a.createdAt,
		UpdatedAt:  a.updatedAt,
	}
}
