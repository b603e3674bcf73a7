package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const DirectName = "direct"

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ReceiptReader is the slice of an Ethereum JSON-RPC client the direct provider
// needs. *ethclient.Client satisfies it.
type ReceiptReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type DirectConfig struct {
	Asset        Asset
	PollInterval time.Duration
	// Timeout bounds the wait for a receipt. Zero waits until Close.
	Timeout time.Duration
}

type directPayment struct {
	req   Request
	txRef common.Hash
	// fromBlock is the chain head when the payment was initiated. Only
	// receipts mined in a later block are accepted, so a transfer can never pay
	// for a handle created after it.
	fromBlock uint64
	stop      context.CancelFunc
}

// claim marks a transaction hash as spent on one handle. Settled claims are
// kept until no pending handle could still accept their block.
type claim struct {
	handleID string
	settled  bool
	block    uint64
}

// DirectProvider expects the respondent to broadcast an ERC-20 transfer from
// their own wallet and report the hash. One successful receipt containing a
// matching Transfer log completes the payment; no further confirmations are
// awaited. Each transaction pays for at most one handle.
type DirectProvider struct {
	chain   ReceiptReader
	cfg     DirectConfig
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	sink    Sink
	pending map[string]*directPayment
	claims  map[common.Hash]*claim
}

// NewDirectProvider wraps chain. A nil chain yields a provider whose Initiate
// always reports ErrProviderUnavailable.
func NewDirectProvider(chain ReceiptReader, cfg DirectConfig, logger *zap.Logger) *DirectProvider {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &DirectProvider{
		chain:   chain,
		cfg:     cfg,
		logger:  logger.With(zap.String("provider", DirectName)),
		ctx:     ctx,
		cancel:  cancel,
		pending: map[string]*directPayment{},
		claims:  map[common.Hash]*claim{},
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chain-rpc",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return p
}

func (p *DirectProvider) Name() string { return DirectName }

func (p *DirectProvider) OnEvent(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

func (p *DirectProvider) Initiate(ctx context.Context, req Request) (Handle, error) {
	if p.chain == nil {
		return Handle{}, fmt.Errorf("%w: no chain RPC configured", ErrProviderUnavailable)
	}
	if p.breaker.State() == gobreaker.StateOpen {
		return Handle{}, fmt.Errorf("%w: chain RPC failing", ErrProviderUnavailable)
	}

	head, err := p.blockNumber(ctx)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	id := uuid.New().String()
	p.mu.Lock()
	p.pending[id] = &directPayment{req: req, fromBlock: head}
	p.evictClaims(head)
	p.mu.Unlock()

	return newHandle(id, DirectName, p.cfg.Asset, req), nil
}

// Cancel abandons a handle: its receipt watcher stops, no further events are
// emitted for it and an unsettled transaction claim is released.
func (p *DirectProvider) Cancel(handleID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pay, ok := p.pending[handleID]
	if !ok {
		return
	}
	delete(p.pending, handleID)
	if pay.stop != nil {
		pay.stop()
	}
	if c, ok := p.claims[pay.txRef]; ok && c.handleID == handleID && !c.settled {
		delete(p.claims, pay.txRef)
	}
}

// Pending reports how many handles are awaiting settlement.
func (p *DirectProvider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// evictClaims drops settled claims no pending handle could accept, nor any
// handle created from head on. Must be called with mu held.
func (p *DirectProvider) evictClaims(head uint64) {
	floor := head
	for _, pay := range p.pending {
		if pay.fromBlock < floor {
			floor = pay.fromBlock
		}
	}
	for hash, c := range p.claims {
		if c.settled && c.block <= floor {
			delete(p.claims, hash)
		}
	}
}

// ReportBroadcast records the transaction hash for a handle, emits started and
// begins watching for its receipt. Reporting the same hash twice is a no-op. A
// hash already claimed by another handle is rejected with
// ErrInvalidTransaction until that handle fails or is cancelled.
func (p *DirectProvider) ReportBroadcast(ctx context.Context, handleID, txHash string) error {
	raw, err := hexutil.Decode(txHash)
	if err != nil || len(raw) != common.HashLength {
		return fmt.Errorf("%w: %q is not a transaction hash", ErrInvalidTransaction, txHash)
	}
	hash := common.BytesToHash(raw)

	p.mu.Lock()
	pay, ok := p.pending[handleID]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownHandle
	}
	if pay.txRef != (common.Hash{}) {
		same := pay.txRef == hash
		p.mu.Unlock()
		if same {
			return nil
		}
		return fmt.Errorf("%w: handle already has transaction %s", ErrInvalidTransaction, pay.txRef.Hex())
	}
	if _, taken := p.claims[hash]; taken {
		p.mu.Unlock()
		return fmt.Errorf("%w: transaction %s already used for another payment", ErrInvalidTransaction, hash.Hex())
	}
	p.claims[hash] = &claim{handleID: handleID}
	pay.txRef = hash
	ctx, stop := context.WithCancel(p.ctx)
	pay.stop = stop
	req, fromBlock := pay.req, pay.fromBlock
	p.mu.Unlock()

	p.emit(Event{HandleID: handleID, Type: EventStarted, TxRef: hash.Hex()})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer stop()
		p.watch(ctx, handleID, hash, req, fromBlock)
	}()
	return nil
}

// Close stops all receipt watchers and waits for them to exit.
func (p *DirectProvider) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *DirectProvider) watch(ctx context.Context, handleID string, hash common.Hash, req Request, fromBlock uint64) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := p.receipt(ctx, hash)
		switch {
		case err != nil && !errors.Is(err, gobreaker.ErrOpenState):
			p.logger.Warn("receipt lookup failed", zap.String("tx", hash.Hex()), zap.Error(err))
		case receipt != nil:
			p.settle(handleID, hash, req, fromBlock, receipt)
			return
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				p.finish(handleID, Event{HandleID: handleID, Type: EventFailed, TxRef: hash.Hex(), Reason: "timed out waiting for receipt"}, 0)
			}
			return
		case <-ticker.C:
		}
	}
}

// receipt returns nil without error while the transaction is still pending.
func (p *DirectProvider) receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	res, err := p.breaker.Execute(func() (interface{}, error) {
		r, err := p.chain.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return r, err
	})
	if err != nil || res == nil {
		return nil, err
	}
	return res.(*types.Receipt), nil
}

func (p *DirectProvider) blockNumber(ctx context.Context) (uint64, error) {
	res, err := p.breaker.Execute(func() (interface{}, error) {
		return p.chain.BlockNumber(ctx)
	})
	if err != nil {
		return 0, err
	}
	return res.(uint64), nil
}

func (p *DirectProvider) settle(handleID string, hash common.Hash, req Request, fromBlock uint64, receipt *types.Receipt) {
	var mined uint64
	if receipt.BlockNumber != nil {
		mined = receipt.BlockNumber.Uint64()
	}
	if mined <= fromBlock {
		p.finish(handleID, Event{HandleID: handleID, Type: EventFailed, TxRef: hash.Hex(),
			Reason: fmt.Sprintf("transaction mined in block %d, not after the payment was requested at block %d", mined, fromBlock)}, mined)
		return
	}
	paid, err := verifyTransfer(receipt, p.cfg.Asset.Token, req)
	if err != nil {
		p.finish(handleID, Event{HandleID: handleID, Type: EventFailed, TxRef: hash.Hex(), Reason: err.Error()}, mined)
		return
	}
	p.finish(handleID, Event{HandleID: handleID, Type: EventCompleted, TxRef: hash.Hex(), Amount: paid}, mined)
}

// finish retires a pending handle and emits its final event. A failed payment
// releases its transaction claim; a completed one keeps it. Handles cancelled
// meanwhile emit nothing.
func (p *DirectProvider) finish(handleID string, ev Event, mined uint64) {
	p.mu.Lock()
	pay, ok := p.pending[handleID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.pending, handleID)
	if c, ok := p.claims[pay.txRef]; ok && c.handleID == handleID {
		if ev.Type == EventCompleted {
			c.settled = true
			c.block = mined
		} else {
			delete(p.claims, pay.txRef)
		}
	}
	p.mu.Unlock()
	p.emit(ev)
}

func (p *DirectProvider) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

// verifyTransfer sums the token Transfer logs in receipt that pay
// req.Destination (from req.Payer when set) and checks the total covers
// req.Amount.
func verifyTransfer(receipt *types.Receipt, token common.Address, req Request) (*big.Int, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: transaction reverted", ErrPaymentFailed)
	}

	total := new(big.Int)
	for _, lg := range receipt.Logs {
		if lg.Address != token || len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		from := common.BytesToAddress(lg.Topics[1].Bytes())
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if to != req.Destination {
			continue
		}
		if req.Payer != (common.Address{}) && from != req.Payer {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(lg.Data))
	}

	if total.Sign() == 0 {
		return nil, fmt.Errorf("%w: no matching token transfer", ErrPaymentFailed)
	}
	if total.Cmp(req.Amount) < 0 {
		return nil, fmt.Errorf("%w: paid %s, need %s", ErrPaymentFailed, total, req.Amount)
	}
	return total, nil
}
