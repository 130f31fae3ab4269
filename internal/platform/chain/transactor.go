package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxSigner signs transactions for one account.
type TxSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Transactor builds, signs and sends EIP-1559 transactions.
type Transactor struct {
	backend  Backend
	signer   TxSigner
	gasLimit uint64
	poll     time.Duration

	// mu serializes nonce assignment through broadcast. next is the nonce
	// after the last accepted send; the node's pending count can lag it.
	mu      sync.Mutex
	next    uint64
	hasNext bool
}

// NewTransactor creates a Transactor. gasLimit caps the estimate; zero means
// use the estimate plus headroom.
func NewTransactor(backend Backend, signer TxSigner, gasLimit uint64, poll time.Duration) *Transactor {
	if poll <= 0 {
		poll = 3 * time.Second
	}
	return &Transactor{backend: backend, signer: signer, gasLimit: gasLimit, poll: poll}
}

// From returns the sending account.
func (t *Transactor) From() common.Address { return t.signer.Address() }

// Send signs and broadcasts a call to `to` with data. The gas estimate runs
// first, so a call that would revert fails here with the revert reason.
// Concurrent sends from one Transactor get consecutive nonces.
func (t *Transactor) Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.signer.Address()
	nonce, err := t.nonce(ctx, from)
	if err != nil {
		return common.Hash{}, err
	}
	tip, err := t.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: gas tip: %w", err)
	}
	head, err := t.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: latest header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee, big.NewInt(2)))

	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: estimate gas: %w", err)
	}
	gas = gas * 12 / 10
	if t.gasLimit > 0 && gas > t.gasLimit {
		gas = t.gasLimit
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   t.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	})
	signed, err := t.signer.SignTx(tx)
	if err != nil {
		return common.Hash{}, err
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		// Resync from the node next time.
		t.hasNext = false
		return common.Hash{}, fmt.Errorf("chain: send transaction: %w", err)
	}
	t.next, t.hasNext = nonce+1, true
	return signed.Hash(), nil
}

// nonce returns the larger of the node's pending nonce and the local
// counter. Callers hold t.mu.
func (t *Transactor) nonce(ctx context.Context, from common.Address) (uint64, error) {
	pending, err := t.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("chain: pending nonce: %w", err)
	}
	if t.hasNext && t.next > pending {
		return t.next, nil
	}
	return pending, nil
}

// WaitReceipt polls for the receipt of hash until it is mined, ctx ends or
// timeout elapses. A mined but failed transaction is returned together with
// an error.
func (t *Transactor) WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		rcpt, err := t.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if rcpt.Status != types.ReceiptStatusSuccessful {
				return rcpt, fmt.Errorf("chain: transaction %s reverted in block %s", hash.Hex(), rcpt.BlockNumber)
			}
			return rcpt, nil
		case errors.Is(err, ethereum.NotFound):
		default:
			if ctx.Err() == nil {
				return nil, fmt.Errorf("chain: receipt %s: %w", hash.Hex(), err)
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
