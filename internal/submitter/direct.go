package submitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/marketoracle/internal/domain"
	"github.com/alanyoungcy/marketoracle/internal/platform/chain"
)

// Sender is the transaction side of the chain client.
type Sender interface {
	Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// Direct sends fulfillResolution from the resolver key.
type Direct struct {
	sender         Sender
	contract       common.Address
	receiptTimeout time.Duration
}

// NewDirect creates the direct-transaction strategy.
func NewDirect(sender Sender, contract common.Address, receiptTimeout time.Duration) *Direct {
	return &Direct{sender: sender, contract: contract, receiptTimeout: receiptTimeout}
}

// Name implements Strategy.
func (d *Direct) Name() domain.SubmissionStrategy { return domain.StrategyDirect }

// Attempt implements Strategy. A transaction whose receipt did not arrive
// in time is awaited again on the next attempt rather than re-sent.
func (d *Direct) Attempt(ctx context.Context, sub *Submission) (domain.TxReceipt, error) {
	if sub.TxHash == (common.Hash{}) {
		hash, err := d.sender.Send(ctx, d.contract, sub.Payload)
		if err != nil {
			return domain.TxReceipt{}, err
		}
		sub.TxHash = hash
	}

	rcpt, err := d.sender.WaitReceipt(ctx, sub.TxHash, d.receiptTimeout)
	if err != nil {
		if rcpt != nil {
			// Mined and reverted: nothing left to wait for.
			sub.TxHash = common.Hash{}
			return domain.TxReceipt{}, &domain.SubmissionError{MarketID: sub.MarketID, Kind: domain.SubmissionFatal, Err: err}
		}
		if errors.Is(err, chain.ErrReceiptTimeout) {
			return domain.TxReceipt{}, &domain.SubmissionError{MarketID: sub.MarketID, Kind: domain.SubmissionRetryable, Err: err}
		}
		return domain.TxReceipt{}, fmt.Errorf("wait receipt: %w", err)
	}

	out := domain.TxReceipt{
		MarketID: sub.MarketID,
		Outcome:  sub.Outcome,
		Strategy: domain.StrategyDirect,
		TxHash:   rcpt.TxHash.Hex(),
	}
	if rcpt.TxHash == (common.Hash{}) {
		out.TxHash = sub.TxHash.Hex()
	}
	if rcpt.BlockNumber != nil {
		out.BlockNumber = rcpt.BlockNumber.Uint64()
	}
	return out, nil
}
