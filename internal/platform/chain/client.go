// Package chain reads the prediction market contract and builds, signs and
// sends resolution transactions.
package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// Backend is the JSON-RPC surface the oracle needs; *ethclient.Client
// satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client reads market state from the contract.
type Client struct {
	backend  Backend
	contract common.Address
}

// Dial connects to rpcURL. The returned close function releases the RPC
// connection.
func Dial(ctx context.Context, rpcURL, contract string) (*Client, func(), error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	c, err := NewClient(ec, contract)
	if err != nil {
		ec.Close()
		return nil, nil, err
	}
	return c, ec.Close, nil
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, contract string) (*Client, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("chain: invalid contract address %q", contract)
	}
	return &Client{backend: backend, contract: common.HexToAddress(contract)}, nil
}

// Backend returns the underlying RPC backend.
func (c *Client) Backend() Backend { return c.backend }

// Contract returns the market contract address.
func (c *Client) Contract() common.Address { return c.contract }

// Verify checks that the RPC answers and that code is deployed at the
// contract address. It returns the chain ID.
func (c *Client) Verify(ctx context.Context) (*big.Int, error) {
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	code, err := c.backend.CodeAt(ctx, c.contract, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: code at %s: %w", c.contract.Hex(), err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("chain: no contract deployed at %s on chain %s", c.contract.Hex(), id)
	}
	return id, nil
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := MarketABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	vals, err := MarketABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

// GetMarket reads one market. Implements domain.MarketReader.
func (c *Client) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	id, err := ParseMarketID(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	vals, err := c.call(ctx, "getMarket", id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("chain: get market %s: %w", marketID, err)
	}
	if len(vals) != 6 {
		return domain.Market{}, fmt.Errorf("chain: get market %s: unexpected %d return values", marketID, len(vals))
	}

	question, _ := vals[0].(string)
	description, _ := vals[1].(string)
	status, _ := vals[2].(uint8)
	resolution, _ := vals[3].(uint64)
	deadline, _ := vals[4].(uint64)
	proposed, _ := vals[5].(uint8)
	if question == "" && resolution == 0 {
		return domain.Market{}, fmt.Errorf("chain: market %s: %w", marketID, domain.ErrNotFound)
	}

	m := domain.Market{
		ID:              id.String(),
		Question:        question,
		Description:     description,
		Status:          domain.MarketStatus(status),
		ProposedOutcome: domain.Outcome(proposed),
	}
	if resolution > 0 {
		m.ResolutionTime = time.Unix(int64(resolution), 0).UTC()
	}
	if deadline > 0 {
		m.DisputeDeadline = time.Unix(int64(deadline), 0).UTC()
	}
	return m, nil
}

// ListMarketsByStatus returns the ids of every market in status.
func (c *Client) ListMarketsByStatus(ctx context.Context, status domain.MarketStatus) ([]string, error) {
	vals, err := c.call(ctx, "getMarketsByStatus", uint8(status))
	if err != nil {
		return nil, fmt.Errorf("chain: list markets %s: %w", status, err)
	}
	ids, ok := vals[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: list markets %s: unexpected return type %T", status, vals[0])
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out, nil
}

// PackFulfill encodes fulfillResolution(marketId, outcome, confidence).
func PackFulfill(marketID string, outcome domain.Outcome, confidence int) ([]byte, error) {
	id, err := ParseMarketID(marketID)
	if err != nil {
		return nil, err
	}
	if !outcome.Valid() {
		return nil, fmt.Errorf("chain: %w: %d", domain.ErrInvalidOutcome, outcome)
	}
	if confidence < 0 || confidence > 100 {
		return nil, fmt.Errorf("chain: confidence %d out of range", confidence)
	}
	return MarketABI.Pack("fulfillResolution", id, uint8(outcome), uint8(confidence))
}

// IsFulfillCall reports whether data is a fulfillResolution call.
func IsFulfillCall(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], MarketABI.Methods["fulfillResolution"].ID)
}

// ErrReceiptTimeout is returned when a transaction is not mined in time.
var ErrReceiptTimeout = errors.New("chain: receipt wait timed out")
