package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketoracle/internal/crypto"
	"github.com/alanyoungcy/marketoracle/internal/domain"
)

const contractAddr = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

type marketRow struct {
	question, description string
	status                uint8
	resolution, deadline  uint64
	proposed              uint8
}

type fakeBackend struct {
	mu        sync.Mutex
	markets   map[int64]marketRow
	code      []byte
	sent      []*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	notFound  int
	estimate  error
	sendErr   error
	nonce     uint64
	callCount int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		markets:  map[int64]marketRow{},
		code:     []byte{0x60, 0x80},
		receipts: map[common.Hash]*types.Receipt{},
		nonce:    5,
	}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(97), nil }

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return f.code, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	sel := msg.Data[:4]
	switch {
	case bytes.Equal(sel, MarketABI.Methods["getMarket"].ID):
		args, err := MarketABI.Methods["getMarket"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		row := f.markets[args[0].(*big.Int).Int64()]
		return MarketABI.Methods["getMarket"].Outputs.Pack(row.question, row.description, row.status, row.resolution, row.deadline, row.proposed)
	case bytes.Equal(sel, MarketABI.Methods["getMarketsByStatus"].ID):
		args, err := MarketABI.Methods["getMarketsByStatus"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		var ids []*big.Int
		for id, row := range f.markets {
			if row.status == args[0].(uint8) {
				ids = append(ids, big.NewInt(id))
			}
		}
		return MarketABI.Methods["getMarketsByStatus"].Outputs.Pack(ids)
	}
	return nil, errors.New("unknown selector")
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(3_000_000_000)}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimate != nil {
		return 0, f.estimate
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.receipts[tx.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1234), TxHash: tx.Hash()}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFound > 0 {
		f.notFound--
		return nil, ethereum.NotFound
	}
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func TestGetMarket(t *testing.T) {
	fb := newFakeBackend()
	fb.markets[7] = marketRow{
		question: "Will it rain in Lisbon?", description: "Per IPMA",
		status: uint8(domain.MarketResolving), resolution: 1_767_225_600, deadline: 1_767_312_000,
	}
	c, err := NewClient(fb, contractAddr)
	require.NoError(t, err)

	m, err := c.GetMarket(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "7", m.ID)
	assert.Equal(t, "Will it rain in Lisbon?", m.Question)
	assert.Equal(t, domain.MarketResolving, m.Status)
	assert.Equal(t, time.Unix(1_767_225_600, 0).UTC(), m.ResolutionTime)
	assert.Equal(t, time.Unix(1_767_312_000, 0).UTC(), m.DisputeDeadline)

	_, err = c.GetMarket(context.Background(), "99")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.GetMarket(context.Background(), "abc")
	require.Error(t, err)
}

func TestListMarketsByStatus(t *testing.T) {
	fb := newFakeBackend()
	fb.markets[1] = marketRow{question: "a", status: uint8(domain.MarketResolving), resolution: 1}
	fb.markets[2] = marketRow{question: "b", status: uint8(domain.MarketActive), resolution: 1}
	fb.markets[3] = marketRow{question: "c", status: uint8(domain.MarketResolving), resolution: 1}
	c, err := NewClient(fb, contractAddr)
	require.NoError(t, err)

	ids, err := c.ListMarketsByStatus(context.Background(), domain.MarketResolving)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "3"}, ids)
}

func TestVerify(t *testing.T) {
	fb := newFakeBackend()
	c, err := NewClient(fb, contractAddr)
	require.NoError(t, err)

	id, err := c.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(97), id.Int64())

	fb.code = nil
	_, err = c.Verify(context.Background())
	require.ErrorContains(t, err, "no contract deployed")

	_, err = NewClient(fb, "0xnope")
	require.Error(t, err)
}

func TestPackFulfill(t *testing.T) {
	data, err := PackFulfill("42", domain.OutcomeNo, 87)
	require.NoError(t, err)
	assert.True(t, IsFulfillCall(data))

	args, err := MarketABI.Methods["fulfillResolution"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(42), args[0].(*big.Int).Int64())
	assert.Equal(t, uint8(2), args[1])
	assert.Equal(t, uint8(87), args[2])

	_, err = PackFulfill("42", domain.OutcomeUnknown, 50)
	require.ErrorIs(t, err, domain.ErrInvalidOutcome)
	_, err = PackFulfill("42", domain.OutcomeYes, 101)
	require.Error(t, err)
	_, err = PackFulfill("-1", domain.OutcomeYes, 50)
	require.Error(t, err)
}

func TestTransactorSendAndWait(t *testing.T) {
	fb := newFakeBackend()
	fb.notFound = 2
	signer, err := crypto.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", 97)
	require.NoError(t, err)
	tr := NewTransactor(fb, signer, 110_000, time.Millisecond)

	data, err := PackFulfill("1", domain.OutcomeYes, 90)
	require.NoError(t, err)
	hash, err := tr.Send(context.Background(), common.HexToAddress(contractAddr), data)
	require.NoError(t, err)

	require.Len(t, fb.sent, 1)
	tx := fb.sent[0]
	assert.Equal(t, uint64(5), tx.Nonce())
	assert.Equal(t, uint64(110_000), tx.Gas(), "estimate headroom capped by gas limit")
	assert.Equal(t, big.NewInt(7_000_000_000), tx.GasFeeCap())
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(97)), tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)

	rcpt, err := tr.WaitReceipt(context.Background(), hash, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), rcpt.BlockNumber.Int64())
}

func TestTransactorConcurrentSendsGetDistinctNonces(t *testing.T) {
	fb := newFakeBackend()
	signer, err := crypto.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", 97)
	require.NoError(t, err)
	tr := NewTransactor(fb, signer, 0, time.Millisecond)

	const n = 4
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			data, err := PackFulfill(fmt.Sprint(id+1), domain.OutcomeYes, 90)
			if err == nil {
				_, err = tr.Send(context.Background(), common.HexToAddress(contractAddr), data)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, fb.sent, n)
	nonces := map[uint64]bool{}
	for _, tx := range fb.sent {
		nonces[tx.Nonce()] = true
	}
	assert.Equal(t, map[uint64]bool{5: true, 6: true, 7: true, 8: true}, nonces)
}

func TestTransactorResyncsNonceAfterSendFailure(t *testing.T) {
	fb := newFakeBackend()
	signer, err := crypto.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", 97)
	require.NoError(t, err)
	tr := NewTransactor(fb, signer, 0, time.Millisecond)
	to := common.HexToAddress(contractAddr)

	_, err = tr.Send(context.Background(), to, []byte{1})
	require.NoError(t, err)

	fb.mu.Lock()
	fb.sendErr = errors.New("nonce too low")
	fb.mu.Unlock()
	_, err = tr.Send(context.Background(), to, []byte{2})
	require.ErrorContains(t, err, "send transaction")

	// The node still reports 5 pending, so the local counter must not win.
	fb.mu.Lock()
	fb.sendErr = nil
	fb.mu.Unlock()
	_, err = tr.Send(context.Background(), to, []byte{3})
	require.NoError(t, err)

	require.Len(t, fb.sent, 2)
	assert.Equal(t, uint64(5), fb.sent[0].Nonce())
	assert.Equal(t, uint64(5), fb.sent[1].Nonce())
}

func TestTransactorEstimateRevert(t *testing.T) {
	fb := newFakeBackend()
	fb.estimate = errors.New("execution reverted: market already resolved")
	signer, err := crypto.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", 97)
	require.NoError(t, err)

	_, err = NewTransactor(fb, signer, 0, 0).Send(context.Background(), common.HexToAddress(contractAddr), []byte{1})
	require.ErrorContains(t, err, "already resolved")
	assert.Empty(t, fb.sent)
}

func TestWaitReceiptTimeout(t *testing.T) {
	fb := newFakeBackend()
	tr := NewTransactor(fb, nil, 0, time.Millisecond)

	_, err := tr.WaitReceipt(context.Background(), common.HexToHash("0x01"), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrReceiptTimeout)
}

func TestWaitReceiptReverted(t *testing.T) {
	fb := newFakeBackend()
	h := common.HexToHash("0x02")
	fb.receipts[h] = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(9)}
	tr := NewTransactor(fb, nil, 0, time.Millisecond)

	rcpt, err := tr.WaitReceipt(context.Background(), h, time.Second)
	require.Error(t, err)
	require.NotNil(t, rcpt)
}
