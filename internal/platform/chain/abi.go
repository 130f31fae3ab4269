package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// marketABIJSON is the subset of the prediction market contract the oracle
// touches.
const marketABIJSON = `[
  {"type":"function","name":"getMarket","stateMutability":"view",
   "inputs":[{"name":"marketId","type":"uint256"}],
   "outputs":[
     {"name":"question","type":"string"},
     {"name":"description","type":"string"},
     {"name":"status","type":"uint8"},
     {"name":"resolutionTime","type":"uint64"},
     {"name":"disputeDeadline","type":"uint64"},
     {"name":"proposedOutcome","type":"uint8"}]},
  {"type":"function","name":"getMarketsByStatus","stateMutability":"view",
   "inputs":[{"name":"status","type":"uint8"}],
   "outputs":[{"name":"ids","type":"uint256[]"}]},
  {"type":"function","name":"fulfillResolution","stateMutability":"nonpayable",
   "inputs":[
     {"name":"marketId","type":"uint256"},
     {"name":"outcome","type":"uint8"},
     {"name":"confidence","type":"uint8"}],
   "outputs":[]}
]`

// MarketABI is the parsed market contract ABI.
var MarketABI = mustParseABI(marketABIJSON)

func mustParseABI(js string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		panic(fmt.Sprintf("chain: parse market ABI: %v", err))
	}
	return parsed
}

// ParseMarketID converts a decimal market id into a uint256.
func ParseMarketID(id string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(id), 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("chain: invalid market id %q", id)
	}
	return n, nil
}
