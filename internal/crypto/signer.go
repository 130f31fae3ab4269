package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the resolver key. It signs resolution transactions and
// EIP-191 personal messages.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	txSigner   types.Signer
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the target chain ID (56 for BSC mainnet, 97 for BSC testnet).
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	id := big.NewInt(chainID)
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    id,
		txSigner:   types.LatestSignerForChainID(id),
	}, nil
}

// Address returns the checksummed signer address.
func (s *Signer) Address() common.Address { return s.address }

// ChainID returns the chain ID transactions are signed for.
func (s *Signer) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

// SignTx signs tx for the configured chain.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.txSigner, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}

// SignPersonal produces an EIP-191 personal_sign signature (65 bytes, V in
// {27,28}) as a 0x-prefixed hex string.
func (s *Signer) SignPersonal(message string) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(message)), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign message: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// VerifyPersonalSign checks that sigHex is an EIP-191 signature of message
// by address. Both {0,1} and {27,28} recovery ids are accepted.
func VerifyPersonalSign(address, message, sigHex string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("crypto: invalid address %q", address)
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return fmt.Errorf("crypto: signature must be %d bytes, got %d", ethcrypto.SignatureLength, len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return fmt.Errorf("crypto: recover signer: %w", err)
	}
	if ethcrypto.PubkeyToAddress(*pub) != common.HexToAddress(address) {
		return errors.New("crypto: signature does not match address")
	}
	return nil
}
