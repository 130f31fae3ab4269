package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development key (anvil/hardhat account #0).
const (
	devKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestNewSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner("0x"+devKey, 97)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(devAddress), s.Address())
	assert.Equal(t, int64(97), s.ChainID().Int64())

	_, err = NewSigner("not-hex", 97)
	require.Error(t, err)
}

func TestSignTxRecoversSender(t *testing.T) {
	s, err := NewSigner(devKey, 97)
	require.NoError(t, err)

	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(97),
		Nonce:     7,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(5_000_000_000),
		Gas:       200_000,
		To:        &to,
		Data:      []byte{0x01, 0x02},
	})
	signed, err := s.SignTx(tx)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(97)), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
}

func TestPersonalSignRoundTrip(t *testing.T) {
	s, err := NewSigner(devKey, 97)
	require.NoError(t, err)

	msg := "dispute:42:2"
	sig, err := s.SignPersonal(msg)
	require.NoError(t, err)

	require.NoError(t, VerifyPersonalSign(devAddress, msg, sig))
	assert.Error(t, VerifyPersonalSign(devAddress, "dispute:42:1", sig))
	assert.Error(t, VerifyPersonalSign("0x0000000000000000000000000000000000000001", msg, sig))
	assert.Error(t, VerifyPersonalSign(devAddress, msg, "0x1234"))
	assert.Error(t, VerifyPersonalSign("bob", msg, sig))
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+devKey, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, string(blob), devAddress)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, devKey, got)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)

	_, err = EncryptKey("abcd", "pw")
	require.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	got, err := LoadKey(KeySource{RawPrivateKey: "0x" + devKey})
	require.NoError(t, err)
	assert.Equal(t, devKey, got)

	blob, err := EncryptKey(devKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "resolver.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadKey(KeySource{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, devKey, got)

	_, err = LoadKey(KeySource{})
	require.Error(t, err)
}

func TestRequestSignerVerify(t *testing.T) {
	rs := &RequestSigner{Secret: "shared"}
	now := time.Unix(1_700_000_000, 0)
	body := `{"marketDescription":"Will it rain?"}`

	h := rs.HeadersAt("POST", "/api/resolve", body, now.Unix())
	require.NoError(t, rs.Verify("POST", "/api/resolve", body, h[HeaderTimestamp], h[HeaderSignature], now))

	err := rs.Verify("POST", "/api/resolve", body+" ", h[HeaderTimestamp], h[HeaderSignature], now)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	err = rs.Verify("POST", "/api/resolve", body, h[HeaderTimestamp], h[HeaderSignature], now.Add(6*time.Minute))
	assert.ErrorIs(t, err, ErrTimestampSkew)

	other := &RequestSigner{Secret: "other"}
	err = other.Verify("POST", "/api/resolve", body, h[HeaderTimestamp], h[HeaderSignature], now)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestSecretEqual(t *testing.T) {
	assert.True(t, SecretEqual("abc", "abc"))
	assert.False(t, SecretEqual("abd", "abc"))
	assert.False(t, SecretEqual("", ""), "an unset secret never matches")
}
