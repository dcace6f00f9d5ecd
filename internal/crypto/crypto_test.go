package crypto

import (
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListingRef(t *testing.T) {
	id := ListingID("example.com")

	got, err := ParseListingRef("example.com")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = ParseListingRef(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseListingRef("0x1234")
	assert.Error(t, err)

	_, err = ParseListingRef("  ")
	assert.Error(t, err)
}

func TestVoteCommitment(t *testing.T) {
	keep := VoteCommitment(1, 42)
	assert.Equal(t, keep, VoteCommitment(1, 42))
	assert.NotEqual(t, keep, VoteCommitment(0, 42))
	assert.NotEqual(t, keep, VoteCommitment(1, 43))

	want := ethcrypto.Keccak256Hash(
		common.LeftPadBytes([]byte{1}, 32),
		common.LeftPadBytes([]byte{42}, 32),
	)
	assert.Equal(t, want, keep)
}

func TestSignAndRecoverRequest(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s := NewSignerFromKey(key)

	body := []byte(`{"name":"example.com","deposit":100}`)
	sig, err := s.SignRequest("POST", "/api/listings", 1700000000, body)
	require.NoError(t, err)
	assert.Len(t, sig, 2+65*2)

	addr, err := RecoverRequestSigner(sig, "post", "/api/listings", 1700000000, body)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	// A different body recovers a different address.
	other, err := RecoverRequestSigner(sig, "POST", "/api/listings", 1700000000, []byte(`{}`))
	if err == nil {
		assert.NotEqual(t, s.Address(), other)
	}

	_, err = RecoverRequestSigner("0xdeadbeef", "POST", "/", 0, nil)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestParseAddress(t *testing.T) {
	_, err := ParseAddress("not-an-address")
	assert.Error(t, err)

	a, err := ParseAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xaa"), a)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyHex := common.Bytes2Hex(ethcrypto.FromECDSA(key))

	sealed, err := SealKey("0x"+keyHex, "hunter2")
	require.NoError(t, err)

	opened, err := OpenKey(sealed, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, keyHex, opened)

	_, err = OpenKey(sealed, "wrong")
	assert.Error(t, err)

	path := t.TempDir() + "/key.json"
	require.NoError(t, os.WriteFile(path, sealed, 0o600))
	s, err := LoadSigner(KeySource{KeystorePath: path, Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey), s.Address())

	_, err = LoadSigner(KeySource{})
	assert.Error(t, err)
}
