package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned when a signature is malformed or does not
// recover to the claimed address.
var ErrBadSignature = errors.New("crypto: bad signature")

// RequestDigest is the 32-byte digest a caller signs to authenticate an API
// request:
//
//	keccak256(method || "\n" || path || "\n" || timestamp || "\n" || keccak256(body))
func RequestDigest(method, path string, timestamp int64, body []byte) []byte {
	bodyHash := ethcrypto.Keccak256(body)
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte(strings.ToUpper(method)),
			[]byte("\n"),
			[]byte(path),
			[]byte("\n"),
			[]byte(strconv.FormatInt(timestamp, 10)),
			[]byte("\n"),
			bodyHash,
		),
	)
}

// Signer signs request digests with a secp256k1 key using the EIP-191
// personal-message prefix.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk), nil
}

// NewSignerFromKey wraps an existing private key.
func NewSignerFromKey(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}
}

// Address returns the Ethereum address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest signs the digest of an API request and returns the
// 0x-prefixed 65-byte signature with v in {27,28}.
func (s *Signer) SignRequest(method, path string, timestamp int64, body []byte) (string, error) {
	return s.signDigest(textHash(RequestDigest(method, path, timestamp, body)))
}

func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets produce {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverRequestSigner returns the address that produced sigHex over the
// request digest.
func RecoverRequestSigner(sigHex, method, path string, timestamp int64, body []byte) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, ErrBadSignature
	}

	digest := textHash(RequestDigest(method, path, timestamp, body))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// textHash applies the EIP-191 personal-message prefix:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(data) || data)
func textHash(data []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(data))
	return ethcrypto.Keccak256([]byte(prefix), data)
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
