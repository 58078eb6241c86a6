package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of an r ++ s ++ v signature
const SignatureLength = crypto.SignatureLength

// SignDigest signs digest with key and returns r ++ s ++ v with v in {27, 28}
func SignDigest(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	signature, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}

	// Add recovery ID
	signature[64] += 27

	return signature, nil
}

// SignatureFromParts assembles a signature from its v, r and s components
func SignatureFromParts(v uint8, r, s [32]byte) []byte {
	sig := make([]byte, 0, SignatureLength)
	sig = append(sig, r[:]...)
	sig = append(sig, s[:]...)
	return append(sig, v)
}

// SplitSignature returns the v, r and s components of a signature
func SplitSignature(sig []byte) (v uint8, r, s [32]byte, err error) {
	if len(sig) != SignatureLength {
		return 0, r, s, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	return sig[64], r, s, nil
}

// DecodeSignature parses a 0x-prefixed hex signature
func DecodeSignature(s string) ([]byte, error) {
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	return sig, nil
}

// RecoverSigner recovers the account that signed digest. Malformed or
// malleable (high-s) signatures yield the zero address.
func RecoverSigner(digest common.Hash, sig []byte) common.Address {
	v, r, s, err := SplitSignature(sig)
	if err != nil {
		return common.Address{}
	}

	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return common.Address{}
	}

	if !crypto.ValidateSignatureValues(v, new(big.Int).SetBytes(r[:]), new(big.Int).SetBytes(s[:]), true) {
		return common.Address{}
	}

	normalized := SignatureFromParts(v, r, s)
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}
	}

	return crypto.PubkeyToAddress(*pub)
}
