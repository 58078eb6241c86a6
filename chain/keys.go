package chain

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// DerivationPath is the BIP44 Ethereum account path, m/44'/60'/0'/0/index
var DerivationPath = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 60,
	bip32.FirstHardenedChild + 0,
	0,
}

// ParsePrivateKey parses a hex private key with or without 0x prefix
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// KeyFromMnemonic derives the signing key at m/44'/60'/0'/0/index
func KeyFromMnemonic(mnemonic, password string, index uint32) (*ecdsa.PrivateKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}

	key, err := bip32.NewMasterKey(bip39.NewSeed(mnemonic, password))
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}
	for _, i := range append(DerivationPath, index) {
		key, err = key.NewChildKey(i)
		if err != nil {
			return nil, fmt.Errorf("failed to derive child key: %w", err)
		}
	}

	return crypto.ToECDSA(common.LeftPadBytes(key.Key, 32))
}
