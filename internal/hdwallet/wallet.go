// Package hdwallet provides a minimal BIP32/BIP39/BIP44 HD wallet over a
// single Bitcoin-family chain. It exists to give the tracker, engine, and
// driver something real to derive scripts from end-to-end, not to implement
// a full wallet (balance computation, coin selection, and signing stay out
// of scope).
package hdwallet

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/klingon-tech/walletsync/internal/chain"
	"github.com/tyler-smith/go-bip39"
)

// account is the fixed BIP44 account index every key is derived under; the
// wallet covers Bitcoin mainnet/testnet only (spec.md §1 scopes this to a
// single chain, single account).
const account = 0

// Wallet derives external ("receive") and internal ("change") keys from a
// BIP39 seed at the BIP44/84 path m/purpose'/coin'/0'/change/index.
type Wallet struct {
	masterKey *hdkeychain.ExtendedKey
	params    *chain.Params
	network   chain.Network
	mu        sync.Mutex

	// cache[change][index] memoizes derived keys; account is fixed at 0.
	cache map[uint32]map[uint32]*hdkeychain.ExtendedKey
}

// GenerateMnemonic generates a new 24-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// New creates a wallet from a BIP39 mnemonic and optional passphrase.
func New(mnemonic, passphrase string, network chain.Network) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return NewFromSeed(seed, network)
}

// NewFromSeed creates a wallet from a raw 64-byte BIP39 seed.
func NewFromSeed(seed []byte, network chain.Network) (*Wallet, error) {
	params, ok := chain.Get("BTC", network)
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}

	netParams := &chaincfg.MainNetParams
	if network == chain.Testnet {
		netParams = &chaincfg.TestNet3Params
	}

	masterKey, err := hdkeychain.NewMaster(seed, netParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	return &Wallet{
		masterKey: masterKey,
		params:    params,
		network:   network,
		cache:     make(map[uint32]map[uint32]*hdkeychain.ExtendedKey),
	}, nil
}

// Network returns the wallet's network.
func (w *Wallet) Network() chain.Network {
	return w.network
}

// deriveKey derives m/purpose'/coin'/0'/change/index, memoizing per (change, index).
func (w *Wallet) deriveKey(change, index uint32) (*hdkeychain.ExtendedKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if byChange, ok := w.cache[change]; ok {
		if key, ok := byChange[index]; ok {
			return key, nil
		}
	}

	purposeKey, err := w.masterKey.Derive(hdkeychain.HardenedKeyStart + w.params.DefaultPurpose)
	if err != nil {
		return nil, fmt.Errorf("failed to derive purpose: %w", err)
	}
	coinKey, err := purposeKey.Derive(hdkeychain.HardenedKeyStart + w.params.CoinType)
	if err != nil {
		return nil, fmt.Errorf("failed to derive coin: %w", err)
	}
	accountKey, err := coinKey.Derive(hdkeychain.HardenedKeyStart + account)
	if err != nil {
		return nil, fmt.Errorf("failed to derive account: %w", err)
	}
	changeKey, err := accountKey.Derive(change)
	if err != nil {
		return nil, fmt.Errorf("failed to derive change: %w", err)
	}
	addressKey, err := changeKey.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address: %w", err)
	}

	if w.cache[change] == nil {
		w.cache[change] = make(map[uint32]*hdkeychain.ExtendedKey)
	}
	w.cache[change][index] = addressKey

	return addressKey, nil
}

// PublicKey returns the public key at (change, index).
func (w *Wallet) PublicKey(change, index uint32) (*btcec.PublicKey, error) {
	key, err := w.deriveKey(change, index)
	if err != nil {
		return nil, err
	}
	pubKey, err := key.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	return pubKey, nil
}

// PrivateKey returns the private key at (change, index).
func (w *Wallet) PrivateKey(change, index uint32) (*btcec.PrivateKey, error) {
	key, err := w.deriveKey(change, index)
	if err != nil {
		return nil, err
	}
	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}
	return privKey, nil
}

// Address derives the default-type address at (change, index).
func (w *Wallet) Address(change, index uint32) (string, error) {
	pubKey, err := w.PublicKey(change, index)
	if err != nil {
		return "", err
	}
	return DeriveAddress(pubKey, w.params)
}

// DerivationPath returns the m/purpose'/coin'/0'/change/index string for (change, index).
func (w *Wallet) DerivationPath(change, index uint32) string {
	return w.params.DerivationPathString(account, change, index)
}
